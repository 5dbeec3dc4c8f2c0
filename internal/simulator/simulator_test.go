package simulator

import (
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func TestNewRejectsInvalidMulticastAddress(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MulticastAddr = "garbage"
	if _, err := New(cfg, testLogger()); err == nil {
		t.Fatal("expected an error for an invalid multicast address")
	}
}

func TestGenerateRecordStaysWithinPriceBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MulticastAddr = "239.255.29.29"
	cfg.Port = 29190
	cfg.NumSymbols = 5

	sim, err := New(cfg, testLogger())
	if err != nil {
		t.Skipf("multicast not available: %v", err)
	}
	defer sim.conn.Close()

	for i := 0; i < 10000; i++ {
		rec := sim.generateRecord()
		price := rec.TradePrice()
		if price < cfg.MinPrice || price > cfg.MaxPrice {
			t.Fatalf("price %v outside bounds [%v, %v]", price, cfg.MinPrice, cfg.MaxPrice)
		}
		sym := rec.SymbolID()
		if sym < 1 || int(sym) > cfg.NumSymbols {
			t.Fatalf("symbol_id %d outside [1, %d]", sym, cfg.NumSymbols)
		}
		if !rec.VerifyChecksum() {
			t.Fatal("generated record has a bad checksum")
		}
	}
}

func TestSimulatorSendsOverMulticast(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MulticastAddr = "239.255.30.30"
	cfg.Port = 30190
	cfg.NumSymbols = 3
	cfg.BaseMsgRate = 500

	sim, err := New(cfg, testLogger())
	if err != nil {
		t.Skipf("multicast not available: %v", err)
	}

	laddr := &net.UDPAddr{IP: net.ParseIP(cfg.MulticastAddr), Port: cfg.Port}
	listener, err := net.ListenMulticastUDP("udp4", nil, laddr)
	if err != nil {
		t.Skipf("could not listen on multicast group: %v", err)
	}
	defer listener.Close()
	listener.SetReadDeadline(time.Now().Add(2 * time.Second))

	if err := sim.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sim.Stop()

	buf := make([]byte, 4096)
	n, _, err := listener.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("never received a simulated record: %v", err)
	}
	if n != 64 {
		t.Fatalf("received %d bytes, want 64", n)
	}
}
