// Package simulator generates synthetic market data and sends it over
// UDP multicast for benchmarking and end-to-end verification of a
// capture node, per spec.md §7.
//
// The pacing and price-walk design follow
// original_source/benchmarks/market_data_simulator.cpp: an
// absolute-deadline send loop (next_send += base_interval, never a
// relative sleep, so a slow iteration doesn't push every later send
// later too) and a per-symbol last-price random walk clamped to a
// fixed band. math/rand fills in for <random>'s normal_distribution;
// no ecosystem RNG library appears anywhere in the example corpus, so
// the standard library is the grounded choice here.
package simulator

import (
	"fmt"
	"math/rand"
	"net"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/codewanderer/tickcapture/internal/wire"
)

// Config mirrors original_source's MarketDataSimulator::Config.
type Config struct {
	MulticastAddr string
	Port          int

	NumSymbols    int
	BaseMsgRate   int
	BurstSize     int
	BurstInterval time.Duration

	PriceVolatility  float64
	MinTradeSize     uint32
	MaxTradeSize     uint32
	MinPrice         float64
	MaxPrice         float64
	InitialPriceMin  float64
	InitialPriceMax  float64
}

func DefaultConfig() Config {
	return Config{
		MulticastAddr:    "239.255.0.1",
		Port:             12345,
		NumSymbols:       100,
		BaseMsgRate:      1000,
		BurstSize:        0,
		BurstInterval:    time.Second,
		PriceVolatility:  0.0005,
		MinTradeSize:     100,
		MaxTradeSize:     10000,
		MinPrice:         50.0,
		MaxPrice:         1000.0,
		InitialPriceMin:  100.0,
		InitialPriceMax:  500.0,
	}
}

type symbolState struct {
	lastPrice float64
	lastSize  uint32
}

// Snapshot reports simulator throughput. CurrentRate is kept as a
// decimal.Decimal so it can be printed with a fixed, non-floating
// display precision the way a dashboard or CLI report would.
type Snapshot struct {
	MessagesSent    uint64
	MessagesDropped uint64
	CurrentRate     decimal.Decimal
}

// Simulator sends well-formed, checksummed Trade records to a
// multicast group at a configured pace.
type Simulator struct {
	cfg    Config
	conn   *net.UDPConn
	logger *logrus.Logger

	rng     *rand.Rand
	symbols []symbolState

	sequence uint64
	sent     uint64
	dropped  uint64

	running int64
	done    chan struct{}
}

// New dials the multicast endpoint and seeds per-symbol starting
// prices uniformly within [InitialPriceMin, InitialPriceMax].
func New(cfg Config, logger *logrus.Logger) (*Simulator, error) {
	group := net.ParseIP(cfg.MulticastAddr)
	if group == nil || group.To4() == nil {
		return nil, fmt.Errorf("simulator: %q is not a valid IPv4 multicast address", cfg.MulticastAddr)
	}
	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: group, Port: cfg.Port})
	if err != nil {
		return nil, fmt.Errorf("simulator: dial %s:%d: %w", cfg.MulticastAddr, cfg.Port, err)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	symbols := make([]symbolState, cfg.NumSymbols)
	spread := cfg.InitialPriceMax - cfg.InitialPriceMin
	for i := range symbols {
		symbols[i] = symbolState{
			lastPrice: cfg.InitialPriceMin + rng.Float64()*spread,
			lastSize:  1000,
		}
	}

	return &Simulator{
		cfg:     cfg,
		conn:    conn,
		logger:  logger,
		rng:     rng,
		symbols: symbols,
	}, nil
}

// Start begins the send loop on a dedicated goroutine.
func (s *Simulator) Start() error {
	if !atomic.CompareAndSwapInt64(&s.running, 0, 1) {
		return fmt.Errorf("simulator: already running")
	}
	s.done = make(chan struct{})
	go s.runSimulation()
	return nil
}

// Stop halts the send loop and blocks until it has exited.
func (s *Simulator) Stop() {
	atomic.StoreInt64(&s.running, 0)
	<-s.done
	s.conn.Close()
}

// Stats returns a point-in-time snapshot.
func (s *Simulator) Stats() Snapshot {
	sent := atomic.LoadUint64(&s.sent)
	return Snapshot{
		MessagesSent:    sent,
		MessagesDropped: atomic.LoadUint64(&s.dropped),
		CurrentRate:     decimal.NewFromInt(int64(sent)),
	}
}

func (s *Simulator) runSimulation() {
	defer close(s.done)

	if s.cfg.BaseMsgRate <= 0 {
		s.cfg.BaseMsgRate = 1
	}
	baseInterval := time.Second / time.Duration(s.cfg.BaseMsgRate)
	nextSend := time.Now()

	for atomic.LoadInt64(&s.running) == 1 {
		now := time.Now()
		if now.Before(nextSend) {
			time.Sleep(nextSend.Sub(now))
			continue
		}

		rec := s.generateRecord()
		if s.sendRecord(rec) {
			atomic.AddUint64(&s.sent, 1)
			nextSend = nextSend.Add(baseInterval)
		} else {
			atomic.AddUint64(&s.dropped, 1)
			nextSend = nextSend.Add(100 * time.Microsecond)
		}
	}
}

// generateRecord picks a random symbol, advances its price by a
// normally-distributed return clamped to [MinPrice, MaxPrice], and
// returns a fully checksummed Trade record ready to send.
func (s *Simulator) generateRecord() wire.Record {
	seq := atomic.AddUint64(&s.sequence, 1)
	symbolID := uint32(s.rng.Intn(s.cfg.NumSymbols)) + 1

	state := &s.symbols[symbolID-1]
	priceMove := s.rng.NormFloat64() * s.cfg.PriceVolatility
	state.lastPrice *= 1.0 + priceMove
	if state.lastPrice < s.cfg.MinPrice {
		state.lastPrice = s.cfg.MinPrice
	}
	if state.lastPrice > s.cfg.MaxPrice {
		state.lastPrice = s.cfg.MaxPrice
	}

	sizeRange := s.cfg.MaxTradeSize - s.cfg.MinTradeSize + 1
	state.lastSize = s.cfg.MinTradeSize + uint32(s.rng.Intn(int(sizeRange)))

	var rec wire.Record
	rec.SetSequenceNumber(seq)
	rec.SetTimestampNs(uint64(time.Now().UnixNano()))
	rec.SetSymbolID(symbolID)
	rec.SetType(wire.Trade)
	rec.SetTradePrice(state.lastPrice)
	rec.SetTradeSize(state.lastSize)
	rec.SetTradeFlags(0)
	rec.SetChecksum(rec.Checksum32())
	return rec
}

func (s *Simulator) sendRecord(rec wire.Record) bool {
	n, err := s.conn.Write(rec.Bytes())
	if err != nil || n != wire.Size {
		s.logger.WithError(err).WithField("sequence_number", rec.SequenceNumber()).
			Warn("failed to send simulated record")
		return false
	}
	return true
}
