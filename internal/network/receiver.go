// Package network implements the UDP multicast receiver described in
// spec.md §4.2: it joins a multicast group, frames incoming datagrams
// into fixed 64-byte records, validates them, and hands them to the
// ring buffer without ever blocking the read loop on a full consumer.
//
// The socket setup and run-loop shape generalize
// mtbt_go/internal/network/receiver.go's ReceiverCore: the same
// SO_RCVBUF/SO_REUSEADDR tuning via syscall.SetsockoptInt and the same
// runtime.LockOSThread receive loop, adapted from a single-stream UDP
// unicast socket to a joined multicast group, and from boxed
// *RawMessage enqueueing to wire.Record value pushes.
package network

import (
	"fmt"
	"net"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/codewanderer/tickcapture/internal/ring"
	"github.com/codewanderer/tickcapture/internal/stats"
	"github.com/codewanderer/tickcapture/internal/wire"
)

// Config carries every network-layer tunable named in spec.md's
// CaptureConfig.
type Config struct {
	MulticastAddr    string
	Port             int
	SocketBufferSize int
	ScratchBufSize   int
	EnableTimestamps bool
}

// DefaultConfig mirrors original_source's CaptureConfig defaults.
func DefaultConfig() Config {
	return Config{
		MulticastAddr:    "239.255.0.1",
		Port:             12345,
		SocketBufferSize: 33554432,
		ScratchBufSize:   262144,
	}
}

// Receiver owns the multicast socket and the goroutine that drains it
// into a Ring. One Receiver is dedicated to exactly one Ring.
type Receiver struct {
	cfg     Config
	conn    *net.UDPConn
	fd      int
	ring    *ring.Ring
	counts  *stats.Counters
	logger  *logrus.Logger
	scratch []byte
	running int64

	dropLogEvery uint64
}

// New constructs a Receiver bound to the configured multicast group and
// port, with the socket tuned per cfg. It returns an error immediately
// if the multicast address cannot be resolved or joined — the
// construction-time fatal error spec.md §4.2 requires, rather than a
// silent fallback to unicast.
func New(cfg Config, r *ring.Ring, counts *stats.Counters, logger *logrus.Logger) (*Receiver, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("network: invalid port %d", cfg.Port)
	}
	group := net.ParseIP(cfg.MulticastAddr)
	if group == nil || group.To4() == nil {
		return nil, fmt.Errorf("network: %q is not a valid IPv4 multicast address", cfg.MulticastAddr)
	}

	addr := &net.UDPAddr{IP: group, Port: cfg.Port}
	conn, err := net.ListenMulticastUDP("udp4", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("network: join multicast group %s:%d: %w", cfg.MulticastAddr, cfg.Port, err)
	}

	file, err := conn.File()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("network: obtain socket descriptor: %w", err)
	}
	fd := int(file.Fd())

	recv := &Receiver{
		cfg:          cfg,
		conn:         conn,
		fd:           fd,
		ring:         r,
		counts:       counts,
		logger:       logger,
		scratch:      make([]byte, cfg.ScratchBufSize),
		dropLogEvery: 1000,
	}

	if err := recv.tuneSocket(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("network: tune socket: %w", err)
	}

	return recv, nil
}

func (rv *Receiver) tuneSocket() error {
	if err := syscall.SetsockoptInt(rv.fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("set SO_REUSEADDR: %w", err)
	}
	if err := syscall.SetsockoptInt(rv.fd, syscall.SOL_SOCKET, syscall.SO_RCVBUF, rv.cfg.SocketBufferSize); err != nil {
		return fmt.Errorf("set SO_RCVBUF: %w", err)
	}

	actual, err := syscall.GetsockoptInt(rv.fd, syscall.SOL_SOCKET, syscall.SO_RCVBUF)
	if err == nil && actual < rv.cfg.SocketBufferSize {
		rv.logger.WithFields(logrus.Fields{
			"requested": rv.cfg.SocketBufferSize,
			"actual":    actual,
		}).Warn("kernel granted a smaller SO_RCVBUF than requested")
	}
	return nil
}

// Start begins draining the socket on a dedicated goroutine. It returns
// an error if called more than once.
func (rv *Receiver) Start() error {
	if !atomic.CompareAndSwapInt64(&rv.running, 0, 1) {
		return fmt.Errorf("network: receiver already running")
	}
	go rv.receiveLoop()
	return nil
}

// Stop closes the socket and signals the receive loop to exit. It does
// not block until the loop has actually returned; the supervisor pairs
// it with its own shutdown synchronization.
func (rv *Receiver) Stop() {
	atomic.StoreInt64(&rv.running, 0)
	rv.conn.Close()
}

func (rv *Receiver) receiveLoop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var dropsSinceLog uint64

	for atomic.LoadInt64(&rv.running) == 1 {
		n, _, err := rv.conn.ReadFromUDP(rv.scratch)
		if err != nil {
			if atomic.LoadInt64(&rv.running) == 0 {
				// Socket closed for shutdown; expected, not an error.
				return
			}
			rv.logger.WithError(err).Warn("transient read error, retrying")
			continue
		}

		var recvTimeNs uint64
		if rv.cfg.EnableTimestamps {
			recvTimeNs = uint64(time.Now().UnixNano())
		}

		rv.frameDatagram(rv.scratch[:n], &dropsSinceLog, recvTimeNs)
	}
}

// frameDatagram splits a single datagram into zero or more 64-byte
// records, discarding any short trailing fragment (§4.2 edge case).
// recvTimeNs is the wall-clock time the datagram was read off the
// socket; it is only meaningful, and only consulted, when
// Config.EnableTimestamps is set.
func (rv *Receiver) frameDatagram(data []byte, dropsSinceLog *uint64, recvTimeNs uint64) {
	for off := 0; off+wire.Size <= len(data); off += wire.Size {
		rec, err := wire.Decode(data[off : off+wire.Size])
		if err != nil {
			continue
		}

		if !rec.Valid() {
			rv.counts.AddMessagesInvalid(1)
			continue
		}

		if rv.cfg.EnableTimestamps && recvTimeNs >= rec.TimestampNs() {
			rv.counts.AddLatencySample(recvTimeNs - rec.TimestampNs())
		}

		rv.counts.AddMessagesReceived(1)

		if !rv.ring.TryPush(rec) {
			rv.counts.AddMessagesDropped(1)
			*dropsSinceLog++
			if *dropsSinceLog%rv.dropLogEvery == 0 {
				rv.logger.WithField("dropped_total", rv.counts.MessagesDropped()).
					Warn("ring buffer full, dropping records")
			}
		}
	}
}
