// Package stats holds the process-global atomic counters shared by the
// receiver, writer, and supervisor (spec.md §3 "Counters"). All fields
// are readable without synchronization by any number of concurrent
// readers; only the receiver and writer goroutines mutate their own
// counters.
package stats

import "sync/atomic"

// Counters aggregates every atomic counter named in spec.md §3.
type Counters struct {
	messagesReceived uint64
	messagesDropped  uint64
	messagesInvalid  uint64
	checksumErrors   uint64
	messagesStored   uint64
	bytesWritten     uint64
	pushFailures     uint64
	totalPushed      uint64
	totalPopped      uint64
	gapsDetected     uint64
	latencyNsSum     uint64
	latencySamples   uint64
	invalidSymbolErrors uint64
}

func (c *Counters) AddMessagesReceived(n uint64) { atomic.AddUint64(&c.messagesReceived, n) }
func (c *Counters) AddMessagesDropped(n uint64)  { atomic.AddUint64(&c.messagesDropped, n) }
func (c *Counters) AddMessagesInvalid(n uint64)  { atomic.AddUint64(&c.messagesInvalid, n) }
func (c *Counters) AddChecksumErrors(n uint64)   { atomic.AddUint64(&c.checksumErrors, n) }
func (c *Counters) AddMessagesStored(n uint64)   { atomic.AddUint64(&c.messagesStored, n) }
func (c *Counters) AddBytesWritten(n uint64)     { atomic.AddUint64(&c.bytesWritten, n) }
func (c *Counters) AddPushFailures(n uint64)     { atomic.AddUint64(&c.pushFailures, n) }
func (c *Counters) AddTotalPushed(n uint64)      { atomic.AddUint64(&c.totalPushed, n) }
func (c *Counters) AddTotalPopped(n uint64)      { atomic.AddUint64(&c.totalPopped, n) }
func (c *Counters) AddGapsDetected(n uint64)     { atomic.AddUint64(&c.gapsDetected, n) }

// AddLatencySample records one receive-time-minus-send-time measurement,
// in nanoseconds, taken when Config.EnableTimestamps is set (spec.md §6
// "enable_timestamps").
func (c *Counters) AddLatencySample(ns uint64) {
	atomic.AddUint64(&c.latencyNsSum, ns)
	atomic.AddUint64(&c.latencySamples, 1)
}

// AddInvalidSymbolErrors counts records the writer aborted for carrying
// a symbol_id outside [MinSymbolID, MaxSymbolID] (spec.md §4.3 step 2c).
func (c *Counters) AddInvalidSymbolErrors(n uint64) {
	atomic.AddUint64(&c.invalidSymbolErrors, n)
}

func (c *Counters) MessagesReceived() uint64 { return atomic.LoadUint64(&c.messagesReceived) }
func (c *Counters) MessagesDropped() uint64  { return atomic.LoadUint64(&c.messagesDropped) }
func (c *Counters) MessagesInvalid() uint64  { return atomic.LoadUint64(&c.messagesInvalid) }
func (c *Counters) ChecksumErrors() uint64   { return atomic.LoadUint64(&c.checksumErrors) }
func (c *Counters) MessagesStored() uint64   { return atomic.LoadUint64(&c.messagesStored) }
func (c *Counters) BytesWritten() uint64     { return atomic.LoadUint64(&c.bytesWritten) }
func (c *Counters) PushFailures() uint64     { return atomic.LoadUint64(&c.pushFailures) }
func (c *Counters) TotalPushed() uint64      { return atomic.LoadUint64(&c.totalPushed) }
func (c *Counters) TotalPopped() uint64      { return atomic.LoadUint64(&c.totalPopped) }
func (c *Counters) GapsDetected() uint64     { return atomic.LoadUint64(&c.gapsDetected) }
func (c *Counters) LatencyNsSum() uint64     { return atomic.LoadUint64(&c.latencyNsSum) }
func (c *Counters) LatencySamples() uint64   { return atomic.LoadUint64(&c.latencySamples) }
func (c *Counters) InvalidSymbolErrors() uint64 {
	return atomic.LoadUint64(&c.invalidSymbolErrors)
}

// Snapshot is a point-in-time, non-atomic copy of every counter, safe to
// pass around and print after it is taken.
type Snapshot struct {
	MessagesReceived  uint64
	MessagesDropped   uint64
	MessagesInvalid   uint64
	ChecksumErrors    uint64
	MessagesStored    uint64
	BytesWritten      uint64
	PushFailures      uint64
	TotalPushed       uint64
	TotalPopped       uint64
	GapsDetected        uint64
	InvalidSymbolErrors uint64
	AvgLatencyNs        float64 // derived, see Take; zero if no samples were taken
	MessagesProcessed   uint64  // derived, see Take
}

// Take returns a Snapshot of the counters. messages_processed is derived
// as messages_received - messages_dropped at the receiver level (spec.md
// §4.4), but overridden by messages_stored when the writer's own count is
// the more trustworthy end-to-end figure.
func (c *Counters) Take() Snapshot {
	s := Snapshot{
		MessagesReceived: c.MessagesReceived(),
		MessagesDropped:  c.MessagesDropped(),
		MessagesInvalid:  c.MessagesInvalid(),
		ChecksumErrors:   c.ChecksumErrors(),
		MessagesStored:   c.MessagesStored(),
		BytesWritten:     c.BytesWritten(),
		PushFailures:     c.PushFailures(),
		TotalPushed:      c.TotalPushed(),
		TotalPopped:      c.TotalPopped(),
		GapsDetected:        c.GapsDetected(),
		InvalidSymbolErrors: c.InvalidSymbolErrors(),
	}
	if samples := c.LatencySamples(); samples > 0 {
		s.AvgLatencyNs = float64(c.LatencyNsSum()) / float64(samples)
	}
	if s.MessagesReceived >= s.MessagesDropped {
		s.MessagesProcessed = s.MessagesReceived - s.MessagesDropped
	}
	if s.MessagesStored > 0 {
		s.MessagesProcessed = s.MessagesStored
	}
	return s
}
