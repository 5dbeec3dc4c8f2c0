// Package ring implements the wait-free single-producer/single-consumer
// ring buffer that hands MarketMessage records from the receiver to the
// writer without locking.
//
// The design generalizes mtbt_go/internal/core/spsc_queue.go's
// atomic-index, cache-line-padded layout from boxed *RawMessage pointers
// to bit-copied wire.Record values, following the "no per-slot sequence
// counter needed for two-thread use" rationale: with exactly one
// producer and one consumer, a plain head/tail pair (each on its own
// cache line) is sufficient, matching
// original_source/src/capture/ring_buffer.hpp's index-modulo-capacity
// contract.
package ring

import (
	"sync/atomic"

	"github.com/codewanderer/tickcapture/internal/wire"
)

const cacheLineSize = 64

// Ring is a fixed-capacity, power-of-two-sized circular buffer of
// wire.Record values, dedicated to exactly one producer goroutine and
// one consumer goroutine.
type Ring struct {
	buf  []wire.Record
	mask uint64

	// Producer-owned index, isolated on its own cache line so the
	// consumer's cache line for tail never gets invalidated by the
	// producer's writes and vice versa.
	_    [cacheLineSize]byte
	head uint64
	_    [cacheLineSize - 8]byte

	tail uint64
	_    [cacheLineSize - 8]byte

	totalPushed  uint64
	totalPopped  uint64
	pushFailures uint64
}

// New allocates a ring whose capacity is the smallest power of two
// greater than or equal to requested. It panics if requested is 0.
func New(requested int) *Ring {
	if requested <= 0 {
		panic("ring: requested capacity must be > 0")
	}
	size := nextPowerOf2(requested)
	return &Ring{
		buf:  make([]wire.Record, size),
		mask: uint64(size - 1),
	}
}

func nextPowerOf2(n int) int {
	v := n - 1
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	return v + 1
}

// TryPush stores rec at the producer slot and advances the producer
// index. If the ring is full it returns false, leaving the slot and the
// producer index untouched and only incrementing the push-failure count.
// Only the single designated producer goroutine may call TryPush.
func (r *Ring) TryPush(rec wire.Record) bool {
	head := r.head
	next := (head + 1) & r.mask
	tailAcquire := atomic.LoadUint64(&r.tail)
	if next == tailAcquire {
		atomic.AddUint64(&r.pushFailures, 1)
		return false
	}
	r.buf[head] = rec
	atomic.StoreUint64(&r.head, next)
	atomic.AddUint64(&r.totalPushed, 1)
	return true
}

// TryPop reads the slot at the consumer index and advances it, returning
// ok=false if the ring is empty. Only the single designated consumer
// goroutine may call TryPop.
func (r *Ring) TryPop() (rec wire.Record, ok bool) {
	tail := r.tail
	headAcquire := atomic.LoadUint64(&r.head)
	if tail == headAcquire {
		return rec, false
	}
	rec = r.buf[tail]
	next := (tail + 1) & r.mask
	atomic.StoreUint64(&r.tail, next)
	atomic.AddUint64(&r.totalPopped, 1)
	return rec, true
}

// PopBulk pops up to n records in ring order into dst, returning the
// number actually popped. It stops at the first empty observation and
// never blocks.
func (r *Ring) PopBulk(dst []wire.Record) int {
	n := 0
	for n < len(dst) {
		rec, ok := r.TryPop()
		if !ok {
			break
		}
		dst[n] = rec
		n++
	}
	return n
}

// Size returns an approximate occupancy, consistent with a
// linearization of concurrent producer/consumer activity.
func (r *Ring) Size() int {
	head := atomic.LoadUint64(&r.head)
	tail := atomic.LoadUint64(&r.tail)
	n := uint64(len(r.buf))
	return int((head - tail + n) % n)
}

// Capacity returns the usable capacity (one slot less than the
// underlying buffer length, since one slot disambiguates full from
// empty).
func (r *Ring) Capacity() int {
	return len(r.buf) - 1
}

// Empty reports whether the ring currently holds no records.
func (r *Ring) Empty() bool {
	return atomic.LoadUint64(&r.head) == atomic.LoadUint64(&r.tail)
}

// TotalPushed returns the cumulative count of successful TryPush calls.
func (r *Ring) TotalPushed() uint64 { return atomic.LoadUint64(&r.totalPushed) }

// TotalPopped returns the cumulative count of successful TryPop calls.
func (r *Ring) TotalPopped() uint64 { return atomic.LoadUint64(&r.totalPopped) }

// PushFailures returns the cumulative count of TryPush calls that found
// the ring full.
func (r *Ring) PushFailures() uint64 { return atomic.LoadUint64(&r.pushFailures) }
