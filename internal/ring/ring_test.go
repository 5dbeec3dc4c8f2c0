package ring

import (
	"testing"

	"github.com/codewanderer/tickcapture/internal/wire"
)

func recordWithSeq(seq uint64) wire.Record {
	var r wire.Record
	r.SetSequenceNumber(seq)
	return r
}

func TestNewRoundsUpToPowerOfTwo(t *testing.T) {
	cases := []struct{ requested, want int }{
		{1, 1}, {2, 2}, {3, 4}, {1000, 1024}, {1024, 1024},
	}
	for _, c := range cases {
		r := New(c.requested)
		if got := len(r.buf); got != c.want {
			t.Errorf("New(%d): buffer len = %d, want %d", c.requested, got, c.want)
		}
	}
}

func TestFIFOOrdering(t *testing.T) {
	r := New(16)
	const n = 15 // capacity - 1
	for i := uint64(0); i < n; i++ {
		if !r.TryPush(recordWithSeq(i)) {
			t.Fatalf("push %d unexpectedly failed", i)
		}
	}
	for i := uint64(0); i < n; i++ {
		rec, ok := r.TryPop()
		if !ok {
			t.Fatalf("pop %d: expected a record", i)
		}
		if got := rec.SequenceNumber(); got != i {
			t.Errorf("pop %d: sequence = %d, want %d", i, got, i)
		}
	}
	if _, ok := r.TryPop(); ok {
		t.Error("ring should be empty after draining all pushed records")
	}
}

func TestCapacityReservesOneSlot(t *testing.T) {
	r := New(8)
	if r.Capacity() != 7 {
		t.Fatalf("Capacity() = %d, want 7", r.Capacity())
	}
	for i := 0; i < 7; i++ {
		if !r.TryPush(recordWithSeq(uint64(i + 1))) {
			t.Fatalf("push %d should have succeeded", i)
		}
	}
	if r.TryPush(recordWithSeq(99)) {
		t.Fatal("push into a full ring should fail")
	}
	if r.PushFailures() != 1 {
		t.Errorf("PushFailures() = %d, want 1", r.PushFailures())
	}
}

func TestNoLossUnderSlack(t *testing.T) {
	r := New(1024)
	const attempts = 5000
	pushed := 0
	popped := 0
	for i := 0; i < attempts; i++ {
		if r.TryPush(recordWithSeq(uint64(i))) {
			pushed++
		}
		for {
			if _, ok := r.TryPop(); ok {
				popped++
			} else {
				break
			}
		}
	}
	for {
		if _, ok := r.TryPop(); ok {
			popped++
		} else {
			break
		}
	}
	if pushed != attempts {
		t.Errorf("pushed = %d, want %d (consumer kept up, no drops expected)", pushed, attempts)
	}
	if popped != attempts {
		t.Errorf("popped = %d, want %d", popped, attempts)
	}
	if r.PushFailures() != 0 {
		t.Errorf("PushFailures() = %d, want 0", r.PushFailures())
	}
}

func TestDropOnOverload(t *testing.T) {
	r := New(1024) // capacity 1023 usable
	const attempted = 2000
	for i := 0; i < attempted; i++ {
		r.TryPush(recordWithSeq(uint64(i)))
	}
	if got, want := r.TotalPushed()+r.PushFailures(), uint64(attempted); got != want {
		t.Errorf("total_pushed + push_failures = %d, want %d", got, want)
	}
	if r.Size() != r.Capacity() {
		t.Errorf("Size() = %d, want full ring at %d", r.Size(), r.Capacity())
	}
}

func TestPopBulkStopsAtEmpty(t *testing.T) {
	r := New(32)
	for i := 0; i < 5; i++ {
		r.TryPush(recordWithSeq(uint64(i)))
	}
	dst := make([]wire.Record, 10)
	n := r.PopBulk(dst)
	if n != 5 {
		t.Fatalf("PopBulk returned %d, want 5", n)
	}
	for i := 0; i < 5; i++ {
		if dst[i].SequenceNumber() != uint64(i) {
			t.Errorf("dst[%d].SequenceNumber() = %d, want %d", i, dst[i].SequenceNumber(), i)
		}
	}
}

func TestEmptyAndSize(t *testing.T) {
	r := New(8)
	if !r.Empty() {
		t.Fatal("new ring should be empty")
	}
	r.TryPush(recordWithSeq(1))
	if r.Empty() {
		t.Fatal("ring with one record should not be empty")
	}
	if r.Size() != 1 {
		t.Errorf("Size() = %d, want 1", r.Size())
	}
}

// BenchmarkTryPush measures single-producer push cost against an
// otherwise-idle ring, mirroring BenchmarkOrderProcessing's plain
// b.N loop over a hot-path call.
func BenchmarkTryPush(b *testing.B) {
	r := New(1024)
	rec := recordWithSeq(0)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if !r.TryPush(rec) {
			r.TryPop() // keep the ring from saturating so pushes keep succeeding
		}
	}
}

// BenchmarkTryPop measures single-consumer pop cost against a
// continuously-refilled ring.
func BenchmarkTryPop(b *testing.B) {
	r := New(1024)
	rec := recordWithSeq(0)
	for i := 0; i < r.Capacity(); i++ {
		r.TryPush(rec)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, ok := r.TryPop(); !ok {
			r.TryPush(rec)
		}
	}
}

// BenchmarkSPSC drives one producer goroutine against one consumer
// goroutine concurrently, generalizing BenchmarkSPSCQueue's
// producer/consumer retry-loop shape from core.SPSCRingBuffer to this
// ring — kept to exactly one goroutine per role since, unlike the
// teacher's queue, this ring's head/tail updates are not safe under
// more than one concurrent producer or consumer.
func BenchmarkSPSC(b *testing.B) {
	r := New(4096)
	rec := recordWithSeq(0)

	b.ResetTimer()
	b.ReportAllocs()

	done := make(chan struct{})
	go func() {
		for i := 0; i < b.N; i++ {
			for !r.TryPush(rec) {
			}
		}
		close(done)
	}()

	for i := 0; i < b.N; i++ {
		for {
			if _, ok := r.TryPop(); ok {
				break
			}
		}
	}
	<-done
}

func TestConcurrentProducerConsumer(t *testing.T) {
	r := New(256)
	const n = 200000
	done := make(chan struct{})
	go func() {
		for i := uint64(0); i < n; i++ {
			for !r.TryPush(recordWithSeq(i)) {
			}
		}
		close(done)
	}()

	var last uint64
	received := uint64(0)
	for received < n {
		rec, ok := r.TryPop()
		if !ok {
			continue
		}
		if received > 0 && rec.SequenceNumber() != last+1 {
			t.Fatalf("gap: last=%d next=%d", last, rec.SequenceNumber())
		}
		last = rec.SequenceNumber()
		received++
	}
	<-done
}
