package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/codewanderer/tickcapture/internal/ring"
	"github.com/codewanderer/tickcapture/internal/stats"
	"github.com/codewanderer/tickcapture/internal/wire"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func recordFor(symbol uint32, seq uint64) wire.Record {
	var r wire.Record
	r.SetSequenceNumber(seq)
	r.SetSymbolID(symbol)
	r.SetType(wire.Trade)
	r.SetTradePrice(100.0)
	r.SetTradeSize(1)
	r.SetChecksum(r.Checksum32())
	return r
}

func TestWriterCreatesOneFilePerSymbol(t *testing.T) {
	dir := t.TempDir()
	r := ring.New(64)
	counts := &stats.Counters{}
	w, err := New(Config{BaseDir: dir, BatchSize: 8}, r, counts, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	w.Start()

	r.TryPush(recordFor(1, 1))
	r.TryPush(recordFor(2, 1))
	r.TryPush(recordFor(1, 2))

	waitForStored(t, counts, 3)
	w.Stop()

	for _, symbol := range []uint32{1, 2} {
		path := filepath.Join(dir, symbolFilename(symbol))
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat %s: %v", path, err)
		}
		if info.Size() == 0 {
			t.Fatalf("%s is empty", path)
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, symbolFilename(1)))
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 2*wire.Size {
		t.Fatalf("symbol 1 file has %d bytes, want %d", len(data), 2*wire.Size)
	}
}

func TestWriterDetectsSequenceGap(t *testing.T) {
	dir := t.TempDir()
	r := ring.New(64)
	counts := &stats.Counters{}
	w, err := New(Config{BaseDir: dir, BatchSize: 8}, r, counts, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	w.Start()

	r.TryPush(recordFor(5, 1))
	r.TryPush(recordFor(5, 2))
	r.TryPush(recordFor(5, 10)) // gap: expected 3

	waitForStored(t, counts, 3)
	w.Stop()

	if counts.GapsDetected() != 1 {
		t.Fatalf("gaps_detected = %d, want 1", counts.GapsDetected())
	}
}

func TestWriterExposesPerSymbolStats(t *testing.T) {
	dir := t.TempDir()
	r := ring.New(64)
	counts := &stats.Counters{}
	w, err := New(Config{BaseDir: dir, BatchSize: 8}, r, counts, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	w.Start()

	r.TryPush(recordFor(7, 1))
	r.TryPush(recordFor(7, 2))
	r.TryPush(recordFor(8, 1))

	waitForStored(t, counts, 3)
	w.Stop()

	got := w.Stats(7)
	if got.RecordCount != 2 {
		t.Fatalf("symbol 7 record_count = %d, want 2", got.RecordCount)
	}
	if got.ByteCount != 2*wire.Size {
		t.Fatalf("symbol 7 byte_count = %d, want %d", got.ByteCount, 2*wire.Size)
	}

	if got := w.Stats(999); got != (SymbolStats{}) {
		t.Fatalf("unknown symbol stats = %+v, want zero value", got)
	}
}

func TestWriterFlushesOnStop(t *testing.T) {
	dir := t.TempDir()
	r := ring.New(64)
	counts := &stats.Counters{}
	w, err := New(Config{BaseDir: dir, BatchSize: 32, FlushPerWrite: false}, r, counts, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	w.Start()

	r.TryPush(recordFor(9, 1))
	waitForStored(t, counts, 1)
	w.Stop() // must flush buffered bytes even though FlushPerWrite is false

	data, err := os.ReadFile(filepath.Join(dir, symbolFilename(9)))
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != wire.Size {
		t.Fatalf("file has %d bytes, want %d", len(data), wire.Size)
	}
}

func TestWriterFlushesAtBatchBoundary(t *testing.T) {
	dir := t.TempDir()
	r := ring.New(64)
	counts := &stats.Counters{}
	w, err := New(Config{BaseDir: dir, BatchSize: 32, FlushPerWrite: false}, r, counts, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	w.Start()
	defer w.Stop()

	r.TryPush(recordFor(11, 1))
	waitForStored(t, counts, 1)

	// No Stop() yet: a batched-mode writer must still make the record
	// observable at the batch boundary, not only at shutdown.
	deadline := time.Now().Add(2 * time.Second)
	var size int64
	for time.Now().Before(deadline) {
		info, err := os.Stat(filepath.Join(dir, symbolFilename(11)))
		if err == nil {
			size = info.Size()
			if size == int64(wire.Size) {
				return
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("file size = %d before Stop, want %d (batch boundary should have flushed)", size, wire.Size)
}

func TestWriterRejectsInvalidSymbolID(t *testing.T) {
	dir := t.TempDir()
	r := ring.New(64)
	counts := &stats.Counters{}
	w, err := New(Config{BaseDir: dir, BatchSize: 8}, r, counts, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rec := recordFor(0, 1) // symbol_id 0 is out of [MinSymbolID, MaxSymbolID]
	if !r.TryPush(rec) {
		t.Fatal("out-of-range record should still be accepted onto the ring")
	}

	w.Start()
	waitForInvalidSymbolErrors(t, counts, 1)
	w.Stop()

	if counts.MessagesStored() != 0 {
		t.Fatalf("messages_stored = %d, want 0", counts.MessagesStored())
	}
	if _, err := os.Stat(filepath.Join(dir, symbolFilename(0))); !os.IsNotExist(err) {
		t.Fatalf("an out-of-range symbol_id should never create a tick file, stat err = %v", err)
	}
}

func waitForInvalidSymbolErrors(t *testing.T, counts *stats.Counters, want uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if counts.InvalidSymbolErrors() >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("invalid_symbol_errors never reached %d (got %d)", want, counts.InvalidSymbolErrors())
}

func TestWriterRejectsChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	r := ring.New(64)
	counts := &stats.Counters{}
	w, err := New(Config{BaseDir: dir, BatchSize: 8, VerifyChecksums: true}, r, counts, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rec := recordFor(3, 1)
	rec.SetChecksum(rec.Checksum32() ^ 0xff) // corrupt it

	// A checksum-bad record must still be admitted to the ring: checksum
	// verification is the writer's job, not the receiver's, so nothing
	// here should prevent the record from occupying a slot.
	if !r.TryPush(rec) {
		t.Fatal("checksum-bad record should still be accepted onto the ring")
	}

	w.Start()
	waitForChecksumErrors(t, counts, 1)
	w.Stop()

	if counts.MessagesStored() != 0 {
		t.Fatalf("messages_stored = %d, want 0", counts.MessagesStored())
	}
	if _, err := os.Stat(filepath.Join(dir, symbolFilename(3))); !os.IsNotExist(err) {
		t.Fatalf("a rejected record should never create a tick file, stat err = %v", err)
	}
}

func waitForChecksumErrors(t *testing.T, counts *stats.Counters, want uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if counts.ChecksumErrors() >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("checksum_errors never reached %d (got %d)", want, counts.ChecksumErrors())
}

func symbolFilename(symbol uint32) string {
	return fmt.Sprintf("%d.tick", symbol)
}

// BenchmarkWriterStore measures the cost of the hot append path store
// drives per record, mirroring BenchmarkOrderProcessing's plain b.N
// loop over a handler's hot-path call.
func BenchmarkWriterStore(b *testing.B) {
	dir := b.TempDir()
	r := ring.New(64)
	counts := &stats.Counters{}
	w, err := New(Config{BaseDir: dir, BatchSize: 8}, r, counts, testLogger())
	if err != nil {
		b.Fatalf("New: %v", err)
	}
	rec := recordFor(42, 1)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		rec.SetSequenceNumber(uint64(i + 1))
		rec.SetChecksum(rec.Checksum32())
		w.store(&rec)
	}
}

func waitForStored(t *testing.T, counts *stats.Counters, want uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if counts.MessagesStored() >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("messages_stored never reached %d (got %d)", want, counts.MessagesStored())
}
