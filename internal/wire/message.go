// Package wire defines the fixed 64-byte MarketMessage record and its
// on-wire/on-disk encoding, validation, and checksum rules.
package wire

import (
	"encoding/binary"
	"errors"
	"math"
)

// Size is the frozen length of a MarketMessage record, in bytes.
const Size = 64

// MessageType enumerates the recognized record kinds. Only Trade is
// admitted by the current core's validity predicate; the others are
// reserved for future payload kinds.
type MessageType uint8

const (
	Trade        MessageType = 1
	Quote        MessageType = 2
	OrderAdd     MessageType = 3
	OrderModify  MessageType = 4
	OrderCancel  MessageType = 5
)

func (t MessageType) valid() bool {
	switch t {
	case Trade, Quote, OrderAdd, OrderModify, OrderCancel:
		return true
	default:
		return false
	}
}

// Field byte offsets, per the frozen record layout.
const (
	offSequenceNumber = 0
	offTimestampNs    = 8
	offChecksum       = 16
	offReserved       = 20
	offSymbolID       = 24
	offType           = 28
	offPad            = 29
	offPayload        = 32

	offTradePrice = offPayload + 0
	offTradeSize  = offPayload + 8
	offTradeFlags = offPayload + 12
)

// MinSymbolID and MaxSymbolID bound the valid symbol_id range (§3).
const (
	MinSymbolID uint32 = 1
	MaxSymbolID uint32 = 10000
)

// MinTradePrice and MaxTradePrice bound the valid Trade.price range (§3):
// price must lie strictly between them.
const (
	MinTradePrice = 0.0
	MaxTradePrice = 1_000_000.0
)

// Record is a single 64-byte MarketMessage, held in its raw wire form.
// Keeping the record as a byte array (rather than a decoded struct) means
// a push onto the ring is a single bit-copy and the bytes persisted to
// disk are always byte-for-byte identical to the ones received, with no
// re-encoding step that could silently diverge from the wire image.
type Record [Size]byte

var (
	ErrShortBuffer    = errors.New("wire: buffer shorter than a record")
	ErrInvalidRecord  = errors.New("wire: record fails validity predicate")
	ErrChecksumFailed = errors.New("wire: checksum mismatch")
)

// Decode copies exactly Size bytes from buf into a new Record. The caller
// is responsible for slicing buf to a record boundary; Decode never
// looks past buf[:Size].
func Decode(buf []byte) (Record, error) {
	var r Record
	if len(buf) < Size {
		return r, ErrShortBuffer
	}
	copy(r[:], buf[:Size])
	return r, nil
}

// SequenceNumber returns the sender-assigned monotonic sequence number.
func (r *Record) SequenceNumber() uint64 {
	return binary.LittleEndian.Uint64(r[offSequenceNumber:])
}

// TimestampNs returns the sender wall-clock timestamp in nanoseconds.
func (r *Record) TimestampNs() uint64 {
	return binary.LittleEndian.Uint64(r[offTimestampNs:])
}

// Checksum returns the on-wire checksum field.
func (r *Record) Checksum() uint32 {
	return binary.LittleEndian.Uint32(r[offChecksum:])
}

// SymbolID returns the instrument identifier.
func (r *Record) SymbolID() uint32 {
	return binary.LittleEndian.Uint32(r[offSymbolID:])
}

// Type returns the record's message type tag.
func (r *Record) Type() MessageType {
	return MessageType(r[offType])
}

// TradePrice returns the IEEE-754 double price from the Trade payload.
// Only meaningful when Type() == Trade.
func (r *Record) TradePrice() float64 {
	bits := binary.LittleEndian.Uint64(r[offTradePrice:])
	return math.Float64frombits(bits)
}

// TradeSize returns the Trade payload's order size.
func (r *Record) TradeSize() uint32 {
	return binary.LittleEndian.Uint32(r[offTradeSize:])
}

// TradeFlags returns the Trade payload's single flags byte.
func (r *Record) TradeFlags() uint8 {
	return r[offTradeFlags]
}

// SetSequenceNumber, SetTimestampNs, ... are encoders used by the
// simulator to build well-formed records for transmission.

func (r *Record) SetSequenceNumber(v uint64) { binary.LittleEndian.PutUint64(r[offSequenceNumber:], v) }
func (r *Record) SetTimestampNs(v uint64)    { binary.LittleEndian.PutUint64(r[offTimestampNs:], v) }
func (r *Record) SetReserved(v uint32)       { binary.LittleEndian.PutUint32(r[offReserved:], v) }
func (r *Record) SetSymbolID(v uint32)       { binary.LittleEndian.PutUint32(r[offSymbolID:], v) }
func (r *Record) SetType(t MessageType)      { r[offType] = byte(t) }
func (r *Record) SetTradePrice(v float64)    { binary.LittleEndian.PutUint64(r[offTradePrice:], math.Float64bits(v)) }
func (r *Record) SetTradeSize(v uint32)      { binary.LittleEndian.PutUint32(r[offTradeSize:], v) }
func (r *Record) SetTradeFlags(v uint8)      { r[offTradeFlags] = v }

// SetChecksum writes the checksum field computed by Checksum32.
func (r *Record) SetChecksum(v uint32) { binary.LittleEndian.PutUint32(r[offChecksum:], v) }

// Valid reports whether the record satisfies the §3 validity predicate.
// Checksum verification is intentionally excluded here — it is a
// separate, configurable gate applied by the caller (§6, §7).
func (r *Record) Valid() bool {
	if r.SequenceNumber() == 0 {
		return false
	}
	sym := r.SymbolID()
	if sym < MinSymbolID || sym > MaxSymbolID {
		return false
	}
	if !r.Type().valid() {
		return false
	}
	// The current core only admits Trade; bounds-check its payload.
	if r.Type() != Trade {
		return false
	}
	price := r.TradePrice()
	if !(price > MinTradePrice && price < MaxTradePrice) {
		return false
	}
	if r.TradeSize() == 0 {
		return false
	}
	return true
}

// Checksum32 computes the wire checksum: the XOR fold of every 32-bit
// little-endian word of the record except the word at offset 16 (the
// checksum field itself). See DESIGN.md "Open Question 1" for why this
// module does not follow the source's alternative reading, which also
// skips the sequence_number words.
func (r *Record) Checksum32() uint32 {
	var sum uint32
	for off := 0; off < Size; off += 4 {
		if off == offChecksum {
			continue
		}
		sum ^= binary.LittleEndian.Uint32(r[off:])
	}
	return sum
}

// VerifyChecksum reports whether the stored checksum matches Checksum32.
func (r *Record) VerifyChecksum() bool {
	return r.Checksum() == r.Checksum32()
}

// Bytes returns the record's raw 64 bytes, suitable for appending
// directly to a tick file.
func (r *Record) Bytes() []byte {
	return r[:]
}
