// Package zevent defines the wire-level event record that flows through the
// data plane ring buffer: a fixed header plus an opaque columnar payload.
package zevent

import (
	"encoding/binary"
	"errors"
	"unsafe"
)

// headerSize is the encoded size of EventHeader: source_id(4) + seq_no(8) +
// timestamp_ns(8).
const headerSize = 20

// EventHeader carries the fields the core cares about; the payload itself is
// opaque to the core and defined by whatever producer published the event.
type EventHeader struct {
	SourceID    uint32
	SeqNo       uint64
	TimestampNs uint64
}

func init() {
	if sz := unsafe.Sizeof(EventHeader{}); sz != 24 {
		panic("zevent: EventHeader layout changed, encode/decode must be revisited")
	}
}

// Event is an owned record: a header plus a columnar batch payload. The core
// never interprets Payload; it is transferred whole on push/pop.
type Event struct {
	Header  EventHeader
	Payload []byte
}

// ErrShortBuffer is returned by Decode when raw is too small to hold a
// header.
var ErrShortBuffer = errors.New("zevent: buffer too short for header")

// Encode writes the header followed by the payload into a single byte slice.
func Encode(e Event) []byte {
	buf := make([]byte, headerSize+len(e.Payload))
	binary.LittleEndian.PutUint32(buf[0:4], e.Header.SourceID)
	binary.LittleEndian.PutUint64(buf[4:12], e.Header.SeqNo)
	binary.LittleEndian.PutUint64(buf[12:20], e.Header.TimestampNs)
	copy(buf[headerSize:], e.Payload)
	return buf
}

// Decode parses a byte slice produced by Encode back into an Event. The
// returned Event's Payload aliases raw; callers that retain the Event past
// the lifetime of raw must copy it.
func Decode(raw []byte) (Event, error) {
	if len(raw) < headerSize {
		return Event{}, ErrShortBuffer
	}
	h := EventHeader{
		SourceID:    binary.LittleEndian.Uint32(raw[0:4]),
		SeqNo:       binary.LittleEndian.Uint64(raw[4:12]),
		TimestampNs: binary.LittleEndian.Uint64(raw[12:20]),
	}
	return Event{Header: h, Payload: raw[headerSize:]}, nil
}

// EncodeFields packs fields into the columnar payload format DecodeFields
// understands: a uint32 column count, then each column as a uint32 length
// followed by its bytes. Producers that want their columns visible to a
// plugin's host_read_event_field call build their Event.Payload this way.
func EncodeFields(fields [][]byte) []byte {
	size := 4
	for _, f := range fields {
		size += 4 + len(f)
	}
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(fields)))
	offset := 4
	for _, f := range fields {
		binary.LittleEndian.PutUint32(buf[offset:offset+4], uint32(len(f)))
		offset += 4
		offset += copy(buf[offset:], f)
	}
	return buf
}

// DecodeFields parses a payload built by EncodeFields back into its
// columns. A payload that was never columnar-encoded — including any
// opaque producer payload that predates this convention — fails the
// length checks below and yields a nil field set rather than an error,
// since host_read_event_field is a best-effort convenience and must never
// block dispatch of the underlying event.
func DecodeFields(payload []byte) [][]byte {
	if len(payload) < 4 {
		return nil
	}
	count := binary.LittleEndian.Uint32(payload[0:4])
	if uint64(count) > uint64(len(payload)-4)/4 {
		return nil
	}
	offset := 4
	fields := make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		if offset+4 > len(payload) {
			return nil
		}
		flen := binary.LittleEndian.Uint32(payload[offset : offset+4])
		offset += 4
		end := offset + int(flen)
		if flen > uint32(len(payload)) || end > len(payload) || end < offset {
			return nil
		}
		fields = append(fields, payload[offset:end])
		offset = end
	}
	return fields
}
