// Package wire implements the scheduler's executor wire protocol: a 20-byte
// little-endian header plus per-message-type payload encodings (spec.md
// §6). This is the framing the executor handle (package executor) uses to
// talk to whatever process/thread/web-worker boundary actually runs a task;
// the core never interprets the bytes it ships across that boundary beyond
// this header and the payload shapes below.
package wire

import (
	"encoding/binary"
	"fmt"

	"code.hybscloud.com/wpool/werr"
)

// HeaderSize is the fixed wire header length in bytes.
const HeaderSize = 20

// Magic identifies a wpool frame: ASCII "WP".
const Magic uint16 = 0x5057

// Version is the current protocol version. Older versions are rejected.
const Version uint8 = 2

// Flag bits carried in a Header.
type Flag uint16

const (
	FlagHasTransfer Flag = 0x1
	FlagCompressed  Flag = 0x2
	FlagEncrypted   Flag = 0x4
	FlagFinal       Flag = 0x8
	FlagAckRequired Flag = 0x10
)

// Priority is the wire-level task priority (spec.md §6.1), distinct from
// Task.Priority's wider i16 range: it is the coarse 2-bit class the wire
// header carries, derived from the task's priority at frame-construction
// time.
type Priority uint8

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// Header is the 20-byte frame header (spec.md §6.1).
type Header struct {
	Version       uint8
	Type          Type
	Flags         Flag
	ID            uint32
	PayloadLength uint32
	Sequence      uint32
	Priority      Priority
}

// Encode writes the header to buf[:HeaderSize]. buf must be at least
// HeaderSize bytes.
func (h Header) Encode(buf []byte) {
	_ = buf[HeaderSize-1] // bounds check hint, mirrors the teacher's slot-index bounds idiom
	binary.LittleEndian.PutUint16(buf[0:2], Magic)
	buf[2] = h.Version
	buf[3] = byte(h.Type)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(h.Flags))
	binary.LittleEndian.PutUint32(buf[6:10], h.ID)
	binary.LittleEndian.PutUint32(buf[10:14], h.PayloadLength)
	binary.LittleEndian.PutUint32(buf[14:18], h.Sequence)
	buf[18] = byte(h.Priority)
	buf[19] = 0
}

// DecodeHeader parses a 20-byte header from buf. Returns ErrProtocolMismatch
// (via the returned error, checked with werr.IsFatal by callers) when the
// magic or version doesn't match.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("wire: short header: %d bytes, want %d", len(buf), HeaderSize)
	}
	magic := binary.LittleEndian.Uint16(buf[0:2])
	version := buf[2]
	if magic != Magic {
		return Header{}, fmt.Errorf("%w: bad magic 0x%04x", werr.ErrProtocolMismatch, magic)
	}
	if version != Version {
		return Header{}, fmt.Errorf("%w: unsupported version %d", werr.ErrProtocolMismatch, version)
	}
	return Header{
		Version:       version,
		Type:          Type(buf[3]),
		Flags:         Flag(binary.LittleEndian.Uint16(buf[4:6])),
		ID:            binary.LittleEndian.Uint32(buf[6:10]),
		PayloadLength: binary.LittleEndian.Uint32(buf[10:14]),
		Sequence:      binary.LittleEndian.Uint32(buf[14:18]),
		Priority:      Priority(buf[18]),
	}, nil
}

// Has reports whether flag is set.
func (h Header) Has(flag Flag) bool {
	return h.Flags&flag != 0
}
