// Package codec builds and reads the fixed-size big-endian byte layouts
// shared by the NAT-PMP and PCP wire formats. Both protocols describe their
// packets as a table of (width, offset, value) fields; this package is that
// table made literal instead of each opcode repeating its own run of
// binary.BigEndian.PutUintNN calls.
package codec

import (
	"encoding/binary"
	"fmt"
)

// Width is the bit width of a single field written by Field.
type Width int

const (
	U8  Width = 8
	U16 Width = 16
	U32 Width = 32
)

// Field describes one value to place into a buffer being built.
type Field struct {
	Width  Width
	Offset int
	Value  uint32
}

// Build allocates a zero-filled buffer of size bytes and writes each field
// into it big-endian at its offset. Panics on a Width outside {U8,U16,U32}
// or an offset that would overrun size — both are programmer errors, not
// runtime conditions a caller can recover from.
func Build(size int, fields ...Field) []byte {
	buf := make([]byte, size)
	for _, f := range fields {
		switch f.Width {
		case U8:
			buf[f.Offset] = byte(f.Value)
		case U16:
			binary.BigEndian.PutUint16(buf[f.Offset:f.Offset+2], uint16(f.Value))
		case U32:
			binary.BigEndian.PutUint32(buf[f.Offset:f.Offset+4], f.Value)
		default:
			panic(fmt.Sprintf("codec: unsupported field width %d", f.Width))
		}
	}
	return buf
}

// ReadU8 reads one byte at offset.
func ReadU8(buf []byte, offset int) uint8 {
	return buf[offset]
}

// ReadU16 reads a big-endian uint16 at offset.
func ReadU16(buf []byte, offset int) uint16 {
	return binary.BigEndian.Uint16(buf[offset : offset+2])
}

// ReadU32 reads a big-endian uint32 at offset.
func ReadU32(buf []byte, offset int) uint32 {
	return binary.BigEndian.Uint32(buf[offset : offset+4])
}

// RequireLen returns an error if buf is shorter than want bytes, formatted
// the way the teacher's natpmp.fromBytes length checks are worded.
func RequireLen(buf []byte, want int) error {
	if len(buf) < want {
		return fmt.Errorf("codec: invalid byte length of payload, was expecting at least %d, got %d", want, len(buf))
	}
	return nil
}
