// Package wire implements the fixed binary envelope framing shared by the
// Router and the Engine over the IPC channel.
package wire

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the byte length of a Header on the wire: magic(4) +
// version(2) + type(2) + corr_id(8) + payload_len(4) + reserved(4).
const HeaderSize = 24

// Magic identifies a well-formed envelope ("TRMQ").
const Magic uint32 = 0x54524D51

// Version is the only envelope version this codec understands.
const Version uint16 = 1

// Type distinguishes a request envelope from a response envelope.
type Type uint16

const (
	TypeRequest  Type = 1
	TypeResponse Type = 2
)

// Header is the fixed-width prefix of every envelope, in declaration order
// with no padding. Every field is encoded little-endian regardless of the
// host's byte order.
type Header struct {
	Magic      uint32
	Version    uint16
	Type       Type
	CorrID     uint64
	PayloadLen uint32
	Reserved   uint32
}

// Pack builds a complete envelope: header followed by payload bytes.
func Pack(t Type, corrID uint64, payload []byte) []byte {
	out := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(out[0:4], Magic)
	binary.LittleEndian.PutUint16(out[4:6], Version)
	binary.LittleEndian.PutUint16(out[6:8], uint16(t))
	binary.LittleEndian.PutUint64(out[8:16], corrID)
	binary.LittleEndian.PutUint32(out[16:20], uint32(len(payload)))
	binary.LittleEndian.PutUint32(out[20:24], 0)
	copy(out[HeaderSize:], payload)
	return out
}

// UnpackHeader decodes and validates only the fixed header, without
// requiring the payload to be present yet. Used by readers that must
// learn payload_len before they can read the payload off a stream.
func UnpackHeader(data []byte) (Header, error) {
	var h Header
	if len(data) < HeaderSize {
		return h, fmt.Errorf("wire: short header: %d bytes", len(data))
	}
	h.Magic = binary.LittleEndian.Uint32(data[0:4])
	if h.Magic != Magic {
		return Header{}, fmt.Errorf("wire: bad magic %#x", h.Magic)
	}
	h.Version = binary.LittleEndian.Uint16(data[4:6])
	if h.Version != Version {
		return Header{}, fmt.Errorf("wire: unsupported version %d", h.Version)
	}
	h.Type = Type(binary.LittleEndian.Uint16(data[6:8]))
	h.CorrID = binary.LittleEndian.Uint64(data[8:16])
	h.PayloadLen = binary.LittleEndian.Uint32(data[16:20])
	h.Reserved = binary.LittleEndian.Uint32(data[20:24])
	return h, nil
}

// Unpack validates and decodes a complete envelope. Rejection is reported
// as an error and is non-fatal to the caller: the envelope should simply
// be discarded.
func Unpack(data []byte) (Header, []byte, error) {
	var h Header
	if len(data) < HeaderSize {
		return h, nil, fmt.Errorf("wire: short envelope: %d bytes", len(data))
	}
	h.Magic = binary.LittleEndian.Uint32(data[0:4])
	if h.Magic != Magic {
		return Header{}, nil, fmt.Errorf("wire: bad magic %#x", h.Magic)
	}
	h.Version = binary.LittleEndian.Uint16(data[4:6])
	if h.Version != Version {
		return Header{}, nil, fmt.Errorf("wire: unsupported version %d", h.Version)
	}
	h.Type = Type(binary.LittleEndian.Uint16(data[6:8]))
	h.CorrID = binary.LittleEndian.Uint64(data[8:16])
	h.PayloadLen = binary.LittleEndian.Uint32(data[16:20])
	h.Reserved = binary.LittleEndian.Uint32(data[20:24])
	if uint64(HeaderSize)+uint64(h.PayloadLen) != uint64(len(data)) {
		return Header{}, nil, fmt.Errorf("wire: payload_len mismatch: header says %d, have %d", h.PayloadLen, len(data)-HeaderSize)
	}
	return h, data[HeaderSize:], nil
}
