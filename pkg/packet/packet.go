// Package packet defines the wander wire format: the external packet
// exchanged with callers outside the overlay and the internal packet
// relayed between overlay nodes.
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// NodeID identifies an overlay node.
type NodeID uint16

// Fixed external header layout (32 bytes) for fast parsing over any channel.
// All integer fields are little-endian.
//
//	0  ..1   Magic   'W''P' (0x5750)
//	2        Version u8
//	3        Reserved u8
//	4  ..19  DestIPv4 [16]byte dotted-decimal, NUL padded
//	20 ..21  DestPort u16
//	22 ..25  Checksum u32
//	26 ..29  SeqNr u32
//	30 ..31  PayloadLen u16
const (
	headerSize = 32
	magicWord  = uint16(0x5750) // 'W''P'

	// MaxPayload bounds a single external packet payload and a single
	// response chunk read from the external peer.
	MaxPayload = 0xFFFF

	// Version is the current wire format version.
	Version = 1
)

var (
	ErrShortHeader  = errors.New("packet: short header")
	ErrBadMagic     = errors.New("packet: bad magic")
	ErrPayloadSize  = errors.New("packet: payload exceeds max size")
	ErrSeqOutOfSync = errors.New("packet: response chunk out of sequence")
)

// Packet is the external wire unit: an addressed payload entering or
// leaving the overlay.
type Packet struct {
	DestIPv4 string // dotted-decimal IPv4, at most 15 chars
	DestPort uint16
	Checksum uint32
	SeqNr    uint32
	Payload  []byte
}

// MarshalBinary encodes the packet as header + payload.
func (p *Packet) MarshalBinary() ([]byte, error) {
	if len(p.Payload) > MaxPayload {
		return nil, ErrPayloadSize
	}
	if len(p.DestIPv4) > 15 {
		return nil, fmt.Errorf("packet: dest ipv4 too long: %q", p.DestIPv4)
	}
	buf := make([]byte, headerSize+len(p.Payload))
	binary.LittleEndian.PutUint16(buf[0:2], magicWord)
	buf[2] = Version
	// buf[3] reserved
	copy(buf[4:20], p.DestIPv4)
	binary.LittleEndian.PutUint16(buf[20:22], p.DestPort)
	binary.LittleEndian.PutUint32(buf[22:26], p.Checksum)
	binary.LittleEndian.PutUint32(buf[26:30], p.SeqNr)
	binary.LittleEndian.PutUint16(buf[30:32], uint16(len(p.Payload)))
	copy(buf[headerSize:], p.Payload)
	return buf, nil
}

// UnmarshalBinary decodes header + payload from buf.
func (p *Packet) UnmarshalBinary(buf []byte) error {
	if len(buf) < headerSize {
		return ErrShortHeader
	}
	if binary.LittleEndian.Uint16(buf[0:2]) != magicWord {
		return ErrBadMagic
	}
	p.DestIPv4 = cstr(buf[4:20])
	p.DestPort = binary.LittleEndian.Uint16(buf[20:22])
	p.Checksum = binary.LittleEndian.Uint32(buf[22:26])
	p.SeqNr = binary.LittleEndian.Uint32(buf[26:30])
	n := int(binary.LittleEndian.Uint16(buf[30:32]))
	if headerSize+n > len(buf) {
		return ErrShortHeader
	}
	p.Payload = append(p.Payload[:0], buf[headerSize:headerSize+n]...)
	return nil
}

// NewResponse builds the first response packet (seq 0) for a request,
// copying the addressing header fields and seeding the payload with the
// first streamed chunk.
func NewResponse(req *Packet, firstChunk []byte) (*Packet, error) {
	if len(firstChunk) > MaxPayload {
		return nil, ErrPayloadSize
	}
	return &Packet{
		DestIPv4: req.DestIPv4,
		DestPort: req.DestPort,
		SeqNr:    0,
		Payload:  append([]byte(nil), firstChunk...),
	}, nil
}

// AppendChunk appends a subsequent streamed chunk to an in-progress
// response. seq must be exactly one past the last appended sequence
// number; the external bridge guarantees ordering since it reads the
// stream sequentially.
func (p *Packet) AppendChunk(chunk []byte, seq uint32) error {
	if seq != p.SeqNr+1 {
		return ErrSeqOutOfSync
	}
	if len(p.Payload)+len(chunk) > MaxPayload {
		return ErrPayloadSize
	}
	p.Payload = append(p.Payload, chunk...)
	p.SeqNr = seq
	return nil
}

// cstr interprets b as a NUL padded string.
func cstr(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
