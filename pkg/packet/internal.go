package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Kind tags what an internal packet carries, resolving at the type level
// what used to depend on a runtime response flag.
type Kind uint8

const (
	// KindOutbound is a request traveling away from its origin toward
	// the node that will bridge it to the external destination.
	KindOutbound Kind = iota + 1
	// KindReturning is a response walking the reversed path back to the
	// origin; at the final hop its flattened frame is written verbatim
	// to the waiting external socket.
	KindReturning
	// KindFailure notifies the previous hop that the packet could not be
	// delivered, so that node can retry through its own alternatives.
	KindFailure
)

func (k Kind) String() string {
	switch k {
	case KindOutbound:
		return "outbound"
	case KindReturning:
		return "returning"
	case KindFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// DefaultTTL is the hop budget given to a fresh internal packet. Every
// forward and every failure propagation consumes one hop, which bounds
// the lifetime of a packet caught in a routing cycle.
const DefaultTTL = 16

// Internal frame layout (18-byte header, little-endian), followed by
// Step/PathLen-described route entries (u16 each) and the payload bytes.
//
//	0  ..1   Magic   'W''I' (0x5749)
//	2        Version u8
//	3        Kind    u8
//	4        TTL     u8
//	5        Reserved u8
//	6  ..7   Prev u16
//	8  ..9   Dest u16
//	10 ..11  Step u16
//	12 ..13  PathLen u16
//	14 ..17  PayloadLen u32
const (
	internalHeaderSize = 18
	internalMagic      = uint16(0x5749) // 'W''I'

	maxFrame = 1 << 24 // guard against absurd sizes
)

var (
	ErrShortFrame   = errors.New("packet: short internal frame")
	ErrBadKind      = errors.New("packet: unknown internal packet kind")
	ErrFrameTooBig  = errors.New("packet: internal frame too large")
	ErrNoRouteSet   = errors.New("packet: internal packet has no route")
	ErrNoPayload    = errors.New("packet: internal packet has no payload")
	ErrTTLExhausted = errors.New("packet: ttl exhausted")
)

// Internal is the unit relayed between overlay nodes: the wrapped
// external packet plus routing bookkeeping.
type Internal struct {
	Kind    Kind
	TTL     uint8
	Prev    NodeID
	Dest    NodeID
	Route   *PacketRoute
	Payload *Packet
}

// WrapExternal wraps a freshly received external packet for routing
// between nodes. The route is unset; the caller assigns it next.
func WrapExternal(p *Packet) *Internal {
	return &Internal{Kind: KindOutbound, TTL: DefaultTTL, Payload: p}
}

// DetachRoute takes exclusive ownership of the packet's route, leaving
// the packet routeless. Taking twice is a caller bug and returns nil.
func (ip *Internal) DetachRoute() *PacketRoute {
	pr := ip.Route
	ip.Route = nil
	return pr
}

// ConsumeTTL spends one hop of the packet's budget.
func (ip *Internal) ConsumeTTL() error {
	if ip.TTL == 0 {
		return ErrTTLExhausted
	}
	ip.TTL--
	return nil
}

// EncodeFrame serializes the internal packet for transfer to a neighbor.
// For returning packets this is also the flattened blob delivered to the
// original external caller.
func (ip *Internal) EncodeFrame() ([]byte, error) {
	if ip.Route == nil {
		return nil, ErrNoRouteSet
	}
	if ip.Payload == nil {
		return nil, ErrNoPayload
	}
	payload, err := ip.Payload.MarshalBinary()
	if err != nil {
		return nil, err
	}
	pathBytes := len(ip.Route.Path) * 2
	buf := make([]byte, internalHeaderSize+pathBytes+len(payload))
	binary.LittleEndian.PutUint16(buf[0:2], internalMagic)
	buf[2] = Version
	buf[3] = byte(ip.Kind)
	buf[4] = ip.TTL
	// buf[5] reserved
	binary.LittleEndian.PutUint16(buf[6:8], uint16(ip.Prev))
	binary.LittleEndian.PutUint16(buf[8:10], uint16(ip.Dest))
	binary.LittleEndian.PutUint16(buf[10:12], uint16(ip.Route.Step))
	binary.LittleEndian.PutUint16(buf[12:14], uint16(len(ip.Route.Path)))
	binary.LittleEndian.PutUint32(buf[14:18], uint32(len(payload)))
	off := internalHeaderSize
	for _, id := range ip.Route.Path {
		binary.LittleEndian.PutUint16(buf[off:off+2], uint16(id))
		off += 2
	}
	copy(buf[off:], payload)
	return buf, nil
}

// DecodeFrame parses an internal packet from buf.
func (ip *Internal) DecodeFrame(buf []byte) error {
	if len(buf) < internalHeaderSize {
		return ErrShortFrame
	}
	if binary.LittleEndian.Uint16(buf[0:2]) != internalMagic {
		return ErrBadMagic
	}
	kind := Kind(buf[3])
	switch kind {
	case KindOutbound, KindReturning, KindFailure:
	default:
		return fmt.Errorf("%w: %d", ErrBadKind, buf[3])
	}
	ip.Kind = kind
	ip.TTL = buf[4]
	ip.Prev = NodeID(binary.LittleEndian.Uint16(buf[6:8]))
	ip.Dest = NodeID(binary.LittleEndian.Uint16(buf[8:10]))
	step := int(binary.LittleEndian.Uint16(buf[10:12]))
	pathLen := int(binary.LittleEndian.Uint16(buf[12:14]))
	payloadLen := int(binary.LittleEndian.Uint32(buf[14:18]))
	if payloadLen > maxFrame {
		return ErrFrameTooBig
	}
	need := internalHeaderSize + pathLen*2 + payloadLen
	if len(buf) < need {
		return ErrShortFrame
	}
	if step >= pathLen && pathLen > 0 {
		return fmt.Errorf("packet: route step %d out of bounds for path of %d", step, pathLen)
	}
	path := make([]NodeID, pathLen)
	off := internalHeaderSize
	for i := range path {
		path[i] = NodeID(binary.LittleEndian.Uint16(buf[off : off+2]))
		off += 2
	}
	// Every internal packet wraps an external one; a frame without a
	// payload is malformed.
	if payloadLen == 0 {
		return ErrNoPayload
	}
	ip.Route = &PacketRoute{Path: path, Step: step}
	ip.Payload = &Packet{}
	if err := ip.Payload.UnmarshalBinary(buf[off : off+payloadLen]); err != nil {
		return err
	}
	return nil
}
