// Package transport abstracts the links carrying internal packets
// between overlay nodes. A node may reach a neighbor over TCP, QUIC or
// an in-process pipe; the forwarding engine only sees opaque framed
// byte exchange.
package transport

import (
	"context"
	"net"
	"time"

	"github.com/Kaholaz/wander/pkg/packet"
)

// Kind identifies the link type for session ranking.
type Kind int

const (
	KindUnknown Kind = iota
	KindQUIC
	KindTCP
	KindMem
)

func (k Kind) String() string {
	switch k {
	case KindQUIC:
		return "quic"
	case KindTCP:
		return "tcp"
	case KindMem:
		return "mem"
	default:
		return "unknown"
	}
}

// PeerInfo bundles the neighbor's overlay identity and addressing. The
// identity is unknown until the hello exchange completes.
type PeerInfo struct {
	ID    packet.NodeID
	Addr  string
	Known bool
}

// Quality captures link metrics used to rank concurrent sessions to the
// same neighbor.
type Quality struct {
	RTT           time.Duration
	EstablishedAt time.Time
	LastSeen      time.Time
}

// Stream is a bidirectional frame stream. Exactly one reader and one
// writer goroutine are expected.
type Stream interface {
	// SendBytes sends one frame as opaque bytes.
	SendBytes([]byte) error
	// RecvBytes receives the next frame.
	RecvBytes() ([]byte, error)
	Close() error
}

// Session is one established link to a neighbor carrying a single
// control/data stream.
type Session interface {
	Peer() PeerInfo
	SetPeer(PeerInfo)
	TransportKind() Kind
	LocalAddr() net.Addr
	RemoteAddr() net.Addr

	// OpenStream returns the session's stream, creating it when the
	// local side initiates.
	OpenStream(ctx context.Context) (Stream, error)
	// AcceptStream waits for the stream opened by the remote side.
	// Transports without native streams return the shared one.
	AcceptStream(ctx context.Context) (Stream, error)

	Quality() Quality
	Close() error
}

// Listener accepts inbound sessions.
type Listener interface {
	// Accept blocks until an inbound session is available or ctx is done.
	Accept(ctx context.Context) (Session, error)
	Addr() net.Addr
	Close() error
}

// Transport provides dialing and listening for one link kind.
type Transport interface {
	Kind() Kind
	Listen(ctx context.Context, address string) (Listener, error)
	Dial(ctx context.Context, address string, peer PeerInfo) (Session, error)
}
