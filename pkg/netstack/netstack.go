// Package netstack wires the forwarding core to the transport layer: it
// starts listeners and neighbor dials from config, runs the hello
// exchange that fixes a session's overlay identity, pushes periodic
// route adverts, and exposes the send path the forwarding engine uses
// to reach direct neighbors.
package netstack

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/Kaholaz/wander/pkg/codec"
	"github.com/Kaholaz/wander/pkg/node"
	"github.com/Kaholaz/wander/pkg/packet"
	"github.com/Kaholaz/wander/pkg/transport"
)

// Stream message tags. Every frame on an internal session stream starts
// with one of these; the rest of the frame is the message body.
const (
	tagHello  = 0x01 // cbor hello announcement
	tagAdvert = 0x02 // cbor route advert
	tagPacket = 0x03 // binary internal packet frame
)

// ErrNoSession is returned by Send when no live session exists for the
// requested neighbor. The forwarding engine treats it like any other
// link failure.
var ErrNoSession = errors.New("no session to neighbor")

// Options contains netstack tuning knobs.
type Options struct {
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	BackoffJitter  time.Duration
	AdvertInterval time.Duration
}

// Stack connects a forwarding node to its transports.
type Stack struct {
	mgr  *transport.Manager
	cbor codec.Codec
	name string
	opts Options

	n *node.Node // bound by Start
}

// New builds a Stack. The node is attached later via Start because the
// node's send function is this stack's Send.
func New(mgr *transport.Manager, reg *codec.Registry, name string, opts Options) *Stack {
	return &Stack{
		mgr:  mgr,
		cbor: reg.Get("application/cbor"),
		name: name,
		opts: opts,
	}
}

// Send delivers an internal packet to a direct neighbor over its
// canonical session. This is the node.SendFunc implementation.
func (s *Stack) Send(ctx context.Context, ip *packet.Internal, next packet.NodeID) error {
	sess := s.mgr.GetSession(next)
	if sess == nil {
		return errors.Wrapf(ErrNoSession, "neighbor %d", next)
	}
	frame, err := ip.EncodeFrame()
	if err != nil {
		return errors.Wrap(err, "encode frame")
	}
	st, err := sess.OpenStream(ctx)
	if err != nil {
		s.mgr.DropIf(next, sess)
		return errors.Wrapf(err, "open stream to %d", next)
	}
	if err := st.SendBytes(tagged(tagPacket, frame)); err != nil {
		s.mgr.DropIf(next, sess)
		return errors.Wrapf(err, "send to %d", next)
	}
	return nil
}

func tagged(tag byte, body []byte) []byte {
	out := make([]byte, 1+len(body))
	out[0] = tag
	copy(out[1:], body)
	return out
}
