package node

import (
	"context"
	"net"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Kaholaz/wander/pkg/packet"
)

// HandleExternalConn serves one accepted external connection: read a
// single wire packet, run the integrity hook, then hand the packet to
// the forwarding engine. The connection is closed before any response
// travels the overlay; responses come back through handleSendExternal at
// the origin.
func (n *Node) HandleExternalConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var p packet.Packet
	if _, err := p.ReadFrom(conn); err != nil {
		n.log.Error("failed to read external packet", zap.Error(err))
		return
	}
	n.log.Info("received external packet",
		zap.String("dest", p.DestIPv4), zap.Uint16("port", p.DestPort))

	if err := n.HandleExternalPacket(ctx, &p); err != nil {
		n.log.Warn("external packet not forwarded", zap.Error(err))
	}
}

// handleSendExternal terminates a packet at this node by bridging it to
// a plain TCP connection outside the overlay. For an outbound request it
// relays the inner payload and streams the reply back in as sequenced
// response chunks; for a returning response it writes the flattened
// internal frame verbatim and is done.
func (n *Node) handleSendExternal(ctx context.Context, ip *packet.Internal) error {
	inner := ip.Payload
	addr := net.JoinHostPort(inner.DestIPv4, strconv.Itoa(int(inner.DestPort)))
	n.log.Info("handling outgoing request",
		zap.String("addr", addr), zap.String("kind", ip.Kind.String()))

	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrapf(ErrExternalConnect, "dial %s: %v", addr, err)
	}
	defer conn.Close()

	if ip.Kind == packet.KindReturning {
		frame, err := ip.EncodeFrame()
		if err != nil {
			return err
		}
		if _, err := conn.Write(frame); err != nil {
			return errors.Wrapf(ErrSend, "deliver response to %s: %v", addr, err)
		}
		n.log.Info("delivered response to external caller",
			zap.String("addr", addr), zap.Int("bytes", len(frame)))
		return nil
	}

	if _, err := conn.Write(inner.Payload); err != nil {
		return errors.Wrapf(ErrSend, "relay payload to %s: %v", addr, err)
	}

	resp, err := n.receiveResponse(ctx, conn, inner)
	if err != nil {
		return err
	}
	// The forward route is spent; take it exactly once to derive the
	// return trip.
	fwd := ip.DetachRoute()
	if resp == nil {
		n.log.Info("external peer closed without response", zap.String("addr", addr))
		return nil
	}
	return n.sendResponseBack(ctx, fwd, resp)
}

// receiveResponse reads the external reply stream into one sequenced
// response packet addressed like the request: the first chunk creates
// it, later chunks append. The loop ends when the peer closes or the
// node is shut down; cancellation is cooperative, checked between reads.
func (n *Node) receiveResponse(ctx context.Context, conn net.Conn, req *packet.Packet) (*packet.Packet, error) {
	buf := make([]byte, packet.MaxPayload)
	var resp *packet.Packet
	var seq uint32
	for {
		select {
		case <-ctx.Done():
			return resp, nil
		default:
		}
		nr, err := conn.Read(buf)
		if nr > 0 {
			if seq == 0 {
				r, rerr := packet.NewResponse(req, buf[:nr])
				if rerr != nil {
					return nil, rerr
				}
				resp = r
			} else if aerr := resp.AppendChunk(buf[:nr], seq); aerr != nil {
				return nil, aerr
			}
			seq++
		}
		if err != nil {
			// io.EOF is the normal end of stream; anything else still
			// yields whatever arrived before the error.
			return resp, nil
		}
	}
}

// sendResponseBack builds the returning packet on the reversed forward
// path and starts it on its first hop back toward the origin.
func (n *Node) sendResponseBack(ctx context.Context, fwd *packet.PacketRoute, resp *packet.Packet) error {
	reversed := packet.ReverseRoute(fwd.Path)
	if len(reversed) < 2 {
		// Exit and origin are the same node on a degenerate path; there
		// is no overlay hop to walk back.
		n.log.Warn("degenerate forward path, dropping response")
		return nil
	}
	ret := &packet.Internal{
		Kind:    packet.KindReturning,
		TTL:     packet.DefaultTTL,
		Prev:    n.id,
		Dest:    fwd.Origin(),
		Route:   &packet.PacketRoute{Path: reversed, Step: 1},
		Payload: resp,
	}
	next := ret.Route.Path[ret.Route.Step]
	if err := n.send(ctx, ret, next); err != nil {
		n.log.Error("failed to start response on return path",
			zap.Uint16("next", uint16(next)), zap.Error(err))
		return errors.Wrapf(ErrSend, "return hop %d: %v", next, err)
	}
	n.log.Debug("response on its way back",
		zap.Uint16("next", uint16(next)), zap.Uint16("origin", uint16(ret.Dest)))
	return nil
}
