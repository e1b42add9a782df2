package node

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Kaholaz/wander/pkg/packet"
)

// HandleExternalPacket runs the engine on a packet freshly received from
// an external caller: verify, wrap, pick a path.
func (n *Node) HandleExternalPacket(ctx context.Context, p *packet.Packet) error {
	if !n.verifier.Verify(p) {
		n.log.Error("dropping external packet: checksum failed")
		return fmt.Errorf("%w: checksum mismatch", ErrSend)
	}
	ip := packet.WrapExternal(p)
	ip.Prev = n.id
	return n.routeAndForward(ctx, ip)
}

// HandleInternal dispatches a packet forwarded in from a neighbor.
func (n *Node) HandleInternal(ctx context.Context, ip *packet.Internal) error {
	if ip.Payload == nil {
		return fmt.Errorf("%w: %s packet", packet.ErrNoPayload, ip.Kind)
	}
	switch ip.Kind {
	case packet.KindReturning:
		return n.handleReturning(ctx, ip)
	case packet.KindFailure:
		return n.handleFailure(ctx, ip)
	case packet.KindOutbound:
		return n.handleOutbound(ctx, ip)
	default:
		return fmt.Errorf("%w: %d", packet.ErrBadKind, ip.Kind)
	}
}

// handleOutbound decides between local termination and forwarding for a
// request traveling away from its origin.
func (n *Node) handleOutbound(ctx context.Context, ip *packet.Internal) error {
	if ip.Route != nil && ip.Route.AtEnd() && ip.Dest == n.id {
		// We are the exit: bridge to the real destination.
		return n.handleSendExternal(ctx, ip)
	}
	if ip.Route != nil && !ip.Route.AtEnd() {
		// Mid-circuit relay: keep walking the attached route.
		if err := n.usePacketRoute(ctx, ip); err == nil {
			return nil
		} else if errors.Is(err, packet.ErrTTLExhausted) {
			n.dropExpired(ip)
			return err
		}
		if err := n.sendBogo(ctx, ip); err == nil {
			return nil
		} else if errors.Is(err, packet.ErrTTLExhausted) {
			n.dropExpired(ip)
			return err
		}
		return n.propagateFailure(ctx, ip)
	}
	// Fresh packet, or a bogo hand-off whose route is spent: run our own
	// path lookup.
	return n.routeAndForward(ctx, ip)
}

// routeAndForward is the LocalPathLookup state: pick a random route when
// one exists, otherwise fall back to single-hop bogo forwarding.
func (n *Node) routeAndForward(ctx context.Context, ip *packet.Internal) error {
	if !n.table.Empty() {
		route, _ := n.table.RandomRoute()
		route.Sleep(n.clk)
		ip.Route = route.PacketRoute()
		ip.Dest = ip.Route.Path[len(ip.Route.Path)-1]
		if err := n.usePacketRoute(ctx, ip); err == nil {
			return nil
		} else if errors.Is(err, packet.ErrTTLExhausted) {
			n.dropExpired(ip)
			return err
		}
		// path failed
		if err := n.sendBogo(ctx, ip); err == nil {
			return nil
		} else if errors.Is(err, packet.ErrTTLExhausted) {
			n.dropExpired(ip)
			return err
		}
		return n.propagateFailure(ctx, ip)
	}

	// No established circuit: degenerate single-hop route, straight to a
	// random neighbor.
	ip.Route = packet.SingleHop(n.id)
	if err := n.sendBogo(ctx, ip); err == nil {
		return nil
	} else if errors.Is(err, packet.ErrTTLExhausted) {
		n.dropExpired(ip)
		return err
	}
	return n.propagateFailure(ctx, ip)
}

// usePacketRoute advances the route cursor and delivers the packet to
// the next hop. A next hop that cannot be reached is a path failure.
func (n *Node) usePacketRoute(ctx context.Context, ip *packet.Internal) error {
	next, err := ip.Route.Advance()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPathForward, err)
	}
	if err := ip.ConsumeTTL(); err != nil {
		return err
	}
	ip.Prev = n.id
	if err := n.send(ctx, ip, next); err != nil {
		n.log.Warn("route hop unreachable",
			zap.Uint16("next", uint16(next)), zap.Error(err))
		return fmt.Errorf("%w: hop %d: %v", ErrPathForward, next, err)
	}
	return nil
}

// sendBogo attempts direct delivery to one uniformly random known
// neighbor. Exactly one attempt; deeper retry depth comes from upstream
// propagation, not local looping.
func (n *Node) sendBogo(ctx context.Context, ip *packet.Internal) error {
	nb, ok := n.table.RandomNeighbor(n.id)
	if !ok {
		return ErrNoNeighbor
	}
	if err := ip.ConsumeTTL(); err != nil {
		return err
	}
	ip.Prev = n.id
	if err := n.send(ctx, ip, nb); err != nil {
		n.log.Warn("bogo forward failed",
			zap.Uint16("neighbor", uint16(nb)), zap.Error(err))
		return fmt.Errorf("%w: neighbor %d: %v", ErrSend, nb, err)
	}
	n.log.Debug("bogo forwarded", zap.Uint16("neighbor", uint16(nb)))
	return nil
}

// propagateFailure notifies the previous hop that this packet could not
// be delivered so it can retry through its own alternatives. A failure
// is never addressed to the local node itself: when the previous hop is
// us, this node originated the packet and gives up.
func (n *Node) propagateFailure(ctx context.Context, ip *packet.Internal) error {
	if ip.Prev == n.id {
		n.log.Error("giving up: no upstream to propagate failure to",
			zap.String("kind", ip.Kind.String()))
		return ErrRetriesExhausted
	}
	if err := ip.ConsumeTTL(); err != nil {
		n.dropExpired(ip)
		return err
	}
	// Dest keeps naming the exit node so a later retry still terminates
	// there; the notification targets the upstream hop directly.
	upstream := ip.Prev
	ip.Kind = packet.KindFailure
	if err := n.send(ctx, ip, upstream); err != nil {
		n.log.Error("failure propagation lost",
			zap.Uint16("upstream", uint16(upstream)), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrRetriesExhausted, err)
	}
	n.log.Info("propagated failure upstream", zap.Uint16("upstream", uint16(upstream)))
	return nil
}

// handleFailure is the upstream side of propagation: a downstream node
// could not deliver our packet, so retry it with our own bogo fallback.
func (n *Node) handleFailure(ctx context.Context, ip *packet.Internal) error {
	n.log.Info("received failure notification", zap.Uint16("prev", uint16(ip.Prev)))
	ip.Kind = packet.KindOutbound
	if err := n.sendBogo(ctx, ip); err == nil {
		return nil
	} else if errors.Is(err, packet.ErrTTLExhausted) {
		n.dropExpired(ip)
		return err
	}
	return n.propagateFailure(ctx, ip)
}

// handleReturning walks a response one hop further back along the
// reversed path. No path selection is re-run; the route was fixed when
// the response was built.
func (n *Node) handleReturning(ctx context.Context, ip *packet.Internal) error {
	if ip.Route == nil {
		return packet.ErrNoRouteSet
	}
	if ip.Route.AtEnd() {
		// The origin: write the flattened response back out.
		return n.handleSendExternal(ctx, ip)
	}
	next, err := ip.Route.Advance()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPathForward, err)
	}
	if err := ip.ConsumeTTL(); err != nil {
		n.dropExpired(ip)
		return err
	}
	ip.Prev = n.id
	if err := n.send(ctx, ip, next); err != nil {
		// The reverse path is fixed; a broken hop loses the response and
		// the caller eventually sees a closed connection.
		n.log.Warn("response hop unreachable, dropping response",
			zap.Uint16("next", uint16(next)), zap.Error(err))
		return fmt.Errorf("%w: response hop %d: %v", ErrSend, next, err)
	}
	return nil
}

func (n *Node) dropExpired(ip *packet.Internal) {
	n.log.Warn("dropping packet: ttl exhausted",
		zap.String("kind", ip.Kind.String()),
		zap.Uint16("dest", uint16(ip.Dest)))
}
