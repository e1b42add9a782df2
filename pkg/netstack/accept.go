package netstack

import (
	"context"

	"go.uber.org/zap"

	"github.com/Kaholaz/wander/pkg/transport"
)

func (s *Stack) acceptLoop(ctx context.Context, l transport.Listener) {
	for {
		sess, err := l.Accept(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			zap.L().Warn("accept failed", zap.String("addr", l.Addr().String()), zap.Error(err))
			return
		}
		go s.handleInbound(ctx, sess)
	}
}

// handleInbound runs the responder side of the hello exchange and, when
// the session wins the canonical election, serves it.
func (s *Stack) handleInbound(ctx context.Context, sess transport.Session) {
	st, err := sess.AcceptStream(ctx)
	if err != nil {
		zap.L().Warn("accept stream", zap.Error(err))
		_ = sess.Close()
		return
	}
	h, err := s.recvHello(st)
	if err != nil {
		zap.L().Warn("inbound hello failed", zap.String("raddr", sess.RemoteAddr().String()), zap.Error(err))
		_ = sess.Close()
		return
	}
	sess.SetPeer(transport.PeerInfo{ID: h.ID, Addr: sess.RemoteAddr().String(), Known: true})
	zap.L().Info("inbound session",
		zap.Uint16("peer", uint16(h.ID)),
		zap.String("name", h.Name),
		zap.String("kind", sess.TransportKind().String()),
		zap.String("raddr", sess.RemoteAddr().String()))

	if !s.mgr.AddSession(sess) {
		// Lost the election; the manager closed the session.
		return
	}
	if err := s.sendHello(st); err != nil {
		zap.L().Warn("hello reply failed", zap.Uint16("peer", uint16(h.ID)), zap.Error(err))
		s.mgr.DropIf(h.ID, sess)
		_ = sess.Close()
		return
	}
	s.n.Table().AddNeighbor(h.ID)
	s.pushAdvert(st)
	s.serve(ctx, sess, st, h.ID)
}
