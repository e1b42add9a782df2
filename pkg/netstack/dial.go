package netstack

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Kaholaz/wander/pkg/packet"
	"github.com/Kaholaz/wander/pkg/transport"
)

// dialLoop keeps one neighbor connected: dial, hello, serve, and on any
// failure back off exponentially before trying again.
func (s *Stack) dialLoop(ctx context.Context, tr transport.Transport, address string, id packet.NodeID) {
	peer := transport.PeerInfo{ID: id, Addr: address, Known: true}

	backoff := s.opts.BackoffInitial
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	maxBackoff := s.opts.BackoffMax
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}
	grow := func() {
		if backoff < maxBackoff {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		sess, err := tr.Dial(ctx, address, peer)
		if err != nil {
			zap.L().Warn("dial failed", zap.String("kind", tr.Kind().String()), zap.String("addr", address), zap.Error(err))
			if !sleepCtx(ctx, withJitter(backoff, s.opts.BackoffJitter)) {
				return
			}
			grow()
			continue
		}

		ok := s.establish(ctx, sess, id)
		if ok {
			backoff = s.opts.BackoffInitial
			if backoff <= 0 {
				backoff = 500 * time.Millisecond
			}
			// establish returned because the session ended; redial soon.
			continue
		}
		if !sleepCtx(ctx, withJitter(backoff, s.opts.BackoffJitter)) {
			return
		}
		grow()
	}
}

// establish runs the initiator side of the hello exchange and serves the
// session until it ends. Returns false when the session never carried
// traffic (hello failed, identity mismatch, lost election).
func (s *Stack) establish(ctx context.Context, sess transport.Session, want packet.NodeID) bool {
	st, err := sess.OpenStream(ctx)
	if err != nil {
		zap.L().Warn("open stream", zap.Error(err))
		_ = sess.Close()
		return false
	}
	if err := s.sendHello(st); err != nil {
		zap.L().Warn("send hello", zap.Error(err))
		_ = sess.Close()
		return false
	}
	h, err := s.recvHello(st)
	if err != nil {
		zap.L().Warn("hello reply", zap.Error(err))
		_ = sess.Close()
		return false
	}
	if h.ID != want {
		zap.L().Warn("neighbor identity mismatch",
			zap.Uint16("want", uint16(want)), zap.Uint16("got", uint16(h.ID)))
		_ = sess.Close()
		return false
	}
	if !s.mgr.AddSession(sess) {
		// A canonical session for this neighbor already exists.
		return false
	}
	zap.L().Info("dialed",
		zap.Uint16("peer", uint16(h.ID)),
		zap.String("name", h.Name),
		zap.String("kind", sess.TransportKind().String()),
		zap.String("raddr", sess.RemoteAddr().String()))

	s.n.Table().AddNeighbor(h.ID)
	s.pushAdvert(st)
	s.serve(ctx, sess, st, h.ID)
	return true
}

func withJitter(d, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return d
	}
	// add random 0..jitter
	n := time.Now().UnixNano()
	j := time.Duration(n % int64(jitter))
	return d + j
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
