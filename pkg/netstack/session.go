package netstack

import (
	"context"

	"go.uber.org/zap"

	"github.com/Kaholaz/wander/pkg/packet"
	"github.com/Kaholaz/wander/pkg/routing"
	"github.com/Kaholaz/wander/pkg/transport"
)

// serve reads a session's stream until it fails, dispatching adverts to
// the routing table and packet frames to the forwarding engine. On exit
// the session is dropped; the neighbor entry goes with it unless a
// replacement session already took over.
func (s *Stack) serve(ctx context.Context, sess transport.Session, st transport.Stream, peer packet.NodeID) {
	defer func() {
		s.mgr.DropIf(peer, sess)
		_ = sess.Close()
		if s.mgr.GetSession(peer) == nil {
			s.n.Table().RemoveNeighbor(peer)
		}
		zap.L().Info("session closed", zap.Uint16("peer", uint16(peer)))
	}()

	for {
		buf, err := st.RecvBytes()
		if err != nil {
			select {
			case <-ctx.Done():
			default:
				zap.L().Debug("recv", zap.Uint16("peer", uint16(peer)), zap.Error(err))
			}
			return
		}
		s.dispatch(ctx, peer, buf)
	}
}

func (s *Stack) dispatch(ctx context.Context, from packet.NodeID, buf []byte) {
	if len(buf) == 0 {
		return
	}
	switch buf[0] {
	case tagAdvert:
		adv, err := routing.DecodeAdvert(s.cbor, buf[1:])
		if err != nil {
			zap.L().Warn("bad advert", zap.Uint16("peer", uint16(from)), zap.Error(err))
			return
		}
		s.n.Table().Apply(adv)
	case tagPacket:
		ip := new(packet.Internal)
		if err := ip.DecodeFrame(buf[1:]); err != nil {
			zap.L().Warn("bad packet frame", zap.Uint16("peer", uint16(from)), zap.Error(err))
			return
		}
		// The engine may dial out or park on a latency wait; never block
		// the session read loop on it.
		go func() {
			if err := s.n.HandleInternal(ctx, ip); err != nil {
				zap.L().Warn("handle packet", zap.Uint16("peer", uint16(from)), zap.Error(err))
			}
		}()
	case tagHello:
		// Identity is fixed at session start; repeated hellos are noise.
		zap.L().Debug("late hello ignored", zap.Uint16("peer", uint16(from)))
	default:
		zap.L().Warn("unknown stream tag", zap.Uint16("peer", uint16(from)), zap.Uint8("tag", buf[0]))
	}
}

// pushAdvert sends the current routing snapshot over one stream.
func (s *Stack) pushAdvert(st transport.Stream) {
	adv := s.n.Table().AdvertFor()
	b, err := routing.EncodeAdvert(s.cbor, adv)
	if err != nil {
		zap.L().Warn("encode advert", zap.Error(err))
		return
	}
	if err := st.SendBytes(tagged(tagAdvert, b)); err != nil {
		zap.L().Debug("push advert", zap.Error(err))
	}
}
