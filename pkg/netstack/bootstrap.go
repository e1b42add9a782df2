package netstack

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Kaholaz/wander/pkg/config"
	"github.com/Kaholaz/wander/pkg/node"
	"github.com/Kaholaz/wander/pkg/packet"
	"github.com/Kaholaz/wander/pkg/transport"
	"github.com/Kaholaz/wander/pkg/transport/mem"
	tquic "github.com/Kaholaz/wander/pkg/transport/quic"
	ttcp "github.com/Kaholaz/wander/pkg/transport/tcp"
)

// Start binds the stack to a forwarding node, builds transports per
// config, starts listeners and neighbor dials, and begins the advert
// ticker. Returns a closer that stops listeners; background goroutines
// stop when ctx is canceled.
func (s *Stack) Start(ctx context.Context, n *node.Node, cfg []config.TransportConfig, external string) (func(), error) {
	s.n = n

	var closers []func()
	var mu sync.Mutex
	addCloser := func(f func()) { mu.Lock(); defer mu.Unlock(); closers = append(closers, f) }

	for _, tc := range cfg {
		tr, err := NewByKind(tc.Kind)
		if err != nil {
			zap.L().Warn("transport kind not available", zap.String("kind", tc.Kind), zap.Error(err))
			continue
		}

		// Listen endpoints
		for _, addr := range tc.Listen {
			l, err := tr.Listen(ctx, addr)
			if err != nil {
				zap.L().Error("listen failed", zap.String("kind", tr.Kind().String()), zap.String("addr", addr), zap.Error(err))
				continue
			}
			zap.L().Info("listening", zap.String("kind", tr.Kind().String()), zap.String("addr", l.Addr().String()))
			addCloser(func() { _ = l.Close() })
			go s.acceptLoop(ctx, l)
		}

		// Dial endpoints with backoff
		for _, d := range tc.Dial {
			go s.dialLoop(ctx, tr, d.Address, packet.NodeID(d.NodeID))
		}
	}

	if external != "" {
		l, err := net.Listen("tcp", external)
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
			return nil, err
		}
		zap.L().Info("external bridge listening", zap.String("addr", l.Addr().String()))
		addCloser(func() { _ = l.Close() })
		go s.externalLoop(ctx, l)
	}

	go s.advertLoop(ctx)

	return func() {
		mu.Lock()
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		mu.Unlock()
	}, nil
}

// externalLoop accepts plain TCP connections from callers outside the
// overlay and hands each one to the bridge.
func (s *Stack) externalLoop(ctx context.Context, l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
			default:
				zap.L().Warn("external accept failed", zap.Error(err))
			}
			return
		}
		go s.n.HandleExternalConn(ctx, conn)
	}
}

// advertLoop periodically pushes the routing snapshot to every neighbor.
func (s *Stack) advertLoop(ctx context.Context) {
	iv := s.opts.AdvertInterval
	if iv <= 0 {
		iv = 10 * time.Second
	}
	tk := time.NewTicker(iv)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			s.broadcastAdvert(ctx)
		}
	}
}

func (s *Stack) broadcastAdvert(ctx context.Context) {
	for _, id := range s.mgr.ListPeers() {
		sess := s.mgr.GetSession(id)
		if sess == nil {
			continue
		}
		st, err := sess.OpenStream(ctx)
		if err != nil {
			continue
		}
		s.pushAdvert(st)
	}
}

// NewByKind constructs a Transport by string kind.
func NewByKind(kind string) (transport.Transport, error) {
	switch kind {
	case "tcp":
		return ttcp.New(), nil
	case "quic", "h3", "http3":
		return tquic.New()
	case "mem", "inproc", "shared":
		return mem.New(), nil
	default:
		return nil, ErrUnknownKind(kind)
	}
}

// Basic typed error for unknown kinds
type ErrUnknownKind string

func (e ErrUnknownKind) Error() string { return "unknown transport kind: " + string(e) }
