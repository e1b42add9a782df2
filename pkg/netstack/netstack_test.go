package netstack

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Kaholaz/wander/pkg/codec"
	"github.com/Kaholaz/wander/pkg/node"
	"github.com/Kaholaz/wander/pkg/packet"
	"github.com/Kaholaz/wander/pkg/routing"
	"github.com/Kaholaz/wander/pkg/transport"
	"github.com/Kaholaz/wander/pkg/transport/mem"
)

type peerHarness struct {
	stack *Stack
	node  *node.Node
	mgr   *transport.Manager
}

func newPeer(t *testing.T, ctx context.Context, id packet.NodeID) *peerHarness {
	t.Helper()
	mgr := transport.NewManager()
	s := New(mgr, codec.NewRegistry(), "test", Options{})
	n := node.New(id, routing.NewTable(id), s.Send, node.WithLogger(zap.NewNop()))
	stop, err := s.Start(ctx, n, nil, "")
	require.NoError(t, err)
	t.Cleanup(stop)
	t.Cleanup(mgr.CloseAll)
	return &peerHarness{stack: s, node: n, mgr: mgr}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

// connect wires a (dialing A, listening B) pair over the mem transport
// and waits for the hello exchange to settle on both sides.
func connect(t *testing.T, ctx context.Context, tr *mem.Transport, a, b *peerHarness, name string) {
	t.Helper()
	l, err := tr.Listen(ctx, name)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	go b.stack.acceptLoop(ctx, l)
	go a.stack.dialLoop(ctx, tr, name, b.node.ID())

	waitFor(t, func() bool {
		return a.mgr.GetSession(b.node.ID()) != nil && b.mgr.GetSession(a.node.ID()) != nil
	})
}

func TestHelloExchangeBindsNeighbors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr := mem.New()

	a := newPeer(t, ctx, 1)
	b := newPeer(t, ctx, 2)
	connect(t, ctx, tr, a, b, "node-b")

	waitFor(t, func() bool {
		return len(a.node.Table().Neighbors()) == 1 && len(b.node.Table().Neighbors()) == 1
	})
	assert.Equal(t, []packet.NodeID{2}, a.node.Table().Neighbors())
	assert.Equal(t, []packet.NodeID{1}, b.node.Table().Neighbors())
}

func TestDialIdentityMismatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr := mem.New()

	a := newPeer(t, ctx, 1)
	b := newPeer(t, ctx, 2)

	l, err := tr.Listen(ctx, "node-b")
	require.NoError(t, err)
	defer l.Close()
	go b.stack.acceptLoop(ctx, l)

	// Expect node 9 but reach node 2: the session must be rejected.
	sess, err := tr.Dial(ctx, "node-b", transport.PeerInfo{ID: 9, Addr: "node-b", Known: true})
	require.NoError(t, err)
	assert.False(t, a.stack.establish(ctx, sess, 9))
	assert.Nil(t, a.mgr.GetSession(9))
}

func TestSendWithoutSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newPeer(t, ctx, 1)
	ip := packet.WrapExternal(&packet.Packet{DestIPv4: "10.0.0.1", DestPort: 80, Payload: []byte("x")})
	err := a.stack.Send(ctx, ip, 2)
	assert.ErrorIs(t, err, ErrNoSession)
}

// TestEndToEndBridge drives a packet through two connected nodes: A
// relays along [1 2], B terminates the path against a real TCP server,
// and the response walks the reversed path back to A, which flattens it
// toward the packet's destination address.
func TestEndToEndBridge(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr := mem.New()

	a := newPeer(t, ctx, 1)
	b := newPeer(t, ctx, 2)
	connect(t, ctx, tr, a, b, "node-b")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	requests := make(chan []byte, 1)
	frames := make(chan []byte, 1)
	go func() {
		// First connection: serve the bridged request.
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		buf := make([]byte, 64)
		nr, _ := conn.Read(buf)
		requests <- buf[:nr]
		_, _ = conn.Write([]byte("pong"))
		_ = conn.Close()

		// Second connection: the origin flattens the returning packet here.
		conn, err = ln.Accept()
		if err != nil {
			return
		}
		raw, _ := io.ReadAll(conn)
		frames <- raw
		_ = conn.Close()
	}()

	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	require.True(t, a.node.Table().AddRoute(&routing.Route{ID: 7, Path: []packet.NodeID{1, 2}}))

	p := &packet.Packet{DestIPv4: "127.0.0.1", DestPort: port, Payload: []byte("ping")}
	require.NoError(t, a.node.HandleExternalPacket(ctx, p))

	select {
	case req := <-requests:
		assert.Equal(t, []byte("ping"), req)
	case <-time.After(3 * time.Second):
		t.Fatal("bridged request never reached the server")
	}

	var raw []byte
	select {
	case raw = <-frames:
	case <-time.After(3 * time.Second):
		t.Fatal("returning frame never came back")
	}

	var ip packet.Internal
	require.NoError(t, ip.DecodeFrame(raw))
	assert.Equal(t, packet.KindReturning, ip.Kind)
	assert.Equal(t, packet.NodeID(1), ip.Dest)
	require.NotNil(t, ip.Route)
	assert.Equal(t, []packet.NodeID{2, 1}, ip.Route.Path)
	require.NotNil(t, ip.Payload)
	assert.Equal(t, []byte("pong"), ip.Payload.Payload)
	assert.Equal(t, uint32(0), ip.Payload.SeqNr)
}
