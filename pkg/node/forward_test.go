package node

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Kaholaz/wander/pkg/packet"
	"github.com/Kaholaz/wander/pkg/routing"
)

// sendRecorder is a SendFunc that records deliveries and fails the
// targets listed in refuse.
type sendRecorder struct {
	sent   []sentCall
	refuse map[packet.NodeID]bool
}

type sentCall struct {
	next    packet.NodeID
	kind    packet.Kind
	prev    packet.NodeID
	dest    packet.NodeID
	step    int
	path    []packet.NodeID
	payload []byte
}

func (r *sendRecorder) fn() SendFunc {
	return func(_ context.Context, ip *packet.Internal, next packet.NodeID) error {
		if r.refuse[next] {
			return assert.AnError
		}
		call := sentCall{next: next, kind: ip.Kind, prev: ip.Prev, dest: ip.Dest}
		if ip.Payload != nil {
			call.payload = append([]byte(nil), ip.Payload.Payload...)
		}
		if ip.Route != nil {
			call.step = ip.Route.Step
			call.path = append([]packet.NodeID(nil), ip.Route.Path...)
		}
		r.sent = append(r.sent, call)
		return nil
	}
}

func newTestNode(t *testing.T, id packet.NodeID, rec *sendRecorder) *Node {
	t.Helper()
	tbl := routing.NewTable(id)
	return New(id, tbl, rec.fn(), WithLogger(zap.NewNop()))
}

func externalRequest() *packet.Packet {
	return &packet.Packet{DestIPv4: "93.184.216.34", DestPort: 80, Payload: []byte("GET /")}
}

func TestEmptyTableFallsBackToBogo(t *testing.T) {
	rec := &sendRecorder{}
	n := newTestNode(t, 1, rec)
	n.Table().AddNeighbor(2)

	err := n.HandleExternalPacket(context.Background(), externalRequest())
	require.NoError(t, err)

	require.Len(t, rec.sent, 1)
	got := rec.sent[0]
	assert.Equal(t, packet.NodeID(2), got.next)
	assert.Equal(t, packet.KindOutbound, got.kind)
	assert.Equal(t, packet.NodeID(1), got.prev)
	assert.Equal(t, []packet.NodeID{1}, got.path, "degenerate single-hop path")
}

func TestRouteForwardAdvancesCursor(t *testing.T) {
	rec := &sendRecorder{}
	n := newTestNode(t, 1, rec)
	require.True(t, n.Table().AddRoute(&routing.Route{ID: 1, Path: []packet.NodeID{1, 2, 5, 9}}))

	err := n.HandleExternalPacket(context.Background(), externalRequest())
	require.NoError(t, err)

	require.Len(t, rec.sent, 1)
	got := rec.sent[0]
	assert.Equal(t, packet.NodeID(2), got.next)
	assert.Equal(t, 1, got.step)
	assert.Equal(t, packet.NodeID(9), got.dest, "dest is the route exit")
	assert.Equal(t, packet.NodeID(1), got.prev)
}

func TestPathFailureRecoversViaBogo(t *testing.T) {
	rec := &sendRecorder{refuse: map[packet.NodeID]bool{2: true}}
	n := newTestNode(t, 1, rec)
	require.True(t, n.Table().AddRoute(&routing.Route{ID: 1, Path: []packet.NodeID{1, 2, 9}}))
	n.Table().AddNeighbor(3)

	err := n.HandleExternalPacket(context.Background(), externalRequest())
	require.NoError(t, err)

	require.Len(t, rec.sent, 1)
	assert.Equal(t, packet.NodeID(3), rec.sent[0].next, "bogo neighbor after path failure")
	assert.Equal(t, packet.KindOutbound, rec.sent[0].kind)
}

func TestRelayFailurePropagatesToPrev(t *testing.T) {
	rec := &sendRecorder{refuse: map[packet.NodeID]bool{9: true, 4: true}}
	n := newTestNode(t, 5, rec)
	n.Table().AddNeighbor(4) // only neighbor, refused: bogo will fail too

	ip := packet.WrapExternal(externalRequest())
	ip.Prev = 2
	ip.Dest = 9
	ip.Route = &packet.PacketRoute{Path: []packet.NodeID{1, 2, 5, 9}, Step: 2}

	err := n.HandleInternal(context.Background(), ip)
	require.NoError(t, err, "propagation itself succeeded")

	require.Len(t, rec.sent, 1)
	got := rec.sent[0]
	assert.Equal(t, packet.NodeID(2), got.next, "failure goes to the previous hop")
	assert.NotEqual(t, packet.NodeID(5), got.next, "never addressed to self")
	assert.Equal(t, packet.KindFailure, got.kind)
	assert.Equal(t, packet.NodeID(9), got.dest, "dest keeps naming the exit")
}

func TestOriginGivesUpWithoutUpstream(t *testing.T) {
	rec := &sendRecorder{refuse: map[packet.NodeID]bool{2: true}}
	n := newTestNode(t, 1, rec)
	n.Table().AddNeighbor(2)

	err := n.HandleExternalPacket(context.Background(), externalRequest())
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Empty(t, rec.sent, "no failure packet may be sent to self")
}

func TestNoNeighborNoRouteGivesUp(t *testing.T) {
	rec := &sendRecorder{}
	n := newTestNode(t, 1, rec)

	err := n.HandleExternalPacket(context.Background(), externalRequest())
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Empty(t, rec.sent)
}

func TestFailureNotificationTriggersRetry(t *testing.T) {
	rec := &sendRecorder{}
	n := newTestNode(t, 2, rec)
	n.Table().AddNeighbor(7)

	ip := packet.WrapExternal(externalRequest())
	ip.Kind = packet.KindFailure
	ip.Prev = 2
	ip.Dest = 2
	ip.Route = &packet.PacketRoute{Path: []packet.NodeID{1, 2, 5}, Step: 1}

	err := n.HandleInternal(context.Background(), ip)
	require.NoError(t, err)

	require.Len(t, rec.sent, 1)
	assert.Equal(t, packet.NodeID(7), rec.sent[0].next)
	assert.Equal(t, packet.KindOutbound, rec.sent[0].kind, "retried packet is outbound again")
}

func TestFailureRetryKeepsDestination(t *testing.T) {
	rec := &sendRecorder{}
	n := newTestNode(t, 2, rec)
	n.Table().AddNeighbor(7)

	ip := packet.WrapExternal(externalRequest())
	ip.Kind = packet.KindFailure
	ip.Prev = 5
	ip.Dest = 9
	ip.Route = &packet.PacketRoute{Path: []packet.NodeID{1, 2, 5, 9}, Step: 2}

	err := n.HandleInternal(context.Background(), ip)
	require.NoError(t, err)

	require.Len(t, rec.sent, 1)
	got := rec.sent[0]
	assert.Equal(t, packet.NodeID(7), got.next)
	assert.Equal(t, packet.KindOutbound, got.kind)
	assert.Equal(t, packet.NodeID(9), got.dest, "retried packet still terminates at the exit")
}

func TestNilPayloadPacketRejected(t *testing.T) {
	rec := &sendRecorder{}
	n := newTestNode(t, 9, rec)

	// Exit-bound packet with nothing inside; decode rejects this on the
	// wire, the engine must reject it for in-process callers too.
	ip := &packet.Internal{
		Kind:  packet.KindOutbound,
		TTL:   packet.DefaultTTL,
		Prev:  5,
		Dest:  9,
		Route: &packet.PacketRoute{Path: []packet.NodeID{1, 2, 5, 9}, Step: 3},
	}

	err := n.HandleInternal(context.Background(), ip)
	assert.ErrorIs(t, err, packet.ErrNoPayload)
	assert.Empty(t, rec.sent)

	ip.Kind = packet.KindReturning
	err = n.HandleInternal(context.Background(), ip)
	assert.ErrorIs(t, err, packet.ErrNoPayload)
	assert.Empty(t, rec.sent)
}

func TestReturningAdvancesReversedPath(t *testing.T) {
	rec := &sendRecorder{}
	n := newTestNode(t, 5, rec)

	ip := &packet.Internal{
		Kind:    packet.KindReturning,
		TTL:     packet.DefaultTTL,
		Prev:    9,
		Dest:    1,
		Route:   &packet.PacketRoute{Path: []packet.NodeID{9, 5, 2, 1}, Step: 1},
		Payload: &packet.Packet{DestIPv4: "93.184.216.34", DestPort: 80, Payload: []byte("OK")},
	}

	err := n.HandleInternal(context.Background(), ip)
	require.NoError(t, err)

	require.Len(t, rec.sent, 1)
	got := rec.sent[0]
	assert.Equal(t, packet.NodeID(2), got.next)
	assert.Equal(t, 2, got.step)
	assert.Equal(t, packet.KindReturning, got.kind)
	assert.Equal(t, packet.NodeID(5), got.prev)
}

func TestTTLExhaustionDropsPacket(t *testing.T) {
	rec := &sendRecorder{}
	n := newTestNode(t, 5, rec)
	n.Table().AddNeighbor(4)

	ip := packet.WrapExternal(externalRequest())
	ip.TTL = 0
	ip.Prev = 2
	ip.Dest = 9
	ip.Route = &packet.PacketRoute{Path: []packet.NodeID{1, 2, 5, 9}, Step: 2}

	err := n.HandleInternal(context.Background(), ip)
	assert.ErrorIs(t, err, packet.ErrTTLExhausted)
	assert.Empty(t, rec.sent, "expired packets are dropped, not retried")
}
