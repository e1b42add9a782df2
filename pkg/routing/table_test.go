package routing

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kaholaz/wander/pkg/codec"
	"github.com/Kaholaz/wander/pkg/packet"
)

func TestEmptyTable(t *testing.T) {
	tbl := NewTable(1)
	assert.True(t, tbl.Empty())
	_, ok := tbl.RandomRoute()
	assert.False(t, ok)
}

func TestAddRouteRejectsForeignOrigin(t *testing.T) {
	tbl := NewTable(1)
	assert.False(t, tbl.AddRoute(&Route{ID: 1, Path: []packet.NodeID{2, 3}}))
	assert.False(t, tbl.AddRoute(&Route{ID: 2}))
	assert.True(t, tbl.AddRoute(&Route{ID: 3, Path: []packet.NodeID{1, 2, 3}}))
	assert.False(t, tbl.Empty())
}

func TestRandomRouteSelection(t *testing.T) {
	tbl := NewTable(1)
	require.True(t, tbl.AddRoute(&Route{ID: 10, Path: []packet.NodeID{1, 2}}))
	require.True(t, tbl.AddRoute(&Route{ID: 20, Path: []packet.NodeID{1, 3}}))

	seen := map[uint32]bool{}
	for i := 0; i < 64; i++ {
		r, ok := tbl.RandomRoute()
		require.True(t, ok)
		seen[r.ID] = true
	}
	assert.True(t, seen[10] && seen[20], "both routes should be selectable")
}

func TestRoutesOrderedByID(t *testing.T) {
	tbl := NewTable(1)
	for _, id := range []uint32{30, 10, 20} {
		require.True(t, tbl.AddRoute(&Route{ID: id, Path: []packet.NodeID{1, 9}}))
	}
	rs := tbl.Routes()
	require.Len(t, rs, 3)
	assert.Equal(t, []uint32{10, 20, 30}, []uint32{rs[0].ID, rs[1].ID, rs[2].ID})
}

func TestRandomNeighborExcludes(t *testing.T) {
	tbl := NewTable(1)
	tbl.AddNeighbor(1) // self, ignored
	tbl.AddNeighbor(2)
	tbl.AddNeighbor(3)

	for i := 0; i < 32; i++ {
		id, ok := tbl.RandomNeighbor(3)
		require.True(t, ok)
		assert.Equal(t, packet.NodeID(2), id)
	}

	_, ok := tbl.RandomNeighbor(2, 3)
	assert.False(t, ok)
}

func TestNeighborsSorted(t *testing.T) {
	tbl := NewTable(5)
	tbl.AddNeighbor(9)
	tbl.AddNeighbor(2)
	tbl.AddNeighbor(7)
	assert.Equal(t, []packet.NodeID{2, 7, 9}, tbl.Neighbors())
}

func TestRouteSleepUsesClock(t *testing.T) {
	mock := clock.NewMock()
	r := &Route{Latency: 50 * time.Millisecond}

	done := make(chan struct{})
	go func() {
		r.Sleep(mock)
		close(done)
	}()

	// Let the sleeper park before moving time forward.
	time.Sleep(10 * time.Millisecond)
	mock.Add(50 * time.Millisecond)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("route sleep did not complete after clock advance")
	}
}

func TestRouteSleepClampsLatency(t *testing.T) {
	mock := clock.NewMock()
	r := &Route{Latency: time.Hour}

	done := make(chan struct{})
	go func() {
		r.Sleep(mock)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	mock.Add(MaxLatency)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("latency was not clamped to MaxLatency")
	}
}

func TestAdvertRoundtripAndApply(t *testing.T) {
	src := NewTable(2)
	src.AddNeighbor(3)
	require.True(t, src.AddRoute(&Route{ID: 7, Path: []packet.NodeID{2, 3, 9}, Latency: 40 * time.Millisecond}))

	c := codec.CBOR()
	b, err := EncodeAdvert(c, src.AdvertFor())
	require.NoError(t, err)
	adv, err := DecodeAdvert(c, b)
	require.NoError(t, err)
	assert.Equal(t, packet.NodeID(2), adv.From)

	dst := NewTable(1)
	dst.Apply(adv)
	assert.Contains(t, dst.Neighbors(), packet.NodeID(2))
	rs := dst.Routes()
	require.Len(t, rs, 1)
	assert.Equal(t, []packet.NodeID{1, 2, 3, 9}, rs[0].Path)
	assert.Equal(t, 40*time.Millisecond, rs[0].Latency)
}

func TestApplySkipsCyclicPaths(t *testing.T) {
	dst := NewTable(1)
	dst.Apply(&Advert{
		From:   2,
		Routes: []AdvertRoute{{ID: 1, Path: []packet.NodeID{2, 1, 5}}},
	})
	assert.True(t, dst.Empty(), "paths containing self must be dropped")
}
