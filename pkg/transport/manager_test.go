package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Kaholaz/wander/pkg/packet"
)

type fakeSession struct {
	peer    PeerInfo
	kind    Kind
	quality Quality
	closed  bool
}

func (f *fakeSession) Peer() PeerInfo                                  { return f.peer }
func (f *fakeSession) SetPeer(pi PeerInfo)                             { f.peer = pi }
func (f *fakeSession) TransportKind() Kind                             { return f.kind }
func (f *fakeSession) LocalAddr() net.Addr                             { return nil }
func (f *fakeSession) RemoteAddr() net.Addr                            { return nil }
func (f *fakeSession) OpenStream(context.Context) (Stream, error)      { return nil, nil }
func (f *fakeSession) AcceptStream(context.Context) (Stream, error)    { return nil, nil }
func (f *fakeSession) Quality() Quality                                { return f.quality }
func (f *fakeSession) Close() error                                    { f.closed = true; return nil }

func known(id packet.NodeID, kind Kind) *fakeSession {
	return &fakeSession{peer: PeerInfo{ID: id, Known: true}, kind: kind}
}

func TestManagerRejectsUnknownPeer(t *testing.T) {
	m := NewManager()
	s := &fakeSession{peer: PeerInfo{ID: 2}, kind: KindTCP}
	assert.False(t, m.AddSession(s))
	assert.True(t, s.closed)
	assert.Nil(t, m.GetSession(2))
}

func TestManagerCanonicalElection(t *testing.T) {
	m := NewManager()
	tcp := known(2, KindTCP)
	assert.True(t, m.AddSession(tcp))
	assert.Equal(t, Session(tcp), m.GetSession(2))

	// A QUIC session outranks the TCP one.
	q := known(2, KindQUIC)
	assert.True(t, m.AddSession(q))
	assert.True(t, tcp.closed, "loser is closed")
	assert.Equal(t, Session(q), m.GetSession(2))

	// A worse newcomer loses and is closed.
	tcp2 := known(2, KindTCP)
	assert.False(t, m.AddSession(tcp2))
	assert.True(t, tcp2.closed)
	assert.Equal(t, Session(q), m.GetSession(2))
}

func TestManagerSameKindPrefersNewer(t *testing.T) {
	m := NewManager()
	old := known(3, KindTCP)
	old.quality.EstablishedAt = time.Now().Add(-time.Minute)
	fresh := known(3, KindTCP)
	fresh.quality.EstablishedAt = time.Now()

	assert.True(t, m.AddSession(old))
	assert.True(t, m.AddSession(fresh))
	assert.Equal(t, Session(fresh), m.GetSession(3))
}

func TestManagerDropIf(t *testing.T) {
	m := NewManager()
	a := known(4, KindTCP)
	assert.True(t, m.AddSession(a))

	b := known(4, KindQUIC)
	assert.True(t, m.AddSession(b))

	// A stale reader noticing a's death must not evict b.
	m.DropIf(4, a)
	assert.Equal(t, Session(b), m.GetSession(4))

	m.DropIf(4, b)
	assert.Nil(t, m.GetSession(4))
}

func TestManagerListPeersSorted(t *testing.T) {
	m := NewManager()
	for _, id := range []packet.NodeID{9, 2, 5} {
		assert.True(t, m.AddSession(known(id, KindTCP)))
	}
	assert.Equal(t, []packet.NodeID{2, 5, 9}, m.ListPeers())

	m.CloseAll()
	assert.Empty(t, m.ListPeers())
}
