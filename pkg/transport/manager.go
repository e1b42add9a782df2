package transport

import (
	"sort"
	"sync"

	"github.com/Kaholaz/wander/pkg/packet"
)

// Manager keeps at most one canonical session per neighbor and applies
// a ranking policy when concurrent inbound/outbound links race. Sessions
// are registered only after the hello exchange fixed the neighbor's
// identity.
type Manager struct {
	mu    sync.RWMutex
	peers map[packet.NodeID]Session
}

func NewManager() *Manager { return &Manager{peers: make(map[packet.NodeID]Session)} }

// AddSession registers a session for its neighbor. If a canonical
// session already exists the better one wins and the loser is closed.
// Returns whether the given session became canonical.
func (m *Manager) AddSession(s Session) bool {
	pi := s.Peer()
	if !pi.Known {
		_ = s.Close()
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.peers[pi.ID]
	if !ok {
		m.peers[pi.ID] = s
		return true
	}
	if better(s, cur) {
		m.peers[pi.ID] = s
		_ = cur.Close()
		return true
	}
	_ = s.Close()
	return false
}

// GetSession returns the canonical session for a neighbor, or nil.
func (m *Manager) GetSession(id packet.NodeID) Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.peers[id]
}

// ClosePeer closes and forgets the session for a neighbor.
func (m *Manager) ClosePeer(id packet.NodeID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.peers[id]; ok {
		_ = s.Close()
		delete(m.peers, id)
	}
}

// DropIf forgets the session for id only when it still is the given
// one, so a stale reader does not evict a fresh replacement.
func (m *Manager) DropIf(id packet.NodeID, s Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.peers[id]; ok && cur == s {
		delete(m.peers, id)
	}
}

// ListPeers returns all connected neighbor ids in ascending order.
func (m *Manager) ListPeers() []packet.NodeID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]packet.NodeID, 0, len(m.peers))
	for id := range m.peers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CloseAll tears down every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.peers {
		_ = s.Close()
		delete(m.peers, id)
	}
}

// Preference order across kinds; higher is better.
func baseRank(k Kind) int {
	switch k {
	case KindMem:
		return 100
	case KindQUIC:
		return 90
	case KindTCP:
		return 80
	default:
		return 0
	}
}

// better decides whether a should replace b as canonical.
func better(a, b Session) bool {
	ra, rb := baseRank(a.TransportKind()), baseRank(b.TransportKind())
	if ra != rb {
		return ra > rb
	}
	qa, qb := a.Quality(), b.Quality()
	if qa.RTT != qb.RTT {
		return qa.RTT < qb.RTT
	}
	// Newer establishment wins, reducing split-brain on reconnect races.
	return qa.EstablishedAt.After(qb.EstablishedAt)
}
