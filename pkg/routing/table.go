// Package routing holds a node's view of the overlay: established
// multi-hop routes and directly connected neighbors. Route selection is
// random by policy; path quality only enters through the modeled
// per-route latency.
package routing

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"

	"github.com/Kaholaz/wander/pkg/packet"
)

// MaxLatency clamps the modeled propagation delay of a route so a bad
// advert cannot stall forwarding indefinitely.
const MaxLatency = 2 * time.Second

// Route is an established circuit: the ordered node ids from this node
// to the exit, plus a modeled propagation delay applied before the first
// hop is attempted.
type Route struct {
	ID      uint32
	Path    []packet.NodeID
	Latency time.Duration
}

// PacketRoute materializes a packet-scoped copy of the route with the
// cursor at the origin.
func (r *Route) PacketRoute() *packet.PacketRoute {
	return packet.NewPacketRoute(r.Path)
}

// Sleep blocks for the route's modeled latency. This is a deliberate,
// bounded delay and not a cancellation point: it completes before the
// hop is attempted.
func (r *Route) Sleep(clk clock.Clock) {
	d := r.Latency
	if d <= 0 {
		return
	}
	if d > MaxLatency {
		d = MaxLatency
	}
	clk.Sleep(d)
}

// Table is the per-node routing table. Routes are kept in an ordered
// tree map keyed by route id so listing and advertising are
// deterministic; random selection indexes the ordered values.
type Table struct {
	mu        sync.RWMutex
	self      packet.NodeID
	routes    *treemap.Map // uint32 -> *Route
	neighbors map[packet.NodeID]struct{}
	rng       *rand.Rand
}

// NewTable creates an empty table for the given local node.
func NewTable(self packet.NodeID) *Table {
	return &Table{
		self:      self,
		routes:    treemap.NewWith(utils.UInt32Comparator),
		neighbors: make(map[packet.NodeID]struct{}),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Self returns the local node id the table belongs to.
func (t *Table) Self() packet.NodeID { return t.self }

// Empty reports whether the node is part of no established circuit and
// must fall back to single-hop random-neighbor forwarding.
func (t *Table) Empty() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.routes.Empty()
}

// AddRoute inserts or replaces a route. Routes not originating at the
// local node are rejected.
func (t *Table) AddRoute(r *Route) bool {
	if len(r.Path) == 0 || r.Path[0] != t.self {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes.Put(r.ID, r)
	return true
}

// RemoveRoute drops a route by id.
func (t *Table) RemoveRoute(id uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes.Remove(id)
}

// RandomRoute selects one route uniformly at random.
func (t *Table) RandomRoute() (*Route, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	vals := t.routes.Values()
	if len(vals) == 0 {
		return nil, false
	}
	return vals[t.rng.Intn(len(vals))].(*Route), true
}

// Routes returns all routes in id order.
func (t *Table) Routes() []*Route {
	t.mu.RLock()
	defer t.mu.RUnlock()
	vals := t.routes.Values()
	out := make([]*Route, len(vals))
	for i, v := range vals {
		out[i] = v.(*Route)
	}
	return out
}

// AddNeighbor records a directly connected node. Self is never a
// neighbor.
func (t *Table) AddNeighbor(id packet.NodeID) {
	if id == t.self {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.neighbors[id] = struct{}{}
}

// RemoveNeighbor forgets a direct connection.
func (t *Table) RemoveNeighbor(id packet.NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.neighbors, id)
}

// Neighbors returns the known direct neighbors in ascending id order.
func (t *Table) Neighbors() []packet.NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]packet.NodeID, 0, len(t.neighbors))
	for id := range t.neighbors {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RandomNeighbor picks one known neighbor uniformly at random, skipping
// the given ids. Used by the bogo-forward fallback.
func (t *Table) RandomNeighbor(exclude ...packet.NodeID) (packet.NodeID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	candidates := make([]packet.NodeID, 0, len(t.neighbors))
outer:
	for id := range t.neighbors {
		for _, ex := range exclude {
			if id == ex {
				continue outer
			}
		}
		candidates = append(candidates, id)
	}
	if len(candidates) == 0 {
		return 0, false
	}
	return candidates[t.rng.Intn(len(candidates))], true
}
