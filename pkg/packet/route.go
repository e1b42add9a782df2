package packet

import "errors"

var ErrRouteExhausted = errors.New("packet: route has no further hops")

// PacketRoute is a packet-scoped concrete path: the ordered node ids the
// packet must traverse and a cursor to the hop it most recently advanced
// to. Exactly one PacketRoute belongs to one internal packet at a time;
// ownership moves with the packet and is taken exactly once via
// Internal.DetachRoute when a response route is derived from it.
type PacketRoute struct {
	Path []NodeID
	Step int
}

// NewPacketRoute copies path into a fresh route with the cursor at the
// path origin.
func NewPacketRoute(path []NodeID) *PacketRoute {
	return &PacketRoute{Path: append([]NodeID(nil), path...)}
}

// SingleHop returns the degenerate route containing only self, used when
// the routing table holds no established circuit.
func SingleHop(self NodeID) *PacketRoute {
	return &PacketRoute{Path: []NodeID{self}, Step: 0}
}

// Advance moves the cursor to the next hop and returns it. It fails when
// the cursor already sits on the final hop.
func (pr *PacketRoute) Advance() (NodeID, error) {
	if pr.Step+1 >= len(pr.Path) {
		return 0, ErrRouteExhausted
	}
	pr.Step++
	return pr.Path[pr.Step], nil
}

// AtEnd reports whether the cursor sits on the final hop of the path.
func (pr *PacketRoute) AtEnd() bool {
	return pr.Step >= len(pr.Path)-1
}

// Origin returns the first node of the path.
func (pr *PacketRoute) Origin() NodeID {
	return pr.Path[0]
}

// ReverseRoute returns a freshly allocated exact reversal of path. The
// input remains untouched and usable independently of the result.
func ReverseRoute(path []NodeID) []NodeID {
	out := make([]NodeID, len(path))
	for i, id := range path {
		out[len(path)-1-i] = id
	}
	return out
}
