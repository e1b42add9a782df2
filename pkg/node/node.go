// Package node implements the per-node forwarding core: the decision to
// terminate a packet locally (bridge to an external TCP peer) or relay
// it along a multi-hop path, the bogo-forward retry on path failure, and
// the reverse-path walk that returns external responses to the origin.
package node

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/Kaholaz/wander/pkg/packet"
	"github.com/Kaholaz/wander/pkg/routing"
)

// SendFunc delivers an internal packet to a direct neighbor. It blocks
// until the transport accepts the frame; a non-nil error is the failure
// signal the engine reacts to. The callee takes ownership of the packet.
type SendFunc func(ctx context.Context, pkt *packet.Internal, next packet.NodeID) error

// Node is one overlay participant: identity, routing table and the
// delivery capability toward its neighbors.
type Node struct {
	id       packet.NodeID
	table    *routing.Table
	send     SendFunc
	verifier packet.Verifier
	clk      clock.Clock
	log      *zap.Logger
}

// Option customizes a Node.
type Option func(*Node)

// WithClock injects the clock used for modeled route latency.
func WithClock(c clock.Clock) Option { return func(n *Node) { n.clk = c } }

// WithVerifier sets the integrity hook run on freshly received external
// packets.
func WithVerifier(v packet.Verifier) Option { return func(n *Node) { n.verifier = v } }

// WithLogger sets the node logger.
func WithLogger(l *zap.Logger) Option { return func(n *Node) { n.log = l } }

// New creates a node. The routing table must belong to the same id.
func New(id packet.NodeID, table *routing.Table, send SendFunc, opts ...Option) *Node {
	n := &Node{
		id:       id,
		table:    table,
		send:     send,
		verifier: packet.NoopVerifier{},
		clk:      clock.New(),
		log:      zap.L(),
	}
	for _, o := range opts {
		o(n)
	}
	n.log = n.log.With(zap.Uint16("node", uint16(id)))
	return n
}

// ID returns the node's overlay identifier.
func (n *Node) ID() packet.NodeID { return n.id }

// Table returns the node's routing table.
func (n *Node) Table() *routing.Table { return n.table }
