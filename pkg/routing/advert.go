package routing

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Kaholaz/wander/pkg/codec"
	"github.com/Kaholaz/wander/pkg/packet"
)

// perHopLatency seeds the modeled delay of a learned route when the
// advert carries none.
const perHopLatency = 20 * time.Millisecond

// Advert is the control message a node sends to its direct neighbors to
// announce the circuits and adjacencies it knows about. Receivers extend
// each advertised path with themselves to form their own routes.
type Advert struct {
	From      packet.NodeID   `json:"from" cbor:"1,keyasint"`
	Routes    []AdvertRoute   `json:"routes,omitempty" cbor:"2,keyasint,omitempty"`
	Neighbors []packet.NodeID `json:"neighbors,omitempty" cbor:"3,keyasint,omitempty"`
}

// AdvertRoute is one announced circuit, starting at the sender.
type AdvertRoute struct {
	ID        uint32          `json:"id" cbor:"1,keyasint"`
	Path      []packet.NodeID `json:"path" cbor:"2,keyasint"`
	LatencyMS uint32          `json:"latency_ms,omitempty" cbor:"3,keyasint,omitempty"`
}

// AdvertFor snapshots the table as an advert from the local node.
func (t *Table) AdvertFor() *Advert {
	adv := &Advert{From: t.self, Neighbors: t.Neighbors()}
	for _, r := range t.Routes() {
		adv.Routes = append(adv.Routes, AdvertRoute{
			ID:        r.ID,
			Path:      append([]packet.NodeID(nil), r.Path...),
			LatencyMS: uint32(r.Latency / time.Millisecond),
		})
	}
	return adv
}

// Apply merges a neighbor's advert into the table: the sender becomes a
// direct neighbor and every announced path is extended with the local
// node to form a route of our own. Paths that already contain the local
// node are dropped to keep circuits cycle-free.
func (t *Table) Apply(adv *Advert) {
	t.AddNeighbor(adv.From)
	for _, ar := range adv.Routes {
		if len(ar.Path) == 0 || ar.Path[0] != adv.From {
			continue
		}
		if contains(ar.Path, t.self) {
			continue
		}
		path := append([]packet.NodeID{t.self}, ar.Path...)
		lat := time.Duration(ar.LatencyMS) * time.Millisecond
		if lat == 0 {
			lat = time.Duration(len(path)) * perHopLatency
		}
		r := &Route{ID: ar.ID, Path: path, Latency: lat}
		if t.AddRoute(r) {
			zap.L().Debug("learned route",
				zap.Uint32("id", r.ID),
				zap.Int("hops", len(r.Path)),
				zap.Uint16("from", uint16(adv.From)))
		}
	}
}

// EncodeAdvert serializes an advert with the given codec.
func EncodeAdvert(c codec.Codec, adv *Advert) ([]byte, error) {
	b, err := c.Marshal(adv)
	if err != nil {
		return nil, fmt.Errorf("encode advert: %w", err)
	}
	return b, nil
}

// DecodeAdvert parses an advert with the given codec.
func DecodeAdvert(c codec.Codec, b []byte) (*Advert, error) {
	var adv Advert
	if err := c.Unmarshal(b, &adv); err != nil {
		return nil, fmt.Errorf("decode advert: %w", err)
	}
	return &adv, nil
}

func contains(path []packet.NodeID, id packet.NodeID) bool {
	for _, p := range path {
		if p == id {
			return true
		}
	}
	return false
}
