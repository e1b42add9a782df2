package node

import "errors"

var (
	// ErrExternalConnect marks a failed dial to the external destination.
	ErrExternalConnect = errors.New("node: external connect failed")
	// ErrSend marks a failed write toward an external peer or neighbor.
	ErrSend = errors.New("node: send failed")
	// ErrPathForward marks a route whose intended next hop could not be
	// reached; recovered locally by the bogo fallback.
	ErrPathForward = errors.New("node: path forward failed")
	// ErrNoNeighbor means the bogo fallback found nobody to try.
	ErrNoNeighbor = errors.New("node: no neighbor available")
	// ErrRetriesExhausted means the bogo fallback also failed and the
	// failure was (or could not be) propagated upstream.
	ErrRetriesExhausted = errors.New("node: all retries exhausted")
)
