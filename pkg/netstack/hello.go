package netstack

import (
	"github.com/pkg/errors"

	"github.com/Kaholaz/wander/pkg/packet"
	"github.com/Kaholaz/wander/pkg/transport"
)

// hello announces the sender's overlay identity as the first message on
// a fresh session stream. It is an unsigned claim; deployments that need
// authenticated peering put the overlay behind a trusted network.
type hello struct {
	ID   packet.NodeID `cbor:"1,keyasint" json:"id"`
	Name string        `cbor:"2,keyasint" json:"name,omitempty"`
}

func (s *Stack) sendHello(st transport.Stream) error {
	b, err := s.cbor.Marshal(hello{ID: s.n.ID(), Name: s.name})
	if err != nil {
		return errors.Wrap(err, "marshal hello")
	}
	return st.SendBytes(tagged(tagHello, b))
}

// recvHello reads one message and requires it to be a hello.
func (s *Stack) recvHello(st transport.Stream) (hello, error) {
	buf, err := st.RecvBytes()
	if err != nil {
		return hello{}, err
	}
	if len(buf) < 2 || buf[0] != tagHello {
		return hello{}, errors.New("expected hello as first message")
	}
	var h hello
	if err := s.cbor.Unmarshal(buf[1:], &h); err != nil {
		return hello{}, errors.Wrap(err, "decode hello")
	}
	if h.ID == 0 || h.ID == s.n.ID() {
		return hello{}, errors.Errorf("peer announced unusable id %d", h.ID)
	}
	return h, nil
}
