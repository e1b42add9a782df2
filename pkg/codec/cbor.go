package codec

import (
	cbor "github.com/fxamacker/cbor/v2"
)

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// CBOR returns a canonical CBOR codec (RFC 8949). This is the default
// control-plane format: compact and deterministic.
func CBOR() Codec {
	// Canonical core options never fail to build.
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
	return cborCodec{enc: em, dec: dm}
}

func (c cborCodec) ContentType() string                { return "application/cbor" }
func (c cborCodec) Marshal(v any) ([]byte, error)      { return c.enc.Marshal(v) }
func (c cborCodec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }
