// Package codec provides the serialization formats used by the overlay
// control plane (route adverts, hellos). The data plane uses the fixed
// binary packet framing and never goes through a codec.
package codec

// Codec marshals typed control messages. Implementations must be
// deterministic so adverts can be compared and deduplicated across nodes.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Registry maps content types to codecs.
type Registry struct{ byType map[string]Codec }

// NewRegistry constructs a registry preloaded with JSON, CBOR and
// Protobuf codecs.
func NewRegistry() *Registry {
	r := &Registry{byType: make(map[string]Codec)}
	r.Register(JSON())
	r.Register(CBOR())
	r.Register(Proto())
	return r
}

// Register adds or replaces a codec.
func (r *Registry) Register(c Codec) { r.byType[c.ContentType()] = c }

// Get returns a codec by content type, or nil.
func (r *Registry) Get(contentType string) Codec { return r.byType[contentType] }
