package config

// TransportConfig describes one transport kind and its endpoints.
// Example YAML:
// transports:
//   - kind: tcp
//     listen: [":7878"]
//     dial:
//       - address: "10.0.0.2:7878"
//         node_id: 2
//   - kind: quic
//     listen: [":4433"]
//   - kind: mem
//     listen: ["inproc-test"]
type TransportConfig struct {
	Kind   string           `mapstructure:"kind"`
	Listen []string         `mapstructure:"listen"`
	Dial   []PeerDialConfig `mapstructure:"dial"`
}

// PeerDialConfig describes a neighbor to dial on startup. The node id is
// the expected overlay id; the hello exchange must confirm it before the
// session carries traffic.
type PeerDialConfig struct {
	Address string `mapstructure:"address"`
	NodeID  uint16 `mapstructure:"node_id"`
}
