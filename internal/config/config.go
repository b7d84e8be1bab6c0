package config

import (
	"fmt"
	"time"

	"github.com/ancazamfir/malachite/internal/validate"
)

// CurrentConfigVersion is the latest configuration schema version.
// Bump this when adding fields that require migration.
const CurrentConfigVersion = 1

// BootstrapProtocol selects how the discovery engine finds its first peers.
type BootstrapProtocol string

const (
	BootstrapProtocolFull     BootstrapProtocol = "full"
	BootstrapProtocolKademlia BootstrapProtocol = "kademlia"
)

// Validate checks that the bootstrap protocol is one of the known values.
func (p BootstrapProtocol) Validate() error {
	switch p {
	case BootstrapProtocolFull, BootstrapProtocolKademlia:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidBootstrapProtocol, p)
	}
}

// SelectorKind selects the strategy used to pick an extension target from
// the candidate set of discovered-but-unconnected peers.
type SelectorKind string

const (
	SelectorRoundRobin SelectorKind = "round_robin"
	SelectorRandom     SelectorKind = "random"
)

// Validate checks that the selector kind is one of the known values.
func (s SelectorKind) Validate() error {
	switch s {
	case SelectorRoundRobin, SelectorRandom:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSelector, s)
	}
}

// RelayMode controls whether this node uses relays, serves as one, or both.
type RelayMode string

const (
	RelayModeClient RelayMode = "client"
	RelayModeServer RelayMode = "server"
	RelayModeBoth   RelayMode = "both"
)

// Validate checks that the relay mode is one of the known values.
func (m RelayMode) Validate() error {
	switch m {
	case RelayModeClient, RelayModeServer, RelayModeBoth:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRelayMode, m)
	}
}

// IdentityConfig holds identity-related configuration.
type IdentityConfig struct {
	KeyFile string `yaml:"key_file"`
}

// NetworkConfig holds network transport configuration.
type NetworkConfig struct {
	ListenAddresses          []string `yaml:"listen_addresses"`
	ForcePrivateReachability bool     `yaml:"force_private_reachability,omitempty"`
	ResourceLimitsEnabled    bool     `yaml:"resource_limits_enabled,omitempty"`
}

// DiscoveryConfig configures the Discovery & Reachability Engine.
type DiscoveryConfig struct {
	Enabled             bool              `yaml:"enabled"`
	BootstrapProtocol   BootstrapProtocol `yaml:"bootstrap_protocol"`
	Selector            SelectorKind      `yaml:"selector"`
	Network             string            `yaml:"network,omitempty"` // DHT namespace for private networks (empty = global)
	BootstrapPeers      []string          `yaml:"bootstrap_peers"`
	RelayServers        []string          `yaml:"relay_servers,omitempty"`
	NumOutboundPeers    int               `yaml:"num_outbound_peers"`
	NumInboundPeers     int               `yaml:"num_inbound_peers"`
	MaxConnectionsPerPeer int             `yaml:"max_connections_per_peer"`
	EphemeralConnectionTimeout time.Duration `yaml:"ephemeral_connection_timeout"`
	RequestMaxRetries   int               `yaml:"request_max_retries"`
}

// Validate checks the internal consistency of a DiscoveryConfig.
func (d *DiscoveryConfig) Validate() error {
	if !d.Enabled {
		return nil
	}
	if err := d.BootstrapProtocol.Validate(); err != nil {
		return err
	}
	if err := d.Selector.Validate(); err != nil {
		return err
	}
	if d.Network != "" {
		if err := validate.NetworkName(d.Network); err != nil {
			return fmt.Errorf("discovery.network: %w", err)
		}
	}
	if d.NumOutboundPeers <= 0 {
		return fmt.Errorf("discovery.num_outbound_peers must be positive")
	}
	if d.NumInboundPeers < 0 {
		return fmt.Errorf("discovery.num_inbound_peers must not be negative")
	}
	if d.MaxConnectionsPerPeer <= 0 {
		return fmt.Errorf("discovery.max_connections_per_peer must be positive")
	}
	if d.RequestMaxRetries < 0 {
		return fmt.Errorf("discovery.request_max_retries must not be negative")
	}
	return nil
}

// RelayConfig holds relay-related configuration: whether this node dials
// through relays, serves as one, or both.
type RelayConfig struct {
	Enabled             bool          `yaml:"enabled"`
	Mode                RelayMode     `yaml:"mode"`
	Addresses           []string      `yaml:"addresses,omitempty"`
	ReservationInterval time.Duration `yaml:"reservation_interval,omitempty"`
}

// Validate checks the internal consistency of a RelayConfig.
func (r *RelayConfig) Validate() error {
	if !r.Enabled {
		return nil
	}
	return r.Mode.Validate()
}

// IsServer returns whether this node should run the circuit-v2 relay service.
func (r *RelayConfig) IsServer() bool {
	return r.Enabled && (r.Mode == RelayModeServer || r.Mode == RelayModeBoth)
}

// IsClient returns whether this node should dial out through configured relays.
func (r *RelayConfig) IsClient() bool {
	return r.Enabled && (r.Mode == RelayModeClient || r.Mode == RelayModeBoth)
}

// SyncConfig configures the Sync Request Planner.
type SyncConfig struct {
	MaxBatchSize uint64 `yaml:"max_batch_size"`
}

// Validate checks the internal consistency of a SyncConfig.
func (s *SyncConfig) Validate() error {
	if s.MaxBatchSize == 0 {
		return fmt.Errorf("sync.max_batch_size must be positive")
	}
	return nil
}

// MetricsConfig controls Prometheus metrics exposure.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address,omitempty"` // default: "127.0.0.1:9091"
}

// TelemetryConfig holds observability settings. Disabled by default (opt-in).
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
}

// NodeConfig is the unified configuration for a node's discovery/sync core.
type NodeConfig struct {
	Version   int             `yaml:"version,omitempty"`
	Identity  IdentityConfig  `yaml:"identity"`
	Network   NetworkConfig   `yaml:"network"`
	Relay     RelayConfig     `yaml:"relay,omitempty"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Sync      SyncConfig      `yaml:"sync"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
}

// DefaultNodeConfig returns a NodeConfig with the same defaults a fresh
// node would want before any bootstrap peers are known.
func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		Version: CurrentConfigVersion,
		Network: NetworkConfig{
			ListenAddresses: []string{"/ip4/0.0.0.0/tcp/0"},
		},
		Discovery: DiscoveryConfig{
			Enabled:                    true,
			BootstrapProtocol:          BootstrapProtocolKademlia,
			Selector:                   SelectorRoundRobin,
			NumOutboundPeers:           20,
			NumInboundPeers:            20,
			MaxConnectionsPerPeer:      1,
			EphemeralConnectionTimeout: 30 * time.Second,
			RequestMaxRetries:          3,
		},
		Sync: SyncConfig{
			MaxBatchSize: 100,
		},
	}
}
