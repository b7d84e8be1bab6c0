package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// checkConfigFilePermissions rejects a config file whose mode grants any
// permission to group or others (mode&0077 != 0), returning an error that
// names the chmod fix. Config files list bootstrap peers and local key paths.
func checkConfigFilePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return nil // file access errors are handled by the caller
	}
	mode := info.Mode().Perm()
	if mode&0077 != 0 {
		return fmt.Errorf("config file %s has overly permissive mode %04o; expected 0600 — fix with: chmod 600 %s", path, mode, path)
	}
	return nil
}

// rawNodeConfig mirrors NodeConfig but with duration fields as strings, so
// that YAML accepts "30s"-style values instead of raw nanosecond integers.
type rawNodeConfig struct {
	Version  int            `yaml:"version,omitempty"`
	Identity IdentityConfig `yaml:"identity"`
	Network  NetworkConfig  `yaml:"network"`
	Relay    struct {
		Enabled             bool      `yaml:"enabled"`
		Mode                RelayMode `yaml:"mode"`
		Addresses           []string  `yaml:"addresses,omitempty"`
		ReservationInterval string    `yaml:"reservation_interval,omitempty"`
	} `yaml:"relay,omitempty"`
	Discovery struct {
		Enabled                    bool              `yaml:"enabled"`
		BootstrapProtocol          BootstrapProtocol `yaml:"bootstrap_protocol"`
		Selector                   SelectorKind      `yaml:"selector"`
		Network                    string            `yaml:"network,omitempty"`
		BootstrapPeers             []string          `yaml:"bootstrap_peers"`
		RelayServers               []string          `yaml:"relay_servers,omitempty"`
		NumOutboundPeers           int               `yaml:"num_outbound_peers"`
		NumInboundPeers            int               `yaml:"num_inbound_peers"`
		MaxConnectionsPerPeer      int               `yaml:"max_connections_per_peer"`
		EphemeralConnectionTimeout string            `yaml:"ephemeral_connection_timeout,omitempty"`
		RequestMaxRetries          int               `yaml:"request_max_retries"`
	} `yaml:"discovery"`
	Sync      SyncConfig      `yaml:"sync"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
}

// LoadNodeConfig loads node configuration from a YAML file.
func LoadNodeConfig(path string) (*NodeConfig, error) {
	if err := checkConfigFilePermissions(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var raw rawNodeConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	version := raw.Version
	if version == 0 {
		version = 1
	}
	if version > CurrentConfigVersion {
		return nil, fmt.Errorf("%w: version %d is newer than supported version %d; please upgrade malachite-node", ErrConfigVersionTooNew, version, CurrentConfigVersion)
	}

	var reservationInterval time.Duration
	if raw.Relay.ReservationInterval != "" {
		reservationInterval, err = time.ParseDuration(raw.Relay.ReservationInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid relay.reservation_interval: %w", err)
		}
	}

	ephemeralTimeout := 30 * time.Second
	if raw.Discovery.EphemeralConnectionTimeout != "" {
		ephemeralTimeout, err = time.ParseDuration(raw.Discovery.EphemeralConnectionTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid discovery.ephemeral_connection_timeout: %w", err)
		}
	}

	cfg := &NodeConfig{
		Version:  version,
		Identity: raw.Identity,
		Network:  raw.Network,
		Relay: RelayConfig{
			Enabled:             raw.Relay.Enabled,
			Mode:                raw.Relay.Mode,
			Addresses:           raw.Relay.Addresses,
			ReservationInterval: reservationInterval,
		},
		Discovery: DiscoveryConfig{
			Enabled:                    raw.Discovery.Enabled,
			BootstrapProtocol:          raw.Discovery.BootstrapProtocol,
			Selector:                   raw.Discovery.Selector,
			Network:                    raw.Discovery.Network,
			BootstrapPeers:             raw.Discovery.BootstrapPeers,
			RelayServers:               raw.Discovery.RelayServers,
			NumOutboundPeers:           raw.Discovery.NumOutboundPeers,
			NumInboundPeers:            raw.Discovery.NumInboundPeers,
			MaxConnectionsPerPeer:      raw.Discovery.MaxConnectionsPerPeer,
			EphemeralConnectionTimeout: ephemeralTimeout,
			RequestMaxRetries:          raw.Discovery.RequestMaxRetries,
		},
		Sync:      raw.Sync,
		Telemetry: raw.Telemetry,
	}
	if cfg.Telemetry.Metrics.ListenAddress == "" {
		cfg.Telemetry.Metrics.ListenAddress = "127.0.0.1:9091"
	}

	return cfg, nil
}

// ValidateNodeConfig validates a loaded node configuration.
func ValidateNodeConfig(cfg *NodeConfig) error {
	if cfg.Identity.KeyFile == "" {
		return fmt.Errorf("identity.key_file is required")
	}
	if len(cfg.Network.ListenAddresses) == 0 {
		return fmt.Errorf("network.listen_addresses must contain at least one address")
	}
	if err := cfg.Discovery.Validate(); err != nil {
		return err
	}
	if err := cfg.Relay.Validate(); err != nil {
		return err
	}
	if err := cfg.Sync.Validate(); err != nil {
		return err
	}
	return nil
}

// FindConfigFile searches for a malachite-node config file in standard
// locations. Search order: explicitPath (if given), ./malachite-node.yaml,
// ~/.config/malachite-node/config.yaml, /etc/malachite-node/config.yaml.
func FindConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("%w: %s", ErrConfigNotFound, explicitPath)
		}
		return explicitPath, nil
	}

	searchPaths := []string{"malachite-node.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, ".config", "malachite-node", "config.yaml"))
	}

	searchPaths = append(searchPaths, filepath.Join("/etc", "malachite-node", "config.yaml"))

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("%w; searched:\n  %s\n\nuse --config <path>", ErrConfigNotFound, strings.Join(searchPaths, "\n  "))
}

// ResolveConfigPaths resolves relative file paths in the config to be
// relative to the config file's directory.
func ResolveConfigPaths(cfg *NodeConfig, configDir string) {
	if cfg.Identity.KeyFile != "" && !filepath.IsAbs(cfg.Identity.KeyFile) {
		cfg.Identity.KeyFile = filepath.Join(configDir, cfg.Identity.KeyFile)
	}
}

// DefaultConfigDir returns the default malachite-node config directory
// (~/.config/malachite-node).
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "malachite-node"), nil
}
