// Package config defines MeshSettings, the single externally-supplied JSON
// configuration struct every tunable in the core is drawn from (§6, §9's
// "prefer a single MeshSettings" design note), grounded on the teacher's
// JSON on-disk record style in directory/cache.go.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNoSeedPeers is returned by Validate when relay is enabled but neither
// seed peers nor listen addresses are configured.
var ErrNoSeedPeers = errors.New("config: no seed peers configured")

// ErrInvalidSettings wraps a specific settings coupling violation (§8
// property 14).
var ErrInvalidSettings = errors.New("config: invalid settings")

// MeshSettings is the node's complete externally-supplied configuration.
// Loading it from a file or environment is an external collaborator; this
// package only defines the struct, its defaults, and validation.
type MeshSettings struct {
	ListenAddrs    []string `json:"listen_addrs"`
	SeedPeers      []string `json:"seed_peers"`
	RendezvousTag  string   `json:"rendezvous_tag"`

	RelayEnabled     bool     `json:"relay_enabled"`
	MaxRelayBudget   int      `json:"max_relay_budget"`
	MaxStoredPerPeer int      `json:"max_stored_per_peer"`
	RelayTTLSeconds  int      `json:"relay_ttl_seconds"`
	RelayPeers       []string `json:"relay_peers"`

	InboxCap int `json:"inbox_cap"`

	MeshStoreMaxBytes int `json:"mesh_store_max_bytes"`
	MeshStoreTTLSeconds int `json:"mesh_store_ttl_seconds"`
	IBLTInitialM      int `json:"iblt_initial_m"`

	NeighborhoodTTLSeconds int `json:"neighborhood_ttl_seconds"`

	CommandBufferSize int `json:"command_buffer_size"`
	EventBufferSize   int `json:"event_buffer_size"`

	RetryInitialMillis int     `json:"retry_initial_millis"`
	RetryMultiplier    float64 `json:"retry_multiplier"`
	RetryMaxDelayMillis int    `json:"retry_max_delay_millis"`

	PriorityPorts []int `json:"priority_ports"`
	EnableIPv4    bool  `json:"enable_ipv4"`
	EnableIPv6    bool  `json:"enable_ipv6"`

	DataDir string `json:"data_dir"`
}

// Default returns the settings a node boots with absent an external config
// file, matching the defaults named throughout §4/§5.
func Default() MeshSettings {
	return MeshSettings{
		RendezvousTag:       "driftmesh",
		RelayEnabled:        true,
		MaxRelayBudget:      10 * 1024 * 1024,
		MaxStoredPerPeer:    1000,
		RelayTTLSeconds:     int((7 * 24 * time.Hour).Seconds()),
		InboxCap:            50000,
		MeshStoreMaxBytes:   64 * 1024 * 1024,
		MeshStoreTTLSeconds: int((7 * 24 * time.Hour).Seconds()),
		IBLTInitialM:        64,
		NeighborhoodTTLSeconds: int((30 * time.Minute).Seconds()),
		CommandBufferSize:   256,
		EventBufferSize:     256,
		RetryInitialMillis:  1000,
		RetryMultiplier:     2.0,
		RetryMaxDelayMillis: 60000,
		PriorityPorts:       []int{443, 80},
		EnableIPv4:          true,
	}
}

// LoadJSON decodes settings from JSON bytes, starting from Default and
// overwriting fields present in data.
func LoadJSON(data []byte) (MeshSettings, error) {
	s := Default()
	if err := json.Unmarshal(data, &s); err != nil {
		return MeshSettings{}, fmt.Errorf("config: decode: %w", err)
	}
	return s, nil
}

// Validate checks the settings coupling invariants named in §8 property 14
// and rejects configurations with no bootstrap path.
func (s MeshSettings) Validate() error {
	if s.RelayEnabled && s.MaxRelayBudget == 0 {
		return fmt.Errorf("%w: relay_enabled=true requires a nonzero max_relay_budget", ErrInvalidSettings)
	}
	if s.RelayEnabled && len(s.SeedPeers) == 0 && len(s.ListenAddrs) == 0 {
		return ErrNoSeedPeers
	}
	if s.InboxCap <= 0 {
		return fmt.Errorf("%w: inbox_cap must be positive", ErrInvalidSettings)
	}
	if s.MeshStoreMaxBytes <= 0 {
		return fmt.Errorf("%w: mesh_store_max_bytes must be positive", ErrInvalidSettings)
	}
	if s.RetryMultiplier <= 1.0 {
		return fmt.Errorf("%w: retry_multiplier must be greater than 1.0", ErrInvalidSettings)
	}
	return nil
}

// RetryInitial returns the configured initial retry delay as a Duration.
func (s MeshSettings) RetryInitial() time.Duration {
	return time.Duration(s.RetryInitialMillis) * time.Millisecond
}

// RetryMaxDelay returns the configured retry delay cap as a Duration.
func (s MeshSettings) RetryMaxDelay() time.Duration {
	return time.Duration(s.RetryMaxDelayMillis) * time.Millisecond
}

// RelayTTL returns the configured relay storage TTL as a Duration.
func (s MeshSettings) RelayTTL() time.Duration {
	return time.Duration(s.RelayTTLSeconds) * time.Second
}

// MeshStoreTTL returns the configured mesh store TTL as a Duration.
func (s MeshSettings) MeshStoreTTL() time.Duration {
	return time.Duration(s.MeshStoreTTLSeconds) * time.Second
}

// NeighborhoodTTL returns the configured neighborhood gossip table entry
// TTL as a Duration.
func (s MeshSettings) NeighborhoodTTL() time.Duration {
	return time.Duration(s.NeighborhoodTTLSeconds) * time.Second
}
