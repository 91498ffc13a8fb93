// Package config loads a PeerConfig for one side of a sync session:
// role, backend kind, connection parameters, and row-count policy, read
// from the environment through github.com/ilyakaznacheev/cleanenv's
// declarative struct tags.
package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// Role is which side of a session a process plays.
type Role string

const (
	RoleFrom Role = "from"
	RoleTo   Role = "to"
)

// Backend names one of the adapters in pkg/adapter's subpackages.
type Backend string

const (
	BackendMySQL    Backend = "mysql"
	BackendPostgres Backend = "postgres"
)

// PeerConfig is everything one side of a session needs to connect to its
// backend and speak the wire protocol.
type PeerConfig struct {
	Role    Role    `env:"PEER_ROLE"`
	Backend Backend `env:"PEER_BACKEND"`

	Host     string `env:"PEER_HOST" env-default:"localhost"`
	Port     string `env:"PEER_PORT"`
	Database string `env:"PEER_DATABASE"`
	User     string `env:"PEER_USER"`
	Password string `env:"PEER_PASSWORD"`

	// MaxRowCount caps the adaptive row-count target r; zero
	// means the engine's own default (syncengine.DefaultMaxRowCount).
	MaxRowCount int `env:"PEER_MAX_ROW_COUNT" env-default:"0"`

	// SnapshotID, meaningful only for the "to" role, joins a snapshot an
	// earlier worker's source side exported; empty runs without one.
	SnapshotID string `env:"PEER_SNAPSHOT_ID"`

	// DisableTriggers asks the "to" side to invoke the adapter's opt-in
	// trigger toggle before row sync (adapter.TriggerDisabler).
	DisableTriggers bool `env:"PEER_DISABLE_TRIGGERS" env-default:"false"`
}

func defaultPort(b Backend) string {
	switch b {
	case BackendMySQL:
		return "3306"
	case BackendPostgres:
		return "5432"
	default:
		return ""
	}
}

// Load reads a PeerConfig from the environment and fills in the
// backend's default port when PEER_PORT is unset.
func Load() (PeerConfig, error) {
	var cfg PeerConfig
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return PeerConfig{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return PeerConfig{}, err
	}
	if cfg.Port == "" {
		cfg.Port = defaultPort(cfg.Backend)
	}
	return cfg, nil
}

func (c PeerConfig) validate() error {
	switch c.Role {
	case RoleFrom, RoleTo:
	default:
		return fmt.Errorf("config: PEER_ROLE must be %q or %q, got %q", RoleFrom, RoleTo, c.Role)
	}
	switch c.Backend {
	case BackendMySQL, BackendPostgres:
	default:
		return fmt.Errorf("config: PEER_BACKEND must be %q or %q, got %q", BackendMySQL, BackendPostgres, c.Backend)
	}
	if c.Database == "" {
		return fmt.Errorf("config: PEER_DATABASE is required")
	}
	return nil
}
