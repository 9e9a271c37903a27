package store

import "github.com/felixniemeyer/repeerv3-sub001/pkg/types"

// Config configures the durable store.
type Config struct {
	// DataDir holds the per-user sqlite file <DataDir>/<User>.db.
	DataDir string `json:"data_dir"`
	User    string `json:"user"`

	// MaxOpenConns bounds the sqlite connection pool (§5: concurrent
	// writers are serialized by the pool).
	MaxOpenConns int `json:"max_open_conns"`
}

// DefaultConfig returns the node's default storage configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir:      "./data",
		User:         "default",
		MaxOpenConns: 8,
	}
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return types.Newf(types.InvalidArgument, "store.Config.Validate", "data_dir cannot be empty")
	}
	if c.User == "" {
		return types.Newf(types.InvalidArgument, "store.Config.Validate", "user cannot be empty")
	}
	if c.MaxOpenConns <= 0 {
		return types.Newf(types.InvalidArgument, "store.Config.Validate", "max_open_conns must be positive")
	}
	return nil
}
