// Package config loads and validates the engine's JSON configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/baludesk/baludesk-core/internal/ignore"
	"github.com/baludesk/baludesk-core/internal/model"
	"github.com/baludesk/baludesk-core/internal/utils"
)

var (
	home, _             = os.UserHomeDir()
	DefaultConfigPath   = filepath.Join(home, ".baludesk", "config.json")
	DefaultDatabasePath = "baludesk.db"
	DefaultServerURL    = "http://localhost:8000"
)

const (
	minConcurrentTransfers = 1
	maxConcurrentTransfers = 32
)

// Config mirrors the engine's recognized configuration options.
type Config struct {
	ServerURL              string               `json:"server_url"`
	DatabasePath           string               `json:"database_path"`
	SyncIntervalSeconds    int                  `json:"sync_interval"`
	MaxConcurrentTransfers int                  `json:"max_concurrent_transfers"`
	ChunkSizeMB            int                  `json:"chunk_size_mb"`
	BandwidthLimitMbps     int                  `json:"bandwidth_limit_mbps"`
	ConflictResolution     model.ConflictPolicy `json:"conflict_resolution"`
	IgnorePatterns         []string             `json:"ignore_patterns"`

	// Path is where this config was loaded from / will be saved to; not
	// itself persisted as a field inside the file.
	Path string `json:"-"`
}

// Default returns a Config populated with documented defaults.
func Default() *Config {
	return &Config{
		ServerURL:              DefaultServerURL,
		DatabasePath:           DefaultDatabasePath,
		SyncIntervalSeconds:    60,
		MaxConcurrentTransfers: 4,
		ChunkSizeMB:            10,
		BandwidthLimitMbps:     0,
		ConflictResolution:     model.PolicyAskUser,
		Path:                   DefaultConfigPath,
	}
}

// Validate fills in defaults for zero-valued fields, clamps
// max_concurrent_transfers to [1, 32], and rejects malformed URLs or an
// unrecognized conflict_resolution value.
func (c *Config) Validate() error {
	if c.Path == "" {
		c.Path = DefaultConfigPath
	}
	if c.ServerURL == "" {
		c.ServerURL = DefaultServerURL
	}
	if c.DatabasePath == "" {
		c.DatabasePath = DefaultDatabasePath
	}
	if c.SyncIntervalSeconds <= 0 {
		c.SyncIntervalSeconds = 60
	}
	if c.ChunkSizeMB <= 0 {
		c.ChunkSizeMB = 10
	}
	if c.ConflictResolution == "" {
		c.ConflictResolution = model.PolicyAskUser
	}

	if c.MaxConcurrentTransfers == 0 {
		c.MaxConcurrentTransfers = 4
	}
	if c.MaxConcurrentTransfers < minConcurrentTransfers {
		c.MaxConcurrentTransfers = minConcurrentTransfers
	}
	if c.MaxConcurrentTransfers > maxConcurrentTransfers {
		c.MaxConcurrentTransfers = maxConcurrentTransfers
	}

	if err := utils.ValidateURL(c.ServerURL); err != nil {
		return fmt.Errorf("server url: %w", err)
	}
	if !c.ConflictResolution.Valid() {
		return fmt.Errorf("conflict_resolution: invalid policy %q", c.ConflictResolution)
	}
	for _, p := range c.IgnorePatterns {
		if err := ignore.ValidatePattern(p); err != nil {
			return fmt.Errorf("ignore_patterns: %w", err)
		}
	}

	return nil
}

func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("server_url", c.ServerURL),
		slog.String("database_path", c.DatabasePath),
		slog.Int("sync_interval", c.SyncIntervalSeconds),
		slog.Int("max_concurrent_transfers", c.MaxConcurrentTransfers),
		slog.Int("chunk_size_mb", c.ChunkSizeMB),
		slog.Int("bandwidth_limit_mbps", c.BandwidthLimitMbps),
		slog.String("conflict_resolution", string(c.ConflictResolution)),
		slog.String("path", c.Path),
	)
}

// Save writes c to its Path as JSON.
func (c *Config) Save() error {
	if err := utils.EnsureParent(c.Path); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.Path, data, 0o644)
}

// LoadFromFile reads and parses a config file at path.
func LoadFromFile(path string) (*Config, error) {
	path, err := utils.ResolvePath(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return LoadFromReader(path, f)
}

// LoadFromReader parses a config body read from r, tagging the result
// with path for subsequent Save calls.
func LoadFromReader(path string, r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.Path = path
	return cfg, nil
}
