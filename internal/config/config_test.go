package config

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baludesk/baludesk-core/internal/model"
)

func TestConfig_Validate_FillsDefaults(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultServerURL, cfg.ServerURL)
	assert.Equal(t, DefaultDatabasePath, cfg.DatabasePath)
	assert.Equal(t, 60, cfg.SyncIntervalSeconds)
	assert.Equal(t, 4, cfg.MaxConcurrentTransfers)
	assert.Equal(t, 10, cfg.ChunkSizeMB)
	assert.Equal(t, model.PolicyAskUser, cfg.ConflictResolution)
}

func TestConfig_Validate_ClampsConcurrency(t *testing.T) {
	tooLow := &Config{MaxConcurrentTransfers: -5}
	require.NoError(t, tooLow.Validate())
	assert.Equal(t, 1, tooLow.MaxConcurrentTransfers)

	tooHigh := &Config{MaxConcurrentTransfers: 1000}
	require.NoError(t, tooHigh.Validate())
	assert.Equal(t, 32, tooHigh.MaxConcurrentTransfers)
}

func TestConfig_Validate_RejectsBadInputs(t *testing.T) {
	t.Run("bad server url", func(t *testing.T) {
		cfg := &Config{ServerURL: "ftp://bad.example.com"}
		err := cfg.Validate()
		assert.Error(t, err)
		assert.True(t, strings.Contains(err.Error(), "server url"))
	})

	t.Run("bad conflict resolution", func(t *testing.T) {
		cfg := &Config{ConflictResolution: "not-a-policy"}
		err := cfg.Validate()
		assert.Error(t, err)
	})
}

func TestConfig_SaveAndLoad_Roundtrip(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "config.json")

	cfg := Default()
	cfg.Path = path
	cfg.ServerURL = "http://127.0.0.1:9000"
	cfg.MaxConcurrentTransfers = 8
	cfg.ConflictResolution = model.PolicyKeepNewest

	require.NoError(t, cfg.Validate())
	require.NoError(t, cfg.Save())

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, cfg.ServerURL, loaded.ServerURL)
	assert.Equal(t, cfg.MaxConcurrentTransfers, loaded.MaxConcurrentTransfers)
	assert.Equal(t, cfg.ConflictResolution, loaded.ConflictResolution)
	assert.Equal(t, path, loaded.Path)
}
