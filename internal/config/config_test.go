package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Log.Backend)
	assert.Equal(t, 20, cfg.Log.DefaultLimit)
	assert.Equal(t, 200, cfg.Log.MaxLimit)
	assert.Equal(t, 4096, cfg.Log.MaxContentBytes)
	assert.Equal(t, "0.0.0.0:8000", cfg.HTTPAddr())
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[app]
port = 9100

[log]
backend = "badger"
max_limit = 50
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("HISTORY_MAX_LIMIT", "75")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.App.Port)
	assert.Equal(t, "badger", cfg.Log.Backend)
	assert.Equal(t, 75, cfg.Log.MaxLimit)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))
	t.Setenv("LIVE_BACKEND", "carrier-pigeon")

	_, err := Load()
	require.Error(t, err)
}
