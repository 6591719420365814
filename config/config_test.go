package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wirehome/core"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "wirehome.yaml", `
dataDirectory: /var/lib/wirehome
api:
  address: ":9000"
messageBus:
  historySize: 500
  waitTimeout: 10s
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/wirehome", cfg.DataDirectory)
	assert.Equal(t, ":9000", cfg.API.Address)
	assert.Equal(t, 500, cfg.MessageBus.HistorySize)
	assert.Equal(t, wirehome.Duration(10*time.Second), cfg.MessageBus.WaitTimeout)
	// Defaults fill the rest.
	assert.Equal(t, wirehome.Duration(time.Second), cfg.Diagnostics.Interval)
	assert.Equal(t, 100, cfg.MessageBus.QueueCapacity)
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "wirehome.toml", `
dataDirectory = "/srv/wirehome"

[api]
address = ":7000"
shutdownTimeout = "30s"

[watcher]
enabled = true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/wirehome", cfg.DataDirectory)
	assert.Equal(t, ":7000", cfg.API.Address)
	assert.Equal(t, wirehome.Duration(30*time.Second), cfg.API.ShutdownTimeout)
	assert.True(t, cfg.Watcher.Enabled)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WIREHOME_DATA_DIRECTORY", "/tmp/wirehome-env")
	t.Setenv("WIREHOME_API_ADDRESS", ":6000")
	t.Setenv("WIREHOME_MESSAGE_BUS_HISTORY_SIZE", "42")
	t.Setenv("WIREHOME_MESSAGE_BUS_WAIT_TIMEOUT", "90s")
	t.Setenv("WIREHOME_WATCHER_ENABLED", "true")

	path := writeConfig(t, "wirehome.yaml", `dataDirectory: /ignored`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/wirehome-env", cfg.DataDirectory)
	assert.Equal(t, ":6000", cfg.API.Address)
	assert.Equal(t, 42, cfg.MessageBus.HistorySize)
	assert.Equal(t, wirehome.Duration(90*time.Second), cfg.MessageBus.WaitTimeout)
	assert.True(t, cfg.Watcher.Enabled)
}

func TestUnsupportedExtension(t *testing.T) {
	path := writeConfig(t, "wirehome.ini", "x = 1")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	assert.Equal(t, "data", cfg.DataDirectory)
	assert.Equal(t, ":8080", cfg.API.Address)
	assert.Equal(t, 2048, cfg.MessageBus.HistorySize)
}
