package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Addr)
	assert.Equal(t, "7204", cfg.Service)
	assert.Equal(t, ":9204", cfg.MetricsAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 1<<20, cfg.RegionSize)
	assert.True(t, cfg.Persistent)
	assert.Equal(t, 128, cfg.Queue.SendDepth)
	assert.Equal(t, 128, cfg.Queue.RecvDepth)
	assert.Equal(t, 256, cfg.Queue.CompletionDepth)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("RPMA_ADDR", "10.0.0.5")
	t.Setenv("RPMA_REGION_SIZE", "4096")
	t.Setenv("RPMA_QUEUE_COMPLETION_DEPTH", "64")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.5", cfg.Addr)
	assert.Equal(t, 4096, cfg.RegionSize)
	assert.Equal(t, 64, cfg.Queue.CompletionDepth)

	// Untouched keys keep their defaults.
	assert.Equal(t, "7204", cfg.Service)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rpma.yaml")

	content := []byte(`addr: 192.168.1.10
service: "7300"
log_level: debug
region_size: 8192
persistent: false
queue:
  send_depth: 32
  recv_depth: 32
  completion_depth: 64
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.10", cfg.Addr)
	assert.Equal(t, "7300", cfg.Service)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 8192, cfg.RegionSize)
	assert.False(t, cfg.Persistent)
	assert.Equal(t, 32, cfg.Queue.SendDepth)
	assert.Equal(t, 64, cfg.Queue.CompletionDepth)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadInvalidRegionSize(t *testing.T) {
	t.Setenv("RPMA_REGION_SIZE", "-1")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "region_size")
}
