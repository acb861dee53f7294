package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	// Point at an empty directory so no stray config.yaml interferes.
	cfg, err := LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "etcd", cfg.Store)
	assert.Equal(t, []string{"localhost:2379"}, cfg.Etcd.Endpoints)
	assert.Equal(t, 8600, cfg.API.Port)
	assert.Equal(t, 45*time.Second, cfg.Prober.Interval)
	assert.Equal(t, 3*time.Second, cfg.Prober.Timeout)
	assert.Equal(t, 8, cfg.Prober.Workers)
	assert.Equal(t, 3, cfg.Prober.PhantomCycles)
	assert.Equal(t, 135*time.Second, cfg.Prober.StalenessWindow)
	assert.False(t, cfg.DNS.Enabled)
	assert.Equal(t, "revflow.local.", cfg.DNS.Zone)
	assert.Equal(t, 4.0, cfg.Crisis.LoadThreshold)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfig(t, `
store: memory
api:
  port: 9000
prober:
  interval: 10s
  phantom_cycles: 5
dns:
  enabled: true
  zone: services.internal.
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, 9000, cfg.API.Port)
	assert.Equal(t, 10*time.Second, cfg.Prober.Interval)
	assert.Equal(t, 5, cfg.Prober.PhantomCycles)
	assert.True(t, cfg.DNS.Enabled)
	assert.Equal(t, "services.internal.", cfg.DNS.Zone)
}

func TestLoadConfigClampsPhantomCycles(t *testing.T) {
	path := writeConfig(t, `
prober:
  phantom_cycles: 0
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Prober.PhantomCycles)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("REVCORE_API_PORT", "7777")

	cfg, err := LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.API.Port)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
