package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg, err := NewConfig("")
	require.NoError(t, err)

	assert.Equal(t, "entitle-pg-backend", cfg.App.Name)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, -1, cfg.Refresh.OrphanGracePeriodDays)
	assert.Equal(t, float64(10), cfg.Refresh.RatePerSecond)
	assert.Equal(t, 5, cfg.Refresh.RateBurst)
	assert.False(t, cfg.Storage.Memory)
}

func TestNewConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
storage:
  memory: true
refresh:
  orphan-grace-period-days: 30
  rate-per-second: 2.5
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := NewConfig(path)
	require.NoError(t, err)

	assert.True(t, cfg.Storage.Memory)
	assert.Equal(t, 30, cfg.Refresh.OrphanGracePeriodDays)
	assert.Equal(t, 2.5, cfg.Refresh.RatePerSecond)
	// Untouched keys keep their defaults.
	assert.Equal(t, 5, cfg.Refresh.RateBurst)
}

func TestNewConfigEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  pg-uri: from-file\n"), 0o600))

	t.Setenv("PG_URI", "postgres://env-wins:5432/entitle")
	t.Setenv("ORPHAN_GRACE_PERIOD_DAYS", "7")

	cfg, err := NewConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://env-wins:5432/entitle", cfg.Storage.PGURI)
	assert.Equal(t, 7, cfg.Refresh.OrphanGracePeriodDays)
}

func TestNewConfigMissingFileIsIgnored(t *testing.T) {
	cfg, err := NewConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "entitle-pg-backend", cfg.App.Name)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := NewConfig("")
		require.NoError(t, err)
		cfg.Storage.Memory = true
		return cfg
	}

	require.NoError(t, base().Validate())

	noStore := base()
	noStore.Storage.Memory = false
	assert.Error(t, noStore.Validate())

	pgOnly := base()
	pgOnly.Storage.Memory = false
	pgOnly.Storage.PGURI = "postgres://localhost:5432/entitle"
	assert.NoError(t, pgOnly.Validate())

	badRate := base()
	badRate.Refresh.RatePerSecond = 0
	assert.Error(t, badRate.Validate())

	badBurst := base()
	badBurst.Refresh.RateBurst = 0
	assert.Error(t, badBurst.Validate())
}