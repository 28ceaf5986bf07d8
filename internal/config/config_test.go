package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worldsim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.NoError(t, cfg.GenConfig().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
port: 9090
year_interval: 250ms
world:
  seed: 7
  nations: 3
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.YearInterval)
	assert.Equal(t, int64(7), cfg.GenConfig().Seed)
	assert.Equal(t, 3, cfg.GenConfig().Nations)
	// Untouched keys keep their defaults.
	assert.Equal(t, Default().World.ProvincesPerNation, cfg.World.ProvincesPerNation)
	assert.Equal(t, Default().DBPath, cfg.DBPath)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WORLDSIM_DB", "/tmp/other.db")
	t.Setenv("WORLDSIM_PORT", "7000")
	t.Setenv("WORLDSIM_SEED", "123")
	t.Setenv("WORLDSIM_ADMIN_KEY", "secret")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")

	cfg, err := Load(writeConfig(t, "port: 9090\n"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/other.db", cfg.DBPath)
	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, int64(123), cfg.World.Seed)
	assert.Equal(t, "secret", cfg.AdminKey)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "port: [not, a, number]\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "world:\n  nations: 0\n"))
	assert.Error(t, err)

	// A zero limit would lock out every admin request; a zero window disables it.
	_, err = Load(writeConfig(t, "rate_limit:\n  requests: 0\n"))
	assert.Error(t, err)
	_, err = Load(writeConfig(t, "rate_limit:\n  window: 0s\n"))
	assert.Error(t, err)
	_, err = Load(writeConfig(t, "rate_limit:\n  requests: -3\n  window: 1m\n"))
	assert.Error(t, err)

	t.Setenv("WORLDSIM_PORT", "eighty")
	_, err = Load("")
	assert.Error(t, err)
}
