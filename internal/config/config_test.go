package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.Empty(t, cfg.Validate(), "built-in defaults must validate")
	assert.Equal(t, 8082, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Hub.HousekeepInterval)
	assert.Equal(t, time.Hour, cfg.Hub.StuckTimeout)
	assert.Equal(t, 60*time.Second, cfg.Observation.PollInterval)
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	mgr, err := NewConfigManager(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))
	require.NoError(t, mgr.Validate(ctx))

	cfg := mgr.Get(ctx)
	assert.Equal(t, 8082, cfg.Server.Port)
	assert.Equal(t, "data/missionctl.db", cfg.Database.SQLitePath)
	assert.Equal(t, "logs/audit.log", cfg.Audit.Path)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 9090
hub:
  stuck_timeout: 2h
observation:
  poll_interval: 30s
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	mgr, err := NewConfigManager(path)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))

	cfg := mgr.Get(ctx)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2*time.Hour, cfg.Hub.StuckTimeout)
	assert.Equal(t, 30*time.Second, cfg.Observation.PollInterval)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched sections keep their defaults.
	assert.Equal(t, "data/missionctl.db", cfg.Database.SQLitePath)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("MISSIONCTL_SERVER_PORT", "7070")
	t.Setenv("MISSIONCTL_LOGGING_LEVEL", "warn")

	mgr, err := NewConfigManager(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))

	cfg := mgr.Get(ctx)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = -1
	cfg.Hub.HousekeepInterval = 0
	cfg.Database.SQLitePath = ""
	cfg.Logging.Level = "verbose"

	errs := cfg.Validate()
	assert.GreaterOrEqual(t, len(errs), 4, "each problem should be reported")
}

func TestValidate_StuckTimeoutMustExceedInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Hub.HousekeepInterval = time.Hour
	cfg.Hub.StuckTimeout = time.Minute
	assert.NotEmpty(t, cfg.Validate())
}
