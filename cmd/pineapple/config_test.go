package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/pineapple/internal/execution"
	"github.com/rendis/pineapple/internal/scheduler"
)

func noEnv(string) string { return "" }

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := loadConfigFrom(filepath.Join(t.TempDir(), "missing.json"), noEnv)

	assert.Equal(t, "modules", cfg.ModulesDir)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10, cfg.PoolSize)
	assert.Equal(t, execution.DefaultHistoryCapacity, cfg.HistoryCapacity)
	assert.Equal(t, 5, cfg.HistoryCapacity)
	assert.Equal(t, "pineapple.db", filepath.Base(cfg.DBPath))
	assert.Equal(t, scheduler.DefaultInterval, cfg.schedulerInterval())
	assert.Equal(t, time.Duration(0), cfg.shellTimeout())
}

func TestLoadConfig_SettingsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"modules_dir": "/srv/modules",
		"pool_size": 4,
		"scheduler_interval": "15s",
		"shell_timeout": "2m",
		"log_json": true
	}`), 0o644))

	cfg := loadConfigFrom(path, noEnv)
	assert.Equal(t, "/srv/modules", cfg.ModulesDir)
	assert.Equal(t, 4, cfg.PoolSize)
	assert.True(t, cfg.LogJSON)
	assert.Equal(t, 15*time.Second, cfg.schedulerInterval())
	assert.Equal(t, 2*time.Minute, cfg.shellTimeout())
	// Untouched fields keep their defaults.
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"modules_dir": "/srv/modules", "pool_size": 4}`), 0o644))

	env := map[string]string{
		"PINEAPPLE_MODULES_DIR":       "/opt/modules",
		"PINEAPPLE_POOL_SIZE":         "2",
		"PINEAPPLE_HISTORY_CAPACITY":  "not-a-number",
		"PINEAPPLE_LOG_LEVEL":         "debug",
		"PINEAPPLE_SHELL_DISABLED":    "1",
		"PINEAPPLE_KEEP_EXECUTIONS":   "100",
		"PINEAPPLE_DB_PATH":           "/tmp/p.db",
		"PINEAPPLE_SHELL_DENIED_DIRS": "/etc" + string(filepath.ListSeparator) + "/root",
	}
	cfg := loadConfigFrom(path, func(k string) string { return env[k] })

	assert.Equal(t, "/opt/modules", cfg.ModulesDir)
	assert.Equal(t, 2, cfg.PoolSize)
	assert.Equal(t, execution.DefaultHistoryCapacity, cfg.HistoryCapacity)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.ShellDisabled)
	assert.Equal(t, 100, cfg.KeepExecutions)
	assert.Equal(t, "/tmp/p.db", cfg.DBPath)
	assert.Equal(t, []string{"/etc", "/root"}, cfg.ShellDeniedDirs)
}

func TestLoadConfig_InvalidFileIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))

	cfg := loadConfigFrom(path, noEnv)
	assert.Equal(t, defaultConfig(), cfg)
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, time.Minute, parseDuration("", time.Minute))
	assert.Equal(t, time.Minute, parseDuration("bogus", time.Minute))
	assert.Equal(t, time.Minute, parseDuration("-5s", time.Minute))
	assert.Equal(t, 5*time.Second, parseDuration("5s", time.Minute))
}
