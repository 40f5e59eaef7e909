package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rendis/pineapple/internal/execution"
	"github.com/rendis/pineapple/internal/scheduler"
)

// Config holds all pineapple configuration.
// Priority: flags > env vars > settings.json > defaults.
type Config struct {
	ModulesDir        string   `json:"modules_dir"`
	DBPath            string   `json:"db_path"`
	LogLevel          string   `json:"log_level"`
	LogJSON           bool     `json:"log_json"`
	PoolSize          int      `json:"pool_size"`
	HistoryCapacity   int      `json:"history_capacity"`
	SchedulerInterval string   `json:"scheduler_interval"`
	ShellTimeout      string   `json:"shell_timeout"`
	ShellDisabled     bool     `json:"shell_disabled"`
	ShellAllowedDirs  []string `json:"shell_allowed_dirs"`
	ShellDeniedDirs   []string `json:"shell_denied_dirs"`
	// KeepExecutions prunes the archive down to this many executions at
	// startup. 0 keeps everything.
	KeepExecutions int `json:"keep_executions"`
}

func defaultConfig() Config {
	return Config{
		ModulesDir:        "modules",
		DBPath:            filepath.Join(pineappleDir(), "pineapple.db"),
		LogLevel:          "info",
		PoolSize:          10,
		HistoryCapacity:   execution.DefaultHistoryCapacity,
		SchedulerInterval: scheduler.DefaultInterval.String(),
	}
}

func pineappleDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pineapple"
	}
	return filepath.Join(home, ".pineapple")
}

func settingsPath() string {
	return filepath.Join(pineappleDir(), "settings.json")
}

func loadConfig() Config {
	return loadConfigFrom(settingsPath(), os.Getenv)
}

func loadConfigFrom(path string, getenv func(string) string) Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := getenv("PINEAPPLE_MODULES_DIR"); v != "" {
		cfg.ModulesDir = v
	}
	if v := getenv("PINEAPPLE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := getenv("PINEAPPLE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("PINEAPPLE_LOG_JSON"); v != "" {
		cfg.LogJSON = v == "true" || v == "1"
	}
	if v := getenv("PINEAPPLE_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := getenv("PINEAPPLE_HISTORY_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HistoryCapacity = n
		}
	}
	if v := getenv("PINEAPPLE_SCHEDULER_INTERVAL"); v != "" {
		cfg.SchedulerInterval = v
	}
	if v := getenv("PINEAPPLE_SHELL_TIMEOUT"); v != "" {
		cfg.ShellTimeout = v
	}
	if v := getenv("PINEAPPLE_SHELL_DISABLED"); v != "" {
		cfg.ShellDisabled = v == "true" || v == "1"
	}
	if v := getenv("PINEAPPLE_SHELL_ALLOWED_DIRS"); v != "" {
		cfg.ShellAllowedDirs = filepath.SplitList(v)
	}
	if v := getenv("PINEAPPLE_SHELL_DENIED_DIRS"); v != "" {
		cfg.ShellDeniedDirs = filepath.SplitList(v)
	}
	if v := getenv("PINEAPPLE_KEEP_EXECUTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.KeepExecutions = n
		}
	}
	return cfg
}

// schedulerInterval parses SchedulerInterval; an invalid or empty value
// falls back to the scheduler default.
func (c Config) schedulerInterval() time.Duration {
	return parseDuration(c.SchedulerInterval, scheduler.DefaultInterval)
}

// shellTimeout parses ShellTimeout; 0 leaves the plugin default.
func (c Config) shellTimeout() time.Duration {
	return parseDuration(c.ShellTimeout, 0)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
