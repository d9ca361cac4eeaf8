package config

import (
	"context"
	"fmt"
	"time"
)

// Package config provides configuration management for mission-control.
//
// Responsibilities:
//   - Load configuration from a YAML file, environment variables, and defaults
//   - Validate configuration on startup
//   - Provide runtime access to all configuration
//   - Watch the config file for changes
//
// Configuration sources (priority order, high to low):
//  1. Environment variables (MISSIONCTL_* prefix)
//  2. YAML config file (default: /etc/missionctl/config.yaml)
//  3. Built-in defaults
//
// The live-execution trust threshold is deliberately NOT here: it is a fixed
// policy constant in the trust package and must never be configurable.
type Config struct {
	// Server configuration (read-only status/listing surface)
	Server struct {
		Port           int
		RateLimitPerMin int
	}

	// Hub configuration
	Hub struct {
		HousekeepInterval time.Duration
		StuckTimeout      time.Duration
	}

	// Observation monitor configuration
	Observation struct {
		PollInterval       time.Duration
		AnomalySensitivity float64
	}

	// Database configuration
	Database struct {
		SQLitePath string
	}

	// Built-in adapter configuration (git work tree, test commands,
	// prometheus, environment identity)
	Adapters struct {
		WorkDir         string
		TargetBranch    string
		TestCommands    map[string]string
		StressCommand   string
		PrometheusAddr  string
		EnvironmentName string
		RevisionFile    string
	}

	// Audit log configuration
	Audit struct {
		Path       string
		MaxSizeMB  int
		MaxBackups int
		MaxAgeDays int
		Compress   bool
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}
}

// Validate returns all configuration problems found.
func (c *Config) Validate() []error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be in (0, 65535], got %d", c.Server.Port))
	}
	if c.Hub.HousekeepInterval <= 0 {
		errs = append(errs, fmt.Errorf("hub.housekeep_interval must be positive"))
	}
	if c.Hub.StuckTimeout <= c.Hub.HousekeepInterval {
		errs = append(errs, fmt.Errorf("hub.stuck_timeout must exceed hub.housekeep_interval"))
	}
	if c.Observation.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("observation.poll_interval must be positive"))
	}
	if c.Observation.AnomalySensitivity <= 0 || c.Observation.AnomalySensitivity > 1 {
		errs = append(errs, fmt.Errorf("observation.anomaly_sensitivity must be in (0, 1]"))
	}
	if c.Database.SQLitePath == "" {
		errs = append(errs, fmt.Errorf("database.sqlite_path must be set"))
	}
	if c.Adapters.WorkDir == "" {
		errs = append(errs, fmt.Errorf("adapters.work_dir must be set"))
	}
	if c.Adapters.TargetBranch == "" {
		errs = append(errs, fmt.Errorf("adapters.target_branch must be set"))
	}
	if c.Adapters.EnvironmentName == "" {
		errs = append(errs, fmt.Errorf("adapters.environment_name must be set"))
	}
	if c.Audit.Path == "" {
		errs = append(errs, fmt.Errorf("audit.path must be set"))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be debug|info|warn|error, got %q", c.Logging.Level))
	}
	return errs
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration changes and reloads.
	Watch(ctx context.Context) <-chan Config
}

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string) (ConfigManager, error) {
	return &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}, nil
}

// NewConfigManagerWithDefaults creates a config manager with default config path.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager("/etc/missionctl/config.yaml")
}
