package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	configPath string
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	m.viper = viper.New()

	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	m.viper.SetEnvPrefix("MISSIONCTL")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	// The config file is optional; defaults + env vars suffice.
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// use defaults
		} else if os.IsNotExist(err) {
			// use defaults
		} else {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	m.unmarshalConfig()
	return nil
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	errs := m.config.Validate()
	if len(errs) > 0 {
		var msgs []string
		for _, err := range errs {
			msgs = append(msgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
	}
	return nil
}

// Watch watches for configuration changes and reloads.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	m.viper.WatchConfig()
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		m.unmarshalConfig()
		select {
		case m.watchChan <- *m.config:
		default:
			// Channel full, skip this update
		}
	})
	return m.watchChan
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	defaults := DefaultConfig()

	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.rate_limit_per_min", defaults.Server.RateLimitPerMin)

	m.viper.SetDefault("hub.housekeep_interval", defaults.Hub.HousekeepInterval)
	m.viper.SetDefault("hub.stuck_timeout", defaults.Hub.StuckTimeout)

	m.viper.SetDefault("observation.poll_interval", defaults.Observation.PollInterval)
	m.viper.SetDefault("observation.anomaly_sensitivity", defaults.Observation.AnomalySensitivity)

	m.viper.SetDefault("database.sqlite_path", defaults.Database.SQLitePath)

	m.viper.SetDefault("adapters.work_dir", defaults.Adapters.WorkDir)
	m.viper.SetDefault("adapters.target_branch", defaults.Adapters.TargetBranch)
	m.viper.SetDefault("adapters.test_commands", defaults.Adapters.TestCommands)
	m.viper.SetDefault("adapters.stress_command", defaults.Adapters.StressCommand)
	m.viper.SetDefault("adapters.prometheus_addr", defaults.Adapters.PrometheusAddr)
	m.viper.SetDefault("adapters.environment_name", defaults.Adapters.EnvironmentName)
	m.viper.SetDefault("adapters.revision_file", defaults.Adapters.RevisionFile)

	m.viper.SetDefault("audit.path", defaults.Audit.Path)
	m.viper.SetDefault("audit.max_size_mb", defaults.Audit.MaxSizeMB)
	m.viper.SetDefault("audit.max_backups", defaults.Audit.MaxBackups)
	m.viper.SetDefault("audit.max_age_days", defaults.Audit.MaxAgeDays)
	m.viper.SetDefault("audit.compress", defaults.Audit.Compress)

	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.format", defaults.Logging.Format)
}

// unmarshalConfig copies viper state into the Config struct.
func (m *viperConfigManager) unmarshalConfig() {
	cfg := &Config{}

	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.RateLimitPerMin = m.viper.GetInt("server.rate_limit_per_min")

	cfg.Hub.HousekeepInterval = m.viper.GetDuration("hub.housekeep_interval")
	cfg.Hub.StuckTimeout = m.viper.GetDuration("hub.stuck_timeout")

	cfg.Observation.PollInterval = m.viper.GetDuration("observation.poll_interval")
	cfg.Observation.AnomalySensitivity = m.viper.GetFloat64("observation.anomaly_sensitivity")

	cfg.Database.SQLitePath = m.viper.GetString("database.sqlite_path")

	cfg.Adapters.WorkDir = m.viper.GetString("adapters.work_dir")
	cfg.Adapters.TargetBranch = m.viper.GetString("adapters.target_branch")
	cfg.Adapters.TestCommands = m.viper.GetStringMapString("adapters.test_commands")
	cfg.Adapters.StressCommand = m.viper.GetString("adapters.stress_command")
	cfg.Adapters.PrometheusAddr = m.viper.GetString("adapters.prometheus_addr")
	cfg.Adapters.EnvironmentName = m.viper.GetString("adapters.environment_name")
	cfg.Adapters.RevisionFile = m.viper.GetString("adapters.revision_file")

	cfg.Audit.Path = m.viper.GetString("audit.path")
	cfg.Audit.MaxSizeMB = m.viper.GetInt("audit.max_size_mb")
	cfg.Audit.MaxBackups = m.viper.GetInt("audit.max_backups")
	cfg.Audit.MaxAgeDays = m.viper.GetInt("audit.max_age_days")
	cfg.Audit.Compress = m.viper.GetBool("audit.compress")

	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")

	m.config = cfg
}
