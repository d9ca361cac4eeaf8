package config

import "time"

// DefaultConfig returns the built-in defaults. Every field here can be
// overridden by the YAML file or a MISSIONCTL_* environment variable.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Port = 8082
	cfg.Server.RateLimitPerMin = 120

	cfg.Hub.HousekeepInterval = 30 * time.Second
	cfg.Hub.StuckTimeout = time.Hour

	cfg.Observation.PollInterval = 60 * time.Second
	cfg.Observation.AnomalySensitivity = 0.5

	cfg.Database.SQLitePath = "data/missionctl.db"

	cfg.Adapters.WorkDir = "."
	cfg.Adapters.TargetBranch = "main"
	cfg.Adapters.TestCommands = map[string]string{}
	cfg.Adapters.PrometheusAddr = "http://localhost:9090"
	cfg.Adapters.EnvironmentName = "local"
	cfg.Adapters.RevisionFile = "REVISION"

	cfg.Audit.Path = "logs/audit.log"
	cfg.Audit.MaxSizeMB = 100
	cfg.Audit.MaxBackups = 10
	cfg.Audit.MaxAgeDays = 30
	cfg.Audit.Compress = true

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}
