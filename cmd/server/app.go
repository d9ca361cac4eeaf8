package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kubilitics/mission-control/internal/adapters"
	"github.com/kubilitics/mission-control/internal/audit"
	"github.com/kubilitics/mission-control/internal/config"
	"github.com/kubilitics/mission-control/internal/consensus"
	"github.com/kubilitics/mission-control/internal/db"
	"github.com/kubilitics/mission-control/internal/events"
	"github.com/kubilitics/mission-control/internal/governance"
	"github.com/kubilitics/mission-control/internal/hub"
	"github.com/kubilitics/mission-control/internal/lifecycle"
	"github.com/kubilitics/mission-control/internal/mission"
	"github.com/kubilitics/mission-control/internal/observe"
	"github.com/kubilitics/mission-control/internal/server"
	"github.com/kubilitics/mission-control/internal/trust"
)

// App owns every long-lived component and its shutdown order. There are no
// package-level singletons: everything is constructed here and passed down.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	store     db.Store
	auditL    audit.Logger
	bus       *events.Bus
	hub       *hub.Hub
	monitor   *observe.Monitor
	detector  *observe.Detector
	engine    *lifecycle.Engine
	consensus *consensus.Local
	srv       *server.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewApp wires the full component graph from configuration. configFile is
// the path the configuration was loaded from; it feeds the environment
// snapshot's config fingerprint.
func NewApp(cfg *config.Config, configFile string) (*App, error) {
	logger, err := buildLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	store, err := db.NewSQLiteStore(cfg.Database.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("opening mission store: %w", err)
	}

	auditL, err := audit.NewLogger(&audit.Config{
		Path:       cfg.Audit.Path,
		MaxSize:    cfg.Audit.MaxSizeMB,
		MaxBackups: cfg.Audit.MaxBackups,
		MaxAge:     cfg.Audit.MaxAgeDays,
		Compress:   cfg.Audit.Compress,
	}, store)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}

	bus := events.NewBus(logger.Named("bus"))

	h := hub.New(logger.Named("hub"), bus, auditL, store, hub.Options{
		HousekeepInterval: cfg.Hub.HousekeepInterval,
		StuckTimeout:      cfg.Hub.StuckTimeout,
	})

	vcs := adapters.NewGitVCS(cfg.Adapters.WorkDir, logger.Named("vcs"))
	runner := adapters.NewShellRunner(cfg.Adapters.WorkDir, cfg.Adapters.TestCommands,
		cfg.Adapters.StressCommand, logger.Named("runner"))
	collector, err := adapters.NewPromCollector(cfg.Adapters.PrometheusAddr, logger.Named("metrics"))
	if err != nil {
		return nil, fmt.Errorf("creating metrics collector: %w", err)
	}
	signer, err := adapters.NewEd25519Signer()
	if err != nil {
		return nil, fmt.Errorf("creating signer: %w", err)
	}
	gov := governance.NewEngine()
	voting := consensus.NewLocal(logger.Named("consensus"), bus)
	ticketing := adapters.NewLogTicketing(logger.Named("ticketing"))
	env := &adapters.FileEnvironment{
		Name:         cfg.Adapters.EnvironmentName,
		RevisionFile: cfg.Adapters.RevisionFile,
		ConfigFile:   fingerprintableConfig(configFile),
	}

	monitor := observe.New(logger.Named("observe"), h, bus, auditL,
		vcs, ticketing, cfg.Observation.PollInterval)
	detector := observe.NewDetector(logger.Named("detector"), h, bus, monitor,
		collector, cfg.Observation.AnomalySensitivity, cfg.Observation.PollInterval)

	trustSource := trust.CompositeSource{
		KPI:            trust.EvidenceKPI,
		Constitutional: trust.EvidenceTestDiscipline,
		Governance:     governanceComponent(gov),
		Security:       securityComponent(runner),
	}

	engine := lifecycle.NewEngine(logger.Named("lifecycle"), h, bus, auditL, monitor,
		lifecycle.Adapters{
			Env:        env,
			VCS:        vcs,
			Tests:      runner,
			Stress:     runner,
			Metrics:    collector,
			Governance: gov,
			Signer:     signer,
			Consensus:  voting,
		}, trustSource)
	engine.SetTargetBranch(cfg.Adapters.TargetBranch)

	srv := server.New(logger.Named("server"), h, bus, cfg.Server.Port, cfg.Server.RateLimitPerMin)

	return &App{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		auditL:    auditL,
		bus:       bus,
		hub:       h,
		monitor:   monitor,
		detector:  detector,
		engine:    engine,
		consensus: voting,
		srv:       srv,
	}, nil
}

// Engine exposes the lifecycle engine for embedding agent loops.
func (a *App) Engine() *lifecycle.Engine { return a.engine }

// Hub exposes the mission registry.
func (a *App) Hub() *hub.Hub { return a.hub }

// Consensus exposes the voting recorder so operators can resolve sessions.
func (a *App) Consensus() *consensus.Local { return a.consensus }

// Start launches the background loops and the query surface.
func (a *App) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.hub.RunHousekeeping(ctx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.monitor.Run(ctx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.detector.Run(ctx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.srv.Start(); err != nil {
			a.logger.Error("query surface failed", zap.Error(err))
		}
	}()

	a.logger.Info("mission control started",
		zap.Int("port", a.cfg.Server.Port),
		zap.String("environment", a.cfg.Adapters.EnvironmentName))
	return nil
}

// Stop shuts down in reverse dependency order: stop accepting requests,
// cancel background loops, drain them, then close the audit log and store.
func (a *App) Stop() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("query surface shutdown", zap.Error(err))
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	if err := a.auditL.Close(); err != nil {
		a.logger.Warn("closing audit log", zap.Error(err))
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store", zap.Error(err))
	}
	a.logger.Info("mission control stopped")
	_ = a.logger.Sync()
	return nil
}

// governanceComponent scores the governance trust axis by asking the engine
// whether the mission's change-set may be merged: 1 when allowed, 0 denied.
func governanceComponent(gov *governance.Engine) trust.ComponentFunc {
	return func(ctx context.Context, m *mission.Mission) (float64, error) {
		res, err := gov.Check(ctx, "trust-evaluator", "merge",
			m.Subsystem+"/"+m.ID, map[string]any{"role": "system"})
		if err != nil {
			return 0, err
		}
		if res.Decision == adapters.DecisionAllow {
			return 1, nil
		}
		return 0, nil
	}
}

// securityComponent scores the security trust axis from the stress suite: a
// change-set that survives the stress suite scores full marks, an unrun or
// failing suite scores zero.
func securityComponent(stress adapters.StressTester) trust.ComponentFunc {
	return func(ctx context.Context, m *mission.Mission) (float64, error) {
		res, err := stress.RunStressSuite(ctx)
		if err != nil {
			return 0, err
		}
		if res.Success {
			return 1, nil
		}
		return 0, nil
	}
}

// fingerprintableConfig returns the config path when the file is readable.
// A process running on built-in defaults has no config file to fingerprint,
// and the environment provider treats a named-but-unreadable file as fatal.
func fingerprintableConfig(path string) string {
	if path == "" {
		return ""
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// buildLogger constructs the process logger per config.
func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Logging.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
