package observe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kubilitics/mission-control/internal/adapters"
	"github.com/kubilitics/mission-control/internal/audit"
	"github.com/kubilitics/mission-control/internal/events"
	"github.com/kubilitics/mission-control/internal/hub"
	"github.com/kubilitics/mission-control/internal/metrics"
	"github.com/kubilitics/mission-control/internal/mission"
)

// Package observe runs the observation-window monitor: a single background
// loop that watches missions in OBSERVING (pipeline) or MONITORING
// (autonomous) state and resolves or escalates them when their window
// elapses.
//
// The monitor does not generate anomalies itself. It subscribes to
// "health.anomaly" events on the bus and accumulates them against the
// matching window; at expiry the anomaly list decides the outcome:
//
//	zero anomalies  → RESOLVED (or COMPLETE for autonomous missions)
//	any anomalies   → rollback, ESCALATED, CAPA ticket opened
//
// Resolution is idempotent: the mission's status is re-checked before acting,
// so two overlapping ticks cannot double-transition a mission.

// DefaultPollInterval is how often elapsed windows are checked. It must be
// shorter than any expected observation window.
const DefaultPollInterval = 60 * time.Second

// Monitor owns the active observation windows.
type Monitor struct {
	mu      sync.Mutex
	windows map[string]*mission.ObservationWindow

	logger    *zap.Logger
	hub       *hub.Hub
	bus       *events.Bus
	auditL    audit.Logger
	vcs       adapters.VersionControl
	ticketing adapters.Ticketing

	pollInterval time.Duration
	now          func() time.Time // swappable for tests
}

// New creates a monitor. pollInterval <= 0 selects DefaultPollInterval.
func New(logger *zap.Logger, h *hub.Hub, bus *events.Bus, auditLogger audit.Logger,
	vcs adapters.VersionControl, ticketing adapters.Ticketing, pollInterval time.Duration) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Monitor{
		windows:      make(map[string]*mission.ObservationWindow),
		logger:       logger,
		hub:          h,
		bus:          bus,
		auditL:       auditLogger,
		vcs:          vcs,
		ticketing:    ticketing,
		pollInterval: pollInterval,
		now:          time.Now,
	}
}

// Open registers an observation window for a mission. backupRev is the
// revision to revert to should the window escalate.
func (m *Monitor) Open(missionID string, window time.Duration, backupRev string) {
	start := m.now().UTC()
	m.mu.Lock()
	m.windows[missionID] = &mission.ObservationWindow{
		MissionID: missionID,
		Start:     start,
		End:       start.Add(window),
		BackupRev: backupRev,
	}
	active := len(m.windows)
	m.mu.Unlock()

	metrics.WindowsActive.Set(float64(active))
	m.logger.Info("observation window opened",
		zap.String("mission_id", missionID),
		zap.Duration("window", window))
}

// RecordAnomaly appends an anomaly description to the mission's window, if
// one is active. Safe to call for missions without a window.
func (m *Monitor) RecordAnomaly(missionID, description string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.windows[missionID]; ok {
		w.Anomalies = append(w.Anomalies, description)
	}
}

// anomalyBuffer is the anomaly subscription's channel depth. Bursts beyond
// it are recorded synchronously through the overflow handler.
const anomalyBuffer = 64

// subscribeAnomalies registers the anomaly intake. The overflow handler
// records directly into the window, so a burst past the buffer cannot make a
// dirty window look clean.
func (m *Monitor) subscribeAnomalies() *events.Subscription {
	sub := m.bus.Subscribe("health.anomaly", anomalyBuffer)
	sub.OnDrop(func(ev events.Event) {
		m.RecordAnomaly(ev.MissionID, anomalyDescription(ev))
	})
	return sub
}

func anomalyDescription(ev events.Event) string {
	desc, _ := ev.Payload["description"].(string)
	if desc == "" {
		desc = ev.Topic
	}
	return desc
}

// Run is the monitor loop. It consumes anomaly events from the bus, polls for
// elapsed windows, survives per-iteration errors, and returns when ctx is
// cancelled.
func (m *Monitor) Run(ctx context.Context) {
	sub := m.subscribeAnomalies()
	defer sub.Close()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	m.logger.Info("observation monitor started", zap.Duration("poll_interval", m.pollInterval))

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("observation monitor stopped")
			return
		case ev := <-sub.C():
			m.RecordAnomaly(ev.MissionID, anomalyDescription(ev))
		case <-ticker.C:
			if err := m.Tick(ctx); err != nil {
				m.logger.Error("observation tick failed", zap.Error(err))
			}
		}
	}
}

// Tick resolves every elapsed window once. Exported so tests can drive the
// monitor without wall-clock sleeps.
func (m *Monitor) Tick(ctx context.Context) error {
	now := m.now().UTC()

	m.mu.Lock()
	var elapsed []*mission.ObservationWindow
	for _, w := range m.windows {
		if w.Elapsed(now) {
			elapsed = append(elapsed, w)
		}
	}
	m.mu.Unlock()

	var firstErr error
	for _, w := range elapsed {
		if err := m.resolve(ctx, w); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		m.mu.Lock()
		delete(m.windows, w.MissionID)
		active := len(m.windows)
		m.mu.Unlock()
		metrics.WindowsActive.Set(float64(active))
	}
	return firstErr
}

// resolve closes one elapsed window. Idempotent: a mission no longer in an
// observing state is skipped without any mutation.
func (m *Monitor) resolve(ctx context.Context, w *mission.ObservationWindow) error {
	mi := m.hub.GetMission(w.MissionID)
	if mi == nil {
		m.logger.Warn("window for unknown mission dropped", zap.String("mission_id", w.MissionID))
		return nil
	}
	if mi.Status != mission.StatusObserving && mi.Status != mission.StatusMonitoring {
		// Already resolved by a previous tick.
		return nil
	}

	if len(w.Anomalies) == 0 {
		return m.resolveClean(ctx, mi)
	}
	return m.escalate(ctx, mi, w)
}

func (m *Monitor) resolveClean(ctx context.Context, mi *mission.Mission) error {
	from := mi.Status
	if mi.Autonomous {
		// Autonomous missions end COMPLETE rather than RESOLVED.
		mi.Status = mission.StatusComplete
		mi.AddRemediationEvent("observer", "system", "window_resolved",
			"observation window elapsed with no anomalies", true, "")
	} else {
		mi.AddRemediationEvent("observer", "system", "window_resolved",
			"observation window elapsed with no anomalies", true, "")
		mi.MarkResolved()
	}

	if err := m.hub.UpdateMission(ctx, mi.ID, mi); err != nil {
		return fmt.Errorf("resolve window for %s: %w", mi.ID, err)
	}
	metrics.WindowResolutions.WithLabelValues("resolved").Inc()

	if err := m.auditL.Append(ctx, audit.NewEvent(audit.EventWindowResolved).
		WithCorrelationID(mi.ID).
		WithResource(mi.ID, mi.Subsystem).
		WithResult(audit.ResultSuccess).
		WithDescription(fmt.Sprintf("window closed clean, %s -> %s", from, mi.Status))); err != nil {
		return err
	}

	m.logger.Info("observation window resolved clean", zap.String("mission_id", mi.ID))
	return nil
}

func (m *Monitor) escalate(ctx context.Context, mi *mission.Mission, w *mission.ObservationWindow) error {
	// Revert is best effort; an escalation must not be lost to a revert error.
	if w.BackupRev != "" {
		if err := m.vcs.Revert(ctx, w.BackupRev); err != nil {
			m.logger.Error("revert during escalation failed",
				zap.String("mission_id", mi.ID),
				zap.String("backup_revision", w.BackupRev),
				zap.Error(err))
		}
	}

	mi.Status = mission.StatusEscalated
	mi.AddRemediationEvent("observer", "system", "window_escalated",
		fmt.Sprintf("%d anomalies observed during window", len(w.Anomalies)), false,
		"anomalies during observation window")

	ticketID, err := m.ticketing.OpenCAPATicket(ctx, mi.ID, w.Anomalies)
	if err != nil {
		m.logger.Error("CAPA ticket creation failed", zap.String("mission_id", mi.ID), zap.Error(err))
	} else {
		mi.Tags["capa_ticket"] = ticketID
		mi.AddRemediationEvent("observer", "system", "capa_opened",
			fmt.Sprintf("CAPA ticket %s opened", ticketID), true, "")
	}

	if err := m.hub.UpdateMission(ctx, mi.ID, mi); err != nil {
		return fmt.Errorf("escalate window for %s: %w", mi.ID, err)
	}
	metrics.WindowResolutions.WithLabelValues("escalated").Inc()
	metrics.Escalations.WithLabelValues("anomalies").Inc()

	if err := m.auditL.Append(ctx, audit.NewEvent(audit.EventWindowEscalated).
		WithCorrelationID(mi.ID).
		WithResource(mi.ID, mi.Subsystem).
		WithResult(audit.ResultFailure).
		WithMetadata("anomalies", w.Anomalies).
		WithMetadata("capa_ticket", mi.Tags["capa_ticket"]).
		WithDescription("anomalies during observation window, mission escalated")); err != nil {
		return err
	}

	m.logger.Warn("observation window escalated",
		zap.String("mission_id", mi.ID),
		zap.Int("anomalies", len(w.Anomalies)))
	return nil
}

// ActiveWindows returns the ids of missions with open windows.
func (m *Monitor) ActiveWindows() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.windows))
	for id := range m.windows {
		out = append(out, id)
	}
	return out
}
