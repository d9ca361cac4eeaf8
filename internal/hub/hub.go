package hub

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kubilitics/mission-control/internal/audit"
	"github.com/kubilitics/mission-control/internal/db"
	"github.com/kubilitics/mission-control/internal/events"
	"github.com/kubilitics/mission-control/internal/metrics"
	"github.com/kubilitics/mission-control/internal/mission"
	"github.com/kubilitics/mission-control/internal/trust"
)

// Package hub is the single source of truth for mission objects and the
// priority queue used to hand out work to agents.
//
// The in-memory map is authoritative; every write is archived through the
// store best-effort (archive failure is logged, not fatal) and mirrored to
// the audit log (audit failure IS fatal). A housekeeping loop escalates
// IN_PROGRESS missions that have not been touched within the stuck timeout.

var (
	// ErrMissionNotFound is returned for unknown mission ids.
	ErrMissionNotFound = errors.New("mission not found")

	// ErrMissionTerminal is returned when a caller tries to mutate a mission
	// that already reached a terminal state.
	ErrMissionTerminal = errors.New("mission is terminal")

	// ErrNotClaimable is returned when ClaimMission loses the race for a
	// mission that is no longer OPEN.
	ErrNotClaimable = errors.New("mission is not claimable")
)

const (
	// DefaultHousekeepInterval is how often the stuck-mission sweep runs.
	DefaultHousekeepInterval = 30 * time.Second

	// DefaultStuckTimeout is how long an IN_PROGRESS mission may go without
	// an update before it is escalated.
	DefaultStuckTimeout = time.Hour
)

// Options configures a Hub.
type Options struct {
	HousekeepInterval time.Duration
	StuckTimeout      time.Duration
}

// Hub is the mission registry.
type Hub struct {
	mu       sync.RWMutex
	missions map[string]*mission.Mission
	queue    missionQueue

	logger *zap.Logger
	bus    *events.Bus
	store  db.MissionStore // optional archive; nil disables persistence
	auditL audit.Logger

	housekeepInterval time.Duration
	stuckTimeout      time.Duration
}

// New creates a hub. bus and auditLogger are required; store may be nil.
func New(logger *zap.Logger, bus *events.Bus, auditLogger audit.Logger, store db.MissionStore, opts Options) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.HousekeepInterval <= 0 {
		opts.HousekeepInterval = DefaultHousekeepInterval
	}
	if opts.StuckTimeout <= 0 {
		opts.StuckTimeout = DefaultStuckTimeout
	}
	return &Hub{
		missions:          make(map[string]*mission.Mission),
		logger:            logger,
		bus:               bus,
		store:             store,
		auditL:            auditLogger,
		housekeepInterval: opts.HousekeepInterval,
		stuckTimeout:      opts.StuckTimeout,
	}
}

// CreateMission stores the mission, enqueues it, publishes a creation event
// and appends an audit entry. The audit append error propagates: a mission
// that cannot be audited must not exist.
func (h *Hub) CreateMission(ctx context.Context, m *mission.Mission) (string, error) {
	if m.ID == "" {
		return "", fmt.Errorf("mission has no id")
	}

	h.mu.Lock()
	if _, exists := h.missions[m.ID]; exists {
		h.mu.Unlock()
		return "", fmt.Errorf("mission %s already exists", m.ID)
	}
	h.missions[m.ID] = m.Clone()
	heap.Push(&h.queue, &queueItem{missionID: m.ID, severity: m.Severity, createdAt: m.CreatedAt})
	queueLen := h.queue.Len()
	h.mu.Unlock()

	metrics.MissionsCreated.WithLabelValues(m.Subsystem, m.Severity.String(), boolLabel(m.Autonomous)).Inc()
	metrics.QueueDepth.Set(float64(queueLen))

	if err := h.auditL.Append(ctx, audit.NewEvent(audit.EventMissionCreated).
		WithCorrelationID(m.ID).
		WithResource(m.ID, m.Subsystem).
		WithResult(audit.ResultSuccess).
		WithDescription(fmt.Sprintf("mission created with severity %s", m.Severity))); err != nil {
		return "", err
	}

	h.archive(ctx, m)
	h.bus.Publish(events.Event{Topic: "mission.created", MissionID: m.ID})

	h.logger.Info("mission created",
		zap.String("mission_id", m.ID),
		zap.String("subsystem", m.Subsystem),
		zap.String("severity", m.Severity.String()))
	return m.ID, nil
}

// GetMission returns a clone of the stored mission, or nil when unknown.
func (h *Hub) GetMission(id string) *mission.Mission {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if m, ok := h.missions[id]; ok {
		return m.Clone()
	}
	return nil
}

// UpdateMission replaces the stored mission, stamps UpdatedAt and publishes
// an update event. Terminal missions reject every update: their record,
// including the remediation history, is frozen.
func (h *Hub) UpdateMission(ctx context.Context, id string, m *mission.Mission) error {
	h.mu.Lock()
	existing, ok := h.missions[id]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrMissionNotFound, id)
	}
	if existing.Status.Terminal() {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrMissionTerminal, id, existing.Status)
	}
	from := existing.Status
	stored := m.Clone()
	stored.UpdatedAt = time.Now().UTC()
	h.missions[id] = stored
	h.mu.Unlock()

	if from != stored.Status {
		metrics.MissionTransitions.WithLabelValues(string(from), string(stored.Status)).Inc()
	}

	h.archive(ctx, stored)
	h.bus.Publish(events.Event{
		Topic:     "mission.updated",
		MissionID: id,
		Payload:   map[string]any{"from": string(from), "to": string(stored.Status)},
	})
	return nil
}

// GetNextMission scans the queue in priority order and returns the first OPEN
// mission the agent's trust gate admits, or nil when none is eligible. It
// does NOT claim the mission; callers that want exclusivity use ClaimMission.
func (h *Hub) GetNextMission(agentID, agentRole string, trustScore float64) *mission.Mission {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, item := range h.queue.ordered() {
		m, ok := h.missions[item.missionID]
		if !ok || m.Status != mission.StatusOpen {
			continue
		}
		if !trust.CanAgentExecute(m.Trust, agentRole, trustScore) {
			metrics.AssignmentsSkipped.Inc()
			h.logger.Debug("trust gate denied assignment",
				zap.String("mission_id", m.ID),
				zap.String("agent_id", agentID),
				zap.String("agent_role", agentRole),
				zap.Float64("trust_score", trustScore))
			continue
		}
		return m.Clone()
	}
	return nil
}

// ClaimMission atomically moves a mission from OPEN to IN_PROGRESS for the
// given agent. Losing the race returns ErrNotClaimable.
func (h *Hub) ClaimMission(ctx context.Context, id, agentID, agentRole string) error {
	h.mu.Lock()
	m, ok := h.missions[id]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrMissionNotFound, id)
	}
	if m.Status != mission.StatusOpen {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrNotClaimable, id, m.Status)
	}
	m.Status = mission.StatusInProgress
	m.AddRemediationEvent(agentID, agentRole, "claim", "mission claimed for execution", true, "")
	claimed := m.Clone()
	h.mu.Unlock()

	metrics.MissionTransitions.WithLabelValues(string(mission.StatusOpen), string(mission.StatusInProgress)).Inc()
	h.archive(ctx, claimed)
	h.bus.Publish(events.Event{Topic: "mission.claimed", MissionID: id})
	return nil
}

// ListMissions returns clones of all missions matching the filter, newest
// first.
func (h *Hub) ListMissions(filter db.MissionFilter) []*mission.Mission {
	h.mu.RLock()
	all := make([]*mission.Mission, 0, len(h.missions))
	for _, m := range h.missions {
		all = append(all, m)
	}
	h.mu.RUnlock()

	var out []*mission.Mission
	for _, m := range all {
		if filter.Status != "" && m.Status != filter.Status {
			continue
		}
		if filter.Subsystem != "" && m.Subsystem != filter.Subsystem {
			continue
		}
		if filter.Severity != 0 && m.Severity != filter.Severity {
			continue
		}
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

// RunHousekeeping is the background loop escalating stuck missions. It
// survives per-iteration errors and returns when ctx is cancelled.
func (h *Hub) RunHousekeeping(ctx context.Context) {
	ticker := time.NewTicker(h.housekeepInterval)
	defer ticker.Stop()

	h.logger.Info("housekeeping loop started",
		zap.Duration("interval", h.housekeepInterval),
		zap.Duration("stuck_timeout", h.stuckTimeout))

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("housekeeping loop stopped")
			return
		case <-ticker.C:
			if err := h.sweepStuck(ctx); err != nil {
				h.logger.Error("housekeeping sweep failed", zap.Error(err))
			}
		}
	}
}

// sweepStuck escalates every IN_PROGRESS mission whose last update is older
// than the stuck timeout.
func (h *Hub) sweepStuck(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-h.stuckTimeout)

	h.mu.Lock()
	var stuck []*mission.Mission
	for _, m := range h.missions {
		if m.Status == mission.StatusInProgress && m.UpdatedAt.Before(cutoff) {
			m.Status = mission.StatusEscalated
			m.AddRemediationEvent("hub", "system", "stuck_escalation",
				fmt.Sprintf("no update for more than %s while IN_PROGRESS", h.stuckTimeout), false,
				"stuck mission timeout exceeded")
			stuck = append(stuck, m.Clone())
		}
	}
	h.mu.Unlock()

	var firstErr error
	for _, m := range stuck {
		metrics.Escalations.WithLabelValues("stuck").Inc()
		metrics.MissionTransitions.WithLabelValues(string(mission.StatusInProgress), string(mission.StatusEscalated)).Inc()
		h.logger.Warn("stuck mission escalated", zap.String("mission_id", m.ID))

		if err := h.auditL.Append(ctx, audit.NewEvent(audit.EventMissionEscalated).
			WithCorrelationID(m.ID).
			WithResource(m.ID, m.Subsystem).
			WithResult(audit.ResultFailure).
			WithDescription("stuck mission escalated by housekeeping")); err != nil && firstErr == nil {
			firstErr = err
		}
		h.archive(ctx, m)
		h.bus.Publish(events.Event{Topic: "mission.escalated", MissionID: m.ID,
			Payload: map[string]any{"reason": "stuck"}})
	}
	return firstErr
}

// archive persists the mission best-effort.
func (h *Hub) archive(ctx context.Context, m *mission.Mission) {
	if h.store == nil {
		return
	}
	if err := h.store.SaveMission(ctx, m); err != nil {
		h.logger.Error("mission archive failed", zap.String("mission_id", m.ID), zap.Error(err))
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
