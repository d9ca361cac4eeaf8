package db

import (
	"context"
	"time"

	"github.com/kubilitics/mission-control/internal/audit"
	"github.com/kubilitics/mission-control/internal/mission"
)

// Store is the persistence interface for mission control.
//
// The in-memory hub remains the authoritative copy of live missions; the
// store is a durable archive so mission history and the audit mirror survive
// process restarts. Mission writes are best-effort from the hub's point of
// view, audit writes are not (see audit.Mirror).
type Store interface {
	MissionStore
	AuditStore

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// MissionFilter narrows ListMissions results. Zero values match everything.
type MissionFilter struct {
	Status    mission.Status
	Subsystem string
	Severity  mission.Severity
	Limit     int
}

// MissionStore archives mission records.
type MissionStore interface {
	// SaveMission inserts or replaces the archived copy of a mission.
	SaveMission(ctx context.Context, m *mission.Mission) error

	// GetMission loads one archived mission. Returns nil, nil when absent.
	GetMission(ctx context.Context, id string) (*mission.Mission, error)

	// ListMissions returns archived missions matching the filter, newest first.
	ListMissions(ctx context.Context, filter MissionFilter) ([]*mission.Mission, error)
}

// AuditStore is the queryable mirror of the audit stream. It satisfies
// audit.Mirror.
type AuditStore interface {
	// AppendAuditEvent writes one audit event. Append-only: there is no
	// update or delete operation on audit events, by construction.
	AppendAuditEvent(ctx context.Context, event *audit.Event) error

	// QueryAuditEvents returns events for a correlation id (mission id),
	// oldest first. An empty correlationID returns the most recent events
	// across all missions.
	QueryAuditEvents(ctx context.Context, correlationID string, since time.Time, limit int) ([]*audit.Event, error)
}
