package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"github.com/kubilitics/mission-control/internal/audit"
	"github.com/kubilitics/mission-control/internal/mission"
)

// schema for the mission-control archive. Version is tracked in the
// schema_versions table.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS missions (
    id          TEXT PRIMARY KEY,
    subsystem   TEXT NOT NULL DEFAULT '',
    severity    TEXT NOT NULL DEFAULT 'LOW',
    status      TEXT NOT NULL DEFAULT 'OPEN',
    autonomous  INTEGER NOT NULL DEFAULT 0,
    payload     TEXT NOT NULL DEFAULT '{}',
    created_at  DATETIME NOT NULL,
    updated_at  DATETIME NOT NULL,
    resolved_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_missions_status     ON missions(status);
CREATE INDEX IF NOT EXISTS idx_missions_subsystem  ON missions(subsystem);
CREATE INDEX IF NOT EXISTS idx_missions_created_at ON missions(created_at DESC);

CREATE TABLE IF NOT EXISTS audit_events (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    correlation_id  TEXT NOT NULL DEFAULT '',
    event_type      TEXT NOT NULL,
    result          TEXT NOT NULL DEFAULT '',
    actor           TEXT NOT NULL DEFAULT '',
    role            TEXT NOT NULL DEFAULT '',
    resource        TEXT NOT NULL DEFAULT '',
    subsystem       TEXT NOT NULL DEFAULT '',
    action          TEXT NOT NULL DEFAULT '',
    description     TEXT NOT NULL DEFAULT '',
    error           TEXT NOT NULL DEFAULT '',
    duration_ms     INTEGER NOT NULL DEFAULT 0,
    metadata        TEXT NOT NULL DEFAULT '{}',
    timestamp       DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_correlation ON audit_events(correlation_id, timestamp ASC);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp   ON audit_events(timestamp DESC);
`,
	},
}

// sqliteStore implements Store over a single sqlite database.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the archive database at path and
// applies pending migrations. Use ":memory:" for tests.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent loop writes.
	db.SetMaxOpenConns(1)

	s := &sqliteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqliteStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP)`); err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	var current int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_versions`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_versions (version) VALUES (?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ─── MissionStore ────────────────────────────────────────────────────────────

func (s *sqliteStore) SaveMission(ctx context.Context, m *mission.Mission) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal mission %s: %w", m.ID, err)
	}

	var resolvedAt any
	if m.ResolvedAt != nil {
		resolvedAt = m.ResolvedAt.UTC()
	}

	autonomous := 0
	if m.Autonomous {
		autonomous = 1
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO missions (id, subsystem, severity, status, autonomous, payload, created_at, updated_at, resolved_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    subsystem   = excluded.subsystem,
    severity    = excluded.severity,
    status      = excluded.status,
    autonomous  = excluded.autonomous,
    payload     = excluded.payload,
    updated_at  = excluded.updated_at,
    resolved_at = excluded.resolved_at`,
		m.ID, m.Subsystem, m.Severity.String(), string(m.Status), autonomous,
		string(payload), m.CreatedAt.UTC(), m.UpdatedAt.UTC(), resolvedAt)
	if err != nil {
		return fmt.Errorf("save mission %s: %w", m.ID, err)
	}
	return nil
}

func (s *sqliteStore) GetMission(ctx context.Context, id string) (*mission.Mission, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM missions WHERE id = ?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get mission %s: %w", id, err)
	}
	var m mission.Mission
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return nil, fmt.Errorf("unmarshal mission %s: %w", id, err)
	}
	return &m, nil
}

func (s *sqliteStore) ListMissions(ctx context.Context, filter MissionFilter) ([]*mission.Mission, error) {
	query := `SELECT payload FROM missions WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Subsystem != "" {
		query += ` AND subsystem = ?`
		args = append(args, filter.Subsystem)
	}
	if filter.Severity != 0 {
		query += ` AND severity = ?`
		args = append(args, filter.Severity.String())
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list missions: %w", err)
	}
	defer rows.Close()

	var out []*mission.Mission
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan mission row: %w", err)
		}
		var m mission.Mission
		if err := json.Unmarshal([]byte(payload), &m); err != nil {
			return nil, fmt.Errorf("unmarshal mission row: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// ─── AuditStore ──────────────────────────────────────────────────────────────

func (s *sqliteStore) AppendAuditEvent(ctx context.Context, event *audit.Event) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		metadata = []byte("{}")
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO audit_events (correlation_id, event_type, result, actor, role, resource, subsystem,
                          action, description, error, duration_ms, metadata, timestamp)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.CorrelationID, string(event.EventType), string(event.Result),
		event.Actor, event.Role, event.Resource, event.Subsystem,
		event.Action, event.Description, event.Error, event.DurationMs,
		string(metadata), event.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *sqliteStore) QueryAuditEvents(ctx context.Context, correlationID string, since time.Time, limit int) ([]*audit.Event, error) {
	query := `SELECT correlation_id, event_type, result, actor, role, resource, subsystem,
	                 action, description, error, duration_ms, metadata, timestamp
	          FROM audit_events WHERE timestamp >= ?`
	args := []any{since.UTC()}
	if correlationID != "" {
		query += ` AND correlation_id = ? ORDER BY timestamp ASC`
		args = append(args, correlationID)
	} else {
		query += ` ORDER BY timestamp DESC`
	}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var out []*audit.Event
	for rows.Next() {
		var (
			e        audit.Event
			metadata string
		)
		if err := rows.Scan(&e.CorrelationID, &e.EventType, &e.Result, &e.Actor, &e.Role,
			&e.Resource, &e.Subsystem, &e.Action, &e.Description, &e.Error,
			&e.DurationMs, &metadata, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		if metadata != "" && metadata != "{}" {
			_ = json.Unmarshal([]byte(metadata), &e.Metadata)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
