package audit

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type memMirror struct {
	mu     sync.Mutex
	events []*Event
	err    error
}

func (m *memMirror) AppendAuditEvent(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, e)
	return nil
}

func TestNewEvent_Builder(t *testing.T) {
	e := NewEvent(EventMissionCreated).
		WithCorrelationID("m-1").
		WithActor("agent-1", "operator").
		WithResource("m-1", "payments").
		WithAction("create").
		WithDescription("mission created").
		WithResult(ResultSuccess).
		WithDuration(1500 * time.Millisecond).
		WithMetadata("severity", "HIGH")

	if e.Timestamp.IsZero() {
		t.Error("NewEvent should stamp a timestamp")
	}
	if e.CorrelationID != "m-1" || e.Actor != "agent-1" || e.Role != "operator" {
		t.Error("builder fields not applied")
	}
	if e.DurationMs != 1500 {
		t.Errorf("DurationMs = %d, want 1500", e.DurationMs)
	}
	if e.Metadata["severity"] != "HIGH" {
		t.Error("metadata not applied")
	}
}

func TestWithError_SetsFailureResult(t *testing.T) {
	e := NewEvent(EventStageFailed).WithError(errors.New("merge conflict"))
	if e.Error != "merge conflict" || e.Result != ResultFailure {
		t.Errorf("WithError should record the message and set failure, got %+v", e)
	}
	ok := NewEvent(EventStageCompleted).WithResult(ResultSuccess).WithError(nil)
	if ok.Result != ResultSuccess || ok.Error != "" {
		t.Error("WithError(nil) must not override the result")
	}
}

func TestAppend_WritesJSONLineAndMirrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	mirror := &memMirror{}

	logger, err := NewLogger(&Config{Path: path, MaxSize: 1, MaxBackups: 1, MaxAge: 1}, mirror)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer logger.Close()

	e := NewEvent(EventMissionCreated).
		WithCorrelationID("m-1").
		WithResult(ResultSuccess).
		WithDescription("created")
	if err := logger.Append(context.Background(), e); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := logger.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading audit log: %v", err)
	}
	line := strings.TrimSpace(string(raw))
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("audit line is not JSON: %v", err)
	}
	if entry["correlation_id"] != "m-1" {
		t.Errorf("correlation_id = %v, want m-1", entry["correlation_id"])
	}
	if entry["event_type"] != string(EventMissionCreated) {
		t.Errorf("event_type = %v", entry["event_type"])
	}

	if len(mirror.events) != 1 {
		t.Error("event should be mirrored to the store")
	}
}

func TestAppend_MirrorFailureFailsAppend(t *testing.T) {
	dir := t.TempDir()
	mirror := &memMirror{err: errors.New("database locked")}
	logger, err := NewLogger(&Config{Path: filepath.Join(dir, "audit.log")}, mirror)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer logger.Close()

	err = logger.Append(context.Background(), NewEvent(EventMissionCreated))
	if !errors.Is(err, ErrAuditUnavailable) {
		t.Errorf("mirror failure should surface ErrAuditUnavailable, got %v", err)
	}
}

func TestAppend_NilEventRejected(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(&Config{Path: filepath.Join(dir, "audit.log")}, nil)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer logger.Close()

	if err := logger.Append(context.Background(), nil); !errors.Is(err, ErrAuditUnavailable) {
		t.Errorf("nil event should be rejected, got %v", err)
	}
}
