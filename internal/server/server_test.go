package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/kubilitics/mission-control/internal/audit"
	"github.com/kubilitics/mission-control/internal/events"
	"github.com/kubilitics/mission-control/internal/hub"
	"github.com/kubilitics/mission-control/internal/mission"
)

type memAudit struct{ mu sync.Mutex }

func (a *memAudit) Append(context.Context, *audit.Event) error { return nil }
func (a *memAudit) Sync() error                                { return nil }
func (a *memAudit) Close() error                               { return nil }

func newTestServer(t *testing.T) (*Server, *hub.Hub) {
	t.Helper()
	bus := events.NewBus(nil)
	h := hub.New(nil, bus, &memAudit{}, nil, hub.Options{})
	return New(nil, h, bus, 0, 1000), h
}

func seedMission(t *testing.T, h *hub.Hub, subsystem string, sev mission.Severity) *mission.Mission {
	t.Helper()
	m := mission.NewMission(subsystem, sev, mission.ContextSnapshot{}, false)
	if _, err := h.CreateMission(context.Background(), m); err != nil {
		t.Fatalf("seed mission: %v", err)
	}
	return m
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestListMissions_Filters(t *testing.T) {
	srv, h := newTestServer(t)
	seedMission(t, h, "payments", mission.SeverityHigh)
	seedMission(t, h, "db", mission.SeverityLow)

	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/missions", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Missions []json.RawMessage `json:"missions"`
		Count    int               `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 2 {
		t.Errorf("count = %d, want 2", body.Count)
	}

	rec = httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/api/v1/missions?subsystem=payments", nil))
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode filtered: %v", err)
	}
	if body.Count != 1 {
		t.Errorf("filtered count = %d, want 1", body.Count)
	}

	rec = httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/api/v1/missions?severity=low", nil))
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode severity filter: %v", err)
	}
	if body.Count != 1 {
		t.Errorf("severity-filtered count = %d, want 1", body.Count)
	}
}

func TestGetMission(t *testing.T) {
	srv, h := newTestServer(t)
	m := seedMission(t, h, "payments", mission.SeverityHigh)

	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/api/v1/missions/"+m.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got mission.Mission
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != m.ID || got.Subsystem != "payments" {
		t.Errorf("got %+v", got)
	}
}

func TestGetMission_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/api/v1/missions/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestMutationsRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec,
		httptest.NewRequest(http.MethodPost, "/api/v1/missions", nil))
	if rec.Code != http.StatusMethodNotAllowed && rec.Code != http.StatusNotFound {
		t.Errorf("POST should be rejected, got %d", rec.Code)
	}
}
