package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kubilitics/mission-control/internal/db"
	"github.com/kubilitics/mission-control/internal/events"
	"github.com/kubilitics/mission-control/internal/hub"
	"github.com/kubilitics/mission-control/internal/middleware"
	"github.com/kubilitics/mission-control/internal/mission"
)

// Package server exposes the read-only status/listing query surface:
//
//	GET /healthz                 liveness probe
//	GET /metrics                 prometheus metrics
//	GET /api/v1/missions         list missions (status/subsystem/severity filters)
//	GET /api/v1/missions/{id}    one mission with full remediation history
//	GET /ws/events               websocket stream of mission events
//
// Missions are served from the in-memory hub; nothing here mutates state.
// Authentication is out of scope for this surface.

// Server is the read-only HTTP front.
type Server struct {
	logger *zap.Logger
	hub    *hub.Hub
	bus    *events.Bus
	http   *http.Server
}

// New creates the server on the given port.
func New(logger *zap.Logger, h *hub.Hub, bus *events.Bus, port, rateLimitPerMin int) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		logger: logger,
		hub:    h,
		bus:    bus,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/v1/missions", s.handleListMissions)
	mux.HandleFunc("GET /api/v1/missions/{id}", s.handleGetMission)
	mux.HandleFunc("GET /ws/events", s.handleEvents)

	limiter := middleware.NewRateLimiter(rateLimitPerMin)
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           limiter.Middleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins serving. Blocks until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.logger.Info("query surface listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListMissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := db.MissionFilter{
		Status:    mission.Status(strings.ToUpper(q.Get("status"))),
		Subsystem: q.Get("subsystem"),
	}
	if sev := q.Get("severity"); sev != "" {
		filter.Severity = mission.ParseSeverity(strings.ToUpper(sev))
	}

	missions := s.hub.ListMissions(filter)
	writeJSON(w, http.StatusOK, map[string]any{
		"missions": missions,
		"count":    len(missions),
	})
}

func (s *Server) handleGetMission(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	m := s.hub.GetMission(id)
	if m == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "mission not found"})
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
