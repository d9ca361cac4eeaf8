// Package consensus provides the built-in human-in-the-loop Consensus
// adapter: voting sessions held in memory, announced on the event bus, and
// resolved by an operator action (Approve/Reject). Deployments with a real
// voting system replace it behind adapters.Consensus.
package consensus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kubilitics/mission-control/internal/adapters"
	"github.com/kubilitics/mission-control/internal/events"
)

// ErrSessionNotFound is returned for an unknown session ID.
var ErrSessionNotFound = fmt.Errorf("consensus session not found")

type session struct {
	id        string
	missionID string
	summary   string
	openedAt  time.Time

	resolved bool
	approved bool
	approver string
	reason   string
}

// Local implements adapters.Consensus with in-process sessions.
type Local struct {
	mu       sync.Mutex
	sessions map[string]*session
	logger   *zap.Logger
	bus      *events.Bus
}

// NewLocal creates a local consensus recorder. bus may be nil.
func NewLocal(logger *zap.Logger, bus *events.Bus) *Local {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Local{
		sessions: make(map[string]*session),
		logger:   logger,
		bus:      bus,
	}
}

// CreateSession opens a session and announces it on "consensus.opened".
func (l *Local) CreateSession(_ context.Context, missionID, summary string) (string, error) {
	s := &session{
		id:        uuid.New().String(),
		missionID: missionID,
		summary:   summary,
		openedAt:  time.Now().UTC(),
	}
	l.mu.Lock()
	l.sessions[s.id] = s
	l.mu.Unlock()

	l.logger.Info("consensus session opened",
		zap.String("session_id", s.id),
		zap.String("mission_id", missionID))
	if l.bus != nil {
		l.bus.Publish(events.Event{
			Topic:     "consensus.opened",
			MissionID: missionID,
			Payload:   map[string]any{"session_id": s.id, "summary": summary},
		})
	}
	return s.id, nil
}

// Decision reports the session outcome; Resolved is false until an operator
// has voted.
func (l *Local) Decision(_ context.Context, sessionID string) (adapters.ConsensusDecision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sessions[sessionID]
	if !ok {
		return adapters.ConsensusDecision{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return adapters.ConsensusDecision{
		SessionID: s.id,
		Resolved:  s.resolved,
		Approved:  s.approved,
		Approver:  s.approver,
		Reason:    s.reason,
	}, nil
}

// Approve resolves a session in favor of execution.
func (l *Local) Approve(sessionID, approver, reason string) error {
	return l.resolve(sessionID, true, approver, reason)
}

// Reject resolves a session against execution.
func (l *Local) Reject(sessionID, approver, reason string) error {
	return l.resolve(sessionID, false, approver, reason)
}

func (l *Local) resolve(sessionID string, approved bool, approver, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if s.resolved {
		return fmt.Errorf("session %s already resolved", sessionID)
	}
	s.resolved = true
	s.approved = approved
	s.approver = approver
	s.reason = reason

	l.logger.Info("consensus session resolved",
		zap.String("session_id", sessionID),
		zap.String("mission_id", s.missionID),
		zap.Bool("approved", approved),
		zap.String("approver", approver))
	return nil
}
