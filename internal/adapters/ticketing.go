package adapters

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// LogTicketing is the built-in Ticketing adapter: CAPA tickets are numbered
// sequentially and recorded in the structured log. Deployments with a real
// ticketing system replace it behind adapters.Ticketing.
type LogTicketing struct {
	seq    atomic.Uint64
	logger *zap.Logger
}

// NewLogTicketing creates a log-backed ticketing adapter.
func NewLogTicketing(logger *zap.Logger) *LogTicketing {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogTicketing{logger: logger}
}

// OpenCAPATicket records the ticket and returns its generated ID.
func (t *LogTicketing) OpenCAPATicket(_ context.Context, missionID string, anomalies []string) (string, error) {
	id := fmt.Sprintf("CAPA-%d", t.seq.Add(1))
	t.logger.Warn("CAPA ticket opened",
		zap.String("ticket_id", id),
		zap.String("mission_id", missionID),
		zap.Strings("anomalies", anomalies))
	return id, nil
}
