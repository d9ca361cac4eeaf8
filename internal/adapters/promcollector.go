package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"go.uber.org/zap"

	"github.com/kubilitics/mission-control/internal/mission"
)

// PromCollector is the built-in MetricsCollector: it samples each target's
// metric ID as an instant PromQL query against a Prometheus server.
type PromCollector struct {
	api    promv1.API
	logger *zap.Logger
}

// NewPromCollector creates a collector for the Prometheus server at addr
// (e.g. "http://localhost:9090").
func NewPromCollector(addr string, logger *zap.Logger) (*PromCollector, error) {
	client, err := api.NewClient(api.Config{Address: addr})
	if err != nil {
		return nil, fmt.Errorf("creating prometheus client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PromCollector{api: promv1.NewAPI(client), logger: logger}, nil
}

// Collect samples every target once. A metric that returns no samples is
// omitted from the result; the criteria evaluator treats the absence as a
// failure, which is the behavior we want for an unobservable target.
func (c *PromCollector) Collect(ctx context.Context, targets []mission.MetricTarget) ([]mission.MetricObservation, error) {
	now := time.Now().UTC()
	observations := make([]mission.MetricObservation, 0, len(targets))
	for _, t := range targets {
		value, warnings, err := c.api.Query(ctx, t.MetricID, now)
		if err != nil {
			return nil, fmt.Errorf("querying %s: %w", t.MetricID, err)
		}
		for _, w := range warnings {
			c.logger.Warn("prometheus query warning",
				zap.String("metric_id", t.MetricID), zap.String("warning", w))
		}
		vector, ok := value.(model.Vector)
		if !ok || len(vector) == 0 {
			c.logger.Warn("metric returned no samples", zap.String("metric_id", t.MetricID))
			continue
		}
		observations = append(observations, mission.MetricObservation{
			MetricID:  t.MetricID,
			Value:     float64(vector[0].Value),
			Timestamp: now,
		})
	}
	return observations, nil
}
