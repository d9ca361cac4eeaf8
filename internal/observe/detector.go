package observe

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kubilitics/mission-control/internal/adapters"
	"github.com/kubilitics/mission-control/internal/events"
	"github.com/kubilitics/mission-control/internal/hub"
	"github.com/kubilitics/mission-control/internal/mission"
)

// Detector samples the metric targets of missions under observation and
// publishes "health.anomaly" events for the monitor to accumulate.
//
// Detection is classical statistics, never inference: a sample is anomalous
// when it breaches the mission's own declared target, or when its z-score
// against the rolling baseline exceeds the sensitivity threshold. Both paths
// are deterministic and the published event carries the reason.
type Detector struct {
	mu        sync.Mutex
	baselines map[string]*baseline // "missionID:metricID" -> rolling baseline

	logger    *zap.Logger
	hub       *hub.Hub
	bus       *events.Bus
	monitor   *Monitor
	collector adapters.MetricsCollector

	sensitivity  float64 // 0.0 least sensitive .. 1.0 most sensitive
	pollInterval time.Duration
}

// maxBaselineSamples bounds the rolling window per metric.
const maxBaselineSamples = 120

// minBaselineSamples is how many samples a baseline needs before z-score
// detection activates. Below this only target breaches are reported.
const minBaselineSamples = 5

type baseline struct {
	samples []float64
}

func (b *baseline) add(v float64) {
	b.samples = append(b.samples, v)
	if len(b.samples) > maxBaselineSamples {
		b.samples = b.samples[1:]
	}
}

func (b *baseline) stats() (mean, stdDev float64) {
	n := float64(len(b.samples))
	if n == 0 {
		return 0, 0
	}
	for _, v := range b.samples {
		mean += v
	}
	mean /= n
	var variance float64
	for _, v := range b.samples {
		variance += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(variance / n)
}

// NewDetector creates a detector. sensitivity outside (0,1] selects 0.5;
// pollInterval <= 0 selects DefaultPollInterval.
func NewDetector(logger *zap.Logger, h *hub.Hub, bus *events.Bus, monitor *Monitor,
	collector adapters.MetricsCollector, sensitivity float64, pollInterval time.Duration) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sensitivity <= 0 || sensitivity > 1 {
		sensitivity = 0.5
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Detector{
		baselines:    make(map[string]*baseline),
		logger:       logger,
		hub:          h,
		bus:          bus,
		monitor:      monitor,
		collector:    collector,
		sensitivity:  sensitivity,
		pollInterval: pollInterval,
	}
}

// Run samples every open window until ctx is cancelled.
func (d *Detector) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	d.logger.Info("anomaly detector started",
		zap.Float64("sensitivity", d.sensitivity),
		zap.Duration("poll_interval", d.pollInterval))

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("anomaly detector stopped")
			return
		case <-ticker.C:
			if err := d.Sample(ctx); err != nil {
				d.logger.Error("anomaly sampling failed", zap.Error(err))
			}
		}
	}
}

// Sample collects one round of observations for every mission with an open
// window and publishes an anomaly event per breach. Baselines of missions
// whose windows have closed are dropped. Exported so tests can drive the
// detector without wall-clock sleeps.
func (d *Detector) Sample(ctx context.Context) error {
	active := d.monitor.ActiveWindows()
	d.prune(active)

	var firstErr error
	for _, id := range active {
		mi := d.hub.GetMission(id)
		if mi == nil || len(mi.Criteria.MetricTargets) == 0 {
			continue
		}
		obs, err := d.collector.Collect(ctx, mi.Criteria.MetricTargets)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("collecting metrics for %s: %w", id, err)
			}
			continue
		}
		for _, o := range obs {
			d.check(mi, o)
		}
	}
	return firstErr
}

// check classifies one observation and publishes on any breach.
func (d *Detector) check(mi *mission.Mission, o mission.MetricObservation) {
	for _, target := range mi.Criteria.MetricTargets {
		if target.MetricID != o.MetricID {
			continue
		}
		if !target.Compare.Holds(o.Value, target.Threshold) {
			d.publish(mi.ID, fmt.Sprintf("metric %s=%.4f violates target %s %.4f",
				o.MetricID, o.Value, target.Compare, target.Threshold))
		}
	}

	key := mi.ID + ":" + o.MetricID
	d.mu.Lock()
	b, ok := d.baselines[key]
	if !ok {
		b = &baseline{}
		d.baselines[key] = b
	}
	mean, stdDev := b.stats()
	count := len(b.samples)
	b.add(o.Value)
	d.mu.Unlock()

	if count < minBaselineSamples || stdDev == 0 {
		return
	}
	z := math.Abs((o.Value - mean) / stdDev)
	if z > d.zThreshold() {
		kind := "spike"
		if o.Value < mean {
			kind = "drop"
		}
		d.publish(mi.ID, fmt.Sprintf("metric %s %s: value %.4f is %.1f std deviations from baseline %.4f",
			o.MetricID, kind, o.Value, z, mean))
	}
}

// zThreshold maps sensitivity to a z-score cutoff: 1.0 -> 1.5 sigma,
// 0.0 -> 4.0 sigma.
func (d *Detector) zThreshold() float64 {
	return 4.0 - d.sensitivity*2.5
}

func (d *Detector) publish(missionID, description string) {
	d.logger.Warn("anomaly detected",
		zap.String("mission_id", missionID),
		zap.String("description", description))
	d.bus.Publish(events.Event{
		Topic:     "health.anomaly",
		MissionID: missionID,
		Payload:   map[string]any{"description": description},
	})
}

// prune drops baselines belonging to missions without an open window.
func (d *Detector) prune(active []string) {
	keep := make(map[string]struct{}, len(active))
	for _, id := range active {
		keep[id] = struct{}{}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for key := range d.baselines {
		missionID, _, _ := strings.Cut(key, ":")
		if _, ok := keep[missionID]; !ok {
			delete(d.baselines, key)
		}
	}
}
