package trust

import (
	"context"
	"fmt"

	"github.com/kubilitics/mission-control/internal/mission"
)

// ComponentFunc supplies one normalized [0,1] trust component for a mission.
type ComponentFunc func(ctx context.Context, m *mission.Mission) (float64, error)

// CompositeSource assembles the four components from injected functions.
// Each deployment binds these to its real engines; none of them may be a
// constant. A failing component fails the whole source, and callers score
// zero — the gate fails closed.
type CompositeSource struct {
	KPI            ComponentFunc
	Governance     ComponentFunc
	Constitutional ComponentFunc
	Security       ComponentFunc
}

// Components queries all four component functions.
func (s CompositeSource) Components(ctx context.Context, m *mission.Mission) (Components, error) {
	var (
		c   Components
		err error
	)
	if c.KPI, err = s.KPI(ctx, m); err != nil {
		return Components{}, fmt.Errorf("kpi component: %w", err)
	}
	if c.Governance, err = s.Governance(ctx, m); err != nil {
		return Components{}, fmt.Errorf("governance component: %w", err)
	}
	if c.Constitutional, err = s.Constitutional(ctx, m); err != nil {
		return Components{}, fmt.Errorf("constitutional component: %w", err)
	}
	if c.Security, err = s.Security(ctx, m); err != nil {
		return Components{}, fmt.Errorf("security component: %w", err)
	}
	return c, nil
}

// EvidenceKPI derives the KPI component from the mission's own evidence: the
// fraction of declared metric targets currently satisfied by the latest
// observation. A mission with no metric targets scores 1 on this axis — its
// KPI obligations are vacuous, and the required-test axis still applies.
func EvidenceKPI(_ context.Context, m *mission.Mission) (float64, error) {
	targets := m.Criteria.MetricTargets
	if len(targets) == 0 {
		return 1.0, nil
	}
	met := 0
	for _, t := range targets {
		for i := len(m.Evidence.Metrics) - 1; i >= 0; i-- {
			o := m.Evidence.Metrics[i]
			if o.MetricID == t.MetricID {
				if t.Compare.Holds(o.Value, t.Threshold) {
					met++
				}
				break
			}
		}
	}
	return float64(met) / float64(len(targets)), nil
}

// EvidenceTestDiscipline derives a component from test evidence: the
// fraction of required tests with a passing result on record. No required
// tests means no demonstrated discipline either way; score a conservative 0
// so an evidence-free mission cannot clear the live-execution gate on this
// axis alone.
func EvidenceTestDiscipline(_ context.Context, m *mission.Mission) (float64, error) {
	required := m.Criteria.MustPassTests
	if len(required) == 0 {
		if len(m.Evidence.TestResults) == 0 {
			return 0, nil
		}
		passed := 0
		for _, r := range m.Evidence.TestResults {
			if r.Passed {
				passed++
			}
		}
		return float64(passed) / float64(len(m.Evidence.TestResults)), nil
	}
	latest := make(map[string]bool, len(m.Evidence.TestResults))
	for _, r := range m.Evidence.TestResults {
		latest[r.TestID] = r.Passed
	}
	passed := 0
	for _, id := range required {
		if latest[id] {
			passed++
		}
	}
	return float64(passed) / float64(len(required)), nil
}
