package mission

import (
	"time"

	"github.com/google/uuid"
)

// NewMission constructs a mission in its initial state. Operator-created
// missions start OPEN; autonomous missions start DETECTED and carry the extra
// consensus obligation.
func NewMission(subsystem string, severity Severity, snapshot ContextSnapshot, autonomous bool) *Mission {
	now := time.Now().UTC()
	status := StatusOpen
	if autonomous {
		status = StatusDetected
	}
	return &Mission{
		ID:         uuid.NewString(),
		Subsystem:  subsystem,
		Severity:   severity,
		Status:     status,
		CreatedAt:  now,
		UpdatedAt:  now,
		Context:    snapshot,
		Autonomous: autonomous,
		Tags:       make(map[string]string),
	}
}

// AddRemediationEvent appends one event to the mission's history and stamps
// UpdatedAt. Pure append: it never fails and never modifies prior entries.
func (m *Mission) AddRemediationEvent(actor, role, action, result string, success bool, errMsg string) {
	m.RemediationHistory = append(m.RemediationHistory, RemediationEvent{
		Timestamp: time.Now().UTC(),
		Actor:     actor,
		Role:      role,
		Action:    action,
		Result:    result,
		Success:   success,
		Error:     errMsg,
	})
	m.UpdatedAt = time.Now().UTC()
}

// RecordTestResults appends test results to the evidence bundle.
func (m *Mission) RecordTestResults(results []TestResult) {
	m.Evidence.TestResults = append(m.Evidence.TestResults, results...)
	m.UpdatedAt = time.Now().UTC()
}

// RecordMetrics appends metric observations to the evidence bundle.
func (m *Mission) RecordMetrics(obs []MetricObservation) {
	m.Evidence.Metrics = append(m.Evidence.Metrics, obs...)
	m.UpdatedAt = time.Now().UTC()
}

// EvaluateAcceptanceCriteria reports whether the supplied evidence satisfies
// this mission's declared criteria. Convenience wrapper over Evaluate.
func (m *Mission) EvaluateAcceptanceCriteria(results []TestResult, obs []MetricObservation) bool {
	return Evaluate(m.Criteria, results, obs)
}

// MarkResolved transitions bookkeeping for a resolved mission: ResolvedAt is
// set if and only if the mission reaches RESOLVED.
func (m *Mission) MarkResolved() {
	now := time.Now().UTC()
	m.Status = StatusResolved
	m.ResolvedAt = &now
	m.UpdatedAt = now
}

// Clone returns a deep copy of the mission. The hub hands out clones so
// callers cannot mutate stored state without going through UpdateMission.
func (m *Mission) Clone() *Mission {
	c := *m
	c.Symptoms = append([]Symptom(nil), m.Symptoms...)
	c.Evidence = Evidence{
		TestResults:    append([]TestResult(nil), m.Evidence.TestResults...),
		Metrics:        append([]MetricObservation(nil), m.Evidence.Metrics...),
		DiagnosticRefs: append([]string(nil), m.Evidence.DiagnosticRefs...),
	}
	c.Patches = append([]string(nil), m.Patches...)
	c.Criteria.MustPassTests = append([]string(nil), m.Criteria.MustPassTests...)
	c.Criteria.MetricTargets = append([]MetricTarget(nil), m.Criteria.MetricTargets...)
	c.Trust.AllowedRoles = append([]string(nil), m.Trust.AllowedRoles...)
	c.RemediationHistory = append([]RemediationEvent(nil), m.RemediationHistory...)
	c.ChildMissionIDs = append([]string(nil), m.ChildMissionIDs...)
	if m.ResolvedAt != nil {
		t := *m.ResolvedAt
		c.ResolvedAt = &t
	}
	c.Tags = make(map[string]string, len(m.Tags))
	for k, v := range m.Tags {
		c.Tags[k] = v
	}
	return &c
}
