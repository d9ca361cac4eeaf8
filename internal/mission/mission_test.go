package mission

import (
	"testing"
	"time"
)

func TestNewMission_InitialStatus(t *testing.T) {
	m := NewMission("payments", SeverityHigh, ContextSnapshot{Revision: "abc123"}, false)
	if m.Status != StatusOpen {
		t.Errorf("operator mission should start OPEN, got %s", m.Status)
	}
	if m.ID == "" {
		t.Error("mission should get a generated id")
	}
	if m.Tags == nil {
		t.Error("tags map should be initialized")
	}

	auto := NewMission("payments", SeverityHigh, ContextSnapshot{}, true)
	if auto.Status != StatusDetected {
		t.Errorf("autonomous mission should start DETECTED, got %s", auto.Status)
	}
	if !auto.Autonomous {
		t.Error("autonomous flag should be set")
	}
}

func TestAddRemediationEvent_AppendOnly(t *testing.T) {
	m := NewMission("db", SeverityLow, ContextSnapshot{}, false)
	before := m.UpdatedAt

	m.AddRemediationEvent("agent-1", "operator", "claim", "claimed", true, "")
	m.AddRemediationEvent("agent-1", "operator", "merge", "failed", false, "conflict")

	if len(m.RemediationHistory) != 2 {
		t.Fatalf("history length = %d, want 2", len(m.RemediationHistory))
	}
	if m.RemediationHistory[0].Action != "claim" || m.RemediationHistory[1].Action != "merge" {
		t.Error("events must be appended in order")
	}
	if !m.RemediationHistory[1].Timestamp.Equal(m.RemediationHistory[0].Timestamp) &&
		m.RemediationHistory[1].Timestamp.Before(m.RemediationHistory[0].Timestamp) {
		t.Error("later event must not be timestamped before an earlier one")
	}
	if m.UpdatedAt.Before(before) {
		t.Error("UpdatedAt should be stamped by appending")
	}
}

func TestMarkResolved_SetsResolvedAt(t *testing.T) {
	m := NewMission("db", SeverityMedium, ContextSnapshot{}, false)
	if m.ResolvedAt != nil {
		t.Fatal("ResolvedAt should be nil before resolution")
	}
	m.MarkResolved()
	if m.Status != StatusResolved {
		t.Errorf("status = %s, want RESOLVED", m.Status)
	}
	if m.ResolvedAt == nil {
		t.Fatal("ResolvedAt should be set on resolution")
	}
}

func TestClone_IsDeep(t *testing.T) {
	m := NewMission("db", SeverityCritical, ContextSnapshot{Revision: "r1"}, false)
	m.Patches = []string{"p1.patch"}
	m.Criteria.MustPassTests = []string{"t1"}
	m.Tags["k"] = "v"
	m.AddRemediationEvent("a", "r", "act", "res", true, "")
	m.RecordTestResults([]TestResult{{TestID: "t1", Passed: true}})

	c := m.Clone()
	c.Patches[0] = "mutated"
	c.Criteria.MustPassTests[0] = "mutated"
	c.Tags["k"] = "mutated"
	c.RemediationHistory[0].Action = "mutated"
	c.Evidence.TestResults[0].Passed = false

	if m.Patches[0] != "p1.patch" || m.Criteria.MustPassTests[0] != "t1" ||
		m.Tags["k"] != "v" || m.RemediationHistory[0].Action != "act" ||
		!m.Evidence.TestResults[0].Passed {
		t.Error("mutating a clone must not affect the original")
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := []Status{StatusResolved, StatusFailed, StatusEscalated, StatusComplete}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	active := []Status{StatusOpen, StatusInProgress, StatusAwaitingValidation, StatusObserving,
		StatusDetected, StatusSandboxTesting, StatusDiscussion, StatusConsensus,
		StatusLiveExecution, StatusMonitoring}
	for _, s := range active {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestSeverityOrderingAndParse(t *testing.T) {
	if !(SeverityCritical > SeverityHigh && SeverityHigh > SeverityMedium && SeverityMedium > SeverityLow) {
		t.Error("severity ordering must be CRITICAL > HIGH > MEDIUM > LOW")
	}
	for _, s := range []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical} {
		if ParseSeverity(s.String()) != s {
			t.Errorf("ParseSeverity(%q) did not round-trip", s.String())
		}
	}
	if ParseSeverity("nonsense") != SeverityLow {
		t.Error("unknown severity should map to LOW")
	}
}

func TestObservationWindowElapsed(t *testing.T) {
	start := time.Now().UTC()
	w := ObservationWindow{Start: start, End: start.Add(time.Hour)}
	if w.Elapsed(start.Add(30 * time.Minute)) {
		t.Error("window should not be elapsed midway")
	}
	if !w.Elapsed(start.Add(61 * time.Minute)) {
		t.Error("window should be elapsed after its end")
	}
}
