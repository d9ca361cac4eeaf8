package mission

import (
	"time"
)

// Package mission defines the core data types of the mission-control layer.
//
// A Mission is the unit of proposed change tracked end-to-end: from detection,
// through sandbox testing and governance gates, to live execution and a
// post-deployment observation window. The mission record carries:
//   - Classification (target subsystem, severity)
//   - Lifecycle state and timestamps
//   - An immutable environment snapshot taken at creation time
//   - Symptoms (the problem statement) and Evidence (what was observed)
//   - Acceptance criteria and trust/governance requirements
//   - An append-only remediation history, which is the mission's audit trail
//
// Missions are created by the hub, owned thereafter by the lifecycle engine,
// and never deleted — terminal missions remain queryable.

// Severity is the ordinal priority of a mission. Higher is more urgent.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the wire representation used in JSON and logs.
func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "CRITICAL"
	case SeverityHigh:
		return "HIGH"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityLow:
		return "LOW"
	}
	return "UNKNOWN"
}

// ParseSeverity converts a wire string back to a Severity. Unknown input maps
// to SeverityLow so a malformed record sorts last rather than first.
func ParseSeverity(s string) Severity {
	switch s {
	case "CRITICAL":
		return SeverityCritical
	case "HIGH":
		return SeverityHigh
	case "MEDIUM":
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Status is the lifecycle state of a mission.
type Status string

const (
	// Pipeline states (operator-created missions).
	StatusOpen               Status = "OPEN"
	StatusInProgress         Status = "IN_PROGRESS"
	StatusAwaitingValidation Status = "AWAITING_VALIDATION"
	StatusObserving          Status = "OBSERVING"
	StatusResolved           Status = "RESOLVED"
	StatusEscalated          Status = "ESCALATED"
	StatusFailed             Status = "FAILED"

	// Autonomous pre-stage states (system-created missions).
	StatusDetected       Status = "DETECTED"
	StatusSandboxTesting Status = "SANDBOX_TESTING"
	StatusDiscussion     Status = "DISCUSSION"
	StatusConsensus      Status = "CONSENSUS"
	StatusLiveExecution  Status = "LIVE_EXECUTION"
	StatusMonitoring     Status = "MONITORING"
	StatusComplete       Status = "COMPLETE"
)

// Terminal reports whether a mission in this status accepts further mutation.
// ESCALATED is semi-terminal: it spawns a CAPA child but never re-enters the
// pipeline, so it counts as terminal here.
func (s Status) Terminal() bool {
	switch s {
	case StatusResolved, StatusFailed, StatusEscalated, StatusComplete:
		return true
	}
	return false
}

// ContextSnapshot captures the environment identifiers at mission creation.
// Immutable once set; used to detect that the world moved under the mission.
type ContextSnapshot struct {
	Revision          string `json:"revision"`
	ConfigFingerprint string `json:"config_fingerprint"`
	EnvironmentName   string `json:"environment_name"`
}

// Symptom is one observed problem that motivated the mission.
type Symptom struct {
	Description   string  `json:"description"`
	MetricID      string  `json:"metric_id,omitempty"`
	ObservedValue float64 `json:"observed_value,omitempty"`
	Threshold     float64 `json:"threshold,omitempty"`
}

// TestResult is the immutable record of one test execution.
type TestResult struct {
	TestID   string        `json:"test_id"`
	Passed   bool          `json:"passed"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// MetricObservation is the immutable record of one metric sample.
type MetricObservation struct {
	MetricID  string            `json:"metric_id"`
	Value     float64           `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
	Unit      string            `json:"unit,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// Comparator is the relation a MetricTarget applies to an observation.
type Comparator string

const (
	CompareLT Comparator = "<"
	CompareLE Comparator = "<="
	CompareGT Comparator = ">"
	CompareGE Comparator = ">="
	CompareEQ Comparator = "=="
	CompareNE Comparator = "!="
)

// MetricTarget is a declarative acceptance target for one metric.
// Immutable after mission creation.
type MetricTarget struct {
	MetricID  string        `json:"metric_id"`
	Compare   Comparator    `json:"comparator"`
	Threshold float64       `json:"threshold"`
	Window    time.Duration `json:"window"`
}

// Evidence is the bundle of observations accumulated while a mission runs.
type Evidence struct {
	TestResults     []TestResult        `json:"test_results,omitempty"`
	Metrics         []MetricObservation `json:"metrics_snapshot,omitempty"`
	DiagnosticRefs  []string            `json:"diagnostic_refs,omitempty"`
}

// AcceptanceCriteria declares what a mission must demonstrate to resolve.
type AcceptanceCriteria struct {
	MustPassTests         []string       `json:"must_pass_tests,omitempty"`
	MetricTargets         []MetricTarget `json:"metric_targets,omitempty"`
	ObservationWindow     time.Duration  `json:"observation_window"`
	MaxRetries            int            `json:"max_retries"`
	RequiresHumanApproval bool           `json:"requires_human_approval"`
}

// TrustRequirements govern who may act on a mission and how it may execute.
type TrustRequirements struct {
	RequiredTrustScore         float64  `json:"required_trust_score"`
	AllowedRoles               []string `json:"allowed_roles,omitempty"`
	RequiresGovernanceApproval bool     `json:"requires_governance_approval"`
	RequiresSignature          bool     `json:"requires_signature"`
}

// RemediationEvent is one entry in the mission's append-only audit trail.
// Events are never edited or removed once appended.
type RemediationEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Role      string    `json:"role"`
	Action    string    `json:"action"`
	Result    string    `json:"result"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// Mission is the central entity tracked by mission control.
type Mission struct {
	ID        string   `json:"id"`
	Subsystem string   `json:"subsystem"`
	Severity  Severity `json:"severity"`
	Status    Status   `json:"status"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`

	Context  ContextSnapshot `json:"context"`
	Symptoms []Symptom       `json:"symptoms,omitempty"`
	Evidence Evidence        `json:"evidence"`

	// Patches are opaque references to the proposed change-set, handed to
	// the version-control adapter when the workspace is prepared.
	Patches []string `json:"patches,omitempty"`

	Criteria AcceptanceCriteria `json:"acceptance_criteria"`
	Trust    TrustRequirements  `json:"trust_requirements"`

	RemediationHistory []RemediationEvent `json:"remediation_history,omitempty"`

	// Autonomous missions are created by the system itself and must pass an
	// explicit human consensus step before live execution.
	Autonomous bool `json:"autonomous,omitempty"`

	ParentMissionID string            `json:"parent_mission_id,omitempty"`
	ChildMissionIDs []string          `json:"child_mission_ids,omitempty"`
	Tags            map[string]string `json:"tags,omitempty"`
}

// ObservationWindow tracks one mission's post-deployment monitoring period.
// Ephemeral: created when a mission enters OBSERVING, discarded once resolved.
type ObservationWindow struct {
	MissionID string    `json:"mission_id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Anomalies []string  `json:"anomalies,omitempty"`
	BackupRev string    `json:"backup_revision,omitempty"`
}

// Elapsed reports whether the window has passed at the given instant.
func (w *ObservationWindow) Elapsed(now time.Time) bool {
	return !now.Before(w.End)
}
