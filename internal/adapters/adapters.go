package adapters

import (
	"context"
	"time"

	"github.com/kubilitics/mission-control/internal/mission"
)

// Package adapters defines the narrow interfaces through which mission
// control talks to its external collaborators: the environment state
// provider, version control, the sandbox test runners, metrics collection,
// governance, signing, consensus voting, and CAPA ticketing.
//
// The lifecycle engine depends only on these interfaces. Production wiring
// binds them to real services; tests bind in-memory fakes. None of the
// collaborators' internals are in scope here — only their contracts.

// DefaultTestTimeout is the hard per-test execution budget. A test exceeding
// it is recorded as failed with a timeout error, never left pending.
const DefaultTestTimeout = 300 * time.Second

// EnvironmentProvider reads the current environment snapshot. A failure here
// is fatal to mission creation: the system must not act on a world it cannot
// identify.
type EnvironmentProvider interface {
	GetEnvironment(ctx context.Context) (mission.ContextSnapshot, error)
}

// WorkspaceResult is the outcome of preparing a working change-set.
type WorkspaceResult struct {
	Branch    string `json:"branch"`
	BackupRev string `json:"backup_revision"`
}

// VersionControl applies and reverts proposed changes. The engine treats it
// as an opaque apply/revert capability; branching and patching mechanics are
// the adapter's business.
type VersionControl interface {
	// PrepareWorkspace creates a working branch with the mission's patches
	// applied and returns the backup revision to revert to on failure.
	PrepareWorkspace(ctx context.Context, branch string, patches []string) (WorkspaceResult, error)

	// Merge merges the prepared branch into the target branch.
	Merge(ctx context.Context, branch, target string) error

	// Revert restores the backup revision. Best effort: the engine logs a
	// revert error but does not let it mask the original failure.
	Revert(ctx context.Context, backupRev string) error
}

// TestRunner executes required tests in the sandbox. Implementations must
// enforce DefaultTestTimeout per test and convert a timeout into a failed
// TestResult rather than returning an engine-level error.
type TestRunner interface {
	RunTests(ctx context.Context, testIDs []string) ([]mission.TestResult, error)
}

// StressResult is the outcome of a stress suite run.
type StressResult struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// StressTester runs the stress suite against the sandboxed change.
type StressTester interface {
	RunStressSuite(ctx context.Context) (StressResult, error)
}

// MetricsCollector samples the metrics named by the mission's targets.
type MetricsCollector interface {
	Collect(ctx context.Context, targets []mission.MetricTarget) ([]mission.MetricObservation, error)
}

// Decision is a governance verdict.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// GovernanceResult carries a governance decision and its rationale.
type GovernanceResult struct {
	Decision Decision `json:"decision"`
	Reason   string   `json:"reason,omitempty"`
}

// Governance checks whether an actor may perform an action on a resource.
// Callers must treat any adapter error as an implicit deny (fail closed).
type Governance interface {
	Check(ctx context.Context, actor, action, resource string, payload map[string]any) (GovernanceResult, error)
}

// SignedMessage is an opaque signed payload.
type SignedMessage struct {
	ComponentID string `json:"component_id"`
	Payload     []byte `json:"payload"`
	Signature   []byte `json:"signature"`
}

// Signer provides the sign/verify primitives. Key management and algorithms
// live behind this interface.
type Signer interface {
	Sign(ctx context.Context, componentID string, payload []byte) (SignedMessage, error)
	Verify(ctx context.Context, msg SignedMessage) (bool, error)
}

// ConsensusDecision is the resolved outcome of a voting session.
type ConsensusDecision struct {
	SessionID string `json:"session_id"`
	Resolved  bool   `json:"resolved"`
	Approved  bool   `json:"approved"`
	Approver  string `json:"approver,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Consensus opens human-in-the-loop voting sessions and reports their
// outcome. The decision is supplied asynchronously by an external actor;
// Decision returns Resolved=false until then.
type Consensus interface {
	CreateSession(ctx context.Context, missionID, summary string) (string, error)
	Decision(ctx context.Context, sessionID string) (ConsensusDecision, error)
}

// Ticketing opens follow-up CAPA tickets when a mission escalates.
type Ticketing interface {
	OpenCAPATicket(ctx context.Context, missionID string, anomalies []string) (string, error)
}
