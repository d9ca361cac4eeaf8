package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kubilitics/mission-control/internal/adapters"
	"github.com/kubilitics/mission-control/internal/audit"
	"github.com/kubilitics/mission-control/internal/events"
	"github.com/kubilitics/mission-control/internal/hub"
	"github.com/kubilitics/mission-control/internal/metrics"
	"github.com/kubilitics/mission-control/internal/mission"
	"github.com/kubilitics/mission-control/internal/observe"
	"github.com/kubilitics/mission-control/internal/trust"
)

// Package lifecycle implements the mission state machine and its stage
// pipeline. The engine owns every status transition: it calls the criteria
// evaluator and trust gate at the right checkpoints, records each step in the
// mission's remediation history and the immutable audit log, and converts
// stage failures into rollback + FAILED rather than letting them propagate.
//
// Failure policy (mirrors the system error taxonomy):
//   - fetch-context and prepare-workspace failures are fatal to the mission
//     but need no rollback: nothing was applied yet.
//   - failures after the change is applied (test failure, stress failure,
//     criteria not met, governance denial, merge failure) revert to the
//     backup revision, then fail the mission.
//   - ExecuteMission returns a Result for every mission-level failure; the
//     only error it propagates is an audit append failure, because the system
//     must not keep operating without its audit trail.

// Stage names, recorded in remediation history and failure results.
const (
	StageTrustGate          = "trust_gate"
	StageFetchContext       = "fetch_context"
	StagePrepareWorkspace   = "prepare_workspace"
	StageApplyAndVerify     = "apply_and_verify"
	StageEvaluateAcceptance = "evaluate_acceptance"
	StageGovernance         = "governance_approval"
	StageMerge              = "merge"
	StageObservation        = "start_observation"
)

// ErrInvalidTransition marks an attempt to run a stage on a mission that is
// not in the expected preceding state. A domain error, never a silent no-op.
var ErrInvalidTransition = errors.New("invalid mission transition")

// validTransitions enumerates every legal status edge. Anything absent here
// is illegal.
var validTransitions = map[mission.Status][]mission.Status{
	mission.StatusOpen:               {mission.StatusInProgress, mission.StatusFailed},
	mission.StatusInProgress:         {mission.StatusOpen, mission.StatusAwaitingValidation, mission.StatusObserving, mission.StatusEscalated, mission.StatusFailed},
	mission.StatusAwaitingValidation: {mission.StatusObserving, mission.StatusFailed},
	mission.StatusObserving:          {mission.StatusResolved, mission.StatusEscalated, mission.StatusFailed},

	mission.StatusDetected:       {mission.StatusSandboxTesting, mission.StatusFailed},
	mission.StatusSandboxTesting: {mission.StatusDiscussion, mission.StatusFailed},
	mission.StatusDiscussion:     {mission.StatusConsensus, mission.StatusFailed},
	mission.StatusConsensus:      {mission.StatusLiveExecution, mission.StatusComplete, mission.StatusFailed},
	mission.StatusLiveExecution:  {mission.StatusMonitoring, mission.StatusFailed},
	mission.StatusMonitoring:     {mission.StatusComplete, mission.StatusEscalated, mission.StatusFailed},
}

// CanTransition reports whether from -> to is a legal status edge.
func CanTransition(from, to mission.Status) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Result is the structured outcome of a pipeline run. Success=false carries
// the failing stage and error text; it is a value, not a Go error, because a
// failed mission is a handled condition, not a broken engine.
type Result struct {
	Success   bool           `json:"success"`
	MissionID string         `json:"mission_id"`
	Stage     string         `json:"stage,omitempty"`
	Error     string         `json:"error,omitempty"`
	Status    mission.Status `json:"status"`
}

// Adapters bundles the external collaborators the engine drives.
type Adapters struct {
	Env        adapters.EnvironmentProvider
	VCS        adapters.VersionControl
	Tests      adapters.TestRunner
	Stress     adapters.StressTester
	Metrics    adapters.MetricsCollector
	Governance adapters.Governance
	Signer     adapters.Signer
	Consensus  adapters.Consensus
}

// Engine is the mission lifecycle engine. Construct one per process and pass
// it by reference; it holds no global state.
type Engine struct {
	logger  *zap.Logger
	hub     *hub.Hub
	bus     *events.Bus
	auditL  audit.Logger
	monitor *observe.Monitor
	ext     Adapters

	trustSource trust.ComponentSource

	// targetBranch is where merged change-sets land.
	targetBranch string
}

// NewEngine wires the lifecycle engine.
func NewEngine(logger *zap.Logger, h *hub.Hub, bus *events.Bus, auditLogger audit.Logger,
	monitor *observe.Monitor, ext Adapters, trustSource trust.ComponentSource) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		logger:       logger,
		hub:          h,
		bus:          bus,
		auditL:       auditLogger,
		monitor:      monitor,
		ext:          ext,
		trustSource:  trustSource,
		targetBranch: "main",
	}
}

// SetTargetBranch overrides the branch merged change-sets land on.
func (e *Engine) SetTargetBranch(branch string) {
	if branch != "" {
		e.targetBranch = branch
	}
}

// ExecuteMission runs the pipeline for a claimed (IN_PROGRESS) mission on
// behalf of the given agent. It returns a Result for mission-level failures;
// the returned error is non-nil only for domain misuse (unknown mission,
// wrong state) or audit unavailability.
func (e *Engine) ExecuteMission(ctx context.Context, missionID, agentID, agentRole string, agentTrust float64) (Result, error) {
	m := e.hub.GetMission(missionID)
	if m == nil {
		return Result{}, fmt.Errorf("%w: %s", hub.ErrMissionNotFound, missionID)
	}
	if m.Status != mission.StatusInProgress {
		return Result{}, fmt.Errorf("%w: execute requires IN_PROGRESS, mission %s is %s",
			ErrInvalidTransition, missionID, m.Status)
	}

	// Re-check the agent gate at execution time. Assignment already gated,
	// but trust scores are dynamic and the check must fail closed.
	if !trust.CanAgentExecute(m.Trust, agentRole, agentTrust) {
		metrics.TrustGateDenials.WithLabelValues("agent_execution").Inc()
		// Release the claim: the IN_PROGRESS -> OPEN edge in the table above.
		m.Status = mission.StatusOpen
		m.AddRemediationEvent(agentID, agentRole, StageTrustGate,
			"agent denied by trust gate, mission released", false, "trust gate denied")
		if err := e.hub.UpdateMission(ctx, missionID, m); err != nil {
			return Result{}, err
		}
		if err := e.auditL.Append(ctx, audit.NewEvent(audit.EventTrustGateDenied).
			WithCorrelationID(missionID).
			WithActor(agentID, agentRole).
			WithResource(missionID, m.Subsystem).
			WithResult(audit.ResultDenied).
			WithDescription("agent execution denied by trust gate")); err != nil {
			return Result{}, err
		}
		return Result{Success: false, MissionID: missionID, Stage: StageTrustGate,
			Error: "trust gate denied", Status: mission.StatusOpen}, nil
	}

	// Stage 1: fetch context. Fatal on failure, no rollback needed.
	snapshot, err := e.ext.Env.GetEnvironment(ctx)
	if err != nil {
		return e.failFatal(ctx, m, agentID, agentRole, StageFetchContext,
			fmt.Errorf("environment snapshot unavailable: %w", err))
	}
	if m.Context.Revision != "" && snapshot.Revision != m.Context.Revision {
		// The world moved since this mission was created; proceeding would
		// apply a change reasoned about against a stale environment.
		return e.failFatal(ctx, m, agentID, agentRole, StageFetchContext,
			fmt.Errorf("environment drift: mission snapshot %s, current %s",
				m.Context.Revision, snapshot.Revision))
	}
	m.AddRemediationEvent(agentID, agentRole, StageFetchContext,
		fmt.Sprintf("environment %s at revision %s", snapshot.EnvironmentName, snapshot.Revision), true, "")

	// Stage 2: prepare workspace. Fatal on failure, nothing applied yet.
	branch := "mission/" + m.ID
	workspace, err := e.ext.VCS.PrepareWorkspace(ctx, branch, m.Patches)
	if err != nil {
		return e.failFatal(ctx, m, agentID, agentRole, StagePrepareWorkspace,
			fmt.Errorf("workspace preparation failed: %w", err))
	}
	m.AddRemediationEvent(agentID, agentRole, StagePrepareWorkspace,
		fmt.Sprintf("workspace prepared on %s, backup %s", workspace.Branch, workspace.BackupRev), true, "")

	// Stage 3: apply & verify. From here on failures roll back.
	if res, done, err := e.applyAndVerify(ctx, m, agentID, agentRole, workspace); done {
		return res, err
	}

	// Stage 4: evaluate acceptance.
	if res, done, err := e.evaluateAcceptance(ctx, m, agentID, agentRole, workspace); done {
		return res, err
	}

	// Stage 5: governance approval.
	if res, done, err := e.governanceApproval(ctx, m, agentID, agentRole, workspace); done {
		return res, err
	}

	// Optional human validation gate: pause before merge + observation.
	if m.Criteria.RequiresHumanApproval {
		m.Status = mission.StatusAwaitingValidation
		m.Tags["pending_branch"] = workspace.Branch
		m.Tags["pending_backup"] = workspace.BackupRev
		m.AddRemediationEvent(agentID, agentRole, StageGovernance,
			"awaiting human validation before merge", true, "")
		if err := e.hub.UpdateMission(ctx, m.ID, m); err != nil {
			return Result{}, err
		}
		e.bus.Publish(events.Event{Topic: "mission.awaiting_validation", MissionID: m.ID})
		return Result{Success: true, MissionID: m.ID, Status: mission.StatusAwaitingValidation}, nil
	}

	return e.mergeAndObserve(ctx, m, agentID, agentRole, workspace.Branch, workspace.BackupRev)
}

// ApproveValidation resumes a mission paused in AWAITING_VALIDATION: the
// approver's sign-off is recorded and the merge + observation stages run.
func (e *Engine) ApproveValidation(ctx context.Context, missionID, approver string) (Result, error) {
	m := e.hub.GetMission(missionID)
	if m == nil {
		return Result{}, fmt.Errorf("%w: %s", hub.ErrMissionNotFound, missionID)
	}
	if m.Status != mission.StatusAwaitingValidation {
		return Result{}, fmt.Errorf("%w: approve requires AWAITING_VALIDATION, mission %s is %s",
			ErrInvalidTransition, missionID, m.Status)
	}
	m.AddRemediationEvent(approver, "human", "validation_approved", "human validation granted", true, "")
	return e.mergeAndObserve(ctx, m, approver, "human", m.Tags["pending_branch"], m.Tags["pending_backup"])
}

// applyAndVerify runs required tests and the stress suite against the
// sandboxed change. done=true means the pipeline ends here (failure).
func (e *Engine) applyAndVerify(ctx context.Context, m *mission.Mission, agentID, agentRole string,
	workspace adapters.WorkspaceResult) (Result, bool, error) {
	started := time.Now()

	results, err := e.ext.Tests.RunTests(ctx, m.Criteria.MustPassTests)
	if err != nil {
		res, aerr := e.failWithRollback(ctx, m, agentID, agentRole, StageApplyAndVerify,
			fmt.Errorf("test execution failed: %w", err), workspace.BackupRev)
		return res, true, aerr
	}
	m.RecordTestResults(results)

	for _, r := range results {
		if !r.Passed {
			res, aerr := e.failWithRollback(ctx, m, agentID, agentRole, StageApplyAndVerify,
				fmt.Errorf("required test %s failed: %s", r.TestID, r.Error), workspace.BackupRev)
			return res, true, aerr
		}
	}

	stress, err := e.ext.Stress.RunStressSuite(ctx)
	if err != nil || !stress.Success {
		reason := stress.Error
		if err != nil {
			reason = err.Error()
		}
		res, aerr := e.failWithRollback(ctx, m, agentID, agentRole, StageApplyAndVerify,
			fmt.Errorf("stress suite failed: %s", reason), workspace.BackupRev)
		return res, true, aerr
	}

	metrics.StageDuration.WithLabelValues(StageApplyAndVerify).Observe(time.Since(started).Seconds())
	m.AddRemediationEvent(agentID, agentRole, StageApplyAndVerify,
		fmt.Sprintf("%d tests passed, stress suite %s", len(results), stress.Status), true, "")
	return Result{}, false, nil
}

// evaluateAcceptance collects metric observations and runs the criteria
// evaluator over all evidence collected so far.
func (e *Engine) evaluateAcceptance(ctx context.Context, m *mission.Mission, agentID, agentRole string,
	workspace adapters.WorkspaceResult) (Result, bool, error) {
	started := time.Now()

	obs, err := e.ext.Metrics.Collect(ctx, m.Criteria.MetricTargets)
	if err != nil {
		res, aerr := e.failWithRollback(ctx, m, agentID, agentRole, StageEvaluateAcceptance,
			fmt.Errorf("metric collection failed: %w", err), workspace.BackupRev)
		return res, true, aerr
	}
	m.RecordMetrics(obs)

	if !m.EvaluateAcceptanceCriteria(m.Evidence.TestResults, m.Evidence.Metrics) {
		res, aerr := e.failWithRollback(ctx, m, agentID, agentRole, StageEvaluateAcceptance,
			errors.New("acceptance criteria not met"), workspace.BackupRev)
		return res, true, aerr
	}

	metrics.StageDuration.WithLabelValues(StageEvaluateAcceptance).Observe(time.Since(started).Seconds())
	m.AddRemediationEvent(agentID, agentRole, StageEvaluateAcceptance, "acceptance criteria met", true, "")
	return Result{}, false, nil
}

// governanceApproval consults the governance adapter when the mission
// requires it. Adapter errors are an implicit deny.
func (e *Engine) governanceApproval(ctx context.Context, m *mission.Mission, agentID, agentRole string,
	workspace adapters.WorkspaceResult) (Result, bool, error) {
	if !m.Trust.RequiresGovernanceApproval {
		return Result{}, false, nil
	}

	// The resource path carries the subsystem and the payload carries the
	// actor's role and test outcome, so rule engines can match on them.
	verdict, err := e.ext.Governance.Check(ctx, agentID, "merge", m.Subsystem+"/"+m.ID, map[string]any{
		"role":         agentRole,
		"tests_passed": requiredTestsPassed(m),
		"severity":     m.Severity.String(),
		"branch":       workspace.Branch,
	})
	if err != nil {
		// Fail closed: an unreachable governance engine denies.
		verdict = adapters.GovernanceResult{Decision: adapters.DecisionDeny,
			Reason: fmt.Sprintf("governance adapter error: %v", err)}
	}
	metrics.GovernanceDecisions.WithLabelValues(string(verdict.Decision)).Inc()

	if verdict.Decision != adapters.DecisionAllow {
		if aerr := e.auditL.Append(ctx, audit.NewEvent(audit.EventGovernanceDenied).
			WithCorrelationID(m.ID).
			WithActor(agentID, agentRole).
			WithResource(m.ID, m.Subsystem).
			WithResult(audit.ResultDenied).
			WithDescription(verdict.Reason)); aerr != nil {
			return Result{}, true, aerr
		}
		res, aerr := e.failWithRollback(ctx, m, agentID, agentRole, StageGovernance,
			fmt.Errorf("governance denied: %s", verdict.Reason), workspace.BackupRev)
		return res, true, aerr
	}

	m.AddRemediationEvent(agentID, agentRole, StageGovernance, "governance approval granted", true, "")
	if aerr := e.auditL.Append(ctx, audit.NewEvent(audit.EventGovernanceChecked).
		WithCorrelationID(m.ID).
		WithActor(agentID, agentRole).
		WithResource(m.ID, m.Subsystem).
		WithResult(audit.ResultSuccess).
		WithDescription("governance approval granted")); aerr != nil {
		return Result{}, true, aerr
	}
	return Result{}, false, nil
}

// requiredTestsPassed reports whether every required test has a passing
// result in the mission's evidence. Last result wins for a re-run test.
func requiredTestsPassed(m *mission.Mission) bool {
	passed := make(map[string]bool, len(m.Evidence.TestResults))
	for _, r := range m.Evidence.TestResults {
		passed[r.TestID] = r.Passed
	}
	for _, id := range m.Criteria.MustPassTests {
		if !passed[id] {
			return false
		}
	}
	return true
}

// mergeAndObserve merges the prepared branch and opens the observation
// window. The pipeline returns control here: observation does not block.
func (e *Engine) mergeAndObserve(ctx context.Context, m *mission.Mission, actor, role, branch, backupRev string) (Result, error) {
	if err := e.ext.VCS.Merge(ctx, branch, e.targetBranch); err != nil {
		return e.failWithRollback(ctx, m, actor, role, StageMerge,
			fmt.Errorf("merge failed: %w", err), backupRev)
	}
	m.AddRemediationEvent(actor, role, StageMerge,
		fmt.Sprintf("merged %s into %s", branch, e.targetBranch), true, "")

	m.Status = mission.StatusObserving
	m.AddRemediationEvent(actor, role, StageObservation,
		fmt.Sprintf("observation window opened for %s", m.Criteria.ObservationWindow), true, "")
	if err := e.hub.UpdateMission(ctx, m.ID, m); err != nil {
		return Result{}, err
	}
	e.monitor.Open(m.ID, m.Criteria.ObservationWindow, backupRev)

	if err := e.auditL.Append(ctx, audit.NewEvent(audit.EventWindowOpened).
		WithCorrelationID(m.ID).
		WithActor(actor, role).
		WithResource(m.ID, m.Subsystem).
		WithResult(audit.ResultSuccess).
		WithDescription("change merged, observation window opened")); err != nil {
		return Result{}, err
	}

	e.bus.Publish(events.Event{Topic: "mission.observing", MissionID: m.ID})
	e.logger.Info("mission entered observation",
		zap.String("mission_id", m.ID),
		zap.Duration("window", m.Criteria.ObservationWindow))
	return Result{Success: true, MissionID: m.ID, Status: mission.StatusObserving}, nil
}

// failFatal fails a mission before any change was applied: no rollback.
func (e *Engine) failFatal(ctx context.Context, m *mission.Mission, actor, role, stage string, cause error) (Result, error) {
	return e.fail(ctx, m, actor, role, stage, cause, "")
}

// failWithRollback reverts to the backup revision, then fails the mission.
func (e *Engine) failWithRollback(ctx context.Context, m *mission.Mission, actor, role, stage string, cause error, backupRev string) (Result, error) {
	if backupRev != "" {
		metrics.Rollbacks.WithLabelValues(stage).Inc()
		if err := e.ext.VCS.Revert(ctx, backupRev); err != nil {
			// Best effort: the original failure stays the headline.
			e.logger.Error("rollback failed",
				zap.String("mission_id", m.ID),
				zap.String("backup_revision", backupRev),
				zap.Error(err))
		}
		m.AddRemediationEvent(actor, role, "rollback",
			fmt.Sprintf("reverted to %s after %s failure", backupRev, stage), true, "")
		if err := e.auditL.Append(ctx, audit.NewEvent(audit.EventRollback).
			WithCorrelationID(m.ID).
			WithActor(actor, role).
			WithResource(m.ID, m.Subsystem).
			WithResult(audit.ResultSuccess).
			WithDescription(fmt.Sprintf("rollback to %s after %s failure", backupRev, stage))); err != nil {
			return Result{}, err
		}
	}
	return e.fail(ctx, m, actor, role, stage, cause, backupRev)
}

// fail records the failing stage, sets FAILED and returns the structured
// failure result. Only an audit error propagates.
func (e *Engine) fail(ctx context.Context, m *mission.Mission, actor, role, stage string, cause error, backupRev string) (Result, error) {
	metrics.StageFailures.WithLabelValues(stage).Inc()

	m.Status = mission.StatusFailed
	m.AddRemediationEvent(actor, role, stage, "stage failed", false, cause.Error())
	if err := e.hub.UpdateMission(ctx, m.ID, m); err != nil {
		return Result{}, err
	}

	if err := e.auditL.Append(ctx, audit.NewEvent(audit.EventStageFailed).
		WithCorrelationID(m.ID).
		WithActor(actor, role).
		WithResource(m.ID, m.Subsystem).
		WithAction(stage).
		WithError(cause)); err != nil {
		return Result{}, err
	}

	e.bus.Publish(events.Event{Topic: "mission.failed", MissionID: m.ID,
		Payload: map[string]any{"stage": stage, "error": cause.Error()}})
	e.logger.Warn("mission failed",
		zap.String("mission_id", m.ID),
		zap.String("stage", stage),
		zap.Error(cause))

	return Result{Success: false, MissionID: m.ID, Stage: stage, Error: cause.Error(),
		Status: mission.StatusFailed}, nil
}
