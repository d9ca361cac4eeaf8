package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/kubilitics/mission-control/internal/adapters"
	"github.com/kubilitics/mission-control/internal/audit"
	"github.com/kubilitics/mission-control/internal/events"
	"github.com/kubilitics/mission-control/internal/hub"
	"github.com/kubilitics/mission-control/internal/metrics"
	"github.com/kubilitics/mission-control/internal/mission"
	"github.com/kubilitics/mission-control/internal/trust"
)

// Autonomous missions are created by the system itself and run the pre-stage
// sequence DETECTED → SANDBOX_TESTING → DISCUSSION → CONSENSUS →
// LIVE_EXECUTION → MONITORING → COMPLETE.
//
// The consensus step is a hard gate with two independent conditions:
//
//  1. an explicit human approval, supplied asynchronously through the
//     consensus adapter — the computed trust score can never substitute
//     for it, and
//  2. an aggregate trust score of at least trust.LiveExecutionThreshold.
//
// Approval without the score, or the score without approval, both end the
// mission COMPLETE without execution, with the reason recorded. A rejected
// mission is never auto-retried: a new run requires the same human step
// again.

const (
	stageSandbox       = "sandbox_testing"
	stageDiscussion    = "open_discussion"
	stageConsensus     = "consensus"
	stageLiveExecution = "live_execution"
	stageMonitoring    = "start_monitoring"
)

const consensusSessionTag = "consensus_session"

// StartAutonomous advances a DETECTED mission through sandbox testing and
// opens the consensus session. The mission then waits in CONSENSUS until
// ResolveConsensus is called with the human decision.
func (e *Engine) StartAutonomous(ctx context.Context, missionID string) (Result, error) {
	m := e.hub.GetMission(missionID)
	if m == nil {
		return Result{}, fmt.Errorf("%w: %s", hub.ErrMissionNotFound, missionID)
	}
	if !m.Autonomous {
		return Result{}, fmt.Errorf("%w: mission %s is not autonomous", ErrInvalidTransition, missionID)
	}
	if m.Status != mission.StatusDetected {
		return Result{}, fmt.Errorf("%w: autonomous start requires DETECTED, mission %s is %s",
			ErrInvalidTransition, missionID, m.Status)
	}

	// Sandbox testing: required tests plus the stress suite, no live change.
	m.Status = mission.StatusSandboxTesting
	results, err := e.ext.Tests.RunTests(ctx, m.Criteria.MustPassTests)
	if err != nil {
		return e.failFatal(ctx, m, "system", "agent", stageSandbox,
			fmt.Errorf("sandbox test execution failed: %w", err))
	}
	m.RecordTestResults(results)
	for _, r := range results {
		if !r.Passed {
			return e.failFatal(ctx, m, "system", "agent", stageSandbox,
				fmt.Errorf("sandbox test %s failed: %s", r.TestID, r.Error))
		}
	}
	stress, err := e.ext.Stress.RunStressSuite(ctx)
	if err != nil || !stress.Success {
		reason := stress.Error
		if err != nil {
			reason = err.Error()
		}
		return e.failFatal(ctx, m, "system", "agent", stageSandbox,
			fmt.Errorf("sandbox stress suite failed: %s", reason))
	}
	m.AddRemediationEvent("system", "agent", stageSandbox,
		fmt.Sprintf("%d sandbox tests passed, stress suite %s", len(results), stress.Status), true, "")

	// Discussion: open the human-in-the-loop voting session.
	m.Status = mission.StatusDiscussion
	summary := fmt.Sprintf("autonomous change to %s (%s): %d symptoms, %d tests green",
		m.Subsystem, m.Severity, len(m.Symptoms), len(results))
	sessionID, err := e.ext.Consensus.CreateSession(ctx, m.ID, summary)
	if err != nil {
		return e.failFatal(ctx, m, "system", "agent", stageDiscussion,
			fmt.Errorf("consensus session creation failed: %w", err))
	}
	m.Tags[consensusSessionTag] = sessionID
	m.AddRemediationEvent("system", "agent", stageDiscussion,
		fmt.Sprintf("consensus session %s opened", sessionID), true, "")

	if err := e.auditL.Append(ctx, audit.NewEvent(audit.EventConsensusOpened).
		WithCorrelationID(m.ID).
		WithResource(m.ID, m.Subsystem).
		WithResult(audit.ResultPending).
		WithMetadata("session_id", sessionID).
		WithDescription(summary)); err != nil {
		return Result{}, err
	}

	m.Status = mission.StatusConsensus
	if err := e.hub.UpdateMission(ctx, m.ID, m); err != nil {
		return Result{}, err
	}
	e.bus.Publish(events.Event{Topic: "mission.consensus_pending", MissionID: m.ID,
		Payload: map[string]any{"session_id": sessionID}})

	return Result{Success: true, MissionID: m.ID, Status: mission.StatusConsensus}, nil
}

// ResolveConsensus applies the human decision to a mission waiting in
// CONSENSUS. Live execution happens only when the decision is an explicit
// approval AND the aggregate trust score clears the fixed threshold; every
// other combination ends the mission COMPLETE without execution.
func (e *Engine) ResolveConsensus(ctx context.Context, missionID string, decision adapters.ConsensusDecision) (Result, error) {
	m := e.hub.GetMission(missionID)
	if m == nil {
		return Result{}, fmt.Errorf("%w: %s", hub.ErrMissionNotFound, missionID)
	}
	if m.Status != mission.StatusConsensus {
		return Result{}, fmt.Errorf("%w: consensus resolution requires CONSENSUS, mission %s is %s",
			ErrInvalidTransition, missionID, m.Status)
	}

	components, err := e.trustSource.Components(ctx, m)
	if err != nil {
		// No components, no score, no execution. Fail closed.
		components = trust.Components{}
		e.logger.Error("trust component source failed, scoring zero",
			zap.String("mission_id", m.ID), zap.Error(err))
	}
	score := trust.Score(components)

	gate := trust.CheckLiveExecution(decision.Approved, score)

	if err := e.auditL.Append(ctx, audit.NewEvent(audit.EventConsensusResolved).
		WithCorrelationID(m.ID).
		WithActor(decision.Approver, "human").
		WithResource(m.ID, m.Subsystem).
		WithResult(consensusResult(decision.Approved)).
		WithMetadata("approved", decision.Approved).
		WithMetadata("trust_score", score).
		WithDescription(gate.Reason)); err != nil {
		return Result{}, err
	}

	if !gate.Allowed {
		metrics.TrustGateDenials.WithLabelValues("live_execution").Inc()
		m.Status = mission.StatusComplete
		m.AddRemediationEvent(decision.Approver, "human", stageConsensus, gate.Reason, false, "")
		m.Tags["executed"] = "false"
		if err := e.hub.UpdateMission(ctx, m.ID, m); err != nil {
			return Result{}, err
		}
		e.bus.Publish(events.Event{Topic: "mission.completed_not_executed", MissionID: m.ID,
			Payload: map[string]any{"reason": gate.Reason}})
		e.logger.Info("autonomous mission completed without execution",
			zap.String("mission_id", m.ID),
			zap.Bool("approved", decision.Approved),
			zap.Float64("trust_score", score))
		return Result{Success: true, MissionID: m.ID, Stage: stageConsensus,
			Status: mission.StatusComplete}, nil
	}

	m.AddRemediationEvent(decision.Approver, "human", stageConsensus, gate.Reason, true, "")
	return e.executeLive(ctx, m, decision.Approver, score)
}

// executeLive runs LIVE_EXECUTION and opens the monitoring window.
func (e *Engine) executeLive(ctx context.Context, m *mission.Mission, approver string, score float64) (Result, error) {
	m.Status = mission.StatusLiveExecution

	branch := "mission/" + m.ID
	workspace, err := e.ext.VCS.PrepareWorkspace(ctx, branch, m.Patches)
	if err != nil {
		return e.failFatal(ctx, m, "system", "agent", stageLiveExecution,
			fmt.Errorf("live workspace preparation failed: %w", err))
	}

	if m.Trust.RequiresSignature {
		payload, _ := json.Marshal(map[string]any{
			"mission_id": m.ID,
			"branch":     workspace.Branch,
			"approver":   approver,
			"score":      score,
		})
		signed, err := e.ext.Signer.Sign(ctx, "mission-control", payload)
		if err != nil {
			res, aerr := e.failWithRollback(ctx, m, "system", "agent", stageLiveExecution,
				fmt.Errorf("signing failed: %w", err), workspace.BackupRev)
			return res, aerr
		}
		ok, err := e.ext.Signer.Verify(ctx, signed)
		if err != nil || !ok {
			res, aerr := e.failWithRollback(ctx, m, "system", "agent", stageLiveExecution,
				fmt.Errorf("signature verification failed"), workspace.BackupRev)
			return res, aerr
		}
		m.AddRemediationEvent("system", "agent", stageLiveExecution, "change-set signed and verified", true, "")
	}

	if err := e.ext.VCS.Merge(ctx, workspace.Branch, e.targetBranch); err != nil {
		res, aerr := e.failWithRollback(ctx, m, "system", "agent", stageLiveExecution,
			fmt.Errorf("live merge failed: %w", err), workspace.BackupRev)
		return res, aerr
	}
	m.AddRemediationEvent("system", "agent", stageLiveExecution,
		fmt.Sprintf("merged %s into %s with approval from %s", workspace.Branch, e.targetBranch, approver), true, "")

	m.Status = mission.StatusMonitoring
	m.Tags["executed"] = "true"
	m.AddRemediationEvent("system", "agent", stageMonitoring,
		fmt.Sprintf("monitoring window opened for %s", m.Criteria.ObservationWindow), true, "")
	if err := e.hub.UpdateMission(ctx, m.ID, m); err != nil {
		return Result{}, err
	}
	e.monitor.Open(m.ID, m.Criteria.ObservationWindow, workspace.BackupRev)

	if err := e.auditL.Append(ctx, audit.NewEvent(audit.EventWindowOpened).
		WithCorrelationID(m.ID).
		WithActor(approver, "human").
		WithResource(m.ID, m.Subsystem).
		WithResult(audit.ResultSuccess).
		WithMetadata("trust_score", score).
		WithDescription("live execution merged, monitoring window opened")); err != nil {
		return Result{}, err
	}

	e.bus.Publish(events.Event{Topic: "mission.monitoring", MissionID: m.ID})
	return Result{Success: true, MissionID: m.ID, Status: mission.StatusMonitoring}, nil
}

func consensusResult(approved bool) audit.Result {
	if approved {
		return audit.ResultSuccess
	}
	return audit.ResultDenied
}
