package trust

import (
	"context"
	"fmt"

	"github.com/kubilitics/mission-control/internal/mission"
)

// Package trust implements the two authorization checks that gate mission
// progress:
//
//  1. Agent-execution check: may this agent act on this mission at all?
//     Requires the agent's dynamic trust score to meet the mission's floor
//     AND the agent's role to be on the mission's allow-list (an empty
//     allow-list admits any role). Fails closed.
//
//  2. Live-execution check: may this mission move from consensus into live
//     execution? Requires BOTH an explicit human approval AND an aggregate
//     mission trust score of at least LiveExecutionThreshold. Approval alone
//     is never sufficient, and neither is the score alone.
//
// The aggregate score is a weighted sum over four normalized components.
// The component SOURCES are injected so deployments can plug in their real
// governance/constitutional/security engines; the weights and the 0.95 gate
// are fixed policy and must not be made configurable.

// LiveExecutionThreshold is the minimum aggregate trust score for live
// execution. This is the single most important invariant in the system:
// it is a constant, not a config knob, and must never be silently lowered.
const LiveExecutionThreshold = 0.95

// Component weights. They sum to 1.0.
const (
	weightKPI            = 0.40
	weightGovernance     = 0.25
	weightConstitutional = 0.20
	weightSecurity       = 0.15
)

// Components carries the four normalized [0,1] inputs to the aggregate score.
type Components struct {
	KPI            float64 `json:"kpi"`
	Governance     float64 `json:"governance"`
	Constitutional float64 `json:"constitutional"`
	Security       float64 `json:"security"`
}

// ComponentSource supplies trust components for a mission. Implementations
// query the real KPI telemetry, governance engine, constitutional checker and
// security scanner; there are no hard-coded component values in this package.
type ComponentSource interface {
	Components(ctx context.Context, m *mission.Mission) (Components, error)
}

// Score aggregates components into a single [0,1] trust score using the fixed
// weighted-sum policy. Out-of-range components are clamped, never rejected:
// a buggy source must not be able to push the score above 1.
func Score(c Components) float64 {
	return weightKPI*clamp01(c.KPI) +
		weightGovernance*clamp01(c.Governance) +
		weightConstitutional*clamp01(c.Constitutional) +
		weightSecurity*clamp01(c.Security)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// CanAgentExecute reports whether an agent may execute the mission.
// Fails closed: any unmet condition denies.
func CanAgentExecute(req mission.TrustRequirements, agentRole string, trustScore float64) bool {
	if trustScore < req.RequiredTrustScore {
		return false
	}
	if len(req.AllowedRoles) == 0 {
		return true
	}
	for _, role := range req.AllowedRoles {
		if role == agentRole {
			return true
		}
	}
	return false
}

// LiveExecutionDecision is the outcome of the live-execution check.
type LiveExecutionDecision struct {
	Allowed bool    `json:"allowed"`
	Score   float64 `json:"score"`
	Reason  string  `json:"reason"`
}

// CheckLiveExecution applies the live-execution gate: explicit approval AND
// score >= LiveExecutionThreshold. The returned reason is suitable for the
// mission's remediation history when execution is withheld.
func CheckLiveExecution(approved bool, score float64) LiveExecutionDecision {
	if !approved {
		return LiveExecutionDecision{
			Allowed: false,
			Score:   score,
			Reason:  "live execution withheld: no explicit human approval",
		}
	}
	if score < LiveExecutionThreshold {
		return LiveExecutionDecision{
			Allowed: false,
			Score:   score,
			Reason: fmt.Sprintf("live execution withheld: trust score %.4f below threshold %.2f",
				score, LiveExecutionThreshold),
		}
	}
	return LiveExecutionDecision{
		Allowed: true,
		Score:   score,
		Reason:  fmt.Sprintf("approved with trust score %.4f", score),
	}
}
