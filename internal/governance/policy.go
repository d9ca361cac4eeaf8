package governance

// Package governance provides the built-in rule-based Governance adapter.
//
// The engine is deliberately deterministic: immutable rules that can never be
// disabled, plus operator-configurable policies loaded at runtime. It is the
// default Governance implementation wired by cmd/server; deployments with an
// external approval system replace it behind adapters.Governance.
//
// Key design principle: governance is rule-based logic, never inferred.
// Whatever proposed a change-set, these rules decide whether it may land.

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kubilitics/mission-control/internal/adapters"
)

// Immutable rules. Always enforced, cannot be overridden by configuration.
var immutableRules = []struct {
	name  string
	check func(req request) (bool, string) // returns (violated, reason)
}{
	{
		name: "no_unattended_audit_changes",
		check: func(req request) (bool, string) {
			if subsystemOf(req.resource) == "audit" && req.action != "read" {
				return true, "changes to the audit subsystem require manual review"
			}
			return false, ""
		},
	},
	{
		name: "no_merge_without_passing_tests",
		check: func(req request) (bool, string) {
			if req.action != "merge" && req.action != "live_execute" {
				return false, ""
			}
			if v, ok := req.payload["tests_passed"].(bool); ok && !v {
				return true, "change-set has failing required tests"
			}
			return false, ""
		},
	},
	{
		name: "no_live_execution_by_observers",
		check: func(req request) (bool, string) {
			if req.action == "live_execute" || req.action == "merge" {
				role, _ := req.payload["role"].(string)
				if strings.EqualFold(role, "observer") {
					return true, fmt.Sprintf("role observer may not perform %s", req.action)
				}
			}
			return false, ""
		},
	},
}

type request struct {
	actor    string
	action   string
	resource string
	payload  map[string]any
}

// subsystemOf extracts the subsystem from a "subsystem/name" resource path.
func subsystemOf(resource string) string {
	if i := strings.IndexByte(resource, '/'); i >= 0 {
		return resource[:i]
	}
	return resource
}

// Policy is one operator-configured rule.
type Policy struct {
	Name      string `json:"name"`
	Condition string `json:"condition"` // e.g. "subsystem=payments", "action=merge"
	Effect    string `json:"effect"`    // "deny" or "warn"
	Reason    string `json:"reason"`
}

// Engine implements adapters.Governance.
type Engine struct {
	mu       sync.RWMutex
	policies []Policy
}

// NewEngine creates a governance engine with the immutable rules and the
// given starting policies.
func NewEngine(policies ...Policy) *Engine {
	return &Engine{policies: policies}
}

// Check evaluates immutable rules first, then configurable policies. A "warn"
// policy allows the action but carries its reason in the result.
func (e *Engine) Check(_ context.Context, actor, action, resource string, payload map[string]any) (adapters.GovernanceResult, error) {
	req := request{actor: actor, action: action, resource: resource, payload: payload}

	for _, rule := range immutableRules {
		violated, reason := rule.check(req)
		if violated {
			return adapters.GovernanceResult{
				Decision: adapters.DecisionDeny,
				Reason:   fmt.Sprintf("%s: %s", rule.name, reason),
			}, nil
		}
	}

	e.mu.RLock()
	policies := e.policies
	e.mu.RUnlock()

	for _, p := range policies {
		if !matches(p.Condition, req) {
			continue
		}
		if p.Effect == "deny" {
			return adapters.GovernanceResult{
				Decision: adapters.DecisionDeny,
				Reason:   fmt.Sprintf("%s: %s", p.Name, p.Reason),
			}, nil
		}
		return adapters.GovernanceResult{
			Decision: adapters.DecisionAllow,
			Reason:   fmt.Sprintf("warn %s: %s", p.Name, p.Reason),
		}, nil
	}

	return adapters.GovernanceResult{Decision: adapters.DecisionAllow}, nil
}

// matches evaluates a "field=value" condition against the request.
func matches(condition string, req request) bool {
	parts := strings.SplitN(condition, "=", 2)
	if len(parts) != 2 {
		return false
	}
	field, value := parts[0], parts[1]
	var actual string
	switch field {
	case "subsystem":
		actual = subsystemOf(req.resource)
	case "resource":
		actual = req.resource
	case "action":
		actual = req.action
	case "actor":
		actual = req.actor
	}
	return strings.EqualFold(actual, value)
}

// AddPolicy registers a configurable policy at runtime.
func (e *Engine) AddPolicy(p Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies = append(e.policies, p)
}

// RemovePolicy removes a policy by name.
func (e *Engine) RemovePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, p := range e.policies {
		if p.Name == name {
			e.policies = append(e.policies[:i], e.policies[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("policy not found: %s", name)
}

// ImmutableRuleNames lists the always-on rules, for the query surface.
func ImmutableRuleNames() []string {
	names := make([]string, len(immutableRules))
	for i, r := range immutableRules {
		names[i] = r.name
	}
	return names
}
