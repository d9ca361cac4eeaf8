package governance

import (
	"context"
	"strings"
	"testing"

	"github.com/kubilitics/mission-control/internal/adapters"
)

func TestCheck_ImmutableRules(t *testing.T) {
	e := NewEngine()
	ctx := context.Background()

	tests := []struct {
		name     string
		action   string
		resource string
		payload  map[string]any
		wantDeny bool
	}{
		{"audit writes denied", "merge", "audit/logger", nil, true},
		{"audit reads allowed", "read", "audit/logger", nil, false},
		{"failing tests deny merge", "merge", "payments/api",
			map[string]any{"tests_passed": false}, true},
		{"passing tests allow merge", "merge", "payments/api",
			map[string]any{"tests_passed": true}, false},
		{"failing tests deny live execution", "live_execute", "payments/api",
			map[string]any{"tests_passed": false}, true},
		{"observer may not merge", "merge", "payments/api",
			map[string]any{"role": "observer"}, true},
		{"observer may read", "read", "payments/api",
			map[string]any{"role": "observer"}, false},
		{"operator may merge", "merge", "payments/api",
			map[string]any{"role": "operator"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.Check(ctx, "agent-1", tt.action, tt.resource, tt.payload)
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			gotDeny := res.Decision == adapters.DecisionDeny
			if gotDeny != tt.wantDeny {
				t.Errorf("decision = %s (reason %q), want deny=%v",
					res.Decision, res.Reason, tt.wantDeny)
			}
		})
	}
}

func TestCheck_ConfigurablePolicies(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(Policy{
		Name:      "freeze_payments",
		Condition: "subsystem=payments",
		Effect:    "deny",
		Reason:    "change freeze in effect",
	})

	res, err := e.Check(ctx, "agent-1", "merge", "payments/api", nil)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Decision != adapters.DecisionDeny {
		t.Errorf("deny policy should deny, got %s", res.Decision)
	}
	if !strings.Contains(res.Reason, "freeze_payments") {
		t.Errorf("reason should name the policy, got %q", res.Reason)
	}

	res, err = e.Check(ctx, "agent-1", "merge", "db/schema", nil)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Decision != adapters.DecisionAllow {
		t.Errorf("non-matching subsystem should be allowed, got %s", res.Decision)
	}
}

func TestCheck_WarnPolicyAllowsWithReason(t *testing.T) {
	e := NewEngine(Policy{
		Name:      "db_watch",
		Condition: "subsystem=db",
		Effect:    "warn",
		Reason:    "schema changes are under review",
	})

	res, err := e.Check(context.Background(), "agent-1", "merge", "db/schema", nil)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Decision != adapters.DecisionAllow {
		t.Errorf("warn policy must allow, got %s", res.Decision)
	}
	if !strings.Contains(res.Reason, "db_watch") {
		t.Errorf("warn reason should be carried, got %q", res.Reason)
	}
}

func TestAddRemovePolicy(t *testing.T) {
	e := NewEngine()
	ctx := context.Background()

	e.AddPolicy(Policy{Name: "block_db", Condition: "subsystem=db", Effect: "deny", Reason: "frozen"})
	res, _ := e.Check(ctx, "agent-1", "merge", "db/schema", nil)
	if res.Decision != adapters.DecisionDeny {
		t.Fatal("added policy should take effect")
	}

	if err := e.RemovePolicy("block_db"); err != nil {
		t.Fatalf("RemovePolicy: %v", err)
	}
	res, _ = e.Check(ctx, "agent-1", "merge", "db/schema", nil)
	if res.Decision != adapters.DecisionAllow {
		t.Error("removed policy should stop applying")
	}

	if err := e.RemovePolicy("block_db"); err == nil {
		t.Error("removing a missing policy should error")
	}
}

func TestImmutableRulesCannotBeOverridden(t *testing.T) {
	// A configurable allow-style policy matching the same request must not
	// bypass the immutable audit rule.
	e := NewEngine(Policy{
		Name:      "allow_everything",
		Condition: "action=merge",
		Effect:    "warn",
		Reason:    "audited elsewhere",
	})

	res, err := e.Check(context.Background(), "agent-1", "merge", "audit/logger", nil)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Decision != adapters.DecisionDeny {
		t.Errorf("immutable rule must win, got %s", res.Decision)
	}
}

func TestImmutableRuleNames(t *testing.T) {
	names := ImmutableRuleNames()
	if len(names) != 3 {
		t.Fatalf("rule count = %d, want 3", len(names))
	}
	want := map[string]bool{
		"no_unattended_audit_changes":    true,
		"no_merge_without_passing_tests": true,
		"no_live_execution_by_observers": true,
	}
	for _, n := range names {
		if !want[n] {
			t.Errorf("unexpected rule name %q", n)
		}
	}
}
