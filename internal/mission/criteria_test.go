package mission

import (
	"testing"
	"time"
)

func TestComparatorHolds_Boundaries(t *testing.T) {
	cases := []struct {
		name      string
		cmp       Comparator
		observed  float64
		threshold float64
		want      bool
	}{
		{"lt below", CompareLT, 0.9, 1.0, true},
		{"lt equal", CompareLT, 1.0, 1.0, false},
		{"le equal", CompareLE, 1.0, 1.0, true},
		{"le above", CompareLE, 1.0001, 1.0, false},
		{"gt above", CompareGT, 1.1, 1.0, true},
		{"gt equal", CompareGT, 1.0, 1.0, false},
		{"ge equal", CompareGE, 1.0, 1.0, true},
		{"ge below", CompareGE, 0.9999, 1.0, false},
		{"eq exact", CompareEQ, 1.0, 1.0, true},
		{"eq within epsilon", CompareEQ, 1.00009, 1.0, true},
		{"eq outside epsilon", CompareEQ, 1.0002, 1.0, false},
		{"ne outside epsilon", CompareNE, 1.001, 1.0, true},
		{"ne within epsilon", CompareNE, 1.00005, 1.0, false},
		{"unknown comparator fails closed", Comparator("~"), 1.0, 1.0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cmp.Holds(tc.observed, tc.threshold); got != tc.want {
				t.Errorf("Holds(%v, %v) = %v, want %v", tc.observed, tc.threshold, got, tc.want)
			}
		})
	}
}

func TestEvaluate_EmptyCriteriaPasses(t *testing.T) {
	if !Evaluate(AcceptanceCriteria{}, nil, nil) {
		t.Error("empty criteria with no evidence should pass")
	}
}

func TestEvaluate_MissingRequiredTestFailsClosed(t *testing.T) {
	criteria := AcceptanceCriteria{MustPassTests: []string{"t1", "t2"}}
	results := []TestResult{{TestID: "t1", Passed: true}}
	if Evaluate(criteria, results, nil) {
		t.Error("required test that never ran must fail, not pass vacuously")
	}
}

func TestEvaluate_FailedRequiredTest(t *testing.T) {
	criteria := AcceptanceCriteria{MustPassTests: []string{"t1"}}
	results := []TestResult{{TestID: "t1", Passed: false, Error: "boom"}}
	if Evaluate(criteria, results, nil) {
		t.Error("failed required test must fail the criteria")
	}
}

func TestEvaluate_LastResultWins(t *testing.T) {
	criteria := AcceptanceCriteria{MustPassTests: []string{"t1"}}
	results := []TestResult{
		{TestID: "t1", Passed: false},
		{TestID: "t1", Passed: true},
	}
	if !Evaluate(criteria, results, nil) {
		t.Error("a retried test's latest result should win")
	}

	reversed := []TestResult{
		{TestID: "t1", Passed: true},
		{TestID: "t1", Passed: false},
	}
	if Evaluate(criteria, reversed, nil) {
		t.Error("latest failure should override an earlier pass")
	}
}

func TestEvaluate_MetricTargetUsesLatestObservation(t *testing.T) {
	base := time.Now().UTC()
	criteria := AcceptanceCriteria{
		MetricTargets: []MetricTarget{{MetricID: "latency_p99", Compare: CompareLT, Threshold: 200}},
	}
	obs := []MetricObservation{
		{MetricID: "latency_p99", Value: 500, Timestamp: base},
		{MetricID: "latency_p99", Value: 150, Timestamp: base.Add(time.Minute)},
	}
	if !Evaluate(criteria, nil, obs) {
		t.Error("latest observation (150 < 200) should satisfy the target")
	}

	obs[1].Value = 300
	if Evaluate(criteria, nil, obs) {
		t.Error("latest observation (300 < 200) should fail the target")
	}
}

func TestEvaluate_MetricTargetWithoutObservationFails(t *testing.T) {
	criteria := AcceptanceCriteria{
		MetricTargets: []MetricTarget{{MetricID: "error_rate", Compare: CompareLE, Threshold: 0.01}},
	}
	obs := []MetricObservation{{MetricID: "other_metric", Value: 0}}
	if Evaluate(criteria, nil, obs) {
		t.Error("a target with no matching observation must fail closed")
	}
}

func TestEvaluate_AllConditionsMustHold(t *testing.T) {
	criteria := AcceptanceCriteria{
		MustPassTests: []string{"t1"},
		MetricTargets: []MetricTarget{{MetricID: "error_rate", Compare: CompareLE, Threshold: 0.01}},
	}
	results := []TestResult{{TestID: "t1", Passed: true}}
	obs := []MetricObservation{{MetricID: "error_rate", Value: 0.5, Timestamp: time.Now()}}
	if Evaluate(criteria, results, obs) {
		t.Error("passing tests cannot compensate for a failing metric target")
	}
}
