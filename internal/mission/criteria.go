package mission

import "math"

// equalityEpsilon is the tolerance used for == and != metric comparisons.
// Exact float equality is meaningless for sampled telemetry.
const equalityEpsilon = 1e-4

// Evaluate decides whether the collected evidence satisfies the acceptance
// criteria. Pure and total: it never panics, has no side effects, and is safe
// to call repeatedly.
//
// Rules:
//   - Every id in MustPassTests must appear in results with Passed=true.
//     A required test that was never run fails closed, it is not vacuously true.
//   - Every MetricTarget is checked against the LATEST observation with a
//     matching metric id; a target with no observation fails.
//   - All required tests AND all metric targets must pass. No partial credit.
func Evaluate(criteria AcceptanceCriteria, results []TestResult, obs []MetricObservation) bool {
	// Last result wins when a test ran more than once.
	passed := make(map[string]bool, len(results))
	for _, r := range results {
		passed[r.TestID] = r.Passed
	}
	for _, id := range criteria.MustPassTests {
		if !passed[id] {
			return false
		}
	}

	for _, target := range criteria.MetricTargets {
		latest, ok := latestObservation(target.MetricID, obs)
		if !ok {
			return false
		}
		if !target.Compare.Holds(latest.Value, target.Threshold) {
			return false
		}
	}
	return true
}

// latestObservation returns the most recent observation for a metric id.
func latestObservation(metricID string, obs []MetricObservation) (MetricObservation, bool) {
	var latest MetricObservation
	found := false
	for _, o := range obs {
		if o.MetricID != metricID {
			continue
		}
		if !found || o.Timestamp.After(latest.Timestamp) {
			latest = o
			found = true
		}
	}
	return latest, found
}

// Holds applies the comparator to (observed, threshold). Ordered comparators
// are exact; equality comparators tolerate equalityEpsilon. An unknown
// comparator never holds (fail closed).
func (c Comparator) Holds(observed, threshold float64) bool {
	switch c {
	case CompareLT:
		return observed < threshold
	case CompareLE:
		return observed <= threshold
	case CompareGT:
		return observed > threshold
	case CompareGE:
		return observed >= threshold
	case CompareEQ:
		return math.Abs(observed-threshold) <= equalityEpsilon
	case CompareNE:
		return math.Abs(observed-threshold) > equalityEpsilon
	}
	return false
}
