package lifecycle

import (
	"context"
	"sync"
	"testing"

	"github.com/kubilitics/mission-control/internal/adapters"
	"github.com/kubilitics/mission-control/internal/audit"
	"github.com/kubilitics/mission-control/internal/events"
	"github.com/kubilitics/mission-control/internal/hub"
	"github.com/kubilitics/mission-control/internal/mission"
	"github.com/kubilitics/mission-control/internal/observe"
	"github.com/kubilitics/mission-control/internal/trust"
)

// In-memory fakes for every external collaborator. Each fake records calls so
// tests can assert on the engine's side effects.

type memAudit struct {
	mu      sync.Mutex
	events  []*audit.Event
	failAll bool
}

func (a *memAudit) Append(_ context.Context, e *audit.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failAll {
		return audit.ErrAuditUnavailable
	}
	a.events = append(a.events, e)
	return nil
}

func (a *memAudit) Sync() error  { return nil }
func (a *memAudit) Close() error { return nil }

func (a *memAudit) has(et audit.EventType) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.events {
		if e.EventType == et {
			return true
		}
	}
	return false
}

type fakeEnv struct {
	snap mission.ContextSnapshot
	err  error
}

func (f *fakeEnv) GetEnvironment(context.Context) (mission.ContextSnapshot, error) {
	return f.snap, f.err
}

type fakeVCS struct {
	mu         sync.Mutex
	prepareErr error
	mergeErr   error
	revertErr  error
	backup     string
	merged     [][2]string
	reverted   []string
}

func (f *fakeVCS) PrepareWorkspace(_ context.Context, branch string, _ []string) (adapters.WorkspaceResult, error) {
	if f.prepareErr != nil {
		return adapters.WorkspaceResult{}, f.prepareErr
	}
	backup := f.backup
	if backup == "" {
		backup = "rev-backup"
	}
	return adapters.WorkspaceResult{Branch: branch, BackupRev: backup}, nil
}

func (f *fakeVCS) Merge(_ context.Context, branch, target string) error {
	if f.mergeErr != nil {
		return f.mergeErr
	}
	f.mu.Lock()
	f.merged = append(f.merged, [2]string{branch, target})
	f.mu.Unlock()
	return nil
}

func (f *fakeVCS) Revert(_ context.Context, backupRev string) error {
	f.mu.Lock()
	f.reverted = append(f.reverted, backupRev)
	f.mu.Unlock()
	return f.revertErr
}

type fakeTests struct {
	results []mission.TestResult
	err     error
}

func (f *fakeTests) RunTests(_ context.Context, ids []string) ([]mission.TestResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.results != nil {
		return f.results, nil
	}
	out := make([]mission.TestResult, 0, len(ids))
	for _, id := range ids {
		out = append(out, mission.TestResult{TestID: id, Passed: true})
	}
	return out, nil
}

type fakeStress struct {
	res adapters.StressResult
	err error
}

func (f *fakeStress) RunStressSuite(context.Context) (adapters.StressResult, error) {
	if f.err != nil {
		return adapters.StressResult{}, f.err
	}
	return f.res, nil
}

type fakeMetrics struct {
	obs []mission.MetricObservation
	err error
}

func (f *fakeMetrics) Collect(context.Context, []mission.MetricTarget) ([]mission.MetricObservation, error) {
	return f.obs, f.err
}

type fakeGovernance struct {
	res adapters.GovernanceResult
	err error
}

func (f *fakeGovernance) Check(context.Context, string, string, string, map[string]any) (adapters.GovernanceResult, error) {
	return f.res, f.err
}

type fakeSigner struct {
	signErr   error
	verifyErr error
	verifyOK  bool
}

func (f *fakeSigner) Sign(_ context.Context, componentID string, payload []byte) (adapters.SignedMessage, error) {
	if f.signErr != nil {
		return adapters.SignedMessage{}, f.signErr
	}
	return adapters.SignedMessage{ComponentID: componentID, Payload: payload, Signature: []byte("sig")}, nil
}

func (f *fakeSigner) Verify(context.Context, adapters.SignedMessage) (bool, error) {
	return f.verifyOK, f.verifyErr
}

type fakeConsensus struct {
	sessionID string
	createErr error
}

func (f *fakeConsensus) CreateSession(context.Context, string, string) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	if f.sessionID == "" {
		return "session-1", nil
	}
	return f.sessionID, nil
}

func (f *fakeConsensus) Decision(_ context.Context, sessionID string) (adapters.ConsensusDecision, error) {
	return adapters.ConsensusDecision{SessionID: sessionID}, nil
}

type fakeTicketing struct{}

func (fakeTicketing) OpenCAPATicket(context.Context, string, []string) (string, error) {
	return "CAPA-1", nil
}

type staticSource struct {
	c   trust.Components
	err error
}

func (s staticSource) Components(context.Context, *mission.Mission) (trust.Components, error) {
	return s.c, s.err
}

// testRig bundles a fully wired engine over fakes.
type testRig struct {
	hub     *hub.Hub
	monitor *observe.Monitor
	engine  *Engine
	auditL  *memAudit
	vcs     *fakeVCS
	ext     Adapters
}

func newTestRig(t *testing.T, ext Adapters, source trust.ComponentSource) *testRig {
	t.Helper()
	auditL := &memAudit{}
	bus := events.NewBus(nil)
	h := hub.New(nil, bus, auditL, nil, hub.Options{})

	vcs, _ := ext.VCS.(*fakeVCS)
	if ext.VCS == nil {
		vcs = &fakeVCS{}
		ext.VCS = vcs
	}
	if ext.Env == nil {
		ext.Env = &fakeEnv{snap: mission.ContextSnapshot{Revision: "r1", EnvironmentName: "test"}}
	}
	if ext.Tests == nil {
		ext.Tests = &fakeTests{}
	}
	if ext.Stress == nil {
		ext.Stress = &fakeStress{res: adapters.StressResult{Success: true, Status: "ok"}}
	}
	if ext.Metrics == nil {
		ext.Metrics = &fakeMetrics{}
	}
	if ext.Governance == nil {
		ext.Governance = &fakeGovernance{res: adapters.GovernanceResult{Decision: adapters.DecisionAllow}}
	}
	if ext.Signer == nil {
		ext.Signer = &fakeSigner{verifyOK: true}
	}
	if ext.Consensus == nil {
		ext.Consensus = &fakeConsensus{}
	}
	if source == nil {
		source = staticSource{c: trust.Components{KPI: 1, Governance: 1, Constitutional: 1, Security: 1}}
	}

	monitor := observe.New(nil, h, bus, auditL, ext.VCS, fakeTicketing{}, 0)
	engine := NewEngine(nil, h, bus, auditL, monitor, ext, source)
	return &testRig{hub: h, monitor: monitor, engine: engine, auditL: auditL, vcs: vcs, ext: ext}
}

// newClaimedMission creates and claims a standard pipeline mission.
func (r *testRig) newClaimedMission(t *testing.T) *mission.Mission {
	t.Helper()
	m := mission.NewMission("payments", mission.SeverityHigh,
		mission.ContextSnapshot{Revision: "r1", EnvironmentName: "test"}, false)
	m.Criteria.MustPassTests = []string{"t1"}
	m.Patches = []string{"fix.patch"}
	ctx := context.Background()
	if _, err := r.hub.CreateMission(ctx, m); err != nil {
		t.Fatalf("create mission: %v", err)
	}
	if err := r.hub.ClaimMission(ctx, m.ID, "agent-1", "operator"); err != nil {
		t.Fatalf("claim mission: %v", err)
	}
	return m
}
