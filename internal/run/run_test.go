package run

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replwatch/internal/cache"
	"replwatch/internal/collect"
	"replwatch/internal/detect"
	"replwatch/internal/heal"
	"replwatch/internal/model"
	"replwatch/internal/retry"
	"replwatch/internal/source"
)

// fakeDirectory stands in for the whole remote fleet: resolver, data source
// and actuator in one.
type fakeDirectory struct {
	mu sync.Mutex

	fleet      []model.Node
	resolveErr error

	unreachable map[string]bool
	staleNodes  map[string]bool
	healed      map[string]bool // force-sync marks the node healthy

	applied int
}

func newFakeDirectory(names ...string) *fakeDirectory {
	f := &fakeDirectory{
		unreachable: map[string]bool{},
		staleNodes:  map[string]bool{},
		healed:      map[string]bool{},
	}
	for _, n := range names {
		f.fleet = append(f.fleet, model.Node{Name: n, Site: "hq"})
	}
	return f
}

func (f *fakeDirectory) Resolve(ctx context.Context, scope model.Scope) ([]model.Node, error) {
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	return f.fleet, nil
}

func (f *fakeDirectory) Query(ctx context.Context, node model.Node) (model.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unreachable[node.Name] {
		return model.Snapshot{}, &source.RemoteError{Op: "query", Node: node.Name, Code: 81, Err: errors.New("can't contact server")}
	}
	lastSync := time.Now().Add(-time.Minute)
	if f.staleNodes[node.Name] && !f.healed[node.Name] {
		lastSync = time.Now().Add(-30 * time.Hour)
	}
	return model.Snapshot{
		Node:        node,
		Reachable:   true,
		LastSync:    lastSync,
		CollectedAt: time.Now().UTC(),
	}, nil
}

func (f *fakeDirectory) Apply(ctx context.Context, node model.Node, remedy model.Remedy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied++
	if remedy == model.RemedyForceSync {
		f.healed[node.Name] = true
	}
	return nil
}

func (f *fakeDirectory) CaptureState(ctx context.Context, node model.Node) ([]byte, error) {
	return []byte(`{"options":"1"}`), nil
}

func (f *fakeDirectory) Restore(ctx context.Context, node model.Node, blob []byte) error {
	return nil
}

type memStore struct {
	entries []cache.Entry
}

func (m *memStore) Load() ([]cache.Entry, error) { return m.entries, nil }
func (m *memStore) Save(entries []cache.Entry, removed []string) error {
	m.entries = entries
	return nil
}
func (m *memStore) Close() error { return nil }

func newOrchestrator(f *fakeDirectory, store cache.Store, policy heal.Policy) (*Orchestrator, *cache.Cache) {
	retryOpts := retry.Options{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	collector := collect.New(f, retryOpts, 0, nil)
	c := cache.Open(store, 0, nil)
	engine := heal.New(f, collector, heal.Options{
		Policy:     policy,
		VerifyWait: 0,
		Rollback:   true,
		Throttle:   4,
		Retry:      retryOpts,
		Thresholds: detect.DefaultThresholds(),
	}, nil)
	return New(f, collector, c, engine, nil), c
}

func baseOpts(mode model.Mode) Options {
	return Options{
		Mode:           mode,
		Scope:          model.Scope{Kind: model.ScopeFleet},
		Throttle:       4,
		CacheThreshold: time.Hour,
		Thresholds:     detect.DefaultThresholds(),
		Policy:         heal.Moderate,
	}
}

func TestHealthyFleetAudit(t *testing.T) {
	f := newFakeDirectory("dc01", "dc02", "dc03", "dc04")
	orch, _ := newOrchestrator(f, nil, heal.Moderate)

	s, err := orch.Run(context.Background(), baseOpts(model.ModeAudit))
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeHealthy, s.Outcome)
	assert.Equal(t, 0, s.Outcome.ExitCode())
	assert.Equal(t, 100, s.Score.Value)
	assert.Equal(t, "A+", s.Score.Grade)
	require.Len(t, s.Nodes, 4)
	for _, nr := range s.Nodes {
		assert.Equal(t, model.NodeHealthy, nr.Status)
	}
	assert.Empty(t, s.Issues)
	assert.Empty(t, s.Actions, "audit never heals")
}

func TestUnreachableNodeClassifiesRun(t *testing.T) {
	f := newFakeDirectory("dc01", "dc02", "dc03", "dc04")
	f.unreachable["dc04"] = true
	orch, _ := newOrchestrator(f, nil, heal.Moderate)

	s, err := orch.Run(context.Background(), baseOpts(model.ModeAudit))
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeUnreachable, s.Outcome)
	assert.Equal(t, 2, s.Outcome.ExitCode())
	assert.LessOrEqual(t, s.Score.Value, 90)
	assert.Equal(t, 1, s.StatusCounts[model.NodeUnreachable])
	assert.Equal(t, 3, s.StatusCounts[model.NodeHealthy])

	require.Len(t, s.Issues, 1)
	assert.Equal(t, model.CatUnreachable, s.Issues[0].Category)
}

func TestResolverFailureIsInternalError(t *testing.T) {
	f := newFakeDirectory("dc01")
	f.resolveErr = errors.New("config partition unavailable")
	orch, _ := newOrchestrator(f, nil, heal.Moderate)

	s, err := orch.Run(context.Background(), baseOpts(model.ModeAudit))
	require.Error(t, err)
	assert.Equal(t, model.OutcomeInternalError, s.Outcome)
	assert.Equal(t, 3, s.Outcome.ExitCode())
}

func TestEmptyTopologyIsInternalError(t *testing.T) {
	f := newFakeDirectory()
	orch, _ := newOrchestrator(f, nil, heal.Moderate)

	s, err := orch.Run(context.Background(), baseOpts(model.ModeAudit))
	require.Error(t, err)
	assert.Equal(t, model.OutcomeInternalError, s.Outcome)
}

func TestCancelledRunNeverClaimsHealthy(t *testing.T) {
	f := newFakeDirectory("dc01", "dc02", "dc03")
	orch, _ := newOrchestrator(f, nil, heal.Moderate)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, err := orch.Run(ctx, baseOpts(model.ModeAudit))
	require.NoError(t, err)

	assert.Equal(t, 3, s.StatusCounts[model.NodeNotEvaluated])
	assert.Equal(t, model.OutcomeIssuesRemain, s.Outcome)
}

func TestFullModeHealsAndResolves(t *testing.T) {
	f := newFakeDirectory("dc01", "dc02")
	f.staleNodes["dc02"] = true
	orch, _ := newOrchestrator(f, nil, heal.Moderate)

	s, err := orch.Run(context.Background(), baseOpts(model.ModeFull))
	require.NoError(t, err)

	require.Len(t, s.Actions, 1)
	assert.Equal(t, model.OutcomeCommitted, s.Actions[0].Outcome)
	assert.Equal(t, 1, f.applied)

	require.Len(t, s.Resolved, 1)
	assert.Empty(t, s.Persisting)
	assert.Equal(t, model.OutcomeHealthy, s.Outcome)
}

func TestRepairOutOfPolicyLeavesIssuesRemaining(t *testing.T) {
	f := newFakeDirectory("dc01")
	f.staleNodes["dc01"] = true
	orch, _ := newOrchestrator(f, nil, heal.Conservative)

	opts := baseOpts(model.ModeRepair)
	opts.Policy = heal.Conservative
	s, err := orch.Run(context.Background(), opts)
	require.NoError(t, err)

	require.Len(t, s.Actions, 1)
	assert.Equal(t, model.OutcomeSkipped, s.Actions[0].Outcome)
	assert.Equal(t, 0, f.applied)
	assert.Equal(t, model.OutcomeIssuesRemain, s.Outcome)
	assert.Equal(t, 1, s.Outcome.ExitCode())
}

func TestVerifyModeSplitsResolvedFromPersisting(t *testing.T) {
	f := newFakeDirectory("dc01", "dc02")
	f.staleNodes["dc02"] = true // still broken
	orch, _ := newOrchestrator(f, nil, heal.Moderate)

	opts := baseOpts(model.ModeVerify)
	opts.PriorIssues = []model.Issue{
		{Node: "dc01", Category: model.CatStale, Severity: model.SevMedium},
		{Node: "dc02", Category: model.CatStale, Severity: model.SevMedium},
	}
	s, err := orch.Run(context.Background(), opts)
	require.NoError(t, err)

	require.Len(t, s.Resolved, 1)
	assert.Equal(t, "dc01", s.Resolved[0].Node)
	require.Len(t, s.Persisting, 1)
	assert.Equal(t, "dc02", s.Persisting[0].Node)
	assert.Equal(t, model.OutcomeIssuesRemain, s.Outcome)
}

func TestVerifyModeWithNothingToVerify(t *testing.T) {
	f := newFakeDirectory("dc01")
	orch, _ := newOrchestrator(f, nil, heal.Moderate)

	s, err := orch.Run(context.Background(), baseOpts(model.ModeVerify))
	require.NoError(t, err)
	assert.Empty(t, s.Resolved)
	assert.Empty(t, s.Persisting)
	assert.Equal(t, model.OutcomeHealthy, s.Outcome)
}

func TestDeltaCacheSkipsRecentlyHealthyNodes(t *testing.T) {
	store := &memStore{entries: []cache.Entry{
		{Node: "dc01", Status: model.NodeHealthy, LastCheck: time.Now().Add(-5 * time.Minute)},
	}}
	f := newFakeDirectory("dc01", "dc02")
	orch, _ := newOrchestrator(f, store, heal.Moderate)

	s, err := orch.Run(context.Background(), baseOpts(model.ModeAudit))
	require.NoError(t, err)

	assert.Equal(t, 1, s.StatusCounts[model.NodeSkipped])
	assert.Equal(t, 1, s.StatusCounts[model.NodeHealthy])
	require.Len(t, s.Nodes, 2, "skipped nodes still appear in the summary")
}

func TestForceFullChecksEveryNode(t *testing.T) {
	store := &memStore{entries: []cache.Entry{
		{Node: "dc01", Status: model.NodeHealthy, LastCheck: time.Now().Add(-5 * time.Minute)},
	}}
	f := newFakeDirectory("dc01", "dc02")
	orch, _ := newOrchestrator(f, store, heal.Moderate)

	opts := baseOpts(model.ModeAudit)
	opts.ForceFull = true
	s, err := orch.Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, 0, s.StatusCounts[model.NodeSkipped])
	assert.Equal(t, 2, s.StatusCounts[model.NodeHealthy])
}

func TestRunFlushesCacheState(t *testing.T) {
	store := &memStore{}
	f := newFakeDirectory("dc01")
	orch, _ := newOrchestrator(f, store, heal.Moderate)

	_, err := orch.Run(context.Background(), baseOpts(model.ModeAudit))
	require.NoError(t, err)

	require.Len(t, store.entries, 1)
	assert.Equal(t, "dc01", store.entries[0].Node)
	assert.Equal(t, model.NodeHealthy, store.entries[0].Status)
	assert.Equal(t, 1, store.entries[0].HealthyStreak)
}

func TestSummaryCarriesRunMetadata(t *testing.T) {
	f := newFakeDirectory("dc01")
	orch, _ := newOrchestrator(f, nil, heal.Moderate)

	s, err := orch.Run(context.Background(), baseOpts(model.ModeAudit))
	require.NoError(t, err)

	assert.NotEmpty(t, s.RunID)
	assert.Equal(t, model.ModeAudit, s.Mode)
	assert.Equal(t, "fleet", s.Scope)
	assert.False(t, s.StartedAt.IsZero())
	assert.False(t, s.EndedAt.IsZero())
	assert.GreaterOrEqual(t, s.DurationMs, int64(0))
}
