package detect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replwatch/internal/model"
)

func reachableSnap(name string, lastSync time.Time) model.Snapshot {
	return model.Snapshot{
		Node:        model.Node{Name: name},
		Reachable:   true,
		LastSync:    lastSync,
		CollectedAt: time.Now().UTC(),
	}
}

func TestUnreachableShortCircuits(t *testing.T) {
	snap := model.Snapshot{
		Node:                model.Node{Name: "dc01"},
		Reachable:           false,
		ErrorCode:           81,
		Error:               "server down",
		ConsecutiveFailures: 99, // would trip Degraded if not short-circuited
		CollectedAt:         time.Now().UTC(),
	}
	issues := Evaluate(snap, DefaultThresholds())
	require.Len(t, issues, 1)
	assert.Equal(t, model.CatUnreachable, issues[0].Category)
	assert.Equal(t, model.SevCritical, issues[0].Severity)
	assert.Contains(t, issues[0].Detail, "code=81")
}

func TestHealthySnapshotYieldsNoIssues(t *testing.T) {
	issues := Evaluate(reachableSnap("dc01", time.Now().Add(-time.Hour)), DefaultThresholds())
	assert.Empty(t, issues)
}

func TestConsecutiveFailuresOverThreshold(t *testing.T) {
	snap := reachableSnap("dc01", time.Now().Add(-time.Hour))
	snap.ConsecutiveFailures = 4
	issues := Evaluate(snap, DefaultThresholds())
	require.Len(t, issues, 1)
	assert.Equal(t, model.CatDegraded, issues[0].Category)
	assert.Equal(t, model.SevHigh, issues[0].Severity)

	// At the threshold exactly: no issue.
	snap.ConsecutiveFailures = 3
	assert.Empty(t, Evaluate(snap, DefaultThresholds()))
}

func TestStaleReplicationAt30Hours(t *testing.T) {
	issues := Evaluate(reachableSnap("dc01", time.Now().Add(-30*time.Hour)), DefaultThresholds())
	require.Len(t, issues, 1)
	assert.Equal(t, model.CatStale, issues[0].Category)
	assert.Equal(t, model.SevMedium, issues[0].Severity)
}

func TestVeryStaleReplicationBeyond48Hours(t *testing.T) {
	issues := Evaluate(reachableSnap("dc01", time.Now().Add(-50*time.Hour)), DefaultThresholds())
	require.Len(t, issues, 1)
	assert.Equal(t, model.CatVeryStale, issues[0].Category)
	assert.Equal(t, model.SevHigh, issues[0].Severity)
}

func TestPartnerErrorCodeTable(t *testing.T) {
	cases := []struct {
		code     int
		category model.Category
		severity model.Severity
	}{
		{8614, model.CatCriticalFailure, model.SevCritical},
		{1722, model.CatHighFailure, model.SevHigh},
		{8524, model.CatMediumFailure, model.SevMedium},
	}
	for _, tc := range cases {
		snap := reachableSnap("dc01", time.Now().Add(-time.Hour))
		snap.Partners = []model.PartnerStatus{{Partner: "dc02", LastErrorCode: tc.code}}
		issues := Evaluate(snap, DefaultThresholds())
		require.Len(t, issues, 1, "code %d", tc.code)
		assert.Equal(t, tc.category, issues[0].Category, "code %d", tc.code)
		assert.Equal(t, tc.severity, issues[0].Severity, "code %d", tc.code)
	}
}

func TestUnknownErrorCodeDefaultsToMediumWithRawCode(t *testing.T) {
	snap := reachableSnap("dc01", time.Now().Add(-time.Hour))
	snap.Partners = []model.PartnerStatus{{Partner: "dc02", LastErrorCode: 424242}}
	issues := Evaluate(snap, DefaultThresholds())
	require.Len(t, issues, 1)
	assert.Equal(t, model.CatMediumFailure, issues[0].Category)
	assert.Equal(t, model.SevMedium, issues[0].Severity)
	assert.Contains(t, issues[0].Detail, "424242")
}

func TestMultipleIndependentIssuesPerSnapshot(t *testing.T) {
	snap := reachableSnap("dc01", time.Now().Add(-30*time.Hour))
	snap.ConsecutiveFailures = 10
	snap.Partners = []model.PartnerStatus{{Partner: "dc02", LastErrorCode: 8614}}
	issues := Evaluate(snap, DefaultThresholds())
	assert.Len(t, issues, 3) // Degraded + Stale + CriticalFailure
}

func TestEvaluationIsDeterministic(t *testing.T) {
	snap := reachableSnap("dc01", time.Now().Add(-30*time.Hour))
	snap.ConsecutiveFailures = 5
	a := Evaluate(snap, DefaultThresholds())
	b := Evaluate(snap, DefaultThresholds())
	assert.Equal(t, a, b)
}
