package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replwatch/internal/model"
)

type memStore struct {
	entries  []Entry
	loadErr  error
	saveErr  error
	saved    []Entry
	removed  []string
	saveHits int
	closed   bool
}

func (m *memStore) Load() ([]Entry, error) { return m.entries, m.loadErr }

func (m *memStore) Save(entries []Entry, removed []string) error {
	m.saveHits++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = entries
	m.removed = removed
	return nil
}

func (m *memStore) Close() error {
	m.closed = true
	return nil
}

func nodes(names ...string) []model.Node {
	out := make([]model.Node, 0, len(names))
	for _, n := range names {
		out = append(out, model.Node{Name: n})
	}
	return out
}

func TestFilterDueSkipsOnlyYoungHealthyEntries(t *testing.T) {
	store := &memStore{entries: []Entry{
		{Node: "dc01", Status: model.NodeHealthy, LastCheck: time.Now().Add(-10 * time.Minute)},
		{Node: "dc02", Status: model.NodeHealthy, LastCheck: time.Now().Add(-2 * time.Hour)},
		{Node: "dc03", Status: model.NodeUnreachable, LastCheck: time.Now().Add(-time.Minute)},
		{Node: "dc04", Status: model.NodeDegraded, LastCheck: time.Now().Add(-time.Minute)},
	}}
	c := Open(store, 0, nil)

	due, skipped := c.FilterDue(nodes("dc01", "dc02", "dc03", "dc04", "dc05"), time.Hour, false)

	require.Len(t, skipped, 1)
	assert.Equal(t, "dc01", skipped[0].Name)
	// stale-healthy, known-bad and never-seen nodes are all due
	assert.Equal(t, nodes("dc02", "dc03", "dc04", "dc05"), due)
}

func TestForceFullBypassesCacheWithoutDiscardingIt(t *testing.T) {
	store := &memStore{entries: []Entry{
		{Node: "dc01", Status: model.NodeHealthy, LastCheck: time.Now()},
	}}
	c := Open(store, 0, nil)

	due, skipped := c.FilterDue(nodes("dc01"), time.Hour, true)
	assert.Len(t, due, 1)
	assert.Empty(t, skipped)

	// The entry survives for the next non-forced run.
	due, skipped = c.FilterDue(nodes("dc01"), time.Hour, false)
	assert.Empty(t, due)
	assert.Len(t, skipped, 1)
}

func TestCorruptStoreDegradesToFullScan(t *testing.T) {
	store := &memStore{loadErr: errors.New("manifest checksum mismatch")}
	c := Open(store, 0, nil)

	due, skipped := c.FilterDue(nodes("dc01", "dc02"), time.Hour, false)
	assert.Len(t, due, 2)
	assert.Empty(t, skipped)
}

func TestNilStoreDisablesCache(t *testing.T) {
	c := Open(nil, 0, nil)
	due, skipped := c.FilterDue(nodes("dc01"), time.Hour, false)
	assert.Len(t, due, 1)
	assert.Empty(t, skipped)
	require.NoError(t, c.Flush())
}

func TestRetentionPrunesOldEntriesOnLoad(t *testing.T) {
	store := &memStore{entries: []Entry{
		{Node: "old", Status: model.NodeHealthy, LastCheck: time.Now().Add(-100 * 24 * time.Hour)},
		{Node: "fresh", Status: model.NodeHealthy, LastCheck: time.Now()},
	}}
	c := Open(store, 90*24*time.Hour, nil)

	require.NoError(t, c.Flush())
	assert.Equal(t, []string{"old"}, store.removed)
	require.Len(t, store.saved, 1)
	assert.Equal(t, "fresh", store.saved[0].Node)
}

func TestUpdateTracksHealthyStreak(t *testing.T) {
	c := Open(&memStore{}, 0, nil)

	c.Update("dc01", model.NodeHealthy)
	c.Update("dc01", model.NodeHealthy)
	require.NoError(t, c.Flush())

	store := c.store.(*memStore)
	require.Len(t, store.saved, 1)
	assert.Equal(t, 2, store.saved[0].HealthyStreak)

	// Any non-healthy observation resets the streak.
	c.Update("dc01", model.NodeDegraded)
	require.NoError(t, c.Flush())
	assert.Equal(t, 0, store.saved[0].HealthyStreak)
	assert.Equal(t, model.NodeDegraded, store.saved[0].Status)
}

func TestSyncTopologyDropsUnknownNodes(t *testing.T) {
	store := &memStore{entries: []Entry{
		{Node: "kept", Status: model.NodeHealthy, LastCheck: time.Now()},
		{Node: "decommissioned", Status: model.NodeHealthy, LastCheck: time.Now()},
	}}
	c := Open(store, 0, nil)

	c.SyncTopology(nodes("kept"))
	require.NoError(t, c.Flush())

	assert.Equal(t, []string{"decommissioned"}, store.removed)
	require.Len(t, store.saved, 1)
	assert.Equal(t, "kept", store.saved[0].Node)
}

func TestFlushWritesOnceAndSurfacesErrors(t *testing.T) {
	store := &memStore{saveErr: errors.New("disk full")}
	c := Open(store, 0, nil)
	c.Update("dc01", model.NodeHealthy)

	assert.Error(t, c.Flush())
	assert.Equal(t, 1, store.saveHits)
}

func TestCloseReleasesStore(t *testing.T) {
	store := &memStore{}
	c := Open(store, 0, nil)
	c.Close()
	assert.True(t, store.closed)
}

func TestBadgerRoundTrip(t *testing.T) {
	dir := t.TempDir()

	bs, err := OpenBadger(dir)
	require.NoError(t, err)

	in := []Entry{
		{Node: "dc01", Status: model.NodeHealthy, LastCheck: time.Now().UTC().Truncate(time.Second), HealthyStreak: 3},
		{Node: "dc02", Status: model.NodeUnreachable, LastCheck: time.Now().UTC().Truncate(time.Second)},
	}
	require.NoError(t, bs.Save(in, nil))
	require.NoError(t, bs.Close())

	bs, err = OpenBadger(dir)
	require.NoError(t, err)
	defer bs.Close()

	got, err := bs.Load()
	require.NoError(t, err)
	require.Len(t, got, 2)

	byNode := map[string]Entry{}
	for _, e := range got {
		byNode[e.Node] = e
	}
	assert.Equal(t, 3, byNode["dc01"].HealthyStreak)
	assert.Equal(t, model.NodeUnreachable, byNode["dc02"].Status)

	// Removal deletes the key on the next save.
	require.NoError(t, bs.Save(nil, []string{"dc01"}))
	got, err = bs.Load()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "dc02", got[0].Node)
}
