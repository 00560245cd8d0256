// Package cache is the delta cache: persisted per-node state that lets
// repeated runs skip nodes confirmed healthy recently. Degraded or
// unreachable nodes are always re-checked, whatever their age.
package cache

import (
	"time"

	"go.uber.org/zap"

	"replwatch/internal/metrics"
	"replwatch/internal/model"
)

// Entry is the cached state of one node. Single writer per node within a
// run: only the task processing that node updates its entry.
type Entry struct {
	Node          string           `json:"node"`
	LastCheck     time.Time        `json:"lastCheck"`
	Status        model.NodeStatus `json:"status"`
	HealthyStreak int              `json:"healthyStreak"`
}

// Store is the durable key-value persistence behind the cache.
type Store interface {
	Load() ([]Entry, error)
	// Save rewrites the full entry set atomically and removes the named
	// stale keys.
	Save(entries []Entry, removed []string) error
	Close() error
}

// Cache holds the in-memory working set for one run.
type Cache struct {
	store    Store
	entries  map[string]Entry
	removed  []string
	disabled bool
	log      *zap.Logger
}

// Open loads the store and prunes entries older than retention. Corrupt or
// unreadable state degrades to "treat all nodes as due" instead of failing
// the run.
func Open(store Store, retention time.Duration, log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Cache{store: store, entries: map[string]Entry{}, log: log}
	if store == nil {
		c.disabled = true
		return c
	}

	entries, err := store.Load()
	if err != nil {
		log.Warn("delta cache unreadable, falling back to full scan", zap.Error(err))
		c.disabled = true
		return c
	}

	cutoff := time.Now().Add(-retention)
	for _, e := range entries {
		if retention > 0 && e.LastCheck.Before(cutoff) {
			c.removed = append(c.removed, e.Node)
			continue
		}
		c.entries[e.Node] = e
	}
	if len(c.removed) > 0 {
		log.Info("pruned stale cache entries", zap.Int("count", len(c.removed)))
	}
	return c
}

// FilterDue splits nodes into those needing a check and those skippable.
// A node is skipped only when its cached status is Healthy and the entry is
// younger than threshold. forceFull bypasses the cache for this run without
// discarding stored entries.
func (c *Cache) FilterDue(nodes []model.Node, threshold time.Duration, forceFull bool) (due, skipped []model.Node) {
	if c.disabled || forceFull {
		return nodes, nil
	}
	now := time.Now()
	for _, n := range nodes {
		e, ok := c.entries[n.Name]
		if ok && e.Status == model.NodeHealthy && now.Sub(e.LastCheck) < threshold {
			skipped = append(skipped, n)
			metrics.CacheSkips.Inc()
			continue
		}
		due = append(due, n)
	}
	return due, skipped
}

// SyncTopology drops entries for nodes that no longer exist in the fleet.
func (c *Cache) SyncTopology(nodes []model.Node) {
	known := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		known[n.Name] = true
	}
	for name := range c.entries {
		if !known[name] {
			delete(c.entries, name)
			c.removed = append(c.removed, name)
		}
	}
}

// Update overwrites one node's entry after a check. Callers guarantee a
// single writer per node; the map itself is only touched from the flush
// path and per-node update calls serialized by the orchestrator.
func (c *Cache) Update(node string, status model.NodeStatus) {
	e := c.entries[node]
	e.Node = node
	e.LastCheck = time.Now()
	e.Status = status
	if status == model.NodeHealthy {
		e.HealthyStreak++
	} else {
		e.HealthyStreak = 0
	}
	c.entries[node] = e
}

// Flush rewrites the whole cache in one store transaction at end-of-run.
func (c *Cache) Flush() error {
	if c.disabled || c.store == nil {
		return nil
	}
	entries := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	if err := c.store.Save(entries, c.removed); err != nil {
		c.log.Warn("delta cache flush failed", zap.Error(err))
		return err
	}
	c.removed = nil
	return nil
}

// Close releases the underlying store.
func (c *Cache) Close() {
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			c.log.Warn("delta cache close failed", zap.Error(err))
		}
	}
}
