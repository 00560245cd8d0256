// Package collect fetches per-node replication snapshots, parallelized and
// throttled. A single node's failure never aborts the batch; the result map
// always contains exactly one entry per requested node.
package collect

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"replwatch/internal/metrics"
	"replwatch/internal/model"
	"replwatch/internal/retry"
	"replwatch/internal/source"
)

// Result is the per-node outcome of a collection pass. Err is set when the
// node could not be queried; the Snapshot is then an unreachable marker.
type Result struct {
	Snapshot model.Snapshot
	Err      error
}

// Collector wraps a DataSource with retry and bounded concurrency.
type Collector struct {
	src         source.DataSource
	retryOpts   retry.Options
	callTimeout time.Duration
	log         *zap.Logger
}

// New builds a Collector. callTimeout bounds each remote call; the retry
// options govern repetition across calls.
func New(src source.DataSource, retryOpts retry.Options, callTimeout time.Duration, log *zap.Logger) *Collector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Collector{src: src, retryOpts: retryOpts, callTimeout: callTimeout, log: log}
}

// CollectAll queries every node with at most throttle concurrent fetches.
// The returned map has one entry per requested node. Nodes whose fetch was
// never scheduled because ctx was cancelled are absent; the orchestrator
// marks them NotEvaluated.
func (c *Collector) CollectAll(ctx context.Context, nodes []model.Node, throttle int) map[string]Result {
	if throttle <= 0 {
		throttle = 8
	}

	var mu sync.Mutex
	out := make(map[string]Result, len(nodes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(throttle)

	for _, node := range nodes {
		if ctx.Err() != nil {
			break // stop scheduling, in-flight fetches finish their attempt
		}
		node := node
		g.Go(func() error {
			res := c.collectOne(gctx, node)
			mu.Lock()
			out[node.Name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// CollectOne fetches a single node, used by healing verification.
func (c *Collector) CollectOne(ctx context.Context, node model.Node) Result {
	return c.collectOne(ctx, node)
}

func (c *Collector) collectOne(ctx context.Context, node model.Node) Result {
	start := time.Now()
	snap, err := retry.Do(ctx, c.retryOpts, func(ctx context.Context) (model.Snapshot, error) {
		callCtx := ctx
		if c.callTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.callTimeout)
			defer cancel()
		}
		return c.src.Query(callCtx, node)
	})
	metrics.PollDuration.Observe(time.Since(start).Seconds())
	metrics.NodesPolled.Inc()

	if err != nil {
		metrics.PollFailures.Inc()
		var exhausted *retry.ExhaustedError
		gaveUp := errors.As(err, &exhausted)
		c.log.Warn("node unreachable",
			zap.String("node", node.Name),
			zap.Bool("retries_exhausted", gaveUp),
			zap.Error(err))
		return Result{
			Snapshot: unreachableSnapshot(node, err),
			Err:      err,
		}
	}

	c.log.Debug("node collected",
		zap.String("node", node.Name),
		zap.Int("partners", len(snap.Partners)),
		zap.Duration("elapsed", time.Since(start)))
	return Result{Snapshot: snap}
}

func unreachableSnapshot(node model.Node, err error) model.Snapshot {
	snap := model.Snapshot{
		Node:        node,
		Reachable:   false,
		Error:       err.Error(),
		CollectedAt: time.Now().UTC(),
	}
	var remote *source.RemoteError
	if errors.As(err, &remote) {
		snap.ErrorCode = remote.Code
	}
	return snap
}
