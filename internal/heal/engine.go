// Package heal drives policy-gated remediation: each actionable issue walks
// a state machine from Detected through policy evaluation, application,
// verification and commit or rollback.
package heal

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"replwatch/internal/collect"
	"replwatch/internal/detect"
	"replwatch/internal/metrics"
	"replwatch/internal/model"
	"replwatch/internal/retry"
	"replwatch/internal/source"
)

// Engine applies remedies through the external actuator and verifies them
// by re-observation.
type Engine struct {
	actuator   source.Actuator
	collector  *collect.Collector
	thresholds detect.Thresholds
	retryOpts  retry.Options

	policy     Policy
	dryRun     bool
	verifyWait time.Duration
	rollback   bool
	throttle   int

	log *zap.Logger
}

// Options configures an Engine.
type Options struct {
	Policy     Policy
	DryRun     bool
	VerifyWait time.Duration
	Rollback   bool
	Throttle   int
	Retry      retry.Options
	Thresholds detect.Thresholds
}

// New builds a healing engine. collector is used for post-action
// verification snapshots.
func New(actuator source.Actuator, collector *collect.Collector, opts Options, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Throttle <= 0 {
		opts.Throttle = 8
	}
	return &Engine{
		actuator:   actuator,
		collector:  collector,
		thresholds: opts.Thresholds,
		retryOpts:  opts.Retry,
		policy:     opts.Policy,
		dryRun:     opts.DryRun,
		verifyWait: opts.VerifyWait,
		rollback:   opts.Rollback,
		throttle:   opts.Throttle,
		log:        log,
	}
}

// HealAll processes one run's issue list. Actions are independent across
// nodes and run concurrently up to the throttle; within one node they are
// applied strictly sequentially. At most one action per issue key per run.
func (e *Engine) HealAll(ctx context.Context, issues []model.Issue, nodes map[string]model.Node) []model.HealingAction {
	perNode := map[string][]model.Issue{}
	seen := map[string]bool{}
	var order []string
	for _, issue := range issues {
		if seen[issue.Key()] {
			continue // no duplicate remediation for the same node/category
		}
		seen[issue.Key()] = true
		if _, ok := perNode[issue.Node]; !ok {
			order = append(order, issue.Node)
		}
		perNode[issue.Node] = append(perNode[issue.Node], issue)
	}

	var mu sync.Mutex
	var actions []model.HealingAction

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.throttle)
	for _, nodeName := range order {
		nodeIssues := perNode[nodeName]
		node, ok := nodes[nodeName]
		if !ok {
			node = model.Node{Name: nodeName}
		}
		g.Go(func() error {
			for _, issue := range nodeIssues {
				act := e.healIssue(gctx, node, issue)
				mu.Lock()
				actions = append(actions, act)
				mu.Unlock()
				if gctx.Err() != nil {
					return nil // finish current action, schedule no more
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return actions
}

// healIssue walks one issue through the state machine.
func (e *Engine) healIssue(ctx context.Context, node model.Node, issue model.Issue) model.HealingAction {
	act := model.HealingAction{
		ID:        uuid.NewString(),
		Issue:     issue,
		Policy:    string(e.policy),
		State:     model.StateDetected,
		StartedAt: time.Now().UTC(),
	}
	defer func() {
		act.FinishedAt = time.Now().UTC()
		metrics.HealingActions.WithLabelValues(string(act.Outcome)).Inc()
	}()

	// Evaluated: pick the remedy and check the policy table.
	act.State = model.StateEvaluated
	act.Remedy = RemedyFor(issue.Category)

	if !issue.Actionable() {
		return e.skip(act, "informational issue, remediation never applies")
	}
	if !e.policy.Allows(act.Remedy) {
		e.log.Info("remedy out of policy scope",
			zap.String("node", node.Name),
			zap.String("category", string(issue.Category)),
			zap.String("remedy", string(act.Remedy)),
			zap.String("policy", string(e.policy)))
		return e.skip(act, "remedy not authorized by policy tier")
	}
	if act.Remedy == model.RemedyEscalate {
		// Escalation is a deliberate no-op: surfaced for an operator,
		// never applied remotely.
		return e.skip(act, "escalated for manual intervention")
	}
	if e.dryRun {
		act.Outcome = model.OutcomeWouldApply
		act.Reason = "dry-run preview"
		return act
	}

	// Authorized: capture pre-action state for rollback before mutating.
	act.State = model.StateAuthorized
	blob, err := retry.Do(ctx, e.retryOpts, func(ctx context.Context) ([]byte, error) {
		return e.actuator.CaptureState(ctx, node)
	})
	if err != nil {
		e.log.Error("pre-action state capture failed",
			zap.String("node", node.Name), zap.Error(err))
		act.Outcome = model.OutcomeFailedNoRollback
		act.Reason = "pre-action state capture failed: " + err.Error()
		return act
	}
	act.PreState = blob

	// Applying.
	act.State = model.StateApplying
	e.log.Info("applying remedy",
		zap.String("node", node.Name),
		zap.String("remedy", string(act.Remedy)),
		zap.String("category", string(issue.Category)))
	_, err = retry.Do(ctx, e.retryOpts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.actuator.Apply(ctx, node, act.Remedy)
	})
	if err != nil {
		// The remedy may be partially applied; try to restore.
		return e.rollBack(ctx, node, act, "apply failed: "+err.Error())
	}

	// Verifying: re-observe after the configured wait and re-run detection.
	act.State = model.StateVerifying
	if e.verifyWait > 0 {
		select {
		case <-ctx.Done():
			return e.rollBack(ctx, node, act, "run cancelled before verification")
		case <-time.After(e.verifyWait):
		}
	}

	res := e.collector.CollectOne(ctx, node)
	reissues := detect.Evaluate(res.Snapshot, e.thresholds)
	if !reproduces(issue, reissues) {
		act.Outcome = model.OutcomeCommitted
		e.log.Info("remedy verified",
			zap.String("node", node.Name),
			zap.String("remedy", string(act.Remedy)))
		return act
	}
	return e.rollBack(ctx, node, act, "issue still reproduces after remedy")
}

func (e *Engine) skip(act model.HealingAction, reason string) model.HealingAction {
	act.Outcome = model.OutcomeSkipped
	act.Reason = reason
	return act
}

// rollBack restores the captured pre-action state. Rollback restores the
// specific blob captured before this action, never a generic default.
func (e *Engine) rollBack(ctx context.Context, node model.Node, act model.HealingAction, reason string) model.HealingAction {
	if !e.rollback || len(act.PreState) == 0 {
		act.Outcome = model.OutcomeFailedNoRollback
		act.Reason = reason + " (rollback disabled)"
		return act
	}
	// Restore must run even when the run is being cancelled: a half-applied
	// remedy is never abandoned without an attempt to undo it.
	blob := bytes.Clone(act.PreState)
	_, err := retry.Do(context.WithoutCancel(ctx), e.retryOpts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.actuator.Restore(ctx, node, blob)
	})
	if err != nil {
		e.log.Error("rollback failed, node left unresolved",
			zap.String("node", node.Name), zap.Error(err))
		act.Outcome = model.OutcomeFailedNoRollback
		act.Reason = reason + "; rollback failed: " + err.Error()
		return act
	}
	e.log.Warn("remedy rolled back",
		zap.String("node", node.Name),
		zap.String("remedy", string(act.Remedy)),
		zap.String("reason", reason))
	act.Outcome = model.OutcomeRolledBack
	act.Reason = reason
	return act
}

// reproduces reports whether the originating issue is still present in a
// fresh issue set.
func reproduces(original model.Issue, fresh []model.Issue) bool {
	for _, i := range fresh {
		if i.Key() == original.Key() {
			return true
		}
	}
	return false
}
