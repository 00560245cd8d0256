// Package run composes collection, detection, scoring and healing into the
// invocation modes: audit, repair, verify and the combined full run.
package run

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"replwatch/internal/cache"
	"replwatch/internal/collect"
	"replwatch/internal/detect"
	"replwatch/internal/heal"
	"replwatch/internal/metrics"
	"replwatch/internal/model"
	"replwatch/internal/score"
	"replwatch/internal/source"
)

// Options parameterise one run.
type Options struct {
	Mode           model.Mode
	Scope          model.Scope
	Throttle       int
	CacheThreshold time.Duration
	ForceFull      bool
	Thresholds     detect.Thresholds
	Policy         heal.Policy
	DryRun         bool

	// PriorIssues feeds verify mode: the issues reported by a previous
	// run whose resolution should be confirmed.
	PriorIssues []model.Issue

	// RunTimeout bounds the whole run; zero means unbounded.
	RunTimeout time.Duration
}

// Orchestrator owns one configured pipeline. The same instance can serve
// multiple runs.
type Orchestrator struct {
	resolver  source.Resolver
	collector *collect.Collector
	cache     *cache.Cache
	engine    *heal.Engine
	log       *zap.Logger
}

// New wires an orchestrator.
func New(resolver source.Resolver, collector *collect.Collector, c *cache.Cache, engine *heal.Engine, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{resolver: resolver, collector: collector, cache: c, engine: engine, log: log}
}

// Run executes one invocation and always returns a summary; the error is
// non-nil only for run-scoped failures (topology resolution), in which case
// the summary carries the InternalError outcome.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*model.RunSummary, error) {
	if opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.RunTimeout)
		defer cancel()
	}

	s := &model.RunSummary{
		RunID:          model.NewRunID(),
		Mode:           opts.Mode,
		Scope:          scopeLabel(opts.Scope),
		Policy:         string(opts.Policy),
		DryRun:         opts.DryRun,
		StartedAt:      time.Now().UTC(),
		StatusCounts:   map[model.NodeStatus]int{},
		SeverityCounts: map[model.Severity]int{},
	}
	defer func() {
		s.EndedAt = time.Now().UTC()
		s.DurationMs = s.EndedAt.Sub(s.StartedAt).Milliseconds()
	}()

	nodes, err := o.resolver.Resolve(ctx, opts.Scope)
	if err != nil || len(nodes) == 0 {
		if err == nil {
			err = fmt.Errorf("topology resolver returned no nodes for scope %s", s.Scope)
		}
		o.log.Error("topology resolution failed", zap.Error(err))
		s.Outcome = model.OutcomeInternalError
		return s, fmt.Errorf("resolve topology: %w", err)
	}
	o.log.Info("topology resolved",
		zap.Int("nodes", len(nodes)), zap.String("scope", s.Scope))
	o.cache.SyncTopology(nodes)

	if opts.Mode == model.ModeVerify {
		o.verify(ctx, opts, nodes, s)
		finalize(s)
		return s, nil
	}

	// Delta filter: recently-confirmed-healthy nodes are skipped unless
	// forced; known-bad nodes are always re-checked.
	due, skipped := o.cache.FilterDue(nodes, opts.CacheThreshold, opts.ForceFull)
	o.log.Info("delta cache applied",
		zap.Int("due", len(due)), zap.Int("skipped", len(skipped)))

	// Audit: collect and detect.
	results := o.collector.CollectAll(ctx, due, opts.Throttle)

	nodeIndex := map[string]model.Node{}
	var snaps []model.Snapshot
	for _, n := range due {
		nodeIndex[n.Name] = n
		if res, ok := results[n.Name]; ok {
			snaps = append(snaps, res.Snapshot)
		}
	}

	s.Issues = detect.EvaluateAll(snaps, opts.Thresholds)
	for _, i := range s.Issues {
		metrics.IssuesDetected.WithLabelValues(string(i.Category)).Inc()
	}
	s.Score = scoreOf(snaps, s.Issues)

	// Repair: audit must complete before repair consumes its issue list.
	if opts.Mode == model.ModeRepair || opts.Mode == model.ModeFull {
		actionable := actionableIssues(s.Issues)
		if len(actionable) == 0 {
			o.log.Info("no actionable issues, skipping repair")
		} else {
			s.Actions = o.engine.HealAll(ctx, actionable, nodeIndex)
		}
	}

	// Verify leg of the combined mode: re-check issues whose remedy
	// committed is already done by the engine; confirm the rest here.
	if opts.Mode == model.ModeFull && len(s.Actions) > 0 {
		o.classifyVerification(s)
	}

	o.assembleNodeResults(s, due, skipped, results)
	o.updateCache(s)
	finalize(s)
	return s, nil
}

// verify re-runs collection and detection against previously reported
// issues to confirm resolution.
func (o *Orchestrator) verify(ctx context.Context, opts Options, fleet []model.Node, s *model.RunSummary) {
	prior := opts.PriorIssues
	if len(prior) == 0 {
		o.log.Info("verify: no previously reported issues")
		return
	}

	byNode := map[string]bool{}
	for _, i := range prior {
		byNode[i.Node] = true
	}
	var targets []model.Node
	for _, n := range fleet {
		if byNode[n.Name] {
			targets = append(targets, n)
		}
	}

	results := o.collector.CollectAll(ctx, targets, opts.Throttle)
	var snaps []model.Snapshot
	for _, n := range targets {
		if res, ok := results[n.Name]; ok {
			snaps = append(snaps, res.Snapshot)
		}
	}
	fresh := detect.EvaluateAll(snaps, opts.Thresholds)
	freshKeys := map[string]bool{}
	for _, i := range fresh {
		freshKeys[i.Key()] = true
	}

	for _, p := range prior {
		if freshKeys[p.Key()] {
			s.Persisting = append(s.Persisting, p)
		} else {
			s.Resolved = append(s.Resolved, p)
		}
	}
	s.Issues = fresh
	s.Score = scoreOf(snaps, fresh)
	o.assembleNodeResults(s, targets, nil, results)
	o.updateCache(s)
	o.log.Info("verification complete",
		zap.Int("resolved", len(s.Resolved)),
		zap.Int("persisting", len(s.Persisting)))
}

// classifyVerification moves issues fixed by committed actions into the
// resolved list for the combined mode's summary.
func (o *Orchestrator) classifyVerification(s *model.RunSummary) {
	committed := map[string]bool{}
	for _, a := range s.Actions {
		if a.Outcome == model.OutcomeCommitted {
			committed[a.Issue.Key()] = true
		}
	}
	for _, i := range s.Issues {
		if committed[i.Key()] {
			s.Resolved = append(s.Resolved, i)
		} else if i.Actionable() {
			s.Persisting = append(s.Persisting, i)
		}
	}
}

// assembleNodeResults guarantees every node appears in the summary exactly
// once, tagged with its terminal state.
func (o *Orchestrator) assembleNodeResults(s *model.RunSummary, due, skipped []model.Node, results map[string]collect.Result) {
	issuesByNode := map[string][]model.Issue{}
	for _, i := range s.Issues {
		issuesByNode[i.Node] = append(issuesByNode[i.Node], i)
	}
	actionsByNode := map[string][]model.HealingAction{}
	for _, a := range s.Actions {
		actionsByNode[a.Issue.Node] = append(actionsByNode[a.Issue.Node], a)
	}

	for _, n := range due {
		res, evaluated := results[n.Name]
		nr := model.NodeResult{
			Node:    n,
			Issues:  issuesByNode[n.Name],
			Actions: actionsByNode[n.Name],
		}
		switch {
		case !evaluated:
			nr.Status = model.NodeNotEvaluated
		case !res.Snapshot.Reachable:
			nr.Status = model.NodeUnreachable
			nr.Error = res.Snapshot.Error
		case hasCategory(nr.Issues, model.CatDegraded):
			nr.Status = model.NodeDegraded
		default:
			nr.Status = model.NodeHealthy
		}
		s.Nodes = append(s.Nodes, nr)
	}
	for _, n := range skipped {
		s.Nodes = append(s.Nodes, model.NodeResult{Node: n, Status: model.NodeSkipped})
	}
	sort.Slice(s.Nodes, func(i, j int) bool {
		return s.Nodes[i].Node.Name < s.Nodes[j].Node.Name
	})
}

// updateCache records terminal statuses; single writer per node, applied
// sequentially after the parallel phases.
func (o *Orchestrator) updateCache(s *model.RunSummary) {
	for _, nr := range s.Nodes {
		switch nr.Status {
		case model.NodeHealthy, model.NodeDegraded, model.NodeUnreachable:
			o.cache.Update(nr.Node.Name, nr.Status)
		}
	}
	if err := o.cache.Flush(); err != nil {
		o.log.Warn("cache flush failed, next run does a full scan", zap.Error(err))
	}
}

// finalize fills counts and derives the outcome classification:
// worst case wins.
func finalize(s *model.RunSummary) {
	for _, nr := range s.Nodes {
		s.StatusCounts[nr.Status]++
	}
	for _, i := range s.Issues {
		s.SeverityCounts[i.Severity]++
	}

	unresolved := unresolvedIssues(s)
	switch {
	case s.StatusCounts[model.NodeUnreachable] > 0:
		s.Outcome = model.OutcomeUnreachable
	case unresolved > 0 || failedActions(s) > 0:
		s.Outcome = model.OutcomeIssuesRemain
	case s.StatusCounts[model.NodeNotEvaluated] > 0:
		// A cancelled run cannot claim the fleet healthy.
		s.Outcome = model.OutcomeIssuesRemain
	default:
		s.Outcome = model.OutcomeHealthy
	}
}

// unresolvedIssues counts issues not fixed by a committed action.
func unresolvedIssues(s *model.RunSummary) int {
	committed := map[string]bool{}
	for _, a := range s.Actions {
		if a.Outcome == model.OutcomeCommitted {
			committed[a.Issue.Key()] = true
		}
	}
	n := 0
	for _, i := range s.Issues {
		if !committed[i.Key()] {
			n++
		}
	}
	return n
}

func failedActions(s *model.RunSummary) int {
	n := 0
	for _, a := range s.Actions {
		if a.Outcome == model.OutcomeFailedNoRollback {
			n++
		}
	}
	return n
}

func actionableIssues(issues []model.Issue) []model.Issue {
	var out []model.Issue
	for _, i := range issues {
		if i.Actionable() {
			out = append(out, i)
		}
	}
	return out
}

func hasCategory(issues []model.Issue, cat model.Category) bool {
	for _, i := range issues {
		if i.Category == cat {
			return true
		}
	}
	return false
}

func scopeLabel(sc model.Scope) string {
	switch sc.Kind {
	case model.ScopeSite:
		return "site:" + sc.Site
	case model.ScopeList:
		return fmt.Sprintf("list(%d)", len(sc.Nodes))
	default:
		return "fleet"
	}
}

func scoreOf(snaps []model.Snapshot, issues []model.Issue) model.HealthScore {
	return score.Compute(snaps, issues)
}
