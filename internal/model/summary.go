package model

import (
	"time"

	"github.com/google/uuid"
)

// NodeStatus is the terminal per-node state of a run. Every node appears in
// the summary exactly once, even when it was never evaluated.
type NodeStatus string

const (
	NodeHealthy      NodeStatus = "Healthy"
	NodeDegraded     NodeStatus = "Degraded"
	NodeUnreachable  NodeStatus = "Unreachable"
	NodeSkipped      NodeStatus = "Skipped"      // delta cache said recently healthy
	NodeNotEvaluated NodeStatus = "NotEvaluated" // run cancelled before this node ran
)

// RunOutcome is the run-level classification consumed by the invoking
// surface. Mutually exclusive; worst case wins.
type RunOutcome string

const (
	OutcomeHealthy       RunOutcome = "Healthy"
	OutcomeIssuesRemain  RunOutcome = "IssuesRemain"
	OutcomeUnreachable   RunOutcome = "NodesUnreachable"
	OutcomeInternalError RunOutcome = "InternalError"
)

// ExitCode maps a run outcome to the process exit code.
func (o RunOutcome) ExitCode() int {
	switch o {
	case OutcomeHealthy:
		return 0
	case OutcomeIssuesRemain:
		return 1
	case OutcomeUnreachable:
		return 2
	default:
		return 3
	}
}

// NodeResult is one node's line in the run summary.
type NodeResult struct {
	Node    Node            `json:"node"`
	Status  NodeStatus      `json:"status"`
	Issues  []Issue         `json:"issues,omitempty"`
	Actions []HealingAction `json:"actions,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Mode names the orchestration mode of a run.
type Mode string

const (
	ModeAudit  Mode = "audit"
	ModeRepair Mode = "repair"
	ModeVerify Mode = "verify"
	ModeFull   Mode = "full" // audit + repair + verify
)

// RunSummary is the aggregate result of one invocation.
type RunSummary struct {
	RunID      string          `json:"runId"`
	Mode       Mode            `json:"mode"`
	Scope      string          `json:"scope"`
	Policy     string          `json:"policy,omitempty"`
	DryRun     bool            `json:"dryRun,omitempty"`
	StartedAt  time.Time       `json:"startedAt"`
	EndedAt    time.Time       `json:"endedAt"`
	DurationMs int64           `json:"durationMs"`
	Nodes      []NodeResult    `json:"nodes"`
	Issues     []Issue         `json:"issues"`
	Actions    []HealingAction `json:"actions,omitempty"`
	Score      HealthScore     `json:"score"`
	Outcome    RunOutcome      `json:"outcome"`

	// Counts by terminal node status and by issue severity.
	StatusCounts   map[NodeStatus]int `json:"statusCounts"`
	SeverityCounts map[Severity]int   `json:"severityCounts"`

	// Verify-mode bookkeeping: previously reported issues that cleared
	// and those still reproducing.
	Resolved   []Issue `json:"resolved,omitempty"`
	Persisting []Issue `json:"persisting,omitempty"`

	// Trend against the previous recorded run, when history is available.
	Trend      string `json:"trend,omitempty"`
	TrendDelta int    `json:"trendDelta,omitempty"`
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}
