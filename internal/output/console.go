package output

import (
	"encoding/json"
	"fmt"
	"io"

	"replwatch/internal/model"
)

// PrintSummary writes the human-readable run summary.
func PrintSummary(w io.Writer, s *model.RunSummary, trendLabel string, trendDelta int) {
	fmt.Fprintf(w, "Run %s (%s, scope %s)\n", s.RunID, s.Mode, s.Scope)
	fmt.Fprintf(w, "Nodes: %d healthy, %d degraded, %d unreachable, %d skipped, %d not evaluated\n",
		s.StatusCounts[model.NodeHealthy],
		s.StatusCounts[model.NodeDegraded],
		s.StatusCounts[model.NodeUnreachable],
		s.StatusCounts[model.NodeSkipped],
		s.StatusCounts[model.NodeNotEvaluated])
	fmt.Fprintf(w, "Issues: %d (%d critical, %d high, %d medium)\n",
		len(s.Issues),
		s.SeverityCounts[model.SevCritical],
		s.SeverityCounts[model.SevHigh],
		s.SeverityCounts[model.SevMedium])

	if len(s.Actions) > 0 {
		byOutcome := map[model.ActionOutcome]int{}
		for _, a := range s.Actions {
			byOutcome[a.Outcome]++
		}
		fmt.Fprintf(w, "Actions: %d committed, %d rolled back, %d failed, %d skipped, %d would apply\n",
			byOutcome[model.OutcomeCommitted],
			byOutcome[model.OutcomeRolledBack],
			byOutcome[model.OutcomeFailedNoRollback],
			byOutcome[model.OutcomeSkipped],
			byOutcome[model.OutcomeWouldApply])
	}
	if len(s.Resolved)+len(s.Persisting) > 0 {
		fmt.Fprintf(w, "Verification: %d resolved, %d persisting\n", len(s.Resolved), len(s.Persisting))
	}

	fmt.Fprintf(w, "Score: %d (%s)\n", s.Score.Value, s.Score.Grade)
	switch trendLabel {
	case "", "FIRST_RUN", "HISTORY_SKIPPED":
		if trendLabel == "FIRST_RUN" {
			fmt.Fprintln(w, "Trend: FIRST RUN (no previous run recorded)")
		}
	default:
		sign := ""
		if trendDelta > 0 {
			sign = "+"
		}
		fmt.Fprintf(w, "Trend: %s (%s%d)\n", trendLabel, sign, trendDelta)
	}
	fmt.Fprintf(w, "Outcome: %s\n", s.Outcome)
}

// ciLine is the machine-readable single-line summary for CI mode.
type ciLine struct {
	RunID   string           `json:"runId"`
	Mode    model.Mode       `json:"mode"`
	Score   int              `json:"score"`
	Grade   string           `json:"grade"`
	Outcome model.RunOutcome `json:"outcome"`
	Issues  int              `json:"issues"`
	Actions int              `json:"actions"`
	Trend   string           `json:"trend,omitempty"`
	Delta   int              `json:"delta,omitempty"`
}

// PrintCI writes one JSON line for machine consumption.
func PrintCI(w io.Writer, s *model.RunSummary, trendLabel string, trendDelta int) {
	raw, _ := json.Marshal(ciLine{
		RunID:   s.RunID,
		Mode:    s.Mode,
		Score:   s.Score.Value,
		Grade:   s.Score.Grade,
		Outcome: s.Outcome,
		Issues:  len(s.Issues),
		Actions: len(s.Actions),
		Trend:   trendLabel,
		Delta:   trendDelta,
	})
	fmt.Fprintln(w, string(raw))
}
