// Package score computes the fleet health score for one run. Scoring is
// deterministic and idempotent: identical snapshot and issue sets always
// yield the identical score and grade.
package score

import (
	"time"

	"replwatch/internal/model"
)

// Penalty points per condition.
const (
	penNodeUnreachable = 10
	penNodeDegraded    = 5
	penIssueCritical   = 3
	penIssueHigh       = 2
	penIssueMedium     = 1
	penStale           = 1
	penVeryStale       = 2
)

// Compute derives the score from one run's snapshots and issues.
// Start at 100; subtract per-node penalties for unreachable/degraded nodes
// and per-issue penalties by severity. Stale categories carry only their
// category penalty, not the generic severity one.
func Compute(snaps []model.Snapshot, issues []model.Issue) model.HealthScore {
	value := 100
	var penalties []model.Penalty

	apply := func(reason, node string, points int) {
		value -= points
		penalties = append(penalties, model.Penalty{Reason: reason, Node: node, Points: points})
	}

	degraded := map[string]bool{}
	for _, i := range issues {
		if i.Category == model.CatDegraded {
			degraded[i.Node] = true
		}
	}

	for _, s := range snaps {
		if !s.Reachable {
			apply("node unreachable", s.Node.Name, penNodeUnreachable)
		} else if degraded[s.Node.Name] {
			apply("node degraded", s.Node.Name, penNodeDegraded)
		}
	}

	for _, i := range issues {
		switch i.Category {
		case model.CatStale:
			apply("stale replication", i.Node, penStale)
		case model.CatVeryStale:
			apply("very stale replication", i.Node, penVeryStale)
		default:
			switch i.Severity {
			case model.SevCritical:
				apply("critical issue", i.Node, penIssueCritical)
			case model.SevHigh:
				apply("high severity issue", i.Node, penIssueHigh)
			case model.SevMedium:
				apply("medium severity issue", i.Node, penIssueMedium)
			}
		}
	}

	return model.HealthScore{
		Value:     clamp(value),
		Grade:     Grade(clamp(value)),
		Penalties: penalties,
		Timestamp: time.Now().UTC(),
	}
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Grade maps a score to its letter grade.
func Grade(v int) string {
	switch {
	case v >= 95:
		return "A+"
	case v >= 90:
		return "A"
	case v >= 85:
		return "B+"
	case v >= 80:
		return "B"
	case v >= 75:
		return "C+"
	case v >= 70:
		return "C"
	case v >= 60:
		return "D"
	default:
		return "F"
	}
}
