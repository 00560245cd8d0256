// Package detect maps one snapshot to zero or more classified issues.
// Evaluation is pure: the same snapshot and thresholds always produce the
// same issue set, in the same order.
package detect

import (
	"fmt"
	"time"

	"replwatch/internal/model"
)

// Thresholds parameterise the detection rules.
type Thresholds struct {
	FailureThreshold int           // consecutive failures before Degraded
	StaleAfter       time.Duration // last sync older than this → StaleReplication
	VeryStaleAfter   time.Duration // last sync older than this → VeryStaleReplication
}

// DefaultThresholds matches the shipped configuration defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		FailureThreshold: 3,
		StaleAfter:       24 * time.Hour,
		VeryStaleAfter:   48 * time.Hour,
	}
}

// Replication result codes with a fixed severity. Unknown codes default to
// Medium with the raw code preserved in the issue detail.
var codeSeverity = map[int]model.Severity{
	8614: model.SevCritical, // tombstone lifetime exceeded
	8453: model.SevHigh,     // replication access denied
	8456: model.SevHigh,     // source server rejecting replication
	8457: model.SevHigh,     // destination server rejecting replication
	1722: model.SevHigh,     // RPC server unavailable
	8524: model.SevMedium,   // DNS lookup failure
	1256: model.SevMedium,   // remote system unavailable
}

func categoryForSeverity(sev model.Severity) model.Category {
	switch sev {
	case model.SevCritical:
		return model.CatCriticalFailure
	case model.SevHigh:
		return model.CatHighFailure
	default:
		return model.CatMediumFailure
	}
}

// Evaluate derives the ordered issue set for one snapshot. An unreachable
// node short-circuits: no metric-based rule is meaningful without data.
func Evaluate(snap model.Snapshot, th Thresholds) []model.Issue {
	now := snap.CollectedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if !snap.Reachable {
		detail := snap.Error
		if snap.ErrorCode != 0 {
			detail = fmt.Sprintf("code=%d: %s", snap.ErrorCode, snap.Error)
		}
		return []model.Issue{{
			Node:       snap.Node.Name,
			Category:   model.CatUnreachable,
			Severity:   model.SevCritical,
			Message:    "node did not respond to replication status query",
			Detail:     detail,
			DetectedAt: now,
		}}
	}

	var issues []model.Issue

	if th.FailureThreshold > 0 && snap.ConsecutiveFailures > th.FailureThreshold {
		issues = append(issues, model.Issue{
			Node:       snap.Node.Name,
			Category:   model.CatDegraded,
			Severity:   model.SevHigh,
			Message:    fmt.Sprintf("%d consecutive replication failures (threshold %d)", snap.ConsecutiveFailures, th.FailureThreshold),
			DetectedAt: now,
		})
	}

	if !snap.LastSync.IsZero() {
		age := now.Sub(snap.LastSync)
		switch {
		case age > th.VeryStaleAfter:
			issues = append(issues, model.Issue{
				Node:       snap.Node.Name,
				Category:   model.CatVeryStale,
				Severity:   model.SevHigh,
				Message:    fmt.Sprintf("no successful sync for %s", age.Round(time.Hour)),
				DetectedAt: now,
			})
		case age > th.StaleAfter:
			issues = append(issues, model.Issue{
				Node:       snap.Node.Name,
				Category:   model.CatStale,
				Severity:   model.SevMedium,
				Message:    fmt.Sprintf("no successful sync for %s", age.Round(time.Hour)),
				DetectedAt: now,
			})
		}
	}

	for _, p := range snap.Partners {
		if p.LastErrorCode == 0 {
			continue
		}
		sev, known := codeSeverity[p.LastErrorCode]
		if !known {
			sev = model.SevMedium
		}
		issues = append(issues, model.Issue{
			Node:       snap.Node.Name,
			Category:   categoryForSeverity(sev),
			Severity:   sev,
			Message:    fmt.Sprintf("replication error from partner %s", p.Partner),
			Detail:     fmt.Sprintf("code=%d reason=%s", p.LastErrorCode, p.LastErrorReason),
			DetectedAt: now,
		})
	}

	return issues
}

// EvaluateAll runs Evaluate over a snapshot set, preserving node order.
func EvaluateAll(snaps []model.Snapshot, th Thresholds) []model.Issue {
	var out []model.Issue
	for _, s := range snaps {
		out = append(out, Evaluate(s, th)...)
	}
	return out
}
