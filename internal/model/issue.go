package model

import "time"

// Category classifies a detected replication problem.
type Category string

const (
	CatUnreachable     Category = "Unreachable"
	CatDegraded        Category = "Degraded"
	CatStale           Category = "StaleReplication"
	CatVeryStale       Category = "VeryStaleReplication"
	CatCriticalFailure Category = "CriticalFailure"
	CatHighFailure     Category = "HighSeverityFailure"
	CatMediumFailure   Category = "MediumSeverityFailure"
	CatCustom          Category = "Custom"
)

// Severity orders issues for scoring and reporting.
type Severity string

const (
	SevCritical Severity = "CRITICAL"
	SevHigh     Severity = "HIGH"
	SevMedium   Severity = "MEDIUM"
	SevInfo     Severity = "INFO"
)

// Issue is a classified, severity-tagged problem derived from one snapshot.
// Issues are read-only once produced.
type Issue struct {
	Node       string    `json:"node"`
	Category   Category  `json:"category"`
	Severity   Severity  `json:"severity"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	DetectedAt time.Time `json:"detectedAt"`
}

// Actionable reports whether this issue may trigger remediation.
// Informational issues never do.
func (i Issue) Actionable() bool {
	return i.Severity != SevInfo
}

// Key identifies an issue for the one-action-per-issue-per-run invariant
// and for verification matching across runs.
func (i Issue) Key() string {
	return i.Node + "/" + string(i.Category)
}
