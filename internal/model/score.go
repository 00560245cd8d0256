package model

import "time"

// Penalty is one contribution to the score breakdown.
type Penalty struct {
	Reason string `json:"reason"`
	Node   string `json:"node,omitempty"`
	Points int    `json:"points"`
}

// HealthScore is the fleet-wide score derived from one run's snapshots
// and issues. Persisted as a historical record, never mutated.
type HealthScore struct {
	Value     int       `json:"value"` // 0-100, clamped
	Grade     string    `json:"grade"`
	Penalties []Penalty `json:"penalties,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
