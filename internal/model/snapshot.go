package model

import "time"

// PartnerStatus holds per-replication-partner metrics from one snapshot.
type PartnerStatus struct {
	Partner         string        `json:"partner"`
	LatencyMs       int           `json:"latencyMs"`
	QueueLength     int           `json:"queueLength"`
	LastSuccess     time.Time     `json:"lastSuccess"`
	LastAttempt     time.Time     `json:"lastAttempt,omitempty"`
	FailureCount    int           `json:"failureCount"`
	LastErrorCode   int           `json:"lastErrorCode,omitempty"`
	LastErrorReason string        `json:"lastErrorReason,omitempty"`
	Delta           time.Duration `json:"-"` // now - LastSuccess, filled at collection time
}

// Snapshot is a point-in-time read of one node's replication health.
// Snapshots are owned by the run that produced them and never mutated
// after creation.
type Snapshot struct {
	Node                Node            `json:"node"`
	Reachable           bool            `json:"reachable"`
	Partners            []PartnerStatus `json:"partners,omitempty"`
	LastSync            time.Time       `json:"lastSync,omitempty"` // most recent successful sync across partners
	ConsecutiveFailures int             `json:"consecutiveFailures"`
	ErrorCode           int             `json:"errorCode,omitempty"` // raw code when unreachable
	Error               string          `json:"error,omitempty"`
	CollectedAt         time.Time       `json:"collectedAt"`
}
