package model

import "time"

// Remedy is one entry of the closed remediation vocabulary.
type Remedy string

const (
	RemedyForceSync      Remedy = "force-sync-partner"
	RemedyRestartService Remedy = "restart-replication-service"
	RemedyClearQueue     Remedy = "clear-queued-failure"
	RemedyEscalate       Remedy = "escalate-no-op"
)

// ActionState tracks an issue through the healing state machine.
type ActionState string

const (
	StateDetected   ActionState = "Detected"
	StateEvaluated  ActionState = "Evaluated"
	StateAuthorized ActionState = "Authorized"
	StateApplying   ActionState = "Applying"
	StateVerifying  ActionState = "Verifying"
)

// ActionOutcome is the terminal result of a healing action.
type ActionOutcome string

const (
	OutcomeCommitted        ActionOutcome = "Committed"
	OutcomeRolledBack       ActionOutcome = "RolledBack"
	OutcomeFailedNoRollback ActionOutcome = "FailedNoRollback"
	OutcomeSkipped          ActionOutcome = "Skipped"
	OutcomeWouldApply       ActionOutcome = "WouldApply" // dry-run preview
)

// HealingAction records one remediation decision and its result.
// Terminal once Outcome is set; never mutated after commit or rollback.
type HealingAction struct {
	ID         string        `json:"id"`
	Issue      Issue         `json:"issue"`
	Remedy     Remedy        `json:"remedy"`
	Policy     string        `json:"policy"`
	State      ActionState   `json:"state"`
	Outcome    ActionOutcome `json:"outcome,omitempty"`
	Reason     string        `json:"reason,omitempty"` // why skipped / what failed
	PreState   []byte        `json:"-"`                // opaque rollback blob, not reported
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt,omitempty"`
}
