package model

import "time"

// Advance outcomes.
const (
	OutcomeAdvanced  = "advanced"
	OutcomeBlocked   = "blocked"
	OutcomeDeferred  = "deferred"
	OutcomeRejected  = "rejected"
	OutcomeCompleted = "completed"
)

// AdvanceResult is the typed result of a single advance call. Blocked and
// Deferred are valid steady states, safe to retry; Rejected and Completed
// are terminal.
type AdvanceResult struct {
	Outcome string `json:"outcome"`

	// Stage the transaction is in after the call.
	Stage Stage `json:"stage"`

	// Reason is human-readable context for blocked, deferred, and rejected
	// outcomes.
	Reason string `json:"reason,omitempty"`

	// Missing lists unapproved required document types for blocked outcomes.
	Missing []DocumentType `json:"missing,omitempty"`

	// RetryAfter suggests when a deferred advance should be retried.
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Validation decisions.
const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
	DecisionDeferred = "deferred"
)

// ValidationResult is the tagged outcome of a stage validator.
type ValidationResult struct {
	Decision   string        `json:"decision"`
	Notes      string        `json:"notes,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Approve returns an approved validation result with optional notes.
func Approve(notes string) ValidationResult {
	return ValidationResult{Decision: DecisionApproved, Notes: notes}
}

// Reject returns a rejected validation result with a human-readable reason.
func Reject(reason string) ValidationResult {
	return ValidationResult{Decision: DecisionRejected, Reason: reason}
}

// Defer returns a deferred validation result with a suggested retry delay.
func Defer(retryAfter time.Duration, reason string) ValidationResult {
	return ValidationResult{Decision: DecisionDeferred, RetryAfter: retryAfter, Reason: reason}
}
