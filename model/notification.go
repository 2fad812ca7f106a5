package model

import "time"

// Notification types.
const (
	NotifyStageStarted         = "stage_started"
	NotifyDocumentPending      = "document_pending"
	NotifyValidationRejected   = "validation_rejected"
	NotifyTransactionCompleted = "transaction_completed"
	NotifyTransactionCancelled = "transaction_cancelled"
	NotifyDeadlineApproaching  = "deadline_approaching"
	NotifyDeadlineExceeded     = "deadline_exceeded"
)

// Notification is one entry in a recipient's outbox. Notifications are
// created by the dispatcher on stage transitions and consumed (marked read)
// by the UI; they are never otherwise mutated.
type Notification struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transaction_id"`
	Recipient     string    `json:"recipient"`
	Type          string    `json:"type"`
	Title         string    `json:"title"`
	Message       string    `json:"message"`
	Read          bool      `json:"read"`
	Actions       []string  `json:"actions,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
