package model

import "time"

// Transaction status constants.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusRejected   = "rejected"
	StatusCancelled  = "cancelled"
)

// Document status constants. Transitions are strictly
// Pending → Submitted → Approved|Rejected.
const (
	DocumentPending   = "pending"
	DocumentSubmitted = "submitted"
	DocumentApproved  = "approved"
	DocumentRejected  = "rejected"
)

// Audit entry status constants. Exactly one entry is appended per
// state-changing event; blocked and deferred attempts are never logged.
const (
	AuditStarted   = "started"
	AuditApproved  = "approved"
	AuditRejected  = "rejected"
	AuditCompleted = "completed"
	AuditCancelled = "cancelled"
)

// DocumentType tags a document with its business meaning.
type DocumentType string

// Document types referenced by the default pipeline.
const (
	DocIdentity              DocumentType = "identity"
	DocProofOfAddress        DocumentType = "proof_of_address"
	DocInstrumentCertificate DocumentType = "instrument_certificate"
	DocDueDiligenceReport    DocumentType = "due_diligence_report"
	DocPurchaseAgreement     DocumentType = "purchase_agreement"
	DocPaymentReceipt        DocumentType = "payment_receipt"
	DocTransferDeed          DocumentType = "transfer_deed"
)

// Transaction is one credit-instrument purchase moving through the pipeline.
// It is mutated only by the engine, under the per-instance lock.
type Transaction struct {
	ID           string `json:"id"`
	InstrumentID string `json:"instrument_id"`
	BuyerID      string `json:"buyer_id"`
	SellerID     string `json:"seller_id"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`

	Stage  Stage  `json:"stage"`
	Status string `json:"status"`

	Documents []DocumentRecord `json:"documents"`
	Notes     string           `json:"notes,omitempty"`

	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	StageEnteredAt time.Time  `json:"stage_entered_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`

	// Version supports optimistic locking in the store.
	Version int `json:"version"`
}

// Terminal reports whether the transaction has reached a final status.
// Terminal transactions accept no further transitions.
func (t *Transaction) Terminal() bool {
	switch t.Status {
	case StatusCompleted, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// Document returns the record with the given ID, or nil.
func (t *Transaction) Document(docID string) *DocumentRecord {
	for i := range t.Documents {
		if t.Documents[i].ID == docID {
			return &t.Documents[i]
		}
	}
	return nil
}

// DocumentByType returns the first record of the given type, or nil.
func (t *Transaction) DocumentByType(dt DocumentType) *DocumentRecord {
	for i := range t.Documents {
		if t.Documents[i].Type == dt {
			return &t.Documents[i]
		}
	}
	return nil
}

// DocumentRecord tracks one document attached to a transaction. Records are
// created as placeholders when the owning stage is entered (or at creation
// for all known types) and advance only through the document submission API.
type DocumentRecord struct {
	ID         string       `json:"id"`
	Type       DocumentType `json:"type"`
	Name       string       `json:"name"`
	StorageRef string       `json:"storage_ref,omitempty"`
	Required   bool         `json:"required"`
	Status     string       `json:"status"`
	ActorID    string       `json:"actor_id,omitempty"`
	Reason     string       `json:"reason,omitempty"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// AuditEntry is one immutable record in a transaction's append-only trail.
// Read in order, the trail reconstructs the exact stage/status history.
type AuditEntry struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transaction_id"`
	Stage         Stage     `json:"stage"`
	Status        string    `json:"status"`
	Actor         string    `json:"actor"`
	Reason        string    `json:"reason,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// TransactionSummary is a lightweight representation used in list views.
type TransactionSummary struct {
	ID           string    `json:"id"`
	InstrumentID string    `json:"instrument_id"`
	BuyerID      string    `json:"buyer_id"`
	SellerID     string    `json:"seller_id"`
	Amount       int64     `json:"amount"`
	Stage        Stage     `json:"stage"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Summary converts a transaction to its list representation.
func (t *Transaction) Summary() TransactionSummary {
	return TransactionSummary{
		ID:           t.ID,
		InstrumentID: t.InstrumentID,
		BuyerID:      t.BuyerID,
		SellerID:     t.SellerID,
		Amount:       t.Amount,
		Stage:        t.Stage,
		Status:       t.Status,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}
