// Package store persists transactions and their audit trails.
package store

import (
	"context"

	"github.com/ferreiralabs/settra/model"
)

// TransactionStore persists transactions and audit entries. Implementations
// must be safe for concurrent use; the engine serializes writers per
// transaction, but readers and writers for different transactions run in
// parallel.
type TransactionStore interface {
	// Create persists a new transaction. Returns CONFLICT if the ID exists.
	Create(ctx context.Context, tx model.Transaction) error

	// Get retrieves a transaction by ID. Returns NOT_FOUND if absent.
	Get(ctx context.Context, id string) (model.Transaction, error)

	// Update persists an updated transaction with optimistic locking. The
	// version must match the stored version; CONFLICT otherwise.
	Update(ctx context.Context, tx model.Transaction) error

	// AppendAudit adds an entry to the transaction's append-only trail.
	// Entries are returned by AuditOf in append order; they are never
	// rewritten or removed.
	AppendAudit(ctx context.Context, entry model.AuditEntry) error

	// AuditOf retrieves the full audit trail for a transaction, in order.
	AuditOf(ctx context.Context, id string) ([]model.AuditEntry, error)

	// FindByParty returns transactions where the party is buyer or seller,
	// newest first.
	FindByParty(ctx context.Context, partyID string) ([]model.Transaction, error)

	// FindActive returns all transactions still in progress. Used by the
	// deadline sweep.
	FindActive(ctx context.Context) ([]model.Transaction, error)
}
