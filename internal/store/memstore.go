package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ferreiralabs/settra/model"
)

// MemoryStore is an in-memory TransactionStore for tests and single-node
// deployments.
type MemoryStore struct {
	mu           sync.RWMutex
	transactions map[string]model.Transaction
	audit        map[string][]model.AuditEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transactions: make(map[string]model.Transaction),
		audit:        make(map[string][]model.AuditEntry),
	}
}

// Create persists a new transaction.
func (s *MemoryStore) Create(_ context.Context, tx model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.transactions[tx.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("transaction %q already exists", tx.ID))
	}

	s.transactions[tx.ID] = cloneTransaction(tx)
	return nil
}

// Get retrieves a transaction by ID.
func (s *MemoryStore) Get(_ context.Context, id string) (model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, exists := s.transactions[id]
	if !exists {
		return model.Transaction{}, model.NewNotFoundError(fmt.Sprintf("transaction %q not found", id))
	}
	return cloneTransaction(tx), nil
}

// Update persists an updated transaction with optimistic locking.
func (s *MemoryStore) Update(_ context.Context, tx model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.transactions[tx.ID]
	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("transaction %q not found", tx.ID))
	}
	if existing.Version != tx.Version {
		return model.NewConflictError(fmt.Sprintf(
			"transaction %q version conflict (expected %d, got %d)", tx.ID, tx.Version, existing.Version))
	}

	tx.Version++
	tx.UpdatedAt = time.Now().UTC()
	s.transactions[tx.ID] = cloneTransaction(tx)
	return nil
}

// AppendAudit adds an entry to the trail. Append order is preserved.
func (s *MemoryStore) AppendAudit(_ context.Context, entry model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audit[entry.TransactionID] = append(s.audit[entry.TransactionID], entry)
	return nil
}

// AuditOf retrieves the full trail in append order.
func (s *MemoryStore) AuditOf(_ context.Context, id string) ([]model.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.transactions[id]; !exists {
		return nil, model.NewNotFoundError(fmt.Sprintf("transaction %q not found", id))
	}

	entries := s.audit[id]
	out := make([]model.AuditEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// FindByParty returns transactions where the party is buyer or seller.
func (s *MemoryStore) FindByParty(_ context.Context, partyID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Transaction
	for _, tx := range s.transactions {
		if tx.BuyerID == partyID || tx.SellerID == partyID {
			result = append(result, cloneTransaction(tx))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// FindActive returns all in-progress transactions.
func (s *MemoryStore) FindActive(_ context.Context) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Transaction
	for _, tx := range s.transactions {
		if tx.Status == model.StatusInProgress {
			result = append(result, cloneTransaction(tx))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// Len returns the number of stored transactions. For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.transactions)
}

// cloneTransaction copies a transaction so callers never share the stored
// document slice.
func cloneTransaction(tx model.Transaction) model.Transaction {
	out := tx
	if tx.Documents != nil {
		out.Documents = make([]model.DocumentRecord, len(tx.Documents))
		copy(out.Documents, tx.Documents)
	}
	if tx.CompletedAt != nil {
		t := *tx.CompletedAt
		out.CompletedAt = &t
	}
	return out
}
