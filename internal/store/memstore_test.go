package store

import (
	"context"
	"testing"
	"time"

	"github.com/ferreiralabs/settra/model"
)

func seedTx(id, buyer, seller string, createdAt time.Time) model.Transaction {
	return model.Transaction{
		ID:           id,
		InstrumentID: "precatorio-2031-SP",
		BuyerID:      buyer,
		SellerID:     seller,
		Amount:       100_000_00,
		Currency:     "BRL",
		Stage:        model.StageInitiated,
		Status:       model.StatusInProgress,
		CreatedAt:    createdAt,
		Version:      1,
	}
}

func TestMemoryStore_CreateGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	tx := seedTx("tx-1", "buyer-1", "seller-1", time.Now())

	if err := s.Create(ctx, tx); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Get(ctx, "tx-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.InstrumentID != tx.InstrumentID || got.Amount != tx.Amount {
		t.Errorf("got = %+v, want %+v", got, tx)
	}
}

func TestMemoryStore_Create_duplicate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	tx := seedTx("tx-1", "buyer-1", "seller-1", time.Now())

	s.Create(ctx, tx)
	err := s.Create(ctx, tx)
	if !model.IsCode(err, model.ErrConflict) {
		t.Errorf("err = %v, want CONFLICT", err)
	}
}

func TestMemoryStore_Get_notFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), "nope")
	if !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}
}

func TestMemoryStore_Update_bumpsVersion(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.Create(ctx, seedTx("tx-1", "buyer-1", "seller-1", time.Now()))

	tx, _ := s.Get(ctx, "tx-1")
	tx.Stage = model.StageBuyerValidation
	if err := s.Update(ctx, tx); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, _ := s.Get(ctx, "tx-1")
	if got.Version != 2 {
		t.Errorf("version = %d, want 2", got.Version)
	}
	if got.Stage != model.StageBuyerValidation {
		t.Errorf("stage = %q, want buyer_validation", got.Stage)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be set on update")
	}
}

func TestMemoryStore_Update_versionConflict(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.Create(ctx, seedTx("tx-1", "buyer-1", "seller-1", time.Now()))

	stale, _ := s.Get(ctx, "tx-1")
	current, _ := s.Get(ctx, "tx-1")

	current.Stage = model.StageBuyerValidation
	if err := s.Update(ctx, current); err != nil {
		t.Fatalf("first update: %v", err)
	}

	stale.Stage = model.StageInstrumentValidation
	err := s.Update(ctx, stale)
	if !model.IsCode(err, model.ErrConflict) {
		t.Errorf("stale update err = %v, want CONFLICT", err)
	}
}

func TestMemoryStore_Audit_appendOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.Create(ctx, seedTx("tx-1", "buyer-1", "seller-1", time.Now()))

	for _, status := range []string{model.AuditStarted, model.AuditApproved, model.AuditStarted} {
		s.AppendAudit(ctx, model.AuditEntry{TransactionID: "tx-1", Status: status})
	}

	trail, err := s.AuditOf(ctx, "tx-1")
	if err != nil {
		t.Fatalf("AuditOf: %v", err)
	}
	if len(trail) != 3 {
		t.Fatalf("trail = %d entries, want 3", len(trail))
	}
	if trail[0].Status != model.AuditStarted || trail[1].Status != model.AuditApproved {
		t.Error("trail should preserve append order")
	}
}

func TestMemoryStore_AuditOf_unknownTransaction(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.AuditOf(context.Background(), "nope")
	if !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}
}

func TestMemoryStore_FindByParty(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	s.Create(ctx, seedTx("tx-1", "buyer-1", "seller-1", base))
	s.Create(ctx, seedTx("tx-2", "buyer-2", "seller-1", base.Add(time.Minute)))
	s.Create(ctx, seedTx("tx-3", "buyer-1", "seller-2", base.Add(2*time.Minute)))

	asBuyer, err := s.FindByParty(ctx, "buyer-1")
	if err != nil {
		t.Fatalf("FindByParty: %v", err)
	}
	if len(asBuyer) != 2 {
		t.Fatalf("buyer-1 has %d transactions, want 2", len(asBuyer))
	}
	if asBuyer[0].ID != "tx-3" {
		t.Errorf("first = %q, want tx-3 (newest first)", asBuyer[0].ID)
	}

	asSeller, _ := s.FindByParty(ctx, "seller-1")
	if len(asSeller) != 2 {
		t.Errorf("seller-1 has %d transactions, want 2", len(asSeller))
	}

	none, _ := s.FindByParty(ctx, "stranger")
	if len(none) != 0 {
		t.Errorf("stranger has %d transactions, want 0", len(none))
	}
}

func TestMemoryStore_FindActive(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	s.Create(ctx, seedTx("tx-1", "b", "s", base))
	done := seedTx("tx-2", "b", "s", base.Add(time.Minute))
	done.Status = model.StatusCancelled
	s.Create(ctx, done)
	s.Create(ctx, seedTx("tx-3", "b", "s", base.Add(2*time.Minute)))

	active, err := s.FindActive(ctx)
	if err != nil {
		t.Fatalf("FindActive: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("active = %d, want 2", len(active))
	}
	if active[0].ID != "tx-1" {
		t.Errorf("first = %q, want tx-1 (oldest first)", active[0].ID)
	}
}

func TestMemoryStore_Get_returnsCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	tx := seedTx("tx-1", "buyer-1", "seller-1", time.Now())
	tx.Documents = []model.DocumentRecord{{ID: "doc-1", Type: model.DocIdentity, Status: model.DocumentPending}}
	s.Create(ctx, tx)

	got, _ := s.Get(ctx, "tx-1")
	got.Documents[0].Status = model.DocumentApproved

	again, _ := s.Get(ctx, "tx-1")
	if again.Documents[0].Status != model.DocumentPending {
		t.Error("mutating a returned transaction must not affect the store")
	}
}
