// Package engine implements the transaction orchestrator: the state machine
// that sequences, gates, and records stage execution for credit-instrument
// purchases. All mutation goes through the engine under a per-instance lock;
// different transactions advance fully in parallel.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ferreiralabs/settra/internal/notify"
	"github.com/ferreiralabs/settra/internal/observability"
	"github.com/ferreiralabs/settra/internal/stage"
	"github.com/ferreiralabs/settra/internal/store"
	"github.com/ferreiralabs/settra/model"
)

// deadlineWarnNum/Den set the fraction of a stage's time budget after which
// the approaching-deadline notification fires.
const (
	deadlineWarnNum = 4
	deadlineWarnDen = 5
)

// Engine drives transactions through the pipeline.
type Engine struct {
	registry   *stage.Registry
	store      store.TransactionStore
	validators *Validators
	dispatcher *notify.Dispatcher
	logger     *zap.Logger
	locks      *instanceLocks

	mu           sync.Mutex
	faults       map[string]int
	deadlineSent map[string]bool
}

// New creates an engine. All collaborators are required; the validator set
// may be empty, in which case stages auto-approve (see Advance).
func New(
	registry *stage.Registry,
	st store.TransactionStore,
	validators *Validators,
	dispatcher *notify.Dispatcher,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		registry:     registry,
		store:        st,
		validators:   validators,
		dispatcher:   dispatcher,
		logger:       logger,
		locks:        newInstanceLocks(),
		faults:       make(map[string]int),
		deadlineSent: make(map[string]bool),
	}
}

// Create allocates a new transaction in the first stage, seeds document
// placeholders for every type any stage requires, records the initial audit
// entry, and attempts one auto-advance (the first stage typically needs no
// human input). The returned transaction reflects the post-advance state.
func (e *Engine) Create(
	ctx context.Context,
	instrumentID, buyerID, sellerID string,
	amount int64,
	currency string,
	principal string,
) (model.Transaction, error) {
	var details []model.FieldError
	if instrumentID == "" {
		details = append(details, model.FieldError{Field: "instrument_id", Code: "required", Message: "instrument_id is required"})
	}
	if buyerID == "" {
		details = append(details, model.FieldError{Field: "buyer_id", Code: "required", Message: "buyer_id is required"})
	}
	if sellerID == "" {
		details = append(details, model.FieldError{Field: "seller_id", Code: "required", Message: "seller_id is required"})
	}
	if amount <= 0 {
		details = append(details, model.FieldError{Field: "amount", Code: "invalid", Message: "amount must be positive"})
	}
	if len(details) > 0 {
		return model.Transaction{}, model.NewValidationError(details)
	}
	if currency == "" {
		currency = "BRL"
	}

	now := time.Now().UTC()
	tx := model.Transaction{
		ID:             uuid.New().String(),
		InstrumentID:   instrumentID,
		BuyerID:        buyerID,
		SellerID:       sellerID,
		Amount:         amount,
		Currency:       currency,
		Stage:          model.StageInitiated,
		Status:         model.StatusInProgress,
		CreatedAt:      now,
		UpdatedAt:      now,
		StageEnteredAt: now,
		Version:        1,
	}
	for _, dt := range e.registry.AllDocumentTypes() {
		tx.Documents = append(tx.Documents, model.DocumentRecord{
			ID:        uuid.New().String(),
			Type:      dt,
			Name:      string(dt),
			Required:  true,
			Status:    model.DocumentPending,
			UpdatedAt: now,
		})
	}

	unlock := e.locks.lock(tx.ID)
	defer unlock()

	if err := e.store.Create(ctx, tx); err != nil {
		return model.Transaction{}, err
	}
	if err := e.appendAudit(ctx, tx.ID, tx.Stage, model.AuditStarted, principal, "transaction created"); err != nil {
		return model.Transaction{}, err
	}
	e.dispatcher.Notify(tx.ID, tx.BuyerID, model.NotifyStageStarted,
		"Purchase initiated",
		fmt.Sprintf("Transaction for instrument %s entered stage %s", tx.InstrumentID, tx.Stage),
	)

	e.logger.Info("transaction created",
		zap.String("transaction_id", tx.ID),
		zap.String("instrument_id", tx.InstrumentID),
		zap.Int64("amount", tx.Amount),
	)

	// One auto-advance attempt; a blocked or deferred outcome is normal here.
	if _, err := e.advanceLocked(ctx, tx.ID, principal); err != nil {
		return model.Transaction{}, err
	}

	return e.store.Get(ctx, tx.ID)
}

// Advance runs the core transition algorithm for the transaction's current
// stage: terminal check, dependency check, document gate, then the stage
// validator. Blocked and deferred outcomes leave the transaction untouched
// and are safe to retry; rejection is terminal.
func (e *Engine) Advance(ctx context.Context, id, principal string) (model.AdvanceResult, error) {
	ctx, span := observability.StartSpan(ctx, "engine.advance",
		attribute.String("transaction.id", id),
	)
	unlock := e.locks.lock(id)
	defer unlock()

	result, err := e.advanceLocked(ctx, id, principal)
	if err == nil {
		span.SetAttributes(
			attribute.String("transaction.stage", string(result.Stage)),
			attribute.String("advance.outcome", result.Outcome),
		)
	}
	observability.EndSpanWithError(span, err)
	return result, err
}

func (e *Engine) advanceLocked(ctx context.Context, id, principal string) (model.AdvanceResult, error) {
	tx, err := e.store.Get(ctx, id)
	if err != nil {
		return model.AdvanceResult{}, err
	}
	if tx.Terminal() {
		return model.AdvanceResult{}, model.NewAlreadyTerminalError(tx.ID, tx.Status)
	}

	def := e.registry.MustDefinition(tx.Stage)

	// Dependency check: every upstream stage needs an Approved audit entry.
	trail, err := e.store.AuditOf(ctx, id)
	if err != nil {
		return model.AdvanceResult{}, err
	}
	approved := make(map[model.Stage]bool)
	for _, entry := range trail {
		if entry.Status == model.AuditApproved {
			approved[entry.Stage] = true
		}
	}
	for _, dep := range def.DependsOn {
		if !approved[dep] {
			return model.AdvanceResult{
				Outcome: model.OutcomeBlocked,
				Stage:   tx.Stage,
				Reason:  fmt.Sprintf("dependency not met: stage %q not approved", dep),
			}, nil
		}
	}

	// Document gate.
	if missing := MissingDocuments(&tx, def.Documents); len(missing) > 0 {
		e.dispatcher.DocumentPending(tx.ID, tx.BuyerID, missing)
		return model.AdvanceResult{
			Outcome: model.OutcomeBlocked,
			Stage:   tx.Stage,
			Reason:  "documents pending",
			Missing: missing,
		}, nil
	}

	// Validation check.
	result := e.validate(ctx, def, &tx)

	switch result.Decision {
	case model.DecisionDeferred:
		return model.AdvanceResult{
			Outcome:    model.OutcomeDeferred,
			Stage:      tx.Stage,
			Reason:     result.Reason,
			RetryAfter: result.RetryAfter,
		}, nil

	case model.DecisionRejected:
		e.clearFaults(tx.ID)
		tx.Status = model.StatusRejected
		if err := e.appendAudit(ctx, tx.ID, tx.Stage, model.AuditRejected, principal, result.Reason); err != nil {
			return model.AdvanceResult{}, err
		}
		if err := e.store.Update(ctx, tx); err != nil {
			return model.AdvanceResult{}, err
		}
		e.dispatcher.Notify(tx.ID, tx.BuyerID, model.NotifyValidationRejected,
			"Validation rejected",
			fmt.Sprintf("Stage %s rejected: %s", tx.Stage, result.Reason),
		)
		e.logger.Info("transaction rejected",
			zap.String("transaction_id", tx.ID),
			zap.String("stage", string(tx.Stage)),
			zap.String("reason", result.Reason),
		)
		return model.AdvanceResult{
			Outcome: model.OutcomeRejected,
			Stage:   tx.Stage,
			Reason:  result.Reason,
		}, nil

	case model.DecisionApproved:
		e.clearFaults(tx.ID)
		if err := e.appendAudit(ctx, tx.ID, tx.Stage, model.AuditApproved, principal, result.Notes); err != nil {
			return model.AdvanceResult{}, err
		}

		next := tx.Stage.Next()
		if next == model.StageCompletion {
			return e.complete(ctx, tx)
		}
		return e.enterStage(ctx, tx, next)

	default:
		return model.AdvanceResult{}, model.NewInternalError()
	}
}

// validate resolves the stage validator and runs it. A missing validator
// auto-approves: optional stages are skipped by policy, required stages fall
// through open (rule content is supplied per deployment). A fault surfaces
// as deferred with exponential backoff.
func (e *Engine) validate(ctx context.Context, def model.StageDefinition, tx *model.Transaction) model.ValidationResult {
	v, ok := e.validators.Lookup(tx.Stage)
	if !ok {
		if !def.Required {
			return model.Approve("skipped by policy")
		}
		return model.Approve("auto-approved: no validator registered")
	}

	vctx, span := observability.StartSpan(ctx, "validator.run",
		attribute.String("transaction.stage", string(tx.Stage)),
	)
	result, err := runValidator(vctx, v, tx)
	span.End()
	if err != nil {
		retry := e.recordFault(tx.ID)
		e.logger.Error("validator fault",
			zap.String("transaction_id", tx.ID),
			zap.String("stage", string(tx.Stage)),
			zap.Duration("retry_after", retry),
			zap.Error(err),
		)
		return model.Defer(retry, "validator fault")
	}
	return result
}

// complete moves the transaction into the terminal Completion stage.
func (e *Engine) complete(ctx context.Context, tx model.Transaction) (model.AdvanceResult, error) {
	now := time.Now().UTC()
	tx.Stage = model.StageCompletion
	tx.Status = model.StatusCompleted
	tx.StageEnteredAt = now
	tx.CompletedAt = &now

	if err := e.appendAudit(ctx, tx.ID, model.StageCompletion, model.AuditCompleted, "system", "workflow completed"); err != nil {
		return model.AdvanceResult{}, err
	}
	if err := e.store.Update(ctx, tx); err != nil {
		return model.AdvanceResult{}, err
	}

	for _, recipient := range []string{tx.BuyerID, tx.SellerID} {
		e.dispatcher.Notify(tx.ID, recipient, model.NotifyTransactionCompleted,
			"Purchase completed",
			fmt.Sprintf("Transaction for instrument %s completed", tx.InstrumentID),
		)
	}
	e.logger.Info("transaction completed", zap.String("transaction_id", tx.ID))

	return model.AdvanceResult{Outcome: model.OutcomeCompleted, Stage: model.StageCompletion}, nil
}

// enterStage transitions the transaction into the given stage, seeding any
// document placeholders that stage needs and don't already exist.
func (e *Engine) enterStage(ctx context.Context, tx model.Transaction, next model.Stage) (model.AdvanceResult, error) {
	now := time.Now().UTC()
	tx.Stage = next
	tx.StageEnteredAt = now

	nextDef := e.registry.MustDefinition(next)
	for _, dt := range nextDef.Documents {
		if tx.DocumentByType(dt) == nil {
			tx.Documents = append(tx.Documents, model.DocumentRecord{
				ID:        uuid.New().String(),
				Type:      dt,
				Name:      string(dt),
				Required:  true,
				Status:    model.DocumentPending,
				UpdatedAt: now,
			})
		}
	}

	if err := e.appendAudit(ctx, tx.ID, next, model.AuditStarted, "system", ""); err != nil {
		return model.AdvanceResult{}, err
	}
	if err := e.store.Update(ctx, tx); err != nil {
		return model.AdvanceResult{}, err
	}

	e.dispatcher.Notify(tx.ID, tx.BuyerID, model.NotifyStageStarted,
		"Stage started",
		fmt.Sprintf("Transaction entered stage %s", next),
	)
	e.logger.Info("transaction advanced",
		zap.String("transaction_id", tx.ID),
		zap.String("stage", string(next)),
	)

	return model.AdvanceResult{Outcome: model.OutcomeAdvanced, Stage: next}, nil
}

// Cancel moves a non-terminal transaction to Cancelled. It takes the same
// per-instance lock as Advance, so no in-flight advance can complete after
// cancellation wins the lock.
func (e *Engine) Cancel(ctx context.Context, id, principal, reason string) error {
	unlock := e.locks.lock(id)
	defer unlock()

	tx, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if tx.Terminal() {
		return model.NewAlreadyTerminalError(tx.ID, tx.Status)
	}

	tx.Status = model.StatusCancelled
	if err := e.appendAudit(ctx, tx.ID, tx.Stage, model.AuditCancelled, principal, reason); err != nil {
		return err
	}
	if err := e.store.Update(ctx, tx); err != nil {
		return err
	}

	for _, recipient := range []string{tx.BuyerID, tx.SellerID} {
		e.dispatcher.Notify(tx.ID, recipient, model.NotifyTransactionCancelled,
			"Purchase cancelled",
			fmt.Sprintf("Transaction cancelled: %s", reason),
		)
	}
	e.logger.Info("transaction cancelled",
		zap.String("transaction_id", tx.ID),
		zap.String("reason", reason),
	)
	return nil
}

// Get returns the transaction with the given ID.
func (e *Engine) Get(ctx context.Context, id string) (model.Transaction, error) {
	return e.store.Get(ctx, id)
}

// History returns the transaction's audit trail in order.
func (e *Engine) History(ctx context.Context, id string) ([]model.AuditEntry, error) {
	return e.store.AuditOf(ctx, id)
}

// ListFor returns summaries of transactions where the party is buyer or
// seller, newest first.
func (e *Engine) ListFor(ctx context.Context, partyID string) ([]model.TransactionSummary, error) {
	txs, err := e.store.FindByParty(ctx, partyID)
	if err != nil {
		return nil, err
	}
	summaries := make([]model.TransactionSummary, 0, len(txs))
	for i := range txs {
		summaries = append(summaries, txs[i].Summary())
	}
	return summaries, nil
}

// AttachDocument records a document submission. A pending or rejected
// record of the same type moves to Submitted; a type with no placeholder
// gets a new, non-required record. Approved documents are immutable.
func (e *Engine) AttachDocument(ctx context.Context, id string, dt model.DocumentType, storageRef, principal string) (model.DocumentRecord, error) {
	unlock := e.locks.lock(id)
	defer unlock()

	tx, err := e.store.Get(ctx, id)
	if err != nil {
		return model.DocumentRecord{}, err
	}
	if tx.Terminal() {
		return model.DocumentRecord{}, model.NewAlreadyTerminalError(tx.ID, tx.Status)
	}

	now := time.Now().UTC()
	rec := tx.DocumentByType(dt)
	if rec == nil {
		tx.Documents = append(tx.Documents, model.DocumentRecord{
			ID:         uuid.New().String(),
			Type:       dt,
			Name:       string(dt),
			Required:   false,
			Status:     model.DocumentSubmitted,
			ActorID:    principal,
			StorageRef: storageRef,
			UpdatedAt:  now,
		})
		rec = &tx.Documents[len(tx.Documents)-1]
	} else {
		if rec.Status == model.DocumentApproved {
			return model.DocumentRecord{}, model.NewConflictError(
				fmt.Sprintf("document %q is already approved", dt))
		}
		rec.StorageRef = storageRef
		rec.Status = model.DocumentSubmitted
		rec.ActorID = principal
		rec.Reason = ""
		rec.UpdatedAt = now
	}

	out := *rec
	if err := e.store.Update(ctx, tx); err != nil {
		return model.DocumentRecord{}, err
	}
	return out, nil
}

// ApproveDocument moves a submitted document to Approved.
func (e *Engine) ApproveDocument(ctx context.Context, id, docID, approver string) (model.DocumentRecord, error) {
	return e.reviewDocument(ctx, id, docID, approver, model.DocumentApproved, "")
}

// RejectDocument moves a submitted document to Rejected with a reason. The
// document may be re-submitted via AttachDocument.
func (e *Engine) RejectDocument(ctx context.Context, id, docID, approver, reason string) (model.DocumentRecord, error) {
	return e.reviewDocument(ctx, id, docID, approver, model.DocumentRejected, reason)
}

func (e *Engine) reviewDocument(ctx context.Context, id, docID, actor, status, reason string) (model.DocumentRecord, error) {
	unlock := e.locks.lock(id)
	defer unlock()

	tx, err := e.store.Get(ctx, id)
	if err != nil {
		return model.DocumentRecord{}, err
	}
	if tx.Terminal() {
		return model.DocumentRecord{}, model.NewAlreadyTerminalError(tx.ID, tx.Status)
	}

	rec := tx.Document(docID)
	if rec == nil {
		return model.DocumentRecord{}, model.NewNotFoundError(
			fmt.Sprintf("document %q not found on transaction %q", docID, id))
	}
	if rec.Status != model.DocumentSubmitted {
		return model.DocumentRecord{}, model.NewConflictError(
			fmt.Sprintf("document %q is %s, not submitted", docID, rec.Status))
	}

	rec.Status = status
	rec.ActorID = actor
	rec.Reason = reason
	rec.UpdatedAt = time.Now().UTC()

	out := *rec
	if err := e.store.Update(ctx, tx); err != nil {
		return model.DocumentRecord{}, err
	}
	return out, nil
}

// SweepDeadlines scans in-progress transactions and emits approaching and
// exceeded deadline notifications for stages past their time budget. Each
// notification fires at most once per transaction and stage; the engine
// never auto-cancels, escalation policy being external.
func (e *Engine) SweepDeadlines(ctx context.Context) error {
	active, err := e.store.FindActive(ctx)
	if err != nil {
		return fmt.Errorf("sweep deadlines: %w", err)
	}

	now := time.Now().UTC()
	for i := range active {
		tx := &active[i]
		def := e.registry.MustDefinition(tx.Stage)
		if def.TimeBudget <= 0 {
			continue
		}

		elapsed := now.Sub(tx.StageEnteredAt)
		warnAt := def.TimeBudget * deadlineWarnNum / deadlineWarnDen

		switch {
		case elapsed >= def.TimeBudget:
			if e.markDeadline(tx.ID, tx.Stage, model.NotifyDeadlineExceeded) {
				e.dispatcher.Notify(tx.ID, tx.BuyerID, model.NotifyDeadlineExceeded,
					"Stage deadline exceeded",
					fmt.Sprintf("Stage %s exceeded its %s budget", tx.Stage, def.TimeBudget),
				)
				e.logger.Warn("stage deadline exceeded",
					zap.String("transaction_id", tx.ID),
					zap.String("stage", string(tx.Stage)),
				)
			}
		case elapsed >= warnAt:
			if e.markDeadline(tx.ID, tx.Stage, model.NotifyDeadlineApproaching) {
				e.dispatcher.Notify(tx.ID, tx.BuyerID, model.NotifyDeadlineApproaching,
					"Stage deadline approaching",
					fmt.Sprintf("Stage %s is nearing its %s budget", tx.Stage, def.TimeBudget),
				)
			}
		}
	}
	return nil
}

// markDeadline records that a deadline notification fired; returns false if
// it already had.
func (e *Engine) markDeadline(txID string, s model.Stage, typ string) bool {
	key := txID + "/" + string(s) + "/" + typ
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deadlineSent[key] {
		return false
	}
	e.deadlineSent[key] = true
	return true
}

func (e *Engine) recordFault(txID string) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.faults[txID]++
	return faultBackoff(e.faults[txID])
}

func (e *Engine) clearFaults(txID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.faults, txID)
}

func (e *Engine) appendAudit(ctx context.Context, txID string, s model.Stage, status, actor, reason string) error {
	return e.store.AppendAudit(ctx, model.AuditEntry{
		ID:            uuid.New().String(),
		TransactionID: txID,
		Stage:         s,
		Status:        status,
		Actor:         actor,
		Reason:        reason,
		Timestamp:     time.Now().UTC(),
	})
}
