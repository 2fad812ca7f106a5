package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ferreiralabs/settra/model"
)

// Schema creates the tables used by PgStore. Audit entries carry a serial
// sequence so the trail reads back in exact append order.
const Schema = `
CREATE TABLE IF NOT EXISTS transactions (
	id               TEXT PRIMARY KEY,
	instrument_id    TEXT NOT NULL,
	buyer_id         TEXT NOT NULL,
	seller_id        TEXT NOT NULL,
	amount           BIGINT NOT NULL,
	currency         TEXT NOT NULL,
	stage            TEXT NOT NULL,
	status           TEXT NOT NULL,
	documents        JSONB NOT NULL DEFAULT '[]',
	notes            TEXT NOT NULL DEFAULT '',
	version          INT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL,
	stage_entered_at TIMESTAMPTZ NOT NULL,
	completed_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_transactions_buyer  ON transactions (buyer_id);
CREATE INDEX IF NOT EXISTS idx_transactions_seller ON transactions (seller_id);
CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions (status);

CREATE TABLE IF NOT EXISTS audit_entries (
	seq            BIGSERIAL PRIMARY KEY,
	id             TEXT NOT NULL,
	transaction_id TEXT NOT NULL REFERENCES transactions (id),
	stage          TEXT NOT NULL,
	status         TEXT NOT NULL,
	actor          TEXT NOT NULL,
	reason         TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_transaction ON audit_entries (transaction_id, seq);
`

// PgStore is a PostgreSQL-backed TransactionStore using pgx/v5.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PostgreSQL transaction store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// EnsureSchema creates the tables if they do not exist.
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// HealthCheck verifies database connectivity.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Create inserts a new transaction.
func (s *PgStore) Create(ctx context.Context, tx model.Transaction) error {
	docsJSON, err := json.Marshal(tx.Documents)
	if err != nil {
		return fmt.Errorf("marshal documents: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO transactions (
			id, instrument_id, buyer_id, seller_id, amount, currency,
			stage, status, documents, notes, version,
			created_at, updated_at, stage_entered_at, completed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15
		)`,
		tx.ID, tx.InstrumentID, tx.BuyerID, tx.SellerID, tx.Amount, tx.Currency,
		tx.Stage, tx.Status, docsJSON, tx.Notes, tx.Version,
		tx.CreatedAt, tx.UpdatedAt, tx.StageEnteredAt, tx.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// Get retrieves a transaction by ID.
func (s *PgStore) Get(ctx context.Context, id string) (model.Transaction, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, instrument_id, buyer_id, seller_id, amount, currency,
		       stage, status, documents, notes, version,
		       created_at, updated_at, stage_entered_at, completed_at
		FROM transactions
		WHERE id = $1`, id)

	tx, err := scanTransaction(row)
	if err == pgx.ErrNoRows {
		return model.Transaction{}, model.NewNotFoundError(fmt.Sprintf("transaction %q not found", id))
	}
	if err != nil {
		return model.Transaction{}, fmt.Errorf("query transaction: %w", err)
	}
	return tx, nil
}

// Update persists an updated transaction with optimistic locking.
func (s *PgStore) Update(ctx context.Context, tx model.Transaction) error {
	docsJSON, err := json.Marshal(tx.Documents)
	if err != nil {
		return fmt.Errorf("marshal documents: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE transactions SET
			stage = $1,
			status = $2,
			documents = $3,
			notes = $4,
			version = $5,
			updated_at = $6,
			stage_entered_at = $7,
			completed_at = $8
		WHERE id = $9 AND version = $10`,
		tx.Stage, tx.Status, docsJSON, tx.Notes, tx.Version+1,
		time.Now().UTC(), tx.StageEnteredAt, tx.CompletedAt,
		tx.ID, tx.Version,
	)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(fmt.Sprintf(
			"transaction %q version conflict (expected %d)", tx.ID, tx.Version))
	}
	return nil
}

// AppendAudit adds an entry to the trail.
func (s *PgStore) AppendAudit(ctx context.Context, entry model.AuditEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_entries (id, transaction_id, stage, status, actor, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.TransactionID, entry.Stage, entry.Status,
		entry.Actor, entry.Reason, entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// AuditOf retrieves the full trail in append order.
func (s *PgStore) AuditOf(ctx context.Context, id string) ([]model.AuditEntry, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, transaction_id, stage, status, actor, reason, created_at
		FROM audit_entries
		WHERE transaction_id = $1
		ORDER BY seq ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		if err := rows.Scan(
			&e.ID, &e.TransactionID, &e.Stage, &e.Status, &e.Actor, &e.Reason, &e.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// FindByParty returns transactions where the party is buyer or seller.
func (s *PgStore) FindByParty(ctx context.Context, partyID string) ([]model.Transaction, error) {
	return s.queryTransactions(ctx, `
		SELECT id, instrument_id, buyer_id, seller_id, amount, currency,
		       stage, status, documents, notes, version,
		       created_at, updated_at, stage_entered_at, completed_at
		FROM transactions
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY created_at DESC`, partyID)
}

// FindActive returns all in-progress transactions.
func (s *PgStore) FindActive(ctx context.Context) ([]model.Transaction, error) {
	return s.queryTransactions(ctx, `
		SELECT id, instrument_id, buyer_id, seller_id, amount, currency,
		       stage, status, documents, notes, version,
		       created_at, updated_at, stage_entered_at, completed_at
		FROM transactions
		WHERE status = 'in_progress'
		ORDER BY created_at ASC`)
}

func (s *PgStore) queryTransactions(ctx context.Context, query string, args ...any) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var result []model.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

// rowScanner covers both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (model.Transaction, error) {
	var tx model.Transaction
	var docsJSON []byte

	err := row.Scan(
		&tx.ID, &tx.InstrumentID, &tx.BuyerID, &tx.SellerID, &tx.Amount, &tx.Currency,
		&tx.Stage, &tx.Status, &docsJSON, &tx.Notes, &tx.Version,
		&tx.CreatedAt, &tx.UpdatedAt, &tx.StageEnteredAt, &tx.CompletedAt,
	)
	if err != nil {
		return model.Transaction{}, err
	}

	if docsJSON != nil {
		if err := json.Unmarshal(docsJSON, &tx.Documents); err != nil {
			return model.Transaction{}, fmt.Errorf("unmarshal documents: %w", err)
		}
	}
	return tx, nil
}
