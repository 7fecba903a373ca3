package repositories

import (
	"context"
	"database/sql"
	"time"

	"settlement-engine/internal/models"
	"settlement-engine/internal/money"
)

// TransactionRepository reads gateway transactions and owns the atomic
// claim that keeps a transaction out of two concurrent batches.
type TransactionRepository interface {
	Create(ctx context.Context, txn *models.Transaction) error
	GetByID(ctx context.Context, txnID string) (*models.Transaction, error)
	ListEligible(ctx context.Context, clientID string, cutoff time.Time) ([]*models.Transaction, error)
	Claim(ctx context.Context, txnID, batchID string) (bool, error)
	ReleaseClaims(ctx context.Context, batchID string) error
	MarkSettled(ctx context.Context, txnIDs []string, settledAt time.Time) error
}

type transactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

func (r *transactionRepository) Create(ctx context.Context, txn *models.Transaction) error {
	query := `
		INSERT INTO transactions (
			txn_id, client_id, amount_minor, currency, status, completed_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		txn.TxnID,
		txn.ClientID,
		txn.Amount.Amount(),
		txn.Amount.Currency(),
		txn.Status,
		txn.CompletedAt,
	)
	return err
}

func (r *transactionRepository) GetByID(ctx context.Context, txnID string) (*models.Transaction, error) {
	query := `
		SELECT txn_id, client_id, amount_minor, currency, status,
		       completed_at, claimed_batch_id, is_settled, settled_at
		FROM transactions
		WHERE txn_id = ?
	`
	return scanTransaction(r.db.QueryRowContext(ctx, query, txnID))
}

// ListEligible returns unclaimed, unsettled SUCCESS transactions whose
// completion falls at or before the cycle cutoff.
func (r *transactionRepository) ListEligible(ctx context.Context, clientID string, cutoff time.Time) ([]*models.Transaction, error) {
	query := `
		SELECT txn_id, client_id, amount_minor, currency, status,
		       completed_at, claimed_batch_id, is_settled, settled_at
		FROM transactions
		WHERE client_id = ?
		  AND status = ?
		  AND is_settled = FALSE
		  AND claimed_batch_id IS NULL
		  AND completed_at <= ?
		ORDER BY completed_at
	`
	rows, err := r.db.QueryContext(ctx, query, clientID, models.TxnStatusSuccess, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []*models.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

// Claim marks a transaction for a batch-in-creation. The single
// conditional UPDATE succeeds only while the transaction is unclaimed,
// so two concurrent runs can never both take it.
func (r *transactionRepository) Claim(ctx context.Context, txnID, batchID string) (bool, error) {
	query := `
		UPDATE transactions
		SET claimed_batch_id = ?
		WHERE txn_id = ?
		  AND status = ?
		  AND is_settled = FALSE
		  AND claimed_batch_id IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, batchID, txnID, models.TxnStatusSuccess)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// ReleaseClaims frees every unsettled transaction held by a batch,
// making them eligible again on the next run.
func (r *transactionRepository) ReleaseClaims(ctx context.Context, batchID string) error {
	query := `
		UPDATE transactions
		SET claimed_batch_id = NULL
		WHERE claimed_batch_id = ?
		  AND is_settled = FALSE
	`
	_, err := r.db.ExecContext(ctx, query, batchID)
	return err
}

func (r *transactionRepository) MarkSettled(ctx context.Context, txnIDs []string, settledAt time.Time) error {
	if len(txnIDs) == 0 {
		return nil
	}
	query := `
		UPDATE transactions
		SET is_settled = TRUE, settled_at = ?
		WHERE txn_id IN (` + placeholders(len(txnIDs)) + `)
	`
	args := make([]interface{}, 0, len(txnIDs)+1)
	args = append(args, settledAt)
	for _, id := range txnIDs {
		args = append(args, id)
	}
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var (
		txn         models.Transaction
		amountMinor int64
		currency    string
		claimedBy   sql.NullString
		settledAt   sql.NullTime
	)
	err := row.Scan(
		&txn.TxnID,
		&txn.ClientID,
		&amountMinor,
		&currency,
		&txn.Status,
		&txn.CompletedAt,
		&claimedBy,
		&txn.Settled,
		&settledAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	txn.Amount = money.New(amountMinor, currency)
	if claimedBy.Valid {
		txn.ClaimedBatchID = &claimedBy.String
	}
	if settledAt.Valid {
		txn.SettledAt = &settledAt.Time
	}
	return &txn, nil
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	out := make([]byte, 0, 2*n-1)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}
