package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"settlement-engine/internal/models"
	"settlement-engine/internal/money"
)

// ReconciliationRepository persists reconciliation records. The table
// is append-mostly: corrections insert a new row and flag the old one
// superseded in one transaction; status moves are conditional updates.
type ReconciliationRepository interface {
	Create(ctx context.Context, rec *models.Reconciliation) error
	CreateSuperseding(ctx context.Context, rec *models.Reconciliation, priorID string) error
	GetByID(ctx context.Context, reconciliationID string) (*models.Reconciliation, error)
	GetActiveByBatch(ctx context.Context, batchID string) (*models.Reconciliation, error)
	UpdateStatus(ctx context.Context, reconciliationID string, from []models.ReconStatus, to models.ReconStatus, remarks, resolvedBy string, resolvedAt *time.Time) (bool, error)
	ListByStatus(ctx context.Context, statuses []models.ReconStatus) ([]*models.Reconciliation, error)
	ListByBatch(ctx context.Context, batchID string) ([]*models.Reconciliation, error)
}

type reconciliationRepository struct {
	db *sql.DB
}

func NewReconciliationRepository(db *sql.DB) ReconciliationRepository {
	return &reconciliationRepository{db: db}
}

func (r *reconciliationRepository) Create(ctx context.Context, rec *models.Reconciliation) error {
	return insertReconciliation(ctx, r.db, rec)
}

// CreateSuperseding inserts the corrected record and flags the prior one
// superseded in a single transaction; a failed insert leaves the prior
// record active.
func (r *reconciliationRepository) CreateSuperseding(ctx context.Context, rec *models.Reconciliation, priorID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertReconciliation(ctx, tx, rec); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE reconciliations SET superseded = TRUE WHERE reconciliation_id = ?`, priorID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrReconciliationNotFound
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertReconciliation(ctx context.Context, db execer, rec *models.Reconciliation) error {
	query := `
		INSERT INTO reconciliations (
			reconciliation_id, batch_id, bank_minor, net_minor,
			variance_minor, currency, status, superseded, remarks
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		rec.ReconciliationID,
		rec.BatchID,
		rec.BankStatementAmount.Amount(),
		rec.BatchNetPayable.Amount(),
		rec.Variance.Amount(),
		rec.BankStatementAmount.Currency(),
		string(rec.Status),
		rec.Superseded,
		rec.Remarks,
	)
	return err
}

func (r *reconciliationRepository) GetByID(ctx context.Context, reconciliationID string) (*models.Reconciliation, error) {
	query := selectReconciliation + ` WHERE reconciliation_id = ?`
	rec, err := scanReconciliation(r.db.QueryRowContext(ctx, query, reconciliationID))
	if err == sql.ErrNoRows {
		return nil, ErrReconciliationNotFound
	}
	return rec, err
}

// GetActiveByBatch returns the latest non-superseded record for a
// batch, or ErrReconciliationNotFound.
func (r *reconciliationRepository) GetActiveByBatch(ctx context.Context, batchID string) (*models.Reconciliation, error) {
	query := selectReconciliation + `
		WHERE batch_id = ? AND superseded = FALSE
		ORDER BY created_at DESC
		LIMIT 1
	`
	rec, err := scanReconciliation(r.db.QueryRowContext(ctx, query, batchID))
	if err == sql.ErrNoRows {
		return nil, ErrReconciliationNotFound
	}
	return rec, err
}

// UpdateStatus transitions a record only when it currently sits in one
// of the expected `from` states; concurrent resolve/escalate calls
// cannot both win.
func (r *reconciliationRepository) UpdateStatus(ctx context.Context, reconciliationID string, from []models.ReconStatus, to models.ReconStatus, remarks, resolvedBy string, resolvedAt *time.Time) (bool, error) {
	query := `
		UPDATE reconciliations
		SET status = ?, remarks = ?, resolved_by = ?, resolved_at = ?
		WHERE reconciliation_id = ? AND status IN (` + placeholders(len(from)) + `)
	`
	args := []interface{}{string(to), remarks, resolvedBy, resolvedAt, reconciliationID}
	for _, s := range from {
		args = append(args, string(s))
	}
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *reconciliationRepository) ListByStatus(ctx context.Context, statuses []models.ReconStatus) ([]*models.Reconciliation, error) {
	query := selectReconciliation + `
		WHERE superseded = FALSE AND status IN (` + placeholders(len(statuses)) + `)
		ORDER BY created_at DESC
	`
	args := make([]interface{}, 0, len(statuses))
	for _, s := range statuses {
		args = append(args, string(s))
	}
	return r.list(ctx, query, args...)
}

func (r *reconciliationRepository) ListByBatch(ctx context.Context, batchID string) ([]*models.Reconciliation, error) {
	query := selectReconciliation + ` WHERE batch_id = ? ORDER BY created_at DESC`
	return r.list(ctx, query, batchID)
}

func (r *reconciliationRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Reconciliation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*models.Reconciliation
	for rows.Next() {
		rec, err := scanReconciliation(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

const selectReconciliation = `
	SELECT reconciliation_id, batch_id, bank_minor, net_minor,
	       variance_minor, currency, status, superseded, remarks,
	       resolved_by, resolved_at, created_at
	FROM reconciliations
`

func scanReconciliation(row rowScanner) (*models.Reconciliation, error) {
	var (
		rec        models.Reconciliation
		bank       int64
		net        int64
		variance   int64
		currency   string
		status     string
		remarks    sql.NullString
		resolvedBy sql.NullString
		resolvedAt sql.NullTime
	)
	err := row.Scan(
		&rec.ReconciliationID,
		&rec.BatchID,
		&bank,
		&net,
		&variance,
		&currency,
		&status,
		&rec.Superseded,
		&remarks,
		&resolvedBy,
		&resolvedAt,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.BankStatementAmount = money.New(bank, currency)
	rec.BatchNetPayable = money.New(net, currency)
	rec.Variance = money.New(variance, currency)
	rec.Status = models.ReconStatus(status)
	if remarks.Valid {
		rec.Remarks = remarks.String
	}
	if resolvedBy.Valid {
		rec.ResolvedBy = resolvedBy.String
	}
	if resolvedAt.Valid {
		rec.ResolvedAt = &resolvedAt.Time
	}
	return &rec, nil
}
