package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"settlement-engine/internal/models"
	"settlement-engine/internal/money"
)

// BatchFilter narrows batch listings.
type BatchFilter struct {
	ClientID string
	Status   models.BatchStatus
	DateFrom *time.Time
	DateTo   *time.Time
	Limit    int
}

// BatchRepository persists settlement batches and their line items.
// Status moves go through conditional updates so a terminal decision
// can only be taken once.
type BatchRepository interface {
	CreateWithItems(ctx context.Context, batch *models.SettlementBatch, items []*models.SettlementLineItem) error
	GetByID(ctx context.Context, batchID string) (*models.SettlementBatch, error)
	List(ctx context.Context, filter BatchFilter) ([]*models.SettlementBatch, error)
	ListItems(ctx context.Context, batchID string) ([]*models.SettlementLineItem, error)
	UpdateStatus(ctx context.Context, batchID string, from, to models.BatchStatus, reason string, completedAt *time.Time) (bool, error)
	UpdateItemStatus(ctx context.Context, batchID, txnID string, status models.ItemStatus) error
	ResetItems(ctx context.Context, batchID string, from, to models.ItemStatus) error
	UpdateTotals(ctx context.Context, batch *models.SettlementBatch) error
}

type batchRepository struct {
	db *sql.DB
}

func NewBatchRepository(db *sql.DB) BatchRepository {
	return &batchRepository{db: db}
}

// CreateWithItems writes the batch and its line items in one database
// transaction; a failed build leaves nothing behind.
func (r *batchRepository) CreateWithItems(ctx context.Context, batch *models.SettlementBatch, items []*models.SettlementLineItem) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	batchQuery := `
		INSERT INTO settlement_batches (
			batch_id, client_id, batch_date, status, transaction_count,
			excluded_count, gross_minor, fee_minor, gst_minor, net_minor,
			currency, failure_reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, batchQuery,
		batch.BatchID,
		batch.ClientID,
		batch.BatchDate,
		string(batch.Status),
		batch.TransactionCount,
		batch.ExcludedCount,
		batch.GrossAmount.Amount(),
		batch.TotalFee.Amount(),
		batch.TotalGST.Amount(),
		batch.NetPayable.Amount(),
		batch.GrossAmount.Currency(),
		batch.FailureReason,
	)
	if err != nil {
		return err
	}

	itemQuery := `
		INSERT INTO settlement_line_items (
			batch_id, transaction_id, gross_minor, fee_minor, gst_minor,
			net_minor, currency, item_status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, item := range items {
		_, err = tx.ExecContext(ctx, itemQuery,
			item.BatchID,
			item.TransactionID,
			item.GrossAmount.Amount(),
			item.FeeAmount.Amount(),
			item.GSTAmount.Amount(),
			item.NetAmount.Amount(),
			item.GrossAmount.Currency(),
			string(item.Status),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *batchRepository) GetByID(ctx context.Context, batchID string) (*models.SettlementBatch, error) {
	query := `
		SELECT batch_id, client_id, batch_date, status, transaction_count,
		       excluded_count, gross_minor, fee_minor, gst_minor, net_minor,
		       currency, created_at, completed_at, failure_reason
		FROM settlement_batches
		WHERE batch_id = ?
	`
	batch, err := scanBatch(r.db.QueryRowContext(ctx, query, batchID))
	if err == sql.ErrNoRows {
		return nil, ErrBatchNotFound
	}
	return batch, err
}

func (r *batchRepository) List(ctx context.Context, filter BatchFilter) ([]*models.SettlementBatch, error) {
	query := `
		SELECT batch_id, client_id, batch_date, status, transaction_count,
		       excluded_count, gross_minor, fee_minor, gst_minor, net_minor,
		       currency, created_at, completed_at, failure_reason
		FROM settlement_batches
		WHERE 1=1
	`
	var args []interface{}
	if filter.ClientID != "" {
		query += " AND client_id = ?"
		args = append(args, filter.ClientID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.DateFrom != nil {
		query += " AND batch_date >= ?"
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		query += " AND batch_date <= ?"
		args = append(args, *filter.DateTo)
	}
	query += " ORDER BY batch_date DESC, created_at DESC"
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []*models.SettlementBatch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}

func (r *batchRepository) ListItems(ctx context.Context, batchID string) ([]*models.SettlementLineItem, error) {
	query := `
		SELECT batch_id, transaction_id, gross_minor, fee_minor, gst_minor,
		       net_minor, currency, item_status
		FROM settlement_line_items
		WHERE batch_id = ?
		ORDER BY transaction_id
	`
	rows, err := r.db.QueryContext(ctx, query, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.SettlementLineItem
	for rows.Next() {
		var (
			item     models.SettlementLineItem
			gross    int64
			fee      int64
			gst      int64
			net      int64
			currency string
			status   string
		)
		err := rows.Scan(&item.BatchID, &item.TransactionID, &gross, &fee, &gst, &net, &currency, &status)
		if err != nil {
			return nil, err
		}
		item.GrossAmount = money.New(gross, currency)
		item.FeeAmount = money.New(fee, currency)
		item.GSTAmount = money.New(gst, currency)
		item.NetAmount = money.New(net, currency)
		item.Status = models.ItemStatus(status)
		items = append(items, &item)
	}
	return items, rows.Err()
}

// UpdateStatus performs the conditional state transition. It returns
// false when the batch was not in the expected `from` state, which is
// how concurrent terminal decisions lose the race.
func (r *batchRepository) UpdateStatus(ctx context.Context, batchID string, from, to models.BatchStatus, reason string, completedAt *time.Time) (bool, error) {
	query := `
		UPDATE settlement_batches
		SET status = ?, failure_reason = ?, completed_at = ?
		WHERE batch_id = ? AND status = ?
	`
	result, err := r.db.ExecContext(ctx, query, string(to), reason, completedAt, batchID, string(from))
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *batchRepository) UpdateItemStatus(ctx context.Context, batchID, txnID string, status models.ItemStatus) error {
	query := `
		UPDATE settlement_line_items
		SET item_status = ?
		WHERE batch_id = ? AND transaction_id = ?
	`
	_, err := r.db.ExecContext(ctx, query, string(status), batchID, txnID)
	return err
}

// ResetItems compensates items in bulk, e.g. SETTLED back to PENDING on
// an all-or-nothing rollback.
func (r *batchRepository) ResetItems(ctx context.Context, batchID string, from, to models.ItemStatus) error {
	query := `
		UPDATE settlement_line_items
		SET item_status = ?
		WHERE batch_id = ? AND item_status = ?
	`
	_, err := r.db.ExecContext(ctx, query, string(to), batchID, string(from))
	return err
}

// UpdateTotals rewrites the aggregate figures, used when partial
// settlement removes excluded items from the batch totals.
func (r *batchRepository) UpdateTotals(ctx context.Context, batch *models.SettlementBatch) error {
	query := `
		UPDATE settlement_batches
		SET transaction_count = ?, excluded_count = ?, gross_minor = ?,
		    fee_minor = ?, gst_minor = ?, net_minor = ?
		WHERE batch_id = ?
	`
	_, err := r.db.ExecContext(ctx, query,
		batch.TransactionCount,
		batch.ExcludedCount,
		batch.GrossAmount.Amount(),
		batch.TotalFee.Amount(),
		batch.TotalGST.Amount(),
		batch.NetPayable.Amount(),
		batch.BatchID,
	)
	return err
}

func scanBatch(row rowScanner) (*models.SettlementBatch, error) {
	var (
		batch       models.SettlementBatch
		status      string
		gross       int64
		fee         int64
		gst         int64
		net         int64
		currency    string
		completedAt sql.NullTime
		reason      sql.NullString
	)
	err := row.Scan(
		&batch.BatchID,
		&batch.ClientID,
		&batch.BatchDate,
		&status,
		&batch.TransactionCount,
		&batch.ExcludedCount,
		&gross,
		&fee,
		&gst,
		&net,
		&currency,
		&batch.CreatedAt,
		&completedAt,
		&reason,
	)
	if err != nil {
		return nil, err
	}
	batch.Status = models.BatchStatus(status)
	batch.GrossAmount = money.New(gross, currency)
	batch.TotalFee = money.New(fee, currency)
	batch.TotalGST = money.New(gst, currency)
	batch.NetPayable = money.New(net, currency)
	if completedAt.Valid {
		batch.CompletedAt = &completedAt.Time
	}
	if reason.Valid {
		batch.FailureReason = reason.String
	}
	return &batch, nil
}
