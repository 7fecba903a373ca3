package repositories

import (
	"context"
	"database/sql"
	"time"

	"settlement-engine/internal/models"
)

// SettlementStats aggregates batch outcomes over a date range.
type SettlementStats struct {
	TotalBatches     int
	CompletedBatches int
	PendingBatches   int
	FailedBatches    int
	SettledMinor     int64
	FeeMinor         int64
	GSTMinor         int64
	Currency         string
}

// ClientSummary aggregates one client's line items over a date range.
type ClientSummary struct {
	ClientID      string
	TotalItems    int
	SettledItems  int
	ExcludedItems int
	NetMinor      int64
	FeeMinor      int64
	GSTMinor      int64
	Currency      string
}

// ReportRepository serves the read-only reporting queries. It consumes
// finalized state only and never writes.
type ReportRepository interface {
	Stats(ctx context.Context, from, to time.Time) (*SettlementStats, error)
	ClientSummary(ctx context.Context, clientID string, from, to time.Time) (*ClientSummary, error)
}

type reportRepository struct {
	db *sql.DB
}

func NewReportRepository(db *sql.DB) ReportRepository {
	return &reportRepository{db: db}
}

func (r *reportRepository) Stats(ctx context.Context, from, to time.Time) (*SettlementStats, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(status = ?), 0),
		       COALESCE(SUM(status = ?), 0),
		       COALESCE(SUM(status = ?), 0),
		       COALESCE(SUM(CASE WHEN status = ? THEN net_minor ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = ? THEN fee_minor ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = ? THEN gst_minor ELSE 0 END), 0),
		       COALESCE(MAX(currency), '')
		FROM settlement_batches
		WHERE batch_date BETWEEN ? AND ?
	`
	completed := string(models.BatchCompleted)
	stats := &SettlementStats{}
	err := r.db.QueryRowContext(ctx, query,
		completed,
		string(models.BatchPending),
		string(models.BatchFailed),
		completed, completed, completed,
		from, to,
	).Scan(
		&stats.TotalBatches,
		&stats.CompletedBatches,
		&stats.PendingBatches,
		&stats.FailedBatches,
		&stats.SettledMinor,
		&stats.FeeMinor,
		&stats.GSTMinor,
		&stats.Currency,
	)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (r *reportRepository) ClientSummary(ctx context.Context, clientID string, from, to time.Time) (*ClientSummary, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(li.item_status = ?), 0),
		       COALESCE(SUM(li.item_status = ?), 0),
		       COALESCE(SUM(CASE WHEN li.item_status = ? THEN li.net_minor ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN li.item_status = ? THEN li.fee_minor ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN li.item_status = ? THEN li.gst_minor ELSE 0 END), 0),
		       COALESCE(MAX(li.currency), '')
		FROM settlement_line_items li
		JOIN settlement_batches b ON b.batch_id = li.batch_id
		WHERE b.client_id = ? AND b.batch_date BETWEEN ? AND ?
	`
	settled := string(models.ItemSettled)
	summary := &ClientSummary{ClientID: clientID}
	err := r.db.QueryRowContext(ctx, query,
		settled,
		string(models.ItemExcluded),
		settled, settled, settled,
		clientID, from, to,
	).Scan(
		&summary.TotalItems,
		&summary.SettledItems,
		&summary.ExcludedItems,
		&summary.NetMinor,
		&summary.FeeMinor,
		&summary.GSTMinor,
		&summary.Currency,
	)
	if err != nil {
		return nil, err
	}
	return summary, nil
}
