package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"settlement-engine/internal/models"
	"settlement-engine/internal/money"
	"settlement-engine/internal/repositories"
)

// SettlementStatistics is the dashboard view of a date range.
type SettlementStatistics struct {
	DateFrom         time.Time   `json:"date_from"`
	DateTo           time.Time   `json:"date_to"`
	TotalBatches     int         `json:"total_batches"`
	CompletedBatches int         `json:"completed_batches"`
	PendingBatches   int         `json:"pending_batches"`
	FailedBatches    int         `json:"failed_batches"`
	TotalSettled     money.Money `json:"total_settled"`
	TotalFees        money.Money `json:"total_fees"`
	TotalGST         money.Money `json:"total_gst"`
	SuccessRate      float64     `json:"success_rate"`
}

// ClientSettlementSummary is one client's view of a date range.
type ClientSettlementSummary struct {
	ClientID      string      `json:"client_id"`
	TotalItems    int         `json:"total_items"`
	SettledItems  int         `json:"settled_items"`
	ExcludedItems int         `json:"excluded_items"`
	TotalSettled  money.Money `json:"total_settled"`
	TotalFees     money.Money `json:"total_fees"`
	TotalGST      money.Money `json:"total_gst"`
}

// ReportService derives read-only reports from finalized settlement and
// reconciliation state.
type ReportService struct {
	reportRepo repositories.ReportRepository
	batchRepo  repositories.BatchRepository
	logger     *zap.Logger
}

func NewReportService(
	reportRepo repositories.ReportRepository,
	batchRepo repositories.BatchRepository,
	logger *zap.Logger,
) *ReportService {
	return &ReportService{
		reportRepo: reportRepo,
		batchRepo:  batchRepo,
		logger:     logger,
	}
}

func (s *ReportService) Statistics(ctx context.Context, from, to time.Time) (*SettlementStatistics, error) {
	stats, err := s.reportRepo.Stats(ctx, from, to)
	if err != nil {
		return nil, err
	}

	currency := stats.Currency
	if currency == "" {
		currency = "INR"
	}
	successRate := 0.0
	if stats.TotalBatches > 0 {
		successRate = float64(stats.CompletedBatches) / float64(stats.TotalBatches) * 100
	}

	return &SettlementStatistics{
		DateFrom:         from,
		DateTo:           to,
		TotalBatches:     stats.TotalBatches,
		CompletedBatches: stats.CompletedBatches,
		PendingBatches:   stats.PendingBatches,
		FailedBatches:    stats.FailedBatches,
		TotalSettled:     money.New(stats.SettledMinor, currency),
		TotalFees:        money.New(stats.FeeMinor, currency),
		TotalGST:         money.New(stats.GSTMinor, currency),
		SuccessRate:      successRate,
	}, nil
}

func (s *ReportService) ClientSummary(ctx context.Context, clientID string, from, to time.Time) (*ClientSettlementSummary, error) {
	summary, err := s.reportRepo.ClientSummary(ctx, clientID, from, to)
	if err != nil {
		return nil, err
	}

	currency := summary.Currency
	if currency == "" {
		currency = "INR"
	}
	return &ClientSettlementSummary{
		ClientID:      clientID,
		TotalItems:    summary.TotalItems,
		SettledItems:  summary.SettledItems,
		ExcludedItems: summary.ExcludedItems,
		TotalSettled:  money.New(summary.NetMinor, currency),
		TotalFees:     money.New(summary.FeeMinor, currency),
		TotalGST:      money.New(summary.GSTMinor, currency),
	}, nil
}

var exportHeader = []string{
	"Batch ID", "Transaction ID", "Gross Amount", "Processing Fee",
	"GST", "Net Amount", "Status",
}

// ExportBatchCSV renders a batch's line items as CSV.
func (s *ReportService) ExportBatchCSV(ctx context.Context, batchID string) ([]byte, error) {
	batch, items, err := s.load(ctx, batchID)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(exportHeader); err != nil {
		return nil, err
	}
	for _, item := range items {
		record := []string{
			batch.BatchID,
			item.TransactionID,
			item.GrossAmount.Decimal().StringFixed(2),
			item.FeeAmount.Decimal().StringFixed(2),
			item.GSTAmount.Decimal().StringFixed(2),
			item.NetAmount.Decimal().StringFixed(2),
			string(item.Status),
		}
		if err := writer.Write(record); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExportBatchXLSX renders a batch summary sheet and an items sheet.
func (s *ReportService) ExportBatchXLSX(ctx context.Context, batchID string) ([]byte, error) {
	batch, items, err := s.load(ctx, batchID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	summarySheet := "summary"
	itemsSheet := "items"
	f.SetSheetName("Sheet1", summarySheet)
	if _, err := f.NewSheet(itemsSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Settlement Batch Report")
	_ = f.SetCellValue(summarySheet, "A3", "Batch ID")
	_ = f.SetCellValue(summarySheet, "B3", batch.BatchID)
	_ = f.SetCellValue(summarySheet, "A4", "Client")
	_ = f.SetCellValue(summarySheet, "B4", batch.ClientID)
	_ = f.SetCellValue(summarySheet, "A5", "Batch Date")
	_ = f.SetCellValue(summarySheet, "B5", batch.BatchDate.Format("2006-01-02"))
	_ = f.SetCellValue(summarySheet, "A6", "Status")
	_ = f.SetCellValue(summarySheet, "B6", string(batch.Status))
	_ = f.SetCellValue(summarySheet, "A7", "Transactions")
	_ = f.SetCellValue(summarySheet, "B7", batch.TransactionCount)
	_ = f.SetCellValue(summarySheet, "A8", "Gross Amount")
	_ = f.SetCellValue(summarySheet, "B8", batch.GrossAmount.Decimal().StringFixed(2))
	_ = f.SetCellValue(summarySheet, "A9", "Processing Fee")
	_ = f.SetCellValue(summarySheet, "B9", batch.TotalFee.Decimal().StringFixed(2))
	_ = f.SetCellValue(summarySheet, "A10", "GST")
	_ = f.SetCellValue(summarySheet, "B10", batch.TotalGST.Decimal().StringFixed(2))
	_ = f.SetCellValue(summarySheet, "A11", "Net Payable")
	_ = f.SetCellValue(summarySheet, "B11", batch.NetPayable.Decimal().StringFixed(2))

	for col, title := range exportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(itemsSheet, cell, title)
	}
	for row, item := range items {
		values := []interface{}{
			batch.BatchID,
			item.TransactionID,
			item.GrossAmount.Decimal().StringFixed(2),
			item.FeeAmount.Decimal().StringFixed(2),
			item.GSTAmount.Decimal().StringFixed(2),
			item.NetAmount.Decimal().StringFixed(2),
			string(item.Status),
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row+2)
			if err != nil {
				return nil, err
			}
			_ = f.SetCellValue(itemsSheet, cell, value)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *ReportService) load(ctx context.Context, batchID string) (*models.SettlementBatch, []*models.SettlementLineItem, error) {
	batch, err := s.batchRepo.GetByID(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}
	items, err := s.batchRepo.ListItems(ctx, batchID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load line items: %w", err)
	}
	return batch, items, nil
}
