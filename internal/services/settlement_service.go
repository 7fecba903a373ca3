package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"settlement-engine/internal/fees"
	"settlement-engine/internal/metrics"
	"settlement-engine/internal/models"
	"settlement-engine/internal/money"
	"settlement-engine/internal/repositories"
)

var (
	// ErrNoEligibleTransactions is a no-op result, not a failure: the
	// client simply has nothing due on this run.
	ErrNoEligibleTransactions = errors.New("no eligible transactions for settlement")
	// ErrBelowMinimumAmount skips a build whose gross falls under the
	// client's configured settlement floor.
	ErrBelowMinimumAmount = errors.New("eligible amount below minimum settlement amount")
)

// SettlementService selects eligible transactions and builds settlement
// batches. Selection claims transactions one conditional update at a
// time, so concurrent runs for the same client cannot double-select.
type SettlementService struct {
	txRepo     repositories.TransactionRepository
	configRepo repositories.ConfigurationRepository
	batchRepo  repositories.BatchRepository
	logger     *zap.Logger
}

func NewSettlementService(
	txRepo repositories.TransactionRepository,
	configRepo repositories.ConfigurationRepository,
	batchRepo repositories.BatchRepository,
	logger *zap.Logger,
) *SettlementService {
	return &SettlementService{
		txRepo:     txRepo,
		configRepo: configRepo,
		batchRepo:  batchRepo,
		logger:     logger,
	}
}

// Build creates a PENDING batch for one client on one run date. The
// builder never advances the batch to PROCESSING; approval is a
// separate, explicit step.
func (s *SettlementService) Build(ctx context.Context, clientID string, runDate time.Time) (*models.SettlementBatch, error) {
	cfg, err := s.configRepo.GetEffective(ctx, clientID, runDate)
	if err != nil {
		return nil, err
	}

	strategy, err := fees.ForConfig(*cfg)
	if err != nil {
		return nil, fmt.Errorf("client %s: %w", clientID, err)
	}

	batchID := uuid.NewString()
	claimed, err := s.selectAndClaim(ctx, clientID, batchID, cfg.Cycle, runDate)
	if err != nil {
		return nil, err
	}
	if len(claimed) == 0 {
		return nil, ErrNoEligibleTransactions
	}

	batch, items, err := s.assemble(batchID, clientID, runDate, cfg, strategy, claimed)
	if err != nil {
		s.release(ctx, batchID)
		return nil, err
	}

	if cfg.MinSettlementAmount != nil {
		if c, cmpErr := batch.GrossAmount.Cmp(*cfg.MinSettlementAmount); cmpErr == nil && c < 0 {
			s.release(ctx, batchID)
			return nil, fmt.Errorf("%w: gross %s, floor %s",
				ErrBelowMinimumAmount, batch.GrossAmount, *cfg.MinSettlementAmount)
		}
	}

	if err := s.batchRepo.CreateWithItems(ctx, batch, items); err != nil {
		s.release(ctx, batchID)
		metrics.BatchBuilt("error")
		return nil, fmt.Errorf("failed to persist batch: %w", err)
	}

	metrics.BatchBuilt("created")
	s.logger.Info("settlement batch built",
		zap.String("batch_id", batch.BatchID),
		zap.String("client_id", clientID),
		zap.Int("transaction_count", batch.TransactionCount),
		zap.String("net_payable", batch.NetPayable.String()))

	return batch, nil
}

// selectAndClaim lists due transactions and claims each with the atomic
// conditional update. A transaction lost to a concurrent run is simply
// skipped.
func (s *SettlementService) selectAndClaim(ctx context.Context, clientID, batchID string, cycle models.Cycle, runDate time.Time) ([]*models.Transaction, error) {
	cutoff := cycle.DueCutoff(runDate)
	candidates, err := s.txRepo.ListEligible(ctx, clientID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible transactions: %w", err)
	}

	var claimed []*models.Transaction
	for _, txn := range candidates {
		ok, err := s.txRepo.Claim(ctx, txn.TxnID, batchID)
		if err != nil {
			s.release(ctx, batchID)
			return nil, fmt.Errorf("failed to claim transaction %s: %w", txn.TxnID, err)
		}
		if ok {
			claimed = append(claimed, txn)
		}
	}
	return claimed, nil
}

// assemble applies the fee strategy per transaction and accumulates the
// batch totals in exact minor units.
func (s *SettlementService) assemble(
	batchID, clientID string,
	runDate time.Time,
	cfg *models.SettlementConfiguration,
	strategy fees.Strategy,
	claimed []*models.Transaction,
) (*models.SettlementBatch, []*models.SettlementLineItem, error) {
	currency := claimed[0].Amount.Currency()
	gross := money.Zero(currency)
	totalFee := money.Zero(currency)
	totalGST := money.Zero(currency)
	totalNet := money.Zero(currency)

	items := make([]*models.SettlementLineItem, 0, len(claimed))
	for _, txn := range claimed {
		fee, gst, net, err := strategy.Compute(txn.Amount, *cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("fee computation for %s: %w", txn.TxnID, err)
		}

		if gross, err = gross.Add(txn.Amount); err != nil {
			return nil, nil, err
		}
		if totalFee, err = totalFee.Add(fee); err != nil {
			return nil, nil, err
		}
		if totalGST, err = totalGST.Add(gst); err != nil {
			return nil, nil, err
		}
		if totalNet, err = totalNet.Add(net); err != nil {
			return nil, nil, err
		}

		items = append(items, &models.SettlementLineItem{
			BatchID:       batchID,
			TransactionID: txn.TxnID,
			GrossAmount:   txn.Amount,
			FeeAmount:     fee,
			GSTAmount:     gst,
			NetAmount:     net,
			Status:        models.ItemPending,
		})
	}

	batch := &models.SettlementBatch{
		BatchID:          batchID,
		ClientID:         clientID,
		BatchDate:        runDate,
		Status:           models.BatchPending,
		TransactionCount: len(items),
		GrossAmount:      gross,
		TotalFee:         totalFee,
		TotalGST:         totalGST,
		NetPayable:       totalNet,
		CreatedAt:        time.Now(),
	}
	return batch, items, nil
}

func (s *SettlementService) release(ctx context.Context, batchID string) {
	if err := s.txRepo.ReleaseClaims(ctx, batchID); err != nil {
		s.logger.Error("failed to release claims",
			zap.String("batch_id", batchID), zap.Error(err))
	}
}

// GetBatch returns one batch by id.
func (s *SettlementService) GetBatch(ctx context.Context, batchID string) (*models.SettlementBatch, error) {
	return s.batchRepo.GetByID(ctx, batchID)
}

// ListBatches returns batches matching the filter.
func (s *SettlementService) ListBatches(ctx context.Context, filter repositories.BatchFilter) ([]*models.SettlementBatch, error) {
	return s.batchRepo.List(ctx, filter)
}

// ListItems returns a batch's line items.
func (s *SettlementService) ListItems(ctx context.Context, batchID string) ([]*models.SettlementLineItem, error) {
	if _, err := s.batchRepo.GetByID(ctx, batchID); err != nil {
		return nil, err
	}
	return s.batchRepo.ListItems(ctx, batchID)
}
