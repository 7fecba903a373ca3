package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"settlement-engine/internal/disbursement"
	"settlement-engine/internal/events"
	"settlement-engine/internal/metrics"
	"settlement-engine/internal/models"
	"settlement-engine/internal/money"
	"settlement-engine/internal/repositories"
)

const cancelledReason = "cancelled"

// ProcessorOptions tune retry and failure policy.
type ProcessorOptions struct {
	MaxRetries       int
	RetryBackoff     time.Duration
	FailureThreshold float64
	Workers          int
}

func (o ProcessorOptions) withDefaults() ProcessorOptions {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 200 * time.Millisecond
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	return o
}

// processState tracks an in-flight Process call so Cancel can request a
// cooperative stop.
type processState struct {
	cancelled atomic.Bool
	decide    sync.Mutex
}

// BatchProcessor drives a settlement batch through its lifecycle. The
// terminal decision for a batch is serialized: in-process behind the
// batch's decide mutex and across processes by the conditional status
// update in the repository.
type BatchProcessor struct {
	batchRepo  repositories.BatchRepository
	txRepo     repositories.TransactionRepository
	configRepo repositories.ConfigurationRepository
	preparer   disbursement.Preparer
	emitter    events.Emitter
	logger     *zap.Logger
	opts       ProcessorOptions

	mu       sync.Mutex
	inflight map[string]*processState
}

func NewBatchProcessor(
	batchRepo repositories.BatchRepository,
	txRepo repositories.TransactionRepository,
	configRepo repositories.ConfigurationRepository,
	preparer disbursement.Preparer,
	emitter events.Emitter,
	logger *zap.Logger,
	opts ProcessorOptions,
) *BatchProcessor {
	return &BatchProcessor{
		batchRepo:  batchRepo,
		txRepo:     txRepo,
		configRepo: configRepo,
		preparer:   preparer,
		emitter:    emitter,
		logger:     logger,
		opts:       opts.withDefaults(),
		inflight:   make(map[string]*processState),
	}
}

// Approve moves a batch from PENDING to PROCESSING. This is the review
// gate when a client's configuration has auto_settle disabled.
func (p *BatchProcessor) Approve(ctx context.Context, batchID string) (*models.SettlementBatch, error) {
	batch, err := p.batchRepo.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if _, err := batch.Status.Transition(models.BatchProcessing); err != nil {
		return nil, err
	}

	ok, err := p.batchRepo.UpdateStatus(ctx, batchID, models.BatchPending, models.BatchProcessing, "", nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: batch %s left PENDING concurrently", models.ErrInvalidTransition, batchID)
	}

	batch.Status = models.BatchProcessing
	p.logger.Info("batch approved", zap.String("batch_id", batchID))
	return batch, nil
}

// Process executes a PROCESSING batch: prepares each line item's
// disbursement in parallel, then takes exactly one terminal decision.
func (p *BatchProcessor) Process(ctx context.Context, batchID string) (*models.SettlementBatch, error) {
	batch, err := p.batchRepo.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.Status != models.BatchProcessing {
		return nil, fmt.Errorf("%w: process requires PROCESSING, batch %s is %s",
			models.ErrInvalidTransition, batchID, batch.Status)
	}

	cfg, err := p.configRepo.GetEffective(ctx, batch.ClientID, batch.BatchDate)
	if err != nil {
		return nil, err
	}

	items, err := p.batchRepo.ListItems(ctx, batchID)
	if err != nil {
		return nil, err
	}

	state := p.register(batchID)
	defer p.unregister(batchID)
	start := time.Now()
	defer func() { metrics.ObserveProcessLatency(time.Since(start).Seconds()) }()

	failed := p.processItems(ctx, batch, items, state)

	state.decide.Lock()
	defer state.decide.Unlock()

	if state.cancelled.Load() {
		return p.finalizeCancel(ctx, batch)
	}

	if len(failed) > 0 {
		ratio := float64(len(failed)) / float64(len(items))
		if !cfg.PartialSettlement && ratio > p.opts.FailureThreshold {
			return p.finalizeFailure(ctx, batch, failed)
		}
		return p.finalizePartial(ctx, batch, items, failed)
	}
	return p.finalizeSuccess(ctx, batch, items)
}

// processItems runs the disbursement preparation across a bounded
// worker pool. The cooperative cancel flag is checked between items.
// Returns the set of permanently failed transaction ids.
func (p *BatchProcessor) processItems(ctx context.Context, batch *models.SettlementBatch, items []*models.SettlementLineItem, state *processState) map[string]error {
	pending := make([]*models.SettlementLineItem, 0, len(items))
	for _, item := range items {
		// Re-running after a crash skips items already settled; the
		// idempotency key makes re-preparing them harmless anyway.
		if item.Status == models.ItemPending {
			pending = append(pending, item)
		}
	}

	work := make(chan *models.SettlementLineItem)
	var (
		mu     sync.Mutex
		failed = make(map[string]error)
		wg     sync.WaitGroup
	)

	workers := p.opts.Workers
	if workers > len(pending) && len(pending) > 0 {
		workers = len(pending)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range work {
				if state.cancelled.Load() {
					continue
				}
				if err := p.prepareItem(ctx, batch, item); err != nil {
					metrics.ItemProcessed("failed")
					p.logger.Warn("line item failed",
						zap.String("batch_id", batch.BatchID),
						zap.String("transaction_id", item.TransactionID),
						zap.Error(err))
					mu.Lock()
					failed[item.TransactionID] = err
					mu.Unlock()
					continue
				}
				if err := p.batchRepo.UpdateItemStatus(ctx, batch.BatchID, item.TransactionID, models.ItemSettled); err != nil {
					mu.Lock()
					failed[item.TransactionID] = err
					mu.Unlock()
					continue
				}
				item.Status = models.ItemSettled
				metrics.ItemProcessed("settled")
			}
		}()
	}

	for _, item := range pending {
		if state.cancelled.Load() {
			break
		}
		work <- item
	}
	close(work)
	wg.Wait()

	return failed
}

// prepareItem calls the disbursement collaborator, retrying transient
// failures with exponential backoff. The idempotency key is stable
// across retries and re-runs.
func (p *BatchProcessor) prepareItem(ctx context.Context, batch *models.SettlementBatch, item *models.SettlementLineItem) error {
	key := batch.BatchID + ":" + item.TransactionID
	backoff := p.opts.RetryBackoff
	for attempt := 0; ; attempt++ {
		_, err := p.preparer.Prepare(ctx, batch.BatchID, item.TransactionID, item.NetAmount, key)
		if err == nil {
			return nil
		}
		if !disbursement.IsTransient(err) || attempt >= p.opts.MaxRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// Cancel aborts a batch from PENDING or PROCESSING. For an in-flight
// Process it only raises the cooperative flag; the processing goroutine
// applies compensation and takes the terminal transition itself.
func (p *BatchProcessor) Cancel(ctx context.Context, batchID string) (*models.SettlementBatch, error) {
	p.mu.Lock()
	state, inflight := p.inflight[batchID]
	p.mu.Unlock()
	if inflight {
		state.cancelled.Store(true)
		p.logger.Info("batch cancellation requested", zap.String("batch_id", batchID))
		return p.batchRepo.GetByID(ctx, batchID)
	}

	batch, err := p.batchRepo.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if _, err := batch.Status.Transition(models.BatchCancelled); err != nil {
		return nil, err
	}
	return p.finalizeCancelFrom(ctx, batch, batch.Status)
}

func (p *BatchProcessor) finalizeCancel(ctx context.Context, batch *models.SettlementBatch) (*models.SettlementBatch, error) {
	return p.finalizeCancelFrom(ctx, batch, models.BatchProcessing)
}

// finalizeCancelFrom compensates settled items, discards line items and
// releases every claim, then records the CANCELLED terminal state.
func (p *BatchProcessor) finalizeCancelFrom(ctx context.Context, batch *models.SettlementBatch, from models.BatchStatus) (*models.SettlementBatch, error) {
	if err := p.batchRepo.ResetItems(ctx, batch.BatchID, models.ItemSettled, models.ItemPending); err != nil {
		return nil, fmt.Errorf("failed to compensate settled items: %w", err)
	}
	if err := p.batchRepo.ResetItems(ctx, batch.BatchID, models.ItemPending, models.ItemExcluded); err != nil {
		return nil, fmt.Errorf("failed to discard line items: %w", err)
	}
	if err := p.txRepo.ReleaseClaims(ctx, batch.BatchID); err != nil {
		return nil, fmt.Errorf("failed to release claims: %w", err)
	}

	ok, err := p.batchRepo.UpdateStatus(ctx, batch.BatchID, from, models.BatchCancelled, cancelledReason, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: batch %s left %s concurrently", models.ErrInvalidTransition, batch.BatchID, from)
	}

	batch.Status = models.BatchCancelled
	batch.FailureReason = cancelledReason
	metrics.BatchFinished(string(models.BatchCancelled))
	p.emitter.Emit(ctx, events.Event{
		Type:       events.BatchCancelled,
		BatchID:    batch.BatchID,
		ClientID:   batch.ClientID,
		Reason:     cancelledReason,
		OccurredAt: time.Now(),
	})
	p.logger.Info("batch cancelled", zap.String("batch_id", batch.BatchID))
	return batch, nil
}

// finalizeFailure applies the all-or-nothing policy: every settled item
// is rolled back to PENDING, claims are released and the batch fails.
func (p *BatchProcessor) finalizeFailure(ctx context.Context, batch *models.SettlementBatch, failed map[string]error) (*models.SettlementBatch, error) {
	reason := fmt.Sprintf("%d of %d line items failed", len(failed), batch.TransactionCount)
	for _, err := range failed {
		reason = fmt.Sprintf("%s; first error: %v", reason, err)
		break
	}

	if err := p.batchRepo.ResetItems(ctx, batch.BatchID, models.ItemSettled, models.ItemPending); err != nil {
		return nil, fmt.Errorf("failed to roll back settled items: %w", err)
	}
	if err := p.txRepo.ReleaseClaims(ctx, batch.BatchID); err != nil {
		return nil, fmt.Errorf("failed to release claims: %w", err)
	}

	ok, err := p.batchRepo.UpdateStatus(ctx, batch.BatchID, models.BatchProcessing, models.BatchFailed, reason, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: batch %s left PROCESSING concurrently", models.ErrInvalidTransition, batch.BatchID)
	}

	batch.Status = models.BatchFailed
	batch.FailureReason = reason
	metrics.BatchFinished(string(models.BatchFailed))
	p.emitter.Emit(ctx, events.Event{
		Type:       events.BatchFailed,
		BatchID:    batch.BatchID,
		ClientID:   batch.ClientID,
		Reason:     reason,
		OccurredAt: time.Now(),
	})
	p.logger.Error("batch failed", zap.String("batch_id", batch.BatchID), zap.String("reason", reason))
	return batch, nil
}

// finalizePartial excludes failed items, recomputes the totals over the
// settled remainder and completes the batch with a reduced net payable.
func (p *BatchProcessor) finalizePartial(ctx context.Context, batch *models.SettlementBatch, items []*models.SettlementLineItem, failed map[string]error) (*models.SettlementBatch, error) {
	currency := batch.GrossAmount.Currency()
	gross := money.Zero(currency)
	fee := money.Zero(currency)
	gst := money.Zero(currency)
	net := money.Zero(currency)

	var settledItems []*models.SettlementLineItem
	for _, item := range items {
		if _, isFailed := failed[item.TransactionID]; isFailed {
			if err := p.batchRepo.UpdateItemStatus(ctx, batch.BatchID, item.TransactionID, models.ItemExcluded); err != nil {
				return nil, fmt.Errorf("failed to exclude item %s: %w", item.TransactionID, err)
			}
			metrics.ItemProcessed("excluded")
			continue
		}
		settledItems = append(settledItems, item)

		var err error
		if gross, err = gross.Add(item.GrossAmount); err != nil {
			return nil, err
		}
		if fee, err = fee.Add(item.FeeAmount); err != nil {
			return nil, err
		}
		if gst, err = gst.Add(item.GSTAmount); err != nil {
			return nil, err
		}
		if net, err = net.Add(item.NetAmount); err != nil {
			return nil, err
		}
	}

	batch.TransactionCount = len(settledItems)
	batch.ExcludedCount = len(failed)
	batch.GrossAmount = gross
	batch.TotalFee = fee
	batch.TotalGST = gst
	batch.NetPayable = net
	if err := p.batchRepo.UpdateTotals(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to update batch totals: %w", err)
	}

	completed, err := p.complete(ctx, batch, settledItems)
	if err != nil {
		return nil, err
	}

	// The settled transactions are marked by now, so the batch-scoped
	// release only frees the excluded ones back to the eligible pool.
	if err := p.txRepo.ReleaseClaims(ctx, batch.BatchID); err != nil {
		return nil, fmt.Errorf("failed to release excluded claims: %w", err)
	}
	return completed, nil
}

func (p *BatchProcessor) finalizeSuccess(ctx context.Context, batch *models.SettlementBatch, items []*models.SettlementLineItem) (*models.SettlementBatch, error) {
	return p.complete(ctx, batch, items)
}

// complete records the COMPLETED terminal state, freezes totals and
// marks the settled transactions, then emits the completion event for
// the reconciliation and reporting collaborators.
func (p *BatchProcessor) complete(ctx context.Context, batch *models.SettlementBatch, settledItems []*models.SettlementLineItem) (*models.SettlementBatch, error) {
	now := time.Now()
	ok, err := p.batchRepo.UpdateStatus(ctx, batch.BatchID, models.BatchProcessing, models.BatchCompleted, "", &now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: batch %s left PROCESSING concurrently", models.ErrInvalidTransition, batch.BatchID)
	}

	txnIDs := make([]string, 0, len(settledItems))
	for _, item := range settledItems {
		txnIDs = append(txnIDs, item.TransactionID)
	}
	if err := p.txRepo.MarkSettled(ctx, txnIDs, now); err != nil {
		return nil, fmt.Errorf("failed to mark transactions settled: %w", err)
	}

	batch.Status = models.BatchCompleted
	batch.CompletedAt = &now
	metrics.BatchFinished(string(models.BatchCompleted))
	net := batch.NetPayable
	p.emitter.Emit(ctx, events.Event{
		Type:       events.BatchCompleted,
		BatchID:    batch.BatchID,
		ClientID:   batch.ClientID,
		NetPayable: &net,
		OccurredAt: now,
	})
	p.logger.Info("batch completed",
		zap.String("batch_id", batch.BatchID),
		zap.Int("transaction_count", batch.TransactionCount),
		zap.Int("excluded_count", batch.ExcludedCount),
		zap.String("net_payable", batch.NetPayable.String()))
	return batch, nil
}

func (p *BatchProcessor) register(batchID string) *processState {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.inflight[batchID]
	if !ok {
		state = &processState{}
		p.inflight[batchID] = state
	}
	return state
}

func (p *BatchProcessor) unregister(batchID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, batchID)
}
