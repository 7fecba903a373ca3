package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"settlement-engine/internal/events"
	"settlement-engine/internal/matching"
	"settlement-engine/internal/metrics"
	"settlement-engine/internal/models"
	"settlement-engine/internal/money"
	"settlement-engine/internal/repositories"
)

var (
	// ErrBatchNotCompleted rejects matching against a batch that has
	// not reached COMPLETED.
	ErrBatchNotCompleted = errors.New("batch is not completed")
	// ErrInvalidResolution rejects resolve/escalate calls against a
	// record not in an eligible status.
	ErrInvalidResolution = errors.New("reconciliation is not in a resolvable status")
)

// ReconciliationService matches completed batches against bank
// statement amounts and runs the manual mismatch-resolution workflow.
// Resolution operations are serialized per reconciliation id.
type ReconciliationService struct {
	batchRepo  repositories.BatchRepository
	configRepo repositories.ConfigurationRepository
	reconRepo  repositories.ReconciliationRepository
	emitter    events.Emitter
	logger     *zap.Logger

	// engine-wide tolerance, overridden per client configuration
	defaultTolerance money.Money

	mu    sync.Mutex
	locks map[string]*reconLock
}

// reconLock serializes workflow operations for one reconciliation id;
// the holder count lets the registry entry be dropped when idle.
type reconLock struct {
	mu      sync.Mutex
	holders int
}

func NewReconciliationService(
	batchRepo repositories.BatchRepository,
	configRepo repositories.ConfigurationRepository,
	reconRepo repositories.ReconciliationRepository,
	emitter events.Emitter,
	defaultTolerance money.Money,
	logger *zap.Logger,
) *ReconciliationService {
	return &ReconciliationService{
		batchRepo:        batchRepo,
		configRepo:       configRepo,
		reconRepo:        reconRepo,
		emitter:          emitter,
		logger:           logger,
		defaultTolerance: defaultTolerance,
		locks:            make(map[string]*reconLock),
	}
}

// Match compares a bank statement amount against a completed batch's
// net payable and records the classification. Re-presenting a statement
// for an already reconciled batch supersedes the prior record instead
// of overwriting it.
func (s *ReconciliationService) Match(ctx context.Context, batchID string, bankAmount money.Money) (*models.Reconciliation, error) {
	batch, err := s.batchRepo.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.Status != models.BatchCompleted {
		return nil, fmt.Errorf("%w: batch %s is %s", ErrBatchNotCompleted, batchID, batch.Status)
	}

	result, err := matching.Classify(bankAmount, batch.NetPayable, s.tolerance(ctx, batch))
	if err != nil {
		return nil, err
	}

	rec := &models.Reconciliation{
		ReconciliationID:    uuid.NewString(),
		BatchID:             batchID,
		BankStatementAmount: bankAmount,
		BatchNetPayable:     batch.NetPayable,
		Variance:            result.Variance,
		Status:              result.Status,
		CreatedAt:           time.Now(),
	}

	prior, err := s.reconRepo.GetActiveByBatch(ctx, batchID)
	switch {
	case err == nil:
		// insert and supersede together: a failed correction must leave
		// the prior record active
		if err := s.reconRepo.CreateSuperseding(ctx, rec, prior.ReconciliationID); err != nil {
			return nil, fmt.Errorf("failed to supersede reconciliation %s: %w", prior.ReconciliationID, err)
		}
	case errors.Is(err, repositories.ErrReconciliationNotFound):
		// first statement for this batch
		if err := s.reconRepo.Create(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to create reconciliation: %w", err)
		}
	default:
		return nil, err
	}

	metrics.ReconciliationRecorded(string(result.Status))
	if result.Status == models.ReconMismatched {
		s.emitter.Emit(ctx, events.Event{
			Type:             events.ReconMismatch,
			BatchID:          batchID,
			ClientID:         batch.ClientID,
			ReconciliationID: rec.ReconciliationID,
			Reason:           fmt.Sprintf("variance %s", result.Variance),
			OccurredAt:       rec.CreatedAt,
		})
	}
	s.logger.Info("reconciliation recorded",
		zap.String("reconciliation_id", rec.ReconciliationID),
		zap.String("batch_id", batchID),
		zap.String("status", string(result.Status)),
		zap.String("variance", result.Variance.String()))
	return rec, nil
}

// Resolve closes a MISMATCHED or UNDER_REVIEW record with an explicit
// human decision; RESOLVED is terminal.
func (s *ReconciliationService) Resolve(ctx context.Context, reconciliationID, remarks, resolverID string) (*models.Reconciliation, error) {
	unlock := s.lock(reconciliationID)
	defer unlock()

	now := time.Now()
	ok, err := s.reconRepo.UpdateStatus(ctx, reconciliationID,
		[]models.ReconStatus{models.ReconMismatched, models.ReconUnderReview},
		models.ReconResolved, remarks, resolverID, &now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.resolutionError(ctx, reconciliationID)
	}

	s.logger.Info("reconciliation resolved",
		zap.String("reconciliation_id", reconciliationID),
		zap.String("resolved_by", resolverID))
	return s.reconRepo.GetByID(ctx, reconciliationID)
}

// Escalate flags a MISMATCHED record as under manual investigation.
func (s *ReconciliationService) Escalate(ctx context.Context, reconciliationID string) (*models.Reconciliation, error) {
	unlock := s.lock(reconciliationID)
	defer unlock()

	ok, err := s.reconRepo.UpdateStatus(ctx, reconciliationID,
		[]models.ReconStatus{models.ReconMismatched},
		models.ReconUnderReview, "", "", nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.resolutionError(ctx, reconciliationID)
	}

	s.logger.Info("reconciliation escalated", zap.String("reconciliation_id", reconciliationID))
	return s.reconRepo.GetByID(ctx, reconciliationID)
}

func (s *ReconciliationService) Get(ctx context.Context, reconciliationID string) (*models.Reconciliation, error) {
	return s.reconRepo.GetByID(ctx, reconciliationID)
}

// ListMismatches returns open mismatches; with includeReview it also
// returns records under investigation.
func (s *ReconciliationService) ListMismatches(ctx context.Context, includeReview bool) ([]*models.Reconciliation, error) {
	statuses := []models.ReconStatus{models.ReconMismatched}
	if includeReview {
		statuses = append(statuses, models.ReconUnderReview)
	}
	return s.reconRepo.ListByStatus(ctx, statuses)
}

func (s *ReconciliationService) ListByBatch(ctx context.Context, batchID string) ([]*models.Reconciliation, error) {
	return s.reconRepo.ListByBatch(ctx, batchID)
}

// tolerance resolves the matching tolerance: per-client configuration
// override first, then the engine default (zero unless configured).
func (s *ReconciliationService) tolerance(ctx context.Context, batch *models.SettlementBatch) money.Money {
	cfg, err := s.configRepo.GetEffective(ctx, batch.ClientID, batch.BatchDate)
	if err == nil && cfg.Tolerance != nil {
		return *cfg.Tolerance
	}
	if s.defaultTolerance.Currency() != batch.NetPayable.Currency() {
		return money.Zero(batch.NetPayable.Currency())
	}
	return s.defaultTolerance
}

// resolutionError distinguishes a missing record from an illegal
// transition after a conditional update matched no row.
func (s *ReconciliationService) resolutionError(ctx context.Context, reconciliationID string) error {
	rec, err := s.reconRepo.GetByID(ctx, reconciliationID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is %s", ErrInvalidResolution, reconciliationID, rec.Status)
}

// lock acquires the per-reconciliation mutex; the returned release
// removes the registry entry once the last holder lets go.
func (s *ReconciliationService) lock(reconciliationID string) func() {
	s.mu.Lock()
	l, ok := s.locks[reconciliationID]
	if !ok {
		l = &reconLock{}
		s.locks[reconciliationID] = l
	}
	l.holders++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.holders--
		if l.holders == 0 {
			delete(s.locks, reconciliationID)
		}
		s.mu.Unlock()
	}
}
