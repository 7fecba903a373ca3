package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"settlement-engine/internal/events"
	"settlement-engine/internal/models"
	"settlement-engine/internal/money"
	"settlement-engine/internal/repositories"
)

type reconFixture struct {
	batchRepo  *memBatchRepo
	configRepo *memConfigRepo
	reconRepo  *memReconRepo
	emitter    *recordingEmitter
	service    *ReconciliationService
}

func newReconFixture(t *testing.T, defaultTolerance money.Money) *reconFixture {
	f := &reconFixture{
		batchRepo:  newMemBatchRepo(),
		configRepo: newMemConfigRepo(),
		reconRepo:  newMemReconRepo(),
		emitter:    &recordingEmitter{},
	}
	f.service = NewReconciliationService(f.batchRepo, f.configRepo, f.reconRepo,
		f.emitter, defaultTolerance, zaptest.NewLogger(t))
	return f
}

// completedBatch seeds a COMPLETED batch netting 3417.40.
func (f *reconFixture) completedBatch(t *testing.T, batchID string) *models.SettlementBatch {
	now := time.Now()
	batch := &models.SettlementBatch{
		BatchID:          batchID,
		ClientID:         "client-1",
		BatchDate:        runDate,
		Status:           models.BatchCompleted,
		TransactionCount: 3,
		GrossAmount:      inr(350000),
		TotalFee:         inr(7000),
		TotalGST:         inr(1260),
		NetPayable:       inr(341740),
		CompletedAt:      &now,
	}
	require.NoError(t, f.batchRepo.CreateWithItems(context.Background(), batch, nil))
	return batch
}

func TestMatchExact(t *testing.T) {
	f := newReconFixture(t, money.Zero("INR"))
	f.completedBatch(t, "batch-1")

	rec, err := f.service.Match(context.Background(), "batch-1", inr(341740))
	require.NoError(t, err)

	assert.Equal(t, models.ReconMatched, rec.Status)
	assert.True(t, rec.Variance.IsZero())
	assert.Equal(t, int64(341740), rec.BatchNetPayable.Amount())
	assert.Empty(t, f.emitter.byType(events.ReconMismatch))
}

func TestMatchMismatch(t *testing.T) {
	f := newReconFixture(t, money.Zero("INR"))
	f.completedBatch(t, "batch-1")

	// bank reports 3400.00 against a 3417.40 net payable
	rec, err := f.service.Match(context.Background(), "batch-1", inr(340000))
	require.NoError(t, err)

	assert.Equal(t, models.ReconMismatched, rec.Status)
	assert.Equal(t, int64(-1740), rec.Variance.Amount())

	mismatches := f.emitter.byType(events.ReconMismatch)
	require.Len(t, mismatches, 1)
	assert.Equal(t, "batch-1", mismatches[0].BatchID)
	assert.Equal(t, rec.ReconciliationID, mismatches[0].ReconciliationID)
}

func TestMatchRequiresCompletedBatch(t *testing.T) {
	f := newReconFixture(t, money.Zero("INR"))
	batch := f.completedBatch(t, "batch-1")
	batch.Status = models.BatchPending
	require.NoError(t, f.batchRepo.CreateWithItems(context.Background(), batch, nil))

	_, err := f.service.Match(context.Background(), "batch-1", inr(341740))
	assert.ErrorIs(t, err, ErrBatchNotCompleted)
}

func TestMatchUnknownBatch(t *testing.T) {
	f := newReconFixture(t, money.Zero("INR"))

	_, err := f.service.Match(context.Background(), "batch-missing", inr(100))
	assert.ErrorIs(t, err, repositories.ErrBatchNotFound)
}

func TestMatchSupersedesPriorRecord(t *testing.T) {
	f := newReconFixture(t, money.Zero("INR"))
	f.completedBatch(t, "batch-1")
	ctx := context.Background()

	first, err := f.service.Match(ctx, "batch-1", inr(340000))
	require.NoError(t, err)
	require.Equal(t, models.ReconMismatched, first.Status)

	// corrected statement arrives
	second, err := f.service.Match(ctx, "batch-1", inr(341740))
	require.NoError(t, err)
	assert.Equal(t, models.ReconMatched, second.Status)
	assert.NotEqual(t, first.ReconciliationID, second.ReconciliationID)

	prior, err := f.reconRepo.GetByID(ctx, first.ReconciliationID)
	require.NoError(t, err)
	assert.True(t, prior.Superseded)

	active, err := f.reconRepo.GetActiveByBatch(ctx, "batch-1")
	require.NoError(t, err)
	assert.Equal(t, second.ReconciliationID, active.ReconciliationID)

	history, err := f.service.ListByBatch(ctx, "batch-1")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestMatchFailedCorrectionKeepsPriorActive(t *testing.T) {
	f := newReconFixture(t, money.Zero("INR"))
	f.completedBatch(t, "batch-1")
	ctx := context.Background()

	first, err := f.service.Match(ctx, "batch-1", inr(340000))
	require.NoError(t, err)

	f.reconRepo.failNextInsert(errors.New("connection reset"))
	_, err = f.service.Match(ctx, "batch-1", inr(341740))
	require.Error(t, err)

	// the prior record is still the active one, not left superseded
	active, err := f.reconRepo.GetActiveByBatch(ctx, "batch-1")
	require.NoError(t, err)
	assert.Equal(t, first.ReconciliationID, active.ReconciliationID)
	assert.False(t, active.Superseded)
	assert.Equal(t, models.ReconMismatched, active.Status)
}

func TestMatchDefaultTolerance(t *testing.T) {
	f := newReconFixture(t, inr(100))
	f.completedBatch(t, "batch-1")

	// 1.00 tolerance covers a 0.60 shortfall
	rec, err := f.service.Match(context.Background(), "batch-1", inr(341680))
	require.NoError(t, err)
	assert.Equal(t, models.ReconMatched, rec.Status)
	assert.Equal(t, int64(-60), rec.Variance.Amount())
}

func TestMatchClientToleranceOverride(t *testing.T) {
	f := newReconFixture(t, money.Zero("INR"))
	f.completedBatch(t, "batch-1")

	cfg := standardConfig("client-1")
	cfg.Tolerance = moneyPtr(inr(2000))
	require.NoError(t, f.configRepo.Create(context.Background(), cfg))

	// the client's 20.00 tolerance absorbs a 17.40 variance
	rec, err := f.service.Match(context.Background(), "batch-1", inr(340000))
	require.NoError(t, err)
	assert.Equal(t, models.ReconMatched, rec.Status)
}

func TestResolveMismatch(t *testing.T) {
	f := newReconFixture(t, money.Zero("INR"))
	f.completedBatch(t, "batch-1")
	ctx := context.Background()

	rec, err := f.service.Match(ctx, "batch-1", inr(340000))
	require.NoError(t, err)

	resolved, err := f.service.Resolve(ctx, rec.ReconciliationID, "bank fee deducted at source", "ops-42")
	require.NoError(t, err)

	assert.Equal(t, models.ReconResolved, resolved.Status)
	assert.Equal(t, "bank fee deducted at source", resolved.Remarks)
	assert.Equal(t, "ops-42", resolved.ResolvedBy)
	assert.NotNil(t, resolved.ResolvedAt)
}

func TestEscalateThenResolve(t *testing.T) {
	f := newReconFixture(t, money.Zero("INR"))
	f.completedBatch(t, "batch-1")
	ctx := context.Background()

	rec, err := f.service.Match(ctx, "batch-1", inr(340000))
	require.NoError(t, err)

	escalated, err := f.service.Escalate(ctx, rec.ReconciliationID)
	require.NoError(t, err)
	assert.Equal(t, models.ReconUnderReview, escalated.Status)

	// escalating twice is rejected
	_, err = f.service.Escalate(ctx, rec.ReconciliationID)
	assert.ErrorIs(t, err, ErrInvalidResolution)

	resolved, err := f.service.Resolve(ctx, rec.ReconciliationID, "confirmed with bank", "ops-42")
	require.NoError(t, err)
	assert.Equal(t, models.ReconResolved, resolved.Status)
}

func TestResolutionLocksReleasedAfterUse(t *testing.T) {
	f := newReconFixture(t, money.Zero("INR"))
	f.completedBatch(t, "batch-1")
	ctx := context.Background()

	rec, err := f.service.Match(ctx, "batch-1", inr(340000))
	require.NoError(t, err)

	_, err = f.service.Escalate(ctx, rec.ReconciliationID)
	require.NoError(t, err)
	_, err = f.service.Resolve(ctx, rec.ReconciliationID, "confirmed with bank", "ops-42")
	require.NoError(t, err)

	// the registry does not accumulate a mutex per historical record
	f.service.mu.Lock()
	defer f.service.mu.Unlock()
	assert.Empty(t, f.service.locks)
}

func TestResolveMatchedRejected(t *testing.T) {
	f := newReconFixture(t, money.Zero("INR"))
	f.completedBatch(t, "batch-1")
	ctx := context.Background()

	rec, err := f.service.Match(ctx, "batch-1", inr(341740))
	require.NoError(t, err)

	_, err = f.service.Resolve(ctx, rec.ReconciliationID, "noop", "ops-42")
	assert.ErrorIs(t, err, ErrInvalidResolution)
}

func TestResolveUnknownRecord(t *testing.T) {
	f := newReconFixture(t, money.Zero("INR"))

	_, err := f.service.Resolve(context.Background(), "rec-missing", "remarks", "ops-42")
	assert.ErrorIs(t, err, repositories.ErrReconciliationNotFound)
}

func TestListMismatches(t *testing.T) {
	f := newReconFixture(t, money.Zero("INR"))
	f.completedBatch(t, "batch-1")
	f.completedBatch(t, "batch-2")
	ctx := context.Background()

	first, err := f.service.Match(ctx, "batch-1", inr(340000))
	require.NoError(t, err)
	_, err = f.service.Match(ctx, "batch-2", inr(340000))
	require.NoError(t, err)

	_, err = f.service.Escalate(ctx, first.ReconciliationID)
	require.NoError(t, err)

	open, err := f.service.ListMismatches(ctx, false)
	require.NoError(t, err)
	assert.Len(t, open, 1)

	withReview, err := f.service.ListMismatches(ctx, true)
	require.NoError(t, err)
	assert.Len(t, withReview, 2)
}
