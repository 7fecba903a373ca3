package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"settlement-engine/internal/disbursement"
	"settlement-engine/internal/events"
	"settlement-engine/internal/models"
	"settlement-engine/internal/money"
	"settlement-engine/internal/repositories"
)

// memTxRepo mirrors the MySQL transaction repository semantics,
// including the conditional claim, in memory.
type memTxRepo struct {
	mu   sync.Mutex
	txns map[string]*models.Transaction
}

func newMemTxRepo() *memTxRepo {
	return &memTxRepo{txns: make(map[string]*models.Transaction)}
}

func (r *memTxRepo) add(txns ...*models.Transaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, txn := range txns {
		copied := *txn
		r.txns[txn.TxnID] = &copied
	}
}

func (r *memTxRepo) get(txnID string) models.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.txns[txnID]
}

func (r *memTxRepo) Create(ctx context.Context, txn *models.Transaction) error {
	r.add(txn)
	return nil
}

func (r *memTxRepo) GetByID(ctx context.Context, txnID string) (*models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	txn, ok := r.txns[txnID]
	if !ok {
		return nil, repositories.ErrTransactionNotFound
	}
	copied := *txn
	return &copied, nil
}

func (r *memTxRepo) ListEligible(ctx context.Context, clientID string, cutoff time.Time) ([]*models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Transaction
	for _, txn := range r.txns {
		if txn.ClientID != clientID || txn.Status != models.TxnStatusSuccess {
			continue
		}
		if txn.Settled || txn.ClaimedBatchID != nil {
			continue
		}
		if txn.CompletedAt.After(cutoff) {
			continue
		}
		copied := *txn
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TxnID < out[j].TxnID })
	return out, nil
}

func (r *memTxRepo) Claim(ctx context.Context, txnID, batchID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	txn, ok := r.txns[txnID]
	if !ok || txn.ClaimedBatchID != nil {
		return false, nil
	}
	id := batchID
	txn.ClaimedBatchID = &id
	return true, nil
}

func (r *memTxRepo) ReleaseClaims(ctx context.Context, batchID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, txn := range r.txns {
		if txn.ClaimedBatchID != nil && *txn.ClaimedBatchID == batchID && !txn.Settled {
			txn.ClaimedBatchID = nil
		}
	}
	return nil
}

func (r *memTxRepo) MarkSettled(ctx context.Context, txnIDs []string, settledAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range txnIDs {
		if txn, ok := r.txns[id]; ok {
			txn.Settled = true
			at := settledAt
			txn.SettledAt = &at
		}
	}
	return nil
}

type memConfigRepo struct {
	mu      sync.Mutex
	configs map[string][]*models.SettlementConfiguration
}

func newMemConfigRepo() *memConfigRepo {
	return &memConfigRepo{configs: make(map[string][]*models.SettlementConfiguration)}
}

func (r *memConfigRepo) Create(ctx context.Context, cfg *models.SettlementConfiguration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *cfg
	r.configs[cfg.ClientID] = append(r.configs[cfg.ClientID], &copied)
	return nil
}

func (r *memConfigRepo) GetEffective(ctx context.Context, clientID string, asOf time.Time) (*models.SettlementConfiguration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *models.SettlementConfiguration
	for _, cfg := range r.configs[clientID] {
		if cfg.EffectiveFrom.After(asOf) {
			continue
		}
		if best == nil || cfg.EffectiveFrom.After(best.EffectiveFrom) {
			best = cfg
		}
	}
	if best == nil {
		return nil, repositories.ErrConfigurationMissing
	}
	copied := *best
	return &copied, nil
}

func (r *memConfigRepo) ListClientIDs(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.configs))
	for id := range r.configs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *memConfigRepo) ListForClient(ctx context.Context, clientID string) ([]*models.SettlementConfiguration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.SettlementConfiguration, 0, len(r.configs[clientID]))
	for _, cfg := range r.configs[clientID] {
		copied := *cfg
		out = append(out, &copied)
	}
	return out, nil
}

type memBatchRepo struct {
	mu      sync.Mutex
	batches map[string]*models.SettlementBatch
	items   map[string][]*models.SettlementLineItem
}

func newMemBatchRepo() *memBatchRepo {
	return &memBatchRepo{
		batches: make(map[string]*models.SettlementBatch),
		items:   make(map[string][]*models.SettlementLineItem),
	}
}

func (r *memBatchRepo) get(batchID string) models.SettlementBatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.batches[batchID]
}

func (r *memBatchRepo) itemStatuses(batchID string) map[string]models.ItemStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]models.ItemStatus)
	for _, item := range r.items[batchID] {
		out[item.TransactionID] = item.Status
	}
	return out
}

func (r *memBatchRepo) CreateWithItems(ctx context.Context, batch *models.SettlementBatch, items []*models.SettlementLineItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *batch
	r.batches[batch.BatchID] = &copied
	stored := make([]*models.SettlementLineItem, 0, len(items))
	for _, item := range items {
		c := *item
		stored = append(stored, &c)
	}
	r.items[batch.BatchID] = stored
	return nil
}

func (r *memBatchRepo) GetByID(ctx context.Context, batchID string) (*models.SettlementBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch, ok := r.batches[batchID]
	if !ok {
		return nil, repositories.ErrBatchNotFound
	}
	copied := *batch
	return &copied, nil
}

func (r *memBatchRepo) List(ctx context.Context, filter repositories.BatchFilter) ([]*models.SettlementBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SettlementBatch
	for _, batch := range r.batches {
		if filter.ClientID != "" && batch.ClientID != filter.ClientID {
			continue
		}
		if filter.Status != "" && batch.Status != filter.Status {
			continue
		}
		copied := *batch
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BatchID < out[j].BatchID })
	return out, nil
}

func (r *memBatchRepo) ListItems(ctx context.Context, batchID string) ([]*models.SettlementLineItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.SettlementLineItem, 0, len(r.items[batchID]))
	for _, item := range r.items[batchID] {
		copied := *item
		out = append(out, &copied)
	}
	return out, nil
}

func (r *memBatchRepo) UpdateStatus(ctx context.Context, batchID string, from, to models.BatchStatus, reason string, completedAt *time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch, ok := r.batches[batchID]
	if !ok || batch.Status != from {
		return false, nil
	}
	batch.Status = to
	if reason != "" {
		batch.FailureReason = reason
	}
	if completedAt != nil {
		at := *completedAt
		batch.CompletedAt = &at
	}
	return true, nil
}

func (r *memBatchRepo) UpdateItemStatus(ctx context.Context, batchID, txnID string, status models.ItemStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.items[batchID] {
		if item.TransactionID == txnID {
			item.Status = status
		}
	}
	return nil
}

func (r *memBatchRepo) ResetItems(ctx context.Context, batchID string, from, to models.ItemStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.items[batchID] {
		if item.Status == from {
			item.Status = to
		}
	}
	return nil
}

func (r *memBatchRepo) UpdateTotals(ctx context.Context, batch *models.SettlementBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.batches[batch.BatchID]
	if !ok {
		return repositories.ErrBatchNotFound
	}
	stored.TransactionCount = batch.TransactionCount
	stored.ExcludedCount = batch.ExcludedCount
	stored.GrossAmount = batch.GrossAmount
	stored.TotalFee = batch.TotalFee
	stored.TotalGST = batch.TotalGST
	stored.NetPayable = batch.NetPayable
	return nil
}

type memReconRepo struct {
	mu         sync.Mutex
	recs       map[string]*models.Reconciliation
	nextInsert error
}

func newMemReconRepo() *memReconRepo {
	return &memReconRepo{recs: make(map[string]*models.Reconciliation)}
}

// failNextInsert makes the next Create or CreateSuperseding fail without
// touching any stored record, like a rolled-back transaction.
func (r *memReconRepo) failNextInsert(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextInsert = err
}

func (r *memReconRepo) takeInsertError() error {
	err := r.nextInsert
	r.nextInsert = nil
	return err
}

func (r *memReconRepo) Create(ctx context.Context, rec *models.Reconciliation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeInsertError(); err != nil {
		return err
	}
	copied := *rec
	r.recs[rec.ReconciliationID] = &copied
	return nil
}

func (r *memReconRepo) CreateSuperseding(ctx context.Context, rec *models.Reconciliation, priorID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeInsertError(); err != nil {
		return err
	}
	prior, ok := r.recs[priorID]
	if !ok {
		return repositories.ErrReconciliationNotFound
	}
	copied := *rec
	r.recs[rec.ReconciliationID] = &copied
	prior.Superseded = true
	return nil
}

func (r *memReconRepo) GetByID(ctx context.Context, reconciliationID string) (*models.Reconciliation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[reconciliationID]
	if !ok {
		return nil, repositories.ErrReconciliationNotFound
	}
	copied := *rec
	return &copied, nil
}

func (r *memReconRepo) GetActiveByBatch(ctx context.Context, batchID string) (*models.Reconciliation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *models.Reconciliation
	for _, rec := range r.recs {
		if rec.BatchID != batchID || rec.Superseded {
			continue
		}
		if latest == nil || rec.CreatedAt.After(latest.CreatedAt) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, repositories.ErrReconciliationNotFound
	}
	copied := *latest
	return &copied, nil
}

func (r *memReconRepo) UpdateStatus(ctx context.Context, reconciliationID string, from []models.ReconStatus, to models.ReconStatus, remarks, resolvedBy string, resolvedAt *time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[reconciliationID]
	if !ok {
		return false, nil
	}
	allowed := false
	for _, s := range from {
		if rec.Status == s {
			allowed = true
		}
	}
	if !allowed {
		return false, nil
	}
	rec.Status = to
	if remarks != "" {
		rec.Remarks = remarks
	}
	if resolvedBy != "" {
		rec.ResolvedBy = resolvedBy
	}
	if resolvedAt != nil {
		at := *resolvedAt
		rec.ResolvedAt = &at
	}
	return true, nil
}

func (r *memReconRepo) ListByStatus(ctx context.Context, statuses []models.ReconStatus) ([]*models.Reconciliation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Reconciliation
	for _, rec := range r.recs {
		if rec.Superseded {
			continue
		}
		for _, s := range statuses {
			if rec.Status == s {
				copied := *rec
				out = append(out, &copied)
				break
			}
		}
	}
	return out, nil
}

func (r *memReconRepo) ListByBatch(ctx context.Context, batchID string) ([]*models.Reconciliation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Reconciliation
	for _, rec := range r.recs {
		if rec.BatchID == batchID {
			copied := *rec
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// scriptedPreparer fails the transactions it is told to fail and
// acknowledges everything else.
type scriptedPreparer struct {
	mu       sync.Mutex
	failures map[string][]error
	calls    map[string]int
}

func newScriptedPreparer() *scriptedPreparer {
	return &scriptedPreparer{
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
}

// failWith queues errors for a transaction; once drained, further calls
// succeed.
func (p *scriptedPreparer) failWith(txnID string, errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[txnID] = append(p.failures[txnID], errs...)
}

func (p *scriptedPreparer) callCount(txnID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[txnID]
}

func (p *scriptedPreparer) Prepare(ctx context.Context, batchID, transactionID string, amount money.Money, idempotencyKey string) (disbursement.Ack, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[transactionID]++
	queue := p.failures[transactionID]
	if len(queue) > 0 {
		err := queue[0]
		p.failures[transactionID] = queue[1:]
		return disbursement.Ack{}, err
	}
	return disbursement.Ack{Reference: "test:" + idempotencyKey}, nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (e *recordingEmitter) Emit(ctx context.Context, event events.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
}

func (e *recordingEmitter) byType(t events.EventType) []events.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []events.Event
	for _, ev := range e.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
