package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"settlement-engine/internal/money"
)

var (
	ErrInvalidTransition = errors.New("invalid batch state transition")
	ErrUnknownCycle      = errors.New("unknown settlement cycle")
)

// Transaction status values as reported by the payment gateway.
const (
	TxnStatusSuccess = "SUCCESS"
	TxnStatusFailed  = "FAILED"
	TxnStatusPending = "PENDING"
)

// Transaction is a gateway transaction as seen by the settlement engine.
type Transaction struct {
	TxnID          string      `json:"txn_id"`
	ClientID       string      `json:"client_id"`
	Amount         money.Money `json:"amount"`
	Status         string      `json:"status"`
	CompletedAt    time.Time   `json:"completed_at"`
	ClaimedBatchID *string     `json:"claimed_batch_id,omitempty"`
	Settled        bool        `json:"settled"`
	SettledAt      *time.Time  `json:"settled_at,omitempty"`
}

// Cycle is the settlement delay between transaction completion and
// payout eligibility.
type Cycle string

const (
	CycleT0      Cycle = "T0"
	CycleT1      Cycle = "T1"
	CycleT2      Cycle = "T2"
	CycleWeekly  Cycle = "WEEKLY"
	CycleMonthly Cycle = "MONTHLY"
)

func ParseCycle(s string) (Cycle, error) {
	switch Cycle(s) {
	case CycleT0, CycleT1, CycleT2, CycleWeekly, CycleMonthly:
		return Cycle(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCycle, s)
}

// DueCutoff returns the latest completion instant a transaction may
// carry and still be due for settlement on runDate. A transaction is
// eligible when completed_at <= cutoff.
func (c Cycle) DueCutoff(runDate time.Time) time.Time {
	endOfDay := time.Date(runDate.Year(), runDate.Month(), runDate.Day(), 23, 59, 59, 0, runDate.Location())
	switch c {
	case CycleT0:
		return endOfDay
	case CycleT1:
		return endOfDay.AddDate(0, 0, -1)
	case CycleT2:
		return endOfDay.AddDate(0, 0, -2)
	case CycleWeekly:
		return endOfDay.AddDate(0, 0, -7)
	case CycleMonthly:
		return endOfDay.AddDate(0, -1, 0)
	}
	return endOfDay
}

// SettlementConfiguration is a versioned per-client rule set. Rows are
// append-only; the effective row for a run is the latest one with
// effective_from <= run_date.
type SettlementConfiguration struct {
	ConfigID            string          `json:"config_id"`
	ClientID            string          `json:"client_id"`
	Cycle               Cycle           `json:"cycle"`
	FeePercentage       decimal.Decimal `json:"fee_percentage"`
	FixedFee            *money.Money    `json:"fixed_fee,omitempty"`
	MinFee              *money.Money    `json:"min_fee,omitempty"`
	MaxFee              *money.Money    `json:"max_fee,omitempty"`
	GSTPercentage       decimal.Decimal `json:"gst_percentage"`
	AutoSettle          bool            `json:"auto_settle"`
	PartialSettlement   bool            `json:"partial_settlement"`
	Tolerance           *money.Money    `json:"tolerance,omitempty"`
	MinSettlementAmount *money.Money    `json:"min_settlement_amount,omitempty"`
	EffectiveFrom       time.Time       `json:"effective_from"`
	CreatedAt           time.Time       `json:"-"`
}

// BatchStatus is the settlement batch lifecycle state.
type BatchStatus string

const (
	BatchPending    BatchStatus = "PENDING"
	BatchProcessing BatchStatus = "PROCESSING"
	BatchCompleted  BatchStatus = "COMPLETED"
	BatchFailed     BatchStatus = "FAILED"
	BatchCancelled  BatchStatus = "CANCELLED"
)

func (s BatchStatus) Terminal() bool {
	switch s {
	case BatchCompleted, BatchFailed, BatchCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the move from s to next is legal.
func (s BatchStatus) CanTransition(next BatchStatus) bool {
	switch s {
	case BatchPending:
		return next == BatchProcessing || next == BatchCancelled
	case BatchProcessing:
		return next == BatchCompleted || next == BatchFailed || next == BatchCancelled
	}
	return false
}

// Transition validates and returns the next state, or ErrInvalidTransition.
func (s BatchStatus) Transition(next BatchStatus) (BatchStatus, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
	}
	return next, nil
}

// SettlementBatch is the unit of settlement for one client on one run.
// Immutable once it reaches a terminal status.
type SettlementBatch struct {
	BatchID          string      `json:"batch_id"`
	ClientID         string      `json:"client_id"`
	BatchDate        time.Time   `json:"batch_date"`
	Status           BatchStatus `json:"status"`
	TransactionCount int         `json:"transaction_count"`
	ExcludedCount    int         `json:"excluded_count"`
	GrossAmount      money.Money `json:"gross_amount"`
	TotalFee         money.Money `json:"total_fee"`
	TotalGST         money.Money `json:"total_gst"`
	NetPayable       money.Money `json:"net_payable"`
	CreatedAt        time.Time   `json:"created_at"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
	FailureReason    string      `json:"failure_reason,omitempty"`
}

// ItemStatus is the per-line-item settlement state.
type ItemStatus string

const (
	ItemPending  ItemStatus = "PENDING"
	ItemSettled  ItemStatus = "SETTLED"
	ItemExcluded ItemStatus = "EXCLUDED"
)

// SettlementLineItem records one transaction's share of a batch.
type SettlementLineItem struct {
	BatchID       string      `json:"batch_id"`
	TransactionID string      `json:"transaction_id"`
	GrossAmount   money.Money `json:"gross_amount"`
	FeeAmount     money.Money `json:"fee_amount"`
	GSTAmount     money.Money `json:"gst_amount"`
	NetAmount     money.Money `json:"net_amount"`
	Status        ItemStatus  `json:"item_status"`
}

// ReconStatus is the reconciliation record state.
type ReconStatus string

const (
	ReconMatched     ReconStatus = "MATCHED"
	ReconMismatched  ReconStatus = "MISMATCHED"
	ReconUnderReview ReconStatus = "UNDER_REVIEW"
	ReconResolved    ReconStatus = "RESOLVED"
)

// Reconciliation compares a completed batch's net payable against a
// reported bank statement amount. Rows are append-mostly; a statement
// correction supersedes the prior record instead of overwriting it.
type Reconciliation struct {
	ReconciliationID    string      `json:"reconciliation_id"`
	BatchID             string      `json:"batch_id"`
	BankStatementAmount money.Money `json:"bank_statement_amount"`
	BatchNetPayable     money.Money `json:"batch_net_payable"`
	Variance            money.Money `json:"variance"`
	Status              ReconStatus `json:"status"`
	Superseded          bool        `json:"superseded"`
	Remarks             string      `json:"remarks,omitempty"`
	ResolvedBy          string      `json:"resolved_by,omitempty"`
	ResolvedAt          *time.Time  `json:"resolved_at,omitempty"`
	CreatedAt           time.Time   `json:"-"`
}
