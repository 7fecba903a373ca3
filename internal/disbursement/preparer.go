// Package disbursement defines the contract with the external payout
// collaborator. Actual bank execution lives outside the engine; the
// engine only prepares disbursements and interprets the outcome.
package disbursement

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"settlement-engine/internal/money"
)

// Ack confirms a prepared disbursement.
type Ack struct {
	Reference string
}

// TransientError signals a retryable collaborator failure (timeout,
// throttling). The caller retries with backoff before giving up.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient disbursement error: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError signals a non-retryable failure; the line item fails
// immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent disbursement error: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Preparer prepares one line item's disbursement. Implementations must
// be idempotent on idempotencyKey so bounded retries are safe.
type Preparer interface {
	Prepare(ctx context.Context, batchID, transactionID string, amount money.Money, idempotencyKey string) (Ack, error)
}

// LoggingPreparer acknowledges every preparation and logs it. Used when
// no external disbursement endpoint is wired, e.g. in development.
type LoggingPreparer struct {
	logger *zap.Logger
}

func NewLoggingPreparer(logger *zap.Logger) *LoggingPreparer {
	return &LoggingPreparer{logger: logger}
}

func (p *LoggingPreparer) Prepare(ctx context.Context, batchID, transactionID string, amount money.Money, idempotencyKey string) (Ack, error) {
	p.logger.Info("disbursement prepared",
		zap.String("batch_id", batchID),
		zap.String("transaction_id", transactionID),
		zap.String("amount", amount.String()),
		zap.String("idempotency_key", idempotencyKey))
	return Ack{Reference: "local:" + idempotencyKey}, nil
}
