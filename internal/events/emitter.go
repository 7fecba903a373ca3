// Package events carries settlement lifecycle notifications to the
// downstream collaborators (webhooks, reporting). Delivery is
// fire-and-forget; the engine never blocks on a consumer.
package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"settlement-engine/internal/money"
)

type EventType string

const (
	BatchCompleted EventType = "batch.completed"
	BatchFailed    EventType = "batch.failed"
	BatchCancelled EventType = "batch.cancelled"
	ReconMismatch  EventType = "reconciliation.mismatched"
)

type Event struct {
	Type             EventType   `json:"type"`
	BatchID          string      `json:"batch_id"`
	ClientID         string      `json:"client_id,omitempty"`
	ReconciliationID string      `json:"reconciliation_id,omitempty"`
	NetPayable       *money.Money `json:"net_payable,omitempty"`
	Reason           string      `json:"reason,omitempty"`
	OccurredAt       time.Time   `json:"occurred_at"`
}

// Emitter publishes an event. Implementations must not let delivery
// failures propagate into the settlement path.
type Emitter interface {
	Emit(ctx context.Context, event Event)
}

// LoggingEmitter writes events to the structured log.
type LoggingEmitter struct {
	logger *zap.Logger
}

func NewLoggingEmitter(logger *zap.Logger) *LoggingEmitter {
	return &LoggingEmitter{logger: logger}
}

func (e *LoggingEmitter) Emit(ctx context.Context, event Event) {
	e.logger.Info("settlement event",
		zap.String("type", string(event.Type)),
		zap.String("batch_id", event.BatchID),
		zap.String("client_id", event.ClientID),
		zap.String("reconciliation_id", event.ReconciliationID),
		zap.String("reason", event.Reason),
		zap.Time("occurred_at", event.OccurredAt))
}

// MultiEmitter fans an event out to several emitters.
type MultiEmitter []Emitter

func (m MultiEmitter) Emit(ctx context.Context, event Event) {
	for _, e := range m {
		e.Emit(ctx, event)
	}
}
