package events

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// WebhookEmitter posts events as JSON to a configured endpoint. The
// post runs in its own goroutine; failures are logged and dropped,
// delivery guarantees belong to the receiver.
type WebhookEmitter struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

func NewWebhookEmitter(url string, logger *zap.Logger) *WebhookEmitter {
	return &WebhookEmitter{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

func (e *WebhookEmitter) Emit(ctx context.Context, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		e.logger.Error("failed to encode webhook event", zap.Error(err))
		return
	}

	go func() {
		req, err := http.NewRequest(http.MethodPost, e.url, bytes.NewReader(payload))
		if err != nil {
			e.logger.Error("failed to build webhook request", zap.Error(err))
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.client.Do(req)
		if err != nil {
			e.logger.Warn("webhook delivery failed",
				zap.String("type", string(event.Type)),
				zap.String("batch_id", event.BatchID),
				zap.Error(err))
			return
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			e.logger.Warn("webhook rejected",
				zap.String("type", string(event.Type)),
				zap.Int("status", resp.StatusCode))
		}
	}()
}
