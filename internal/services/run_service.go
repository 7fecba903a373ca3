package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"settlement-engine/internal/models"
	"settlement-engine/internal/repositories"
)

// ClientRunResult is one client's outcome within a settlement run.
type ClientRunResult struct {
	ClientID string `json:"client_id"`
	BatchID  string `json:"batch_id,omitempty"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// RunSummary aggregates a full settlement run.
type RunSummary struct {
	RunDate  time.Time         `json:"run_date"`
	Clients  []ClientRunResult `json:"clients"`
	Built    int               `json:"built"`
	Settled  int               `json:"settled"`
	Skipped  int               `json:"skipped"`
	Failures int               `json:"failures"`
}

// RunService executes a settlement run across every configured client.
// Builds run in parallel on a worker pool; one client's failure never
// blocks or rolls back another's.
type RunService struct {
	settlements *SettlementService
	processor   *BatchProcessor
	configRepo  repositories.ConfigurationRepository
	logger      *zap.Logger
	workers     int
}

func NewRunService(
	settlements *SettlementService,
	processor *BatchProcessor,
	configRepo repositories.ConfigurationRepository,
	workers int,
	logger *zap.Logger,
) *RunService {
	if workers <= 0 {
		workers = 4
	}
	return &RunService{
		settlements: settlements,
		processor:   processor,
		configRepo:  configRepo,
		logger:      logger,
		workers:     workers,
	}
}

// RunSettlement builds a batch for every configured client due on
// runDate. Clients with auto_settle enabled are approved and processed
// in the same pass; the rest wait for explicit approval.
func (s *RunService) RunSettlement(ctx context.Context, runDate time.Time) (*RunSummary, error) {
	clients, err := s.configRepo.ListClientIDs(ctx)
	if err != nil {
		return nil, err
	}

	work := make(chan string)
	results := make(chan ClientRunResult, len(clients))

	var wg sync.WaitGroup
	workers := s.workers
	if workers > len(clients) && len(clients) > 0 {
		workers = len(clients)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for clientID := range work {
				results <- s.runClient(ctx, clientID, runDate)
			}
		}()
	}

	for _, clientID := range clients {
		work <- clientID
	}
	close(work)
	wg.Wait()
	close(results)

	summary := &RunSummary{RunDate: runDate}
	for result := range results {
		summary.Clients = append(summary.Clients, result)
		switch result.Status {
		case "built":
			summary.Built++
		case "settled":
			summary.Built++
			summary.Settled++
		case "skipped":
			summary.Skipped++
		default:
			summary.Failures++
		}
	}

	s.logger.Info("settlement run finished",
		zap.Time("run_date", runDate),
		zap.Int("built", summary.Built),
		zap.Int("settled", summary.Settled),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failures", summary.Failures))
	return summary, nil
}

func (s *RunService) runClient(ctx context.Context, clientID string, runDate time.Time) ClientRunResult {
	result := ClientRunResult{ClientID: clientID}

	cfg, err := s.configRepo.GetEffective(ctx, clientID, runDate)
	if err != nil {
		result.Status = "failed"
		result.Error = err.Error()
		return result
	}

	batch, err := s.settlements.Build(ctx, clientID, runDate)
	if err != nil {
		if errors.Is(err, ErrNoEligibleTransactions) || errors.Is(err, ErrBelowMinimumAmount) {
			result.Status = "skipped"
			result.Error = err.Error()
			return result
		}
		s.logger.Error("client settlement build failed",
			zap.String("client_id", clientID), zap.Error(err))
		result.Status = "failed"
		result.Error = err.Error()
		return result
	}
	result.BatchID = batch.BatchID
	result.Status = "built"

	if !cfg.AutoSettle {
		return result
	}

	if _, err := s.processor.Approve(ctx, batch.BatchID); err != nil {
		result.Status = "failed"
		result.Error = err.Error()
		return result
	}
	processed, err := s.processor.Process(ctx, batch.BatchID)
	if err != nil {
		result.Status = "failed"
		result.Error = err.Error()
		return result
	}
	if processed.Status == models.BatchCompleted {
		result.Status = "settled"
	} else {
		result.Status = "failed"
		result.Error = processed.FailureReason
	}
	return result
}
