package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"settlement-engine/internal/models"
	"settlement-engine/internal/money"
	"settlement-engine/internal/repositories"
)

// IngestionService accepts gateway transactions and client settlement
// configurations into the engine's store.
type IngestionService struct {
	txRepo     repositories.TransactionRepository
	configRepo repositories.ConfigurationRepository
	logger     *zap.Logger
}

func NewIngestionService(
	txRepo repositories.TransactionRepository,
	configRepo repositories.ConfigurationRepository,
	logger *zap.Logger,
) *IngestionService {
	return &IngestionService{
		txRepo:     txRepo,
		configRepo: configRepo,
		logger:     logger,
	}
}

type TransactionInput struct {
	TxnID       string    `json:"txn_id"`
	ClientID    string    `json:"client_id"`
	Amount      string    `json:"amount"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	CompletedAt time.Time `json:"completed_at"`
}

type IngestionResult struct {
	RecordsCount int      `json:"records_count"`
	Errors       []string `json:"errors,omitempty"`
}

// IngestTransactions validates and stores a batch of transactions.
// Invalid records are reported and skipped, valid ones are kept.
func (s *IngestionService) IngestTransactions(ctx context.Context, inputs []TransactionInput) (*IngestionResult, error) {
	result := &IngestionResult{}

	for _, input := range inputs {
		txn, err := validateTransaction(input)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("invalid transaction %s: %v", input.TxnID, err))
			continue
		}
		if err := s.txRepo.Create(ctx, txn); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to store transaction %s: %v", input.TxnID, err))
			continue
		}
		result.RecordsCount++
	}

	s.logger.Info("transactions ingested",
		zap.Int("stored", result.RecordsCount),
		zap.Int("rejected", len(result.Errors)))
	return result, nil
}

func validateTransaction(input TransactionInput) (*models.Transaction, error) {
	if input.TxnID == "" {
		return nil, fmt.Errorf("txn_id is required")
	}
	if input.ClientID == "" {
		return nil, fmt.Errorf("client_id is required")
	}
	if input.CompletedAt.IsZero() {
		return nil, fmt.Errorf("completed_at is required")
	}
	amount, err := decimal.NewFromString(input.Amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q", input.Amount)
	}
	if amount.IsNegative() {
		return nil, fmt.Errorf("amount must not be negative")
	}
	currency := input.Currency
	if currency == "" {
		currency = "INR"
	}
	status := input.Status
	if status == "" {
		status = models.TxnStatusSuccess
	}
	return &models.Transaction{
		TxnID:       input.TxnID,
		ClientID:    input.ClientID,
		Amount:      money.FromDecimal(amount, currency),
		Status:      status,
		CompletedAt: input.CompletedAt,
	}, nil
}

type ConfigurationInput struct {
	ClientID            string    `json:"client_id"`
	Cycle               string    `json:"cycle"`
	FeePercentage       string    `json:"fee_percentage"`
	FixedFee            *string   `json:"fixed_fee,omitempty"`
	MinFee              *string   `json:"min_fee,omitempty"`
	MaxFee              *string   `json:"max_fee,omitempty"`
	GSTPercentage       string    `json:"gst_percentage"`
	AutoSettle          bool      `json:"auto_settle"`
	PartialSettlement   bool      `json:"partial_settlement"`
	Tolerance           *string   `json:"tolerance,omitempty"`
	MinSettlementAmount *string   `json:"min_settlement_amount,omitempty"`
	Currency            string    `json:"currency"`
	EffectiveFrom       time.Time `json:"effective_from"`
}

// CreateConfiguration appends a new effective-dated configuration row.
// Prior rows are never mutated; they remain for the fee audit trail.
func (s *IngestionService) CreateConfiguration(ctx context.Context, input ConfigurationInput) (*models.SettlementConfiguration, error) {
	if input.ClientID == "" {
		return nil, fmt.Errorf("client_id is required")
	}
	cycle, err := models.ParseCycle(input.Cycle)
	if err != nil {
		return nil, err
	}
	feePct, err := parsePercentage(input.FeePercentage)
	if err != nil {
		return nil, fmt.Errorf("invalid fee_percentage: %w", err)
	}
	gstPct, err := parsePercentage(input.GSTPercentage)
	if err != nil {
		return nil, fmt.Errorf("invalid gst_percentage: %w", err)
	}

	currency := input.Currency
	if currency == "" {
		currency = "INR"
	}

	cfg := &models.SettlementConfiguration{
		ConfigID:          uuid.NewString(),
		ClientID:          input.ClientID,
		Cycle:             cycle,
		FeePercentage:     feePct,
		GSTPercentage:     gstPct,
		AutoSettle:        input.AutoSettle,
		PartialSettlement: input.PartialSettlement,
		EffectiveFrom:     input.EffectiveFrom,
	}
	if cfg.EffectiveFrom.IsZero() {
		cfg.EffectiveFrom = time.Now()
	}

	if cfg.FixedFee, err = parseOptionalAmount(input.FixedFee, currency); err != nil {
		return nil, fmt.Errorf("invalid fixed_fee: %w", err)
	}
	if cfg.MinFee, err = parseOptionalAmount(input.MinFee, currency); err != nil {
		return nil, fmt.Errorf("invalid min_fee: %w", err)
	}
	if cfg.MaxFee, err = parseOptionalAmount(input.MaxFee, currency); err != nil {
		return nil, fmt.Errorf("invalid max_fee: %w", err)
	}
	if cfg.Tolerance, err = parseOptionalAmount(input.Tolerance, currency); err != nil {
		return nil, fmt.Errorf("invalid tolerance: %w", err)
	}
	if cfg.MinSettlementAmount, err = parseOptionalAmount(input.MinSettlementAmount, currency); err != nil {
		return nil, fmt.Errorf("invalid min_settlement_amount: %w", err)
	}

	if err := s.configRepo.Create(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to store configuration: %w", err)
	}

	s.logger.Info("settlement configuration created",
		zap.String("client_id", cfg.ClientID),
		zap.String("cycle", string(cfg.Cycle)),
		zap.Time("effective_from", cfg.EffectiveFrom))
	return cfg, nil
}

// ListConfigurations returns a client's configuration history, newest
// first.
func (s *IngestionService) ListConfigurations(ctx context.Context, clientID string) ([]*models.SettlementConfiguration, error) {
	return s.configRepo.ListForClient(ctx, clientID)
}

func parsePercentage(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("must not be negative")
	}
	return d, nil
}

func parseOptionalAmount(s *string, currency string) (*money.Money, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	m := money.FromDecimal(d, currency)
	return &m, nil
}
