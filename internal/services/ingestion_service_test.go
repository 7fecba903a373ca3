package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"settlement-engine/internal/models"
)

func newIngestionFixture(t *testing.T) (*memTxRepo, *memConfigRepo, *IngestionService) {
	txRepo := newMemTxRepo()
	configRepo := newMemConfigRepo()
	service := NewIngestionService(txRepo, configRepo, zaptest.NewLogger(t))
	return txRepo, configRepo, service
}

func TestIngestTransactions(t *testing.T) {
	txRepo, _, service := newIngestionFixture(t)
	completed := time.Date(2026, 3, 13, 14, 0, 0, 0, time.UTC)

	result, err := service.IngestTransactions(context.Background(), []TransactionInput{
		{TxnID: "txn-1", ClientID: "client-1", Amount: "1000.00", CompletedAt: completed},
		{TxnID: "txn-2", ClientID: "client-1", Amount: "2000.00", Currency: "INR", Status: "SUCCESS", CompletedAt: completed},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.RecordsCount)
	assert.Empty(t, result.Errors)

	stored := txRepo.get("txn-1")
	assert.Equal(t, int64(100000), stored.Amount.Amount())
	assert.Equal(t, "INR", stored.Amount.Currency())
	assert.Equal(t, models.TxnStatusSuccess, stored.Status)
}

func TestIngestTransactionsSkipsInvalid(t *testing.T) {
	txRepo, _, service := newIngestionFixture(t)
	completed := time.Date(2026, 3, 13, 14, 0, 0, 0, time.UTC)

	result, err := service.IngestTransactions(context.Background(), []TransactionInput{
		{TxnID: "txn-ok", ClientID: "client-1", Amount: "500.00", CompletedAt: completed},
		{TxnID: "", ClientID: "client-1", Amount: "500.00", CompletedAt: completed},
		{TxnID: "txn-bad-amount", ClientID: "client-1", Amount: "abc", CompletedAt: completed},
		{TxnID: "txn-negative", ClientID: "client-1", Amount: "-5.00", CompletedAt: completed},
		{TxnID: "txn-no-time", ClientID: "client-1", Amount: "5.00"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.RecordsCount)
	assert.Len(t, result.Errors, 4)

	stored := txRepo.get("txn-ok")
	assert.Equal(t, int64(50000), stored.Amount.Amount())
}

func TestCreateConfiguration(t *testing.T) {
	_, configRepo, service := newIngestionFixture(t)
	ctx := context.Background()

	fixed := "5.00"
	tolerance := "1.00"
	cfg, err := service.CreateConfiguration(ctx, ConfigurationInput{
		ClientID:      "client-1",
		Cycle:         "T1",
		FeePercentage: "2",
		GSTPercentage: "18",
		MinFee:        &fixed,
		Tolerance:     &tolerance,
		AutoSettle:    true,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.ConfigID)
	assert.Equal(t, models.CycleT1, cfg.Cycle)
	assert.True(t, cfg.AutoSettle)
	assert.False(t, cfg.EffectiveFrom.IsZero())
	require.NotNil(t, cfg.MinFee)
	assert.Equal(t, int64(500), cfg.MinFee.Amount())
	require.NotNil(t, cfg.Tolerance)
	assert.Equal(t, int64(100), cfg.Tolerance.Amount())

	effective, err := configRepo.GetEffective(ctx, "client-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, cfg.ConfigID, effective.ConfigID)
}

func TestCreateConfigurationValidation(t *testing.T) {
	_, _, service := newIngestionFixture(t)
	ctx := context.Background()

	_, err := service.CreateConfiguration(ctx, ConfigurationInput{Cycle: "T1"})
	assert.Error(t, err)

	_, err = service.CreateConfiguration(ctx, ConfigurationInput{ClientID: "client-1", Cycle: "T9"})
	assert.ErrorIs(t, err, models.ErrUnknownCycle)

	_, err = service.CreateConfiguration(ctx, ConfigurationInput{
		ClientID: "client-1", Cycle: "T1", FeePercentage: "two percent",
	})
	assert.Error(t, err)
}

func TestConfigurationHistoryPreserved(t *testing.T) {
	_, _, service := newIngestionFixture(t)
	ctx := context.Background()

	_, err := service.CreateConfiguration(ctx, ConfigurationInput{
		ClientID: "client-1", Cycle: "T1", FeePercentage: "2", GSTPercentage: "18",
		EffectiveFrom: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	_, err = service.CreateConfiguration(ctx, ConfigurationInput{
		ClientID: "client-1", Cycle: "T2", FeePercentage: "1.5", GSTPercentage: "18",
		EffectiveFrom: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	history, err := service.ListConfigurations(ctx, "client-1")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}
