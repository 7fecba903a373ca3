package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"settlement-engine/internal/models"
)

func newRunFixture(t *testing.T) (*processorFixture, *RunService) {
	f := newProcessorFixture(t, ProcessorOptions{})
	run := NewRunService(f.service, f.processor, f.configRepo, 2, zaptest.NewLogger(t))
	return f, run
}

func TestRunSettlementAcrossClients(t *testing.T) {
	f, run := newRunFixture(t)
	ctx := context.Background()
	completed := runDate.AddDate(0, 0, -2)

	// manual review client: batch builds and stays PENDING
	require.NoError(t, f.configRepo.Create(ctx, standardConfig("client-manual")))
	f.txRepo.add(successTxn("txn-m1", "client-manual", 100000, completed))

	// auto-settle client: batch builds, is approved and processed
	auto := standardConfig("client-auto")
	auto.AutoSettle = true
	require.NoError(t, f.configRepo.Create(ctx, auto))
	f.txRepo.add(successTxn("txn-a1", "client-auto", 200000, completed))

	// idle client: nothing due
	require.NoError(t, f.configRepo.Create(ctx, standardConfig("client-idle")))

	summary, err := run.RunSettlement(ctx, runDate)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Built)
	assert.Equal(t, 1, summary.Settled)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Failures)
	assert.Len(t, summary.Clients, 3)

	byClient := make(map[string]ClientRunResult)
	for _, result := range summary.Clients {
		byClient[result.ClientID] = result
	}

	assert.Equal(t, "built", byClient["client-manual"].Status)
	assert.Equal(t, "settled", byClient["client-auto"].Status)
	assert.Equal(t, "skipped", byClient["client-idle"].Status)

	manual := f.batchRepo.get(byClient["client-manual"].BatchID)
	assert.Equal(t, models.BatchPending, manual.Status)

	settled := f.batchRepo.get(byClient["client-auto"].BatchID)
	assert.Equal(t, models.BatchCompleted, settled.Status)
	assert.True(t, f.txRepo.get("txn-a1").Settled)
	assert.False(t, f.txRepo.get("txn-m1").Settled)
}

func TestRunSettlementIsolatesClientFailure(t *testing.T) {
	f, run := newRunFixture(t)
	ctx := context.Background()
	completed := runDate.AddDate(0, 0, -2)

	// this client's configuration selects no fee strategy, so its build
	// fails
	broken := standardConfig("client-broken")
	broken.FeePercentage = broken.FeePercentage.Sub(broken.FeePercentage)
	require.NoError(t, f.configRepo.Create(ctx, broken))
	f.txRepo.add(successTxn("txn-b1", "client-broken", 100000, completed))

	require.NoError(t, f.configRepo.Create(ctx, standardConfig("client-ok")))
	f.txRepo.add(successTxn("txn-ok1", "client-ok", 100000, completed))

	summary, err := run.RunSettlement(ctx, runDate)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Built)
	assert.Equal(t, 1, summary.Failures)

	for _, result := range summary.Clients {
		if result.ClientID == "client-ok" {
			assert.Equal(t, "built", result.Status)
		}
		if result.ClientID == "client-broken" {
			assert.Equal(t, "failed", result.Status)
			assert.NotEmpty(t, result.Error)
		}
	}
}

func TestRunSettlementNoClients(t *testing.T) {
	_, run := newRunFixture(t)

	summary, err := run.RunSettlement(context.Background(), runDate)
	require.NoError(t, err)
	assert.Empty(t, summary.Clients)
	assert.Equal(t, 0, summary.Built)
}
