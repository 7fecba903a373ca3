package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"settlement-engine/internal/models"
	"settlement-engine/internal/money"
)

func inr(minor int64) money.Money {
	return money.New(minor, "INR")
}

func TestClassifyExactMatch(t *testing.T) {
	result, err := Classify(inr(341740), inr(341740), inr(0))
	require.NoError(t, err)
	assert.Equal(t, models.ReconMatched, result.Status)
	assert.True(t, result.Variance.IsZero())
}

func TestClassifyMismatch(t *testing.T) {
	// batch nets 3417.40, bank reports 3400.00
	result, err := Classify(inr(340000), inr(341740), inr(0))
	require.NoError(t, err)
	assert.Equal(t, models.ReconMismatched, result.Status)
	assert.Equal(t, int64(-1740), result.Variance.Amount())
}

func TestClassifyWithinTolerance(t *testing.T) {
	cases := []struct {
		name      string
		bank      int64
		net       int64
		tolerance int64
		want      models.ReconStatus
	}{
		{"under by tolerance exactly", 341640, 341740, 100, models.ReconMatched},
		{"over by tolerance exactly", 341840, 341740, 100, models.ReconMatched},
		{"under beyond tolerance", 341639, 341740, 100, models.ReconMismatched},
		{"over beyond tolerance", 341841, 341740, 100, models.ReconMismatched},
		{"zero tolerance one paisa off", 341741, 341740, 0, models.ReconMismatched},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := Classify(inr(tc.bank), inr(tc.net), inr(tc.tolerance))
			require.NoError(t, err)
			assert.Equal(t, tc.want, result.Status)
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	first, err := Classify(inr(340000), inr(341740), inr(50))
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := Classify(inr(340000), inr(341740), inr(50))
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestClassifyCurrencyMismatch(t *testing.T) {
	_, err := Classify(money.New(100, "USD"), inr(100), inr(0))
	assert.ErrorIs(t, err, money.ErrCurrencyMismatch)
}
