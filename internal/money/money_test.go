package money

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromDecimalRounding(t *testing.T) {
	cases := []struct {
		name     string
		value    string
		currency string
		want     int64
	}{
		{"exact", "3417.40", "INR", 341740},
		{"half to even down", "10.125", "INR", 1012},
		{"half to even up", "10.135", "INR", 1014},
		{"zero decimals", "1200", "JPY", 1200},
		{"three decimals", "5.1234", "KWD", 5123},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := decimal.NewFromString(tc.value)
			require.NoError(t, err)
			m := FromDecimal(d, tc.currency)
			assert.Equal(t, tc.want, m.Amount())
			assert.Equal(t, tc.currency, m.Currency())
		})
	}
}

func TestAddSub(t *testing.T) {
	a := New(100000, "INR")
	b := New(200000, "INR")

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, int64(300000), sum.Amount())

	diff, err := b.Sub(a)
	require.NoError(t, err)
	assert.Equal(t, int64(100000), diff.Amount())
}

func TestCurrencyMismatch(t *testing.T) {
	a := New(100, "INR")
	b := New(100, "USD")

	_, err := a.Add(b)
	assert.ErrorIs(t, err, ErrCurrencyMismatch)

	_, err = a.Sub(b)
	assert.ErrorIs(t, err, ErrCurrencyMismatch)

	_, err = a.Cmp(b)
	assert.ErrorIs(t, err, ErrCurrencyMismatch)
}

func TestNegAbs(t *testing.T) {
	m := New(-1740, "INR")
	assert.True(t, m.IsNegative())
	assert.Equal(t, int64(1740), m.Abs().Amount())
	assert.Equal(t, int64(1740), m.Neg().Amount())
	assert.False(t, m.Abs().IsNegative())
}

func TestDecimalRoundTrip(t *testing.T) {
	m := New(341740, "INR")
	assert.Equal(t, "3417.4", m.Decimal().String())
	assert.Equal(t, m, FromDecimal(m.Decimal(), "INR"))
}

func TestJSON(t *testing.T) {
	m := New(341740, "INR")

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"3417.40","currency":"INR"}`, string(data))

	var back Money
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, m.Equal(back))
}
