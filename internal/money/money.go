// Package money provides a fixed-point monetary value type backed by
// integer minor units. All arithmetic is integer exact; decimal
// conversions round half-to-even at the currency's minor unit.
package money

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrCurrencyMismatch = errors.New("money: currency mismatch")

// minor-unit exponent by currency; anything unlisted settles at 2.
var minorUnits = map[string]int32{
	"INR": 2,
	"USD": 2,
	"EUR": 2,
	"JPY": 0,
	"KWD": 3,
}

// Money is an immutable amount of a single currency in minor units.
type Money struct {
	amount   int64
	currency string
}

func New(minor int64, currency string) Money {
	return Money{amount: minor, currency: currency}
}

func Zero(currency string) Money {
	return Money{currency: currency}
}

// FromDecimal converts a decimal major-unit value into Money, rounding
// half-to-even at the currency's minor unit.
func FromDecimal(d decimal.Decimal, currency string) Money {
	exp := exponent(currency)
	minor := d.Shift(exp).RoundBank(0).IntPart()
	return Money{amount: minor, currency: currency}
}

func exponent(currency string) int32 {
	if exp, ok := minorUnits[currency]; ok {
		return exp
	}
	return 2
}

func (m Money) Amount() int64    { return m.amount }
func (m Money) Currency() string { return m.currency }

// Decimal returns the value in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.amount, -exponent(m.currency))
}

func (m Money) Add(o Money) (Money, error) {
	if m.currency != o.currency {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.currency, o.currency)
	}
	return Money{amount: m.amount + o.amount, currency: m.currency}, nil
}

func (m Money) Sub(o Money) (Money, error) {
	if m.currency != o.currency {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.currency, o.currency)
	}
	return Money{amount: m.amount - o.amount, currency: m.currency}, nil
}

func (m Money) Neg() Money {
	return Money{amount: -m.amount, currency: m.currency}
}

func (m Money) Abs() Money {
	if m.amount < 0 {
		return m.Neg()
	}
	return m
}

func (m Money) IsZero() bool     { return m.amount == 0 }
func (m Money) IsNegative() bool { return m.amount < 0 }

// Cmp returns -1, 0 or 1 comparing m against o.
func (m Money) Cmp(o Money) (int, error) {
	if m.currency != o.currency {
		return 0, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.currency, o.currency)
	}
	switch {
	case m.amount < o.amount:
		return -1, nil
	case m.amount > o.amount:
		return 1, nil
	}
	return 0, nil
}

func (m Money) Equal(o Money) bool {
	return m.currency == o.currency && m.amount == o.amount
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Decimal().StringFixed(exponent(m.currency)), m.currency)
}

type moneyJSON struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{
		Amount:   m.Decimal().StringFixed(exponent(m.currency)),
		Currency: m.currency,
	})
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d, err := decimal.NewFromString(raw.Amount)
	if err != nil {
		return fmt.Errorf("money: invalid amount %q: %w", raw.Amount, err)
	}
	*m = FromDecimal(d, raw.Currency)
	return nil
}
