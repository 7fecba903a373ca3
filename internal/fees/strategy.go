// Package fees computes per-transaction processing fee, GST and net
// amounts. Strategies are pure functions so a batch build can be
// replayed for audit with identical results.
package fees

import (
	"errors"

	"github.com/shopspring/decimal"

	"settlement-engine/internal/models"
	"settlement-engine/internal/money"
)

var ErrNoStrategy = errors.New("fees: configuration selects no strategy")

var hundred = decimal.NewFromInt(100)

// Strategy computes fee and GST for a single gross amount. GST is
// levied on the fee, not on the gross.
type Strategy interface {
	Compute(gross money.Money, cfg models.SettlementConfiguration) (fee, gst, net money.Money, err error)
}

// ForConfig selects the strategy implied by the configuration shape:
// a fixed fee, a plain percentage, or a percentage clamped between
// min_fee and max_fee.
func ForConfig(cfg models.SettlementConfiguration) (Strategy, error) {
	switch {
	case cfg.FixedFee != nil && cfg.FeePercentage.IsZero():
		return FixedFee{}, nil
	case !cfg.FeePercentage.IsZero() && (cfg.MinFee != nil || cfg.MaxFee != nil):
		return BoundedPercentageFee{}, nil
	case !cfg.FeePercentage.IsZero():
		return PercentageFee{}, nil
	}
	return nil, ErrNoStrategy
}

// Compute applies the configuration's implied strategy.
func Compute(gross money.Money, cfg models.SettlementConfiguration) (money.Money, money.Money, money.Money, error) {
	s, err := ForConfig(cfg)
	if err != nil {
		return money.Money{}, money.Money{}, money.Money{}, err
	}
	return s.Compute(gross, cfg)
}

// PercentageFee charges fee_percentage of the gross amount.
type PercentageFee struct{}

func (PercentageFee) Compute(gross money.Money, cfg models.SettlementConfiguration) (money.Money, money.Money, money.Money, error) {
	fee := money.FromDecimal(gross.Decimal().Mul(cfg.FeePercentage).Div(hundred), gross.Currency())
	return finish(gross, fee, cfg)
}

// FixedFee charges the configured fixed amount per transaction.
type FixedFee struct{}

func (FixedFee) Compute(gross money.Money, cfg models.SettlementConfiguration) (money.Money, money.Money, money.Money, error) {
	return finish(gross, *cfg.FixedFee, cfg)
}

// BoundedPercentageFee charges fee_percentage of the gross clamped to
// the configured floor and ceiling.
type BoundedPercentageFee struct{}

func (BoundedPercentageFee) Compute(gross money.Money, cfg models.SettlementConfiguration) (money.Money, money.Money, money.Money, error) {
	fee := money.FromDecimal(gross.Decimal().Mul(cfg.FeePercentage).Div(hundred), gross.Currency())
	if cfg.MinFee != nil {
		if c, err := fee.Cmp(*cfg.MinFee); err == nil && c < 0 {
			fee = *cfg.MinFee
		}
	}
	if cfg.MaxFee != nil {
		if c, err := fee.Cmp(*cfg.MaxFee); err == nil && c > 0 {
			fee = *cfg.MaxFee
		}
	}
	return finish(gross, fee, cfg)
}

// finish computes GST on the fee and the exact net remainder.
func finish(gross, fee money.Money, cfg models.SettlementConfiguration) (money.Money, money.Money, money.Money, error) {
	gst := money.FromDecimal(fee.Decimal().Mul(cfg.GSTPercentage).Div(hundred), gross.Currency())
	deducted, err := gross.Sub(fee)
	if err != nil {
		return money.Money{}, money.Money{}, money.Money{}, err
	}
	net, err := deducted.Sub(gst)
	if err != nil {
		return money.Money{}, money.Money{}, money.Money{}, err
	}
	return fee, gst, net, nil
}
