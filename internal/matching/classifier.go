package matching

import (
	"settlement-engine/internal/models"
	"settlement-engine/internal/money"
)

// Result is the outcome of comparing a batch's net payable against a
// bank statement amount.
type Result struct {
	Status   models.ReconStatus
	Variance money.Money
}

// Classify computes variance = bank - netPayable and classifies the
// pair. Within tolerance (absolute, inclusive) the pair is MATCHED;
// anything beyond is MISMATCHED. Deterministic for identical inputs.
func Classify(bank, netPayable, tolerance money.Money) (Result, error) {
	variance, err := bank.Sub(netPayable)
	if err != nil {
		return Result{}, err
	}

	cmp, err := variance.Abs().Cmp(tolerance)
	if err != nil {
		return Result{}, err
	}

	status := models.ReconMatched
	if cmp > 0 {
		status = models.ReconMismatched
	}

	return Result{Status: status, Variance: variance}, nil
}
