package repositories

import "errors"

var (
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrConfigurationMissing   = errors.New("no effective settlement configuration")
	ErrBatchNotFound          = errors.New("settlement batch not found")
	ErrReconciliationNotFound = errors.New("reconciliation not found")
)
