/*
errors.go - Centralized error types for the payout engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers wrap these with context via fmt.Errorf("...: %w", err).

ERROR CATEGORIES:
  1. Configuration errors - bad frequency, bad period, bad strategy
  2. State errors - repayment above balance, deleting a repaid advance
  3. Lookup errors - missing payee, run, payout, advance

Validation findings on roster rows are NOT errors. They are data
(ValidationMessage) and get persisted as issues of the run.

SEE ALSO:
  - api/handlers.go: Maps these to HTTP status codes
*/
package payroll

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidPeriod is returned for a month outside 1..12 or a bad year.
	ErrInvalidPeriod = errors.New("invalid period")

	// ErrUnknownFrequency is returned when a frequency has no allocation plan.
	ErrUnknownFrequency = errors.New("unknown payment frequency")

	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidStatus   = errors.New("invalid status")
	ErrInvalidStrategy = errors.New("invalid advance strategy")
	ErrInvalidPayee    = errors.New("invalid payee")

	// ErrRunExists is returned by CreateRun when the period already has a run.
	ErrRunExists = errors.New("schedule run already exists for period")

	// ErrDuplicateCode is returned when a payee code is already taken.
	ErrDuplicateCode = errors.New("payee code already exists")

	// ErrInsufficientBalance is returned when a repayment exceeds what is owed.
	ErrInsufficientBalance = errors.New("insufficient advance balance")

	// ErrAdvanceHasRepayments blocks deletion of an advance with history.
	ErrAdvanceHasRepayments = errors.New("advance has recorded repayments")

	// ErrAdvanceNotRepayable is returned for repayments against a requested
	// or closed advance.
	ErrAdvanceNotRepayable = errors.New("advance is not open for repayment")

	ErrPayeeNotFound      = errors.New("payee not found")
	ErrAdjustmentNotFound = errors.New("compensation adjustment not found")
	ErrRunNotFound        = errors.New("schedule run not found")
	ErrPayoutNotFound     = errors.New("payout not found")
	ErrAdvanceNotFound    = errors.New("advance not found")
	ErrAdhocNotFound      = errors.New("ad-hoc payment not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// RepaymentExceedsBalanceError details a manual repayment above the balance.
type RepaymentExceedsBalanceError struct {
	AdvanceID string
	Remaining decimal.Decimal
	Requested decimal.Decimal
}

func (e *RepaymentExceedsBalanceError) Error() string {
	return fmt.Sprintf("repayment %s exceeds remaining balance %s on advance %s",
		e.Requested.StringFixed(MoneyPlaces), e.Remaining.StringFixed(MoneyPlaces), e.AdvanceID)
}

func (e *RepaymentExceedsBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrUnknownFrequency) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrInvalidStrategy) ||
		errors.Is(err, ErrInvalidPayee) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrAdvanceNotRepayable)
}

// IsConflict returns true if the request clashes with existing state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrRunExists) ||
		errors.Is(err, ErrDuplicateCode) ||
		errors.Is(err, ErrAdvanceHasRepayments)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPayeeNotFound) ||
		errors.Is(err, ErrAdjustmentNotFound) ||
		errors.Is(err, ErrRunNotFound) ||
		errors.Is(err, ErrPayoutNotFound) ||
		errors.Is(err, ErrAdvanceNotFound) ||
		errors.Is(err, ErrAdhocNotFound)
}
