package payroll

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ADVANCE BALANCE
// =============================================================================

// Open reports whether the advance can still take repayments.
func (a Advance) Open() bool {
	return a.Status == AdvanceActive || a.Status == AdvanceApproved
}

// ApplyRepayment lowers the remaining balance by at most amount and closes
// the advance when nothing is left. It returns the amount actually applied.
func (a *Advance) ApplyRepayment(amount decimal.Decimal) decimal.Decimal {
	applied := decimal.Min(amount, a.AmountRemaining)
	if applied.IsNegative() {
		applied = decimal.Zero
	}
	a.AmountRemaining = a.AmountRemaining.Sub(applied)
	if !a.AmountRemaining.IsPositive() {
		a.AmountRemaining = decimal.Zero
		a.Status = AdvanceClosed
	}
	return applied
}

// =============================================================================
// NEW ADVANCES
// =============================================================================

// NewAdvance is the input for opening an advance.
type NewAdvance struct {
	PayeeID     string
	Amount      decimal.Decimal
	Strategy    Strategy
	FixedAmount *decimal.Decimal
	PercentRate *decimal.Decimal
	Notes       *string
}

// Build validates the input and returns a requested advance with the default
// policy knobs. ID and CreatedAt are left to the caller.
func (n NewAdvance) Build() (Advance, error) {
	if strings.TrimSpace(n.PayeeID) == "" {
		return Advance{}, fmt.Errorf("%w: advance needs a payee", ErrInvalidPayee)
	}
	amount := RoundMoney(n.Amount)
	if !amount.IsPositive() {
		return Advance{}, fmt.Errorf("%w: advance amount must be positive", ErrInvalidAmount)
	}

	adv := Advance{
		PayeeID:         n.PayeeID,
		AmountTotal:     amount,
		AmountRemaining: amount,
		Status:          AdvanceRequested,
		Strategy:        n.Strategy,
		MinNetFloor:     DefaultMinNetFloor,
		MaxPerRun:       DefaultMaxPerRun,
		CapMultiplier:   DefaultCapMultiplier,
		Notes:           n.Notes,
	}

	switch n.Strategy {
	case StrategyFixed:
		if n.FixedAmount == nil || !n.FixedAmount.IsPositive() {
			return Advance{}, fmt.Errorf("%w: fixed strategy needs a positive fixed amount", ErrInvalidStrategy)
		}
		fixed := RoundMoney(*n.FixedAmount)
		adv.FixedAmount = &fixed
	case StrategyPercent:
		if n.PercentRate == nil || !n.PercentRate.IsPositive() || n.PercentRate.GreaterThan(hundred) {
			return Advance{}, fmt.Errorf("%w: percent rate must be in (0, 100]", ErrInvalidStrategy)
		}
		rate := *n.PercentRate
		adv.PercentRate = &rate
	default:
		return Advance{}, fmt.Errorf("%w: %q", ErrInvalidStrategy, string(n.Strategy))
	}
	return adv, nil
}

// Approve moves a requested advance to active (or approved when activate is
// false). Closed advances cannot be re-approved.
func (a *Advance) Approve(activate bool, at time.Time) error {
	if a.Status == AdvanceClosed {
		return fmt.Errorf("%w: advance %s is closed", ErrInvalidStatus, a.ID)
	}
	if activate {
		a.Status = AdvanceActive
	} else {
		a.Status = AdvanceApproved
	}
	if a.ActivatedAt == nil {
		a.ActivatedAt = &at
	}
	return nil
}

// OutstandingTotal sums the remaining balance of open advances.
func OutstandingTotal(advances []Advance) decimal.Decimal {
	total := decimal.Zero
	for _, a := range advances {
		if a.Open() {
			total = total.Add(a.AmountRemaining)
		}
	}
	return total
}
