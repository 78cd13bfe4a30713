/*
types.go - Core domain types for the payout engine

PURPOSE:
  Defines the records the engine reads and writes: payees, compensation
  adjustments, schedule runs, payouts, validation issues, cash advances and
  their planned/realized deductions, and ad-hoc payments.

CLOSED ENUMS:
  Frequency, PayeeStatus, PayoutStatus, AdvanceStatus, Strategy, Severity and
  AdhocStatus are string types with a fixed value set. Parse* functions are
  the only way text enters these types, and switches over them list every
  value.

MONEY:
  All amounts are decimal.Decimal quantized to 2 places with RoundMoney.
  Never use float64 for money.

SEE ALSO:
  - calendar.go: Pay dates
  - allocator.go: Frequency plans and splits
  - store.go: Persistence interfaces
*/
package payroll

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// MoneyPlaces is the number of decimal places every stored amount carries.
const MoneyPlaces = 2

// RoundMoney quantizes to 2 places, half away from zero (half-up for the
// positive amounts the engine deals in).
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// ParseMoney parses a textual amount and quantizes it.
func ParseMoney(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty amount", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return RoundMoney(d), nil
}

// =============================================================================
// FREQUENCY
// =============================================================================

// Frequency is how often a payee is paid within a month.
type Frequency string

const (
	FrequencyWeekly   Frequency = "weekly"
	FrequencyBiweekly Frequency = "biweekly"
	FrequencyMonthly  Frequency = "monthly"
)

// ParseFrequency lower-cases and checks the value.
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFrequency, s)
}

// Title returns the display form used in summaries ("Weekly").
func (f Frequency) Title() string {
	if f == "" {
		return ""
	}
	return capitalize(string(f))
}

// capitalize upper-cases the first rune and lower-cases the rest.
func capitalize(w string) string {
	r, size := utf8.DecodeRuneInString(w)
	if r == utf8.RuneError && size <= 1 {
		return strings.ToLower(w)
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(w[size:])
}

// =============================================================================
// STATUSES
// =============================================================================

// PayeeStatus is the roster status of a payee.
type PayeeStatus string

const (
	PayeeActive   PayeeStatus = "Active"
	PayeeInactive PayeeStatus = "Inactive"
)

// ParsePayeeStatus title-cases and checks the value.
func ParsePayeeStatus(s string) (PayeeStatus, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: empty payee status", ErrInvalidStatus)
	}
	st := PayeeStatus(capitalize(s))
	switch st {
	case PayeeActive, PayeeInactive:
		return st, nil
	}
	return "", fmt.Errorf("%w: payee status %q", ErrInvalidStatus, s)
}

// PayoutStatus tracks whether a payout line has been paid out.
type PayoutStatus string

const (
	PayoutNotPaid  PayoutStatus = "not_paid"
	PayoutOnHold   PayoutStatus = "on_hold"
	PayoutApproved PayoutStatus = "approved"
	PayoutPaid     PayoutStatus = "paid"
)

func ParsePayoutStatus(s string) (PayoutStatus, error) {
	st := PayoutStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case PayoutNotPaid, PayoutOnHold, PayoutApproved, PayoutPaid:
		return st, nil
	}
	return "", fmt.Errorf("%w: payout status %q", ErrInvalidStatus, s)
}

// AdvanceStatus is the lifecycle state of a cash advance.
type AdvanceStatus string

const (
	AdvanceRequested AdvanceStatus = "requested"
	AdvanceApproved  AdvanceStatus = "approved"
	AdvanceActive    AdvanceStatus = "active"
	AdvanceClosed    AdvanceStatus = "closed"
)

func ParseAdvanceStatus(s string) (AdvanceStatus, error) {
	st := AdvanceStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case AdvanceRequested, AdvanceApproved, AdvanceActive, AdvanceClosed:
		return st, nil
	}
	return "", fmt.Errorf("%w: advance status %q", ErrInvalidStatus, s)
}

// Strategy decides how much of an advance is deducted per payout.
type Strategy string

const (
	StrategyFixed   Strategy = "fixed"
	StrategyPercent Strategy = "percent"
)

func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StrategyFixed, StrategyPercent:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStrategy, s)
}

// Severity of a validation message.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// AdhocStatus is the state of a one-off payment.
type AdhocStatus string

const (
	AdhocPending   AdhocStatus = "pending"
	AdhocPaid      AdhocStatus = "paid"
	AdhocCancelled AdhocStatus = "cancelled"
)

func ParseAdhocStatus(s string) (AdhocStatus, error) {
	st := AdhocStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case AdhocPending, AdhocPaid, AdhocCancelled:
		return st, nil
	}
	return "", fmt.Errorf("%w: ad-hoc status %q", ErrInvalidStatus, s)
}

// RepaymentSource tells realized deductions apart from manual repayments.
type RepaymentSource string

const (
	RepaymentAuto   RepaymentSource = "auto"
	RepaymentManual RepaymentSource = "manual"
)

// =============================================================================
// ROSTER
// =============================================================================

// Payee is a person paid on the monthly calendar.
type Payee struct {
	ID                string
	Code              string
	RealName          string
	WorkingName       string
	Status            PayeeStatus
	StartDate         time.Time
	PaymentMethod     string
	Frequency         Frequency
	BaseMonthlyAmount decimal.Decimal
	Adjustments       []CompensationAdjustment
	CreatedAt         time.Time
}

// CompensationAdjustment replaces the monthly amount from EffectiveDate on.
type CompensationAdjustment struct {
	ID            string
	PayeeID       string
	EffectiveDate time.Time
	Amount        decimal.Decimal
	Notes         *string
	CreatedAt     time.Time
}

// =============================================================================
// RUNS & PAYOUTS
// =============================================================================

// RunSummary aggregates a run's payouts.
type RunSummary struct {
	ModelsPaid      int
	TotalPayout     decimal.Decimal
	FrequencyCounts map[string]int
}

// ScheduleRun is the single payroll computation for a (year, month).
type ScheduleRun struct {
	ID              string
	Year            int
	Month           time.Month
	Currency        string
	IncludeInactive bool
	Summary         RunSummary
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Payout is one line item of a run: a payee paid on a pay date.
// Code and names are denormalized so the line survives payee deletion.
type Payout struct {
	ID               string
	RunID            string
	PayeeID          string // empty when the payee was deleted
	Seq              int
	PayDate          time.Time
	Code             string
	RealName         string
	WorkingName      string
	PaymentMethod    string
	Frequency        Frequency
	Gross            decimal.Decimal
	Amount           decimal.Decimal // net of advance deductions, never negative
	RoundingAdjusted bool
	Status           PayoutStatus
	Notes            *string
}

// ValidationIssue is a persisted validation message for a run.
type ValidationIssue struct {
	ID       string
	RunID    string
	PayeeID  string
	Row      int
	Code     string
	Severity Severity
	Message  string
}

// =============================================================================
// ADVANCES
// =============================================================================

// Policy knob defaults. Stored on every advance, not enforced by the engine.
var (
	DefaultMinNetFloor   = decimal.NewFromInt(500)
	DefaultMaxPerRun     = decimal.NewFromInt(600)
	DefaultCapMultiplier = decimal.NewFromInt(1)
)

// Advance is a cash advance repaid by deductions from future payouts.
type Advance struct {
	ID              string
	PayeeID         string
	AmountTotal     decimal.Decimal
	AmountRemaining decimal.Decimal
	Status          AdvanceStatus
	Strategy        Strategy
	FixedAmount     *decimal.Decimal
	PercentRate     *decimal.Decimal
	MinNetFloor     decimal.Decimal
	MaxPerRun       decimal.Decimal
	CapMultiplier   decimal.Decimal
	Notes           *string
	CreatedAt       time.Time
	ActivatedAt     *time.Time
}

// AdvanceAllocation is a planned deduction of an advance against a payout.
type AdvanceAllocation struct {
	ID            string
	RunID         string
	PayoutID      string
	PayeeID       string
	AdvanceID     string
	PlannedAmount decimal.Decimal
	CreatedAt     time.Time
}

// AdvanceRepayment is a realized reduction of an advance balance.
type AdvanceRepayment struct {
	ID        string
	AdvanceID string
	PayoutID  string // empty for manual repayments
	Amount    decimal.Decimal
	Source    RepaymentSource
	Notes     *string
	CreatedAt time.Time
}

// =============================================================================
// AD-HOC PAYMENTS
// =============================================================================

// AdhocPayment is a one-off payment outside the monthly plan.
type AdhocPayment struct {
	ID          string
	PayeeID     string
	PayDate     time.Time
	Amount      decimal.Decimal
	Description *string
	Notes       *string
	Status      AdhocStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
