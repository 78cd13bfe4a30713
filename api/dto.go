/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the payroll domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts travel as strings with exactly 2 decimals ("1000.10") so clients
  never round-trip money through floating point.

VALIDATION:
  Request structs carry validator/v10 tags. Handlers call h.validate.Struct
  before touching the service; domain rules are enforced again by the
  payroll package.

SEE ALSO:
  - handlers.go: Uses these types
  - payroll/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payout-engine/payroll"
)

// =============================================================================
// PAYEES
// =============================================================================

// PayeeDTO represents a payee in API responses.
type PayeeDTO struct {
	ID                string                      `json:"id"`
	Code              string                      `json:"code"`
	RealName          string                      `json:"real_name"`
	WorkingName       string                      `json:"working_name"`
	Status            string                      `json:"status"`
	StartDate         string                      `json:"start_date"`
	PaymentMethod     string                      `json:"payment_method"`
	Frequency         string                      `json:"frequency"`
	BaseMonthlyAmount string                      `json:"base_monthly_amount"`
	CurrentAmount     string                      `json:"current_amount"`
	Adjustments       []CompensationAdjustmentDTO `json:"adjustments"`
	CreatedAt         string                      `json:"created_at,omitempty"`
}

// SavePayeeRequest creates or replaces a payee.
type SavePayeeRequest struct {
	Code              string `json:"code" validate:"required,max=64"`
	RealName          string `json:"real_name" validate:"max=200"`
	WorkingName       string `json:"working_name" validate:"max=200"`
	Status            string `json:"status" validate:"required,oneof=Active Inactive active inactive"`
	StartDate         string `json:"start_date" validate:"required"`
	PaymentMethod     string `json:"payment_method" validate:"max=100"`
	Frequency         string `json:"frequency" validate:"required,oneof=weekly biweekly monthly Weekly Biweekly Monthly"`
	BaseMonthlyAmount string `json:"base_monthly_amount" validate:"required,numeric"`
}

// CompensationAdjustmentDTO is a dated change of monthly compensation.
type CompensationAdjustmentDTO struct {
	ID            string  `json:"id"`
	EffectiveDate string  `json:"effective_date"`
	Amount        string  `json:"amount"`
	Notes         *string `json:"notes,omitempty"`
}

// CreateAdjustmentRequest adds a compensation change.
type CreateAdjustmentRequest struct {
	EffectiveDate string  `json:"effective_date" validate:"required"`
	Amount        string  `json:"amount" validate:"required,numeric"`
	Notes         *string `json:"notes"`
}

// =============================================================================
// RUNS
// =============================================================================

// RunPayrollRequest asks for a run of (year, month).
type RunPayrollRequest struct {
	Year            int    `json:"year" validate:"required,min=1,max=9999"`
	Month           int    `json:"month" validate:"required,min=1,max=12"`
	Currency        string `json:"currency" validate:"omitempty,len=3,alpha"`
	IncludeInactive bool   `json:"include_inactive"`
}

// RunSummaryDTO aggregates a run.
type RunSummaryDTO struct {
	ModelsPaid      int            `json:"models_paid"`
	TotalPayout     string         `json:"total_payout"`
	FrequencyCounts map[string]int `json:"frequency_counts"`
}

// RunDTO represents a schedule run.
type RunDTO struct {
	ID              string        `json:"id"`
	Year            int           `json:"year"`
	Month           int           `json:"month"`
	Currency        string        `json:"currency"`
	IncludeInactive bool          `json:"include_inactive"`
	Summary         RunSummaryDTO `json:"summary"`
	CreatedAt       string        `json:"created_at"`
	UpdatedAt       string        `json:"updated_at"`
}

// RunResultDTO is returned by POST /api/runs.
type RunResultDTO struct {
	Run         RunDTO                 `json:"run"`
	Created     bool                   `json:"created"`
	Payouts     []PayoutDTO            `json:"payouts"`
	Issues      []ValidationIssueDTO   `json:"issues"`
	Allocations []AdvanceAllocationDTO `json:"allocations"`
}

// RunDetailDTO is a stored run with its lines.
type RunDetailDTO struct {
	Run     RunDTO               `json:"run"`
	Payouts []PayoutDTO          `json:"payouts"`
	Issues  []ValidationIssueDTO `json:"issues"`
}

// PayoutDTO represents one payout line.
type PayoutDTO struct {
	ID               string  `json:"id"`
	RunID            string  `json:"run_id"`
	PayeeID          string  `json:"payee_id,omitempty"`
	PayDate          string  `json:"pay_date"`
	Code             string  `json:"code"`
	RealName         string  `json:"real_name"`
	WorkingName      string  `json:"working_name"`
	PaymentMethod    string  `json:"payment_method"`
	Frequency        string  `json:"frequency"`
	Gross            string  `json:"gross"`
	Amount           string  `json:"amount"`
	RoundingAdjusted bool    `json:"rounding_adjusted"`
	Status           string  `json:"status"`
	Notes            *string `json:"notes,omitempty"`
}

// UpdatePayoutRequest edits status and/or notes. An empty notes string
// clears the notes.
type UpdatePayoutRequest struct {
	Status *string `json:"status" validate:"omitempty,oneof=not_paid on_hold approved paid"`
	Notes  *string `json:"notes" validate:"omitempty,max=2000"`
}

// ValidationIssueDTO is a persisted validation message.
type ValidationIssueDTO struct {
	Row      int    `json:"row"`
	PayeeID  string `json:"payee_id,omitempty"`
	Code     string `json:"code"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// ReconciliationDTO shows how a payout's net was reached.
type ReconciliationDTO struct {
	PayoutID string `json:"payout_id"`
	PayDate  string `json:"pay_date"`
	Code     string `json:"code"`
	Status   string `json:"status"`
	Gross    string `json:"gross"`
	Deducted string `json:"deducted"`
	Net      string `json:"net"`
}

// PaymentSummaryDTO splits a run's total by payment status.
type PaymentSummaryDTO struct {
	PaidTotal    string         `json:"paid_total"`
	UnpaidTotal  string         `json:"unpaid_total"`
	PaidModels   int            `json:"paid_models"`
	TotalPayout  string         `json:"total_payout"`
	StatusCounts map[string]int `json:"status_counts"`
}

// =============================================================================
// ADVANCES
// =============================================================================

// AdvanceDTO represents a cash advance.
type AdvanceDTO struct {
	ID              string  `json:"id"`
	PayeeID         string  `json:"payee_id"`
	AmountTotal     string  `json:"amount_total"`
	AmountRemaining string  `json:"amount_remaining"`
	Status          string  `json:"status"`
	Strategy        string  `json:"strategy"`
	FixedAmount     *string `json:"fixed_amount,omitempty"`
	PercentRate     *string `json:"percent_rate,omitempty"`
	MinNetFloor     string  `json:"min_net_floor"`
	MaxPerRun       string  `json:"max_per_run"`
	CapMultiplier   string  `json:"cap_multiplier"`
	Notes           *string `json:"notes,omitempty"`
	CreatedAt       string  `json:"created_at"`
	ActivatedAt     *string `json:"activated_at,omitempty"`
}

// CreateAdvanceRequest opens an advance.
type CreateAdvanceRequest struct {
	PayeeID     string  `json:"payee_id" validate:"required"`
	Amount      string  `json:"amount" validate:"required,numeric"`
	Strategy    string  `json:"strategy" validate:"required,oneof=fixed percent"`
	FixedAmount *string `json:"fixed_amount" validate:"required_if=Strategy fixed,omitempty,numeric"`
	PercentRate *string `json:"percent_rate" validate:"required_if=Strategy percent,omitempty,numeric"`
	Notes       *string `json:"notes"`
}

// ApproveAdvanceRequest approves an advance. Activate defaults to true.
type ApproveAdvanceRequest struct {
	Activate *bool `json:"activate"`
}

// ManualRepaymentRequest records a repayment made outside payroll.
type ManualRepaymentRequest struct {
	Amount string  `json:"amount" validate:"required,numeric"`
	Notes  *string `json:"notes"`
}

// AdvanceAllocationDTO is a planned deduction.
type AdvanceAllocationDTO struct {
	ID            string `json:"id"`
	PayoutID      string `json:"payout_id"`
	PayeeID       string `json:"payee_id"`
	AdvanceID     string `json:"advance_id"`
	PlannedAmount string `json:"planned_amount"`
}

// AdvanceRepaymentDTO is a realized deduction or manual repayment.
type AdvanceRepaymentDTO struct {
	ID        string  `json:"id"`
	AdvanceID string  `json:"advance_id"`
	PayoutID  string  `json:"payout_id,omitempty"`
	Amount    string  `json:"amount"`
	Source    string  `json:"source"`
	Notes     *string `json:"notes,omitempty"`
	CreatedAt string  `json:"created_at"`
}

// AdvanceDetailDTO is an advance with its history.
type AdvanceDetailDTO struct {
	Advance    AdvanceDTO            `json:"advance"`
	Repayments []AdvanceRepaymentDTO `json:"repayments"`
}

// =============================================================================
// AD-HOC PAYMENTS
// =============================================================================

// AdhocPaymentDTO is a one-off payment.
type AdhocPaymentDTO struct {
	ID          string  `json:"id"`
	PayeeID     string  `json:"payee_id"`
	PayDate     string  `json:"pay_date"`
	Amount      string  `json:"amount"`
	Description *string `json:"description,omitempty"`
	Notes       *string `json:"notes,omitempty"`
	Status      string  `json:"status"`
}

// CreateAdhocPaymentRequest records a one-off payment.
type CreateAdhocPaymentRequest struct {
	PayeeID     string  `json:"payee_id" validate:"required"`
	PayDate     string  `json:"pay_date" validate:"required"`
	Amount      string  `json:"amount" validate:"required,numeric"`
	Description *string `json:"description" validate:"omitempty,max=500"`
	Notes       *string `json:"notes"`
}

// AdhocStatusRequest changes an ad-hoc payment's status.
type AdhocStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending paid cancelled"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo roster.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func money(d decimal.Decimal) string {
	return d.StringFixed(payroll.MoneyPlaces)
}

func moneyPtr(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toPayeeDTO(p payroll.Payee, today time.Time) PayeeDTO {
	schedule := p.Schedule()
	dto := PayeeDTO{
		ID:                p.ID,
		Code:              p.Code,
		RealName:          p.RealName,
		WorkingName:       p.WorkingName,
		Status:            string(p.Status),
		StartDate:         p.StartDate.Format(payroll.DateLayout),
		PaymentMethod:     p.PaymentMethod,
		Frequency:         string(p.Frequency),
		BaseMonthlyAmount: money(p.BaseMonthlyAmount),
		CurrentAmount:     money(schedule.EffectiveAmount(today)),
		Adjustments:       make([]CompensationAdjustmentDTO, 0, len(p.Adjustments)),
		CreatedAt:         timestamp(p.CreatedAt),
	}
	for _, a := range p.Adjustments {
		dto.Adjustments = append(dto.Adjustments, toAdjustmentDTO(a))
	}
	return dto
}

func toAdjustmentDTO(a payroll.CompensationAdjustment) CompensationAdjustmentDTO {
	return CompensationAdjustmentDTO{
		ID:            a.ID,
		EffectiveDate: a.EffectiveDate.Format(payroll.DateLayout),
		Amount:        money(a.Amount),
		Notes:         a.Notes,
	}
}

func toRunDTO(r payroll.ScheduleRun) RunDTO {
	counts := r.Summary.FrequencyCounts
	if counts == nil {
		counts = map[string]int{}
	}
	return RunDTO{
		ID:              r.ID,
		Year:            r.Year,
		Month:           int(r.Month),
		Currency:        r.Currency,
		IncludeInactive: r.IncludeInactive,
		Summary: RunSummaryDTO{
			ModelsPaid:      r.Summary.ModelsPaid,
			TotalPayout:     money(r.Summary.TotalPayout),
			FrequencyCounts: counts,
		},
		CreatedAt: timestamp(r.CreatedAt),
		UpdatedAt: timestamp(r.UpdatedAt),
	}
}

func toPayoutDTO(p payroll.Payout) PayoutDTO {
	return PayoutDTO{
		ID:               p.ID,
		RunID:            p.RunID,
		PayeeID:          p.PayeeID,
		PayDate:          p.PayDate.Format(payroll.DateLayout),
		Code:             p.Code,
		RealName:         p.RealName,
		WorkingName:      p.WorkingName,
		PaymentMethod:    p.PaymentMethod,
		Frequency:        string(p.Frequency),
		Gross:            money(p.Gross),
		Amount:           money(p.Amount),
		RoundingAdjusted: p.RoundingAdjusted,
		Status:           string(p.Status),
		Notes:            p.Notes,
	}
}

func toPayoutDTOs(payouts []payroll.Payout) []PayoutDTO {
	out := make([]PayoutDTO, 0, len(payouts))
	for _, p := range payouts {
		out = append(out, toPayoutDTO(p))
	}
	return out
}

func toIssueDTOs(issues []payroll.ValidationIssue) []ValidationIssueDTO {
	out := make([]ValidationIssueDTO, 0, len(issues))
	for _, i := range issues {
		out = append(out, ValidationIssueDTO{
			Row:      i.Row,
			PayeeID:  i.PayeeID,
			Code:     i.Code,
			Severity: string(i.Severity),
			Message:  i.Message,
		})
	}
	return out
}

func toAllocationDTOs(allocs []payroll.AdvanceAllocation) []AdvanceAllocationDTO {
	out := make([]AdvanceAllocationDTO, 0, len(allocs))
	for _, a := range allocs {
		out = append(out, AdvanceAllocationDTO{
			ID:            a.ID,
			PayoutID:      a.PayoutID,
			PayeeID:       a.PayeeID,
			AdvanceID:     a.AdvanceID,
			PlannedAmount: money(a.PlannedAmount),
		})
	}
	return out
}

func toAdvanceDTO(a payroll.Advance) AdvanceDTO {
	dto := AdvanceDTO{
		ID:              a.ID,
		PayeeID:         a.PayeeID,
		AmountTotal:     money(a.AmountTotal),
		AmountRemaining: money(a.AmountRemaining),
		Status:          string(a.Status),
		Strategy:        string(a.Strategy),
		FixedAmount:     moneyPtr(a.FixedAmount),
		PercentRate:     moneyPtr(a.PercentRate),
		MinNetFloor:     money(a.MinNetFloor),
		MaxPerRun:       money(a.MaxPerRun),
		CapMultiplier:   a.CapMultiplier.String(),
		Notes:           a.Notes,
		CreatedAt:       timestamp(a.CreatedAt),
	}
	if a.ActivatedAt != nil {
		s := timestamp(*a.ActivatedAt)
		dto.ActivatedAt = &s
	}
	return dto
}

func toRepaymentDTO(r payroll.AdvanceRepayment) AdvanceRepaymentDTO {
	return AdvanceRepaymentDTO{
		ID:        r.ID,
		AdvanceID: r.AdvanceID,
		PayoutID:  r.PayoutID,
		Amount:    money(r.Amount),
		Source:    string(r.Source),
		Notes:     r.Notes,
		CreatedAt: timestamp(r.CreatedAt),
	}
}

func toAdhocDTO(p payroll.AdhocPayment) AdhocPaymentDTO {
	return AdhocPaymentDTO{
		ID:          p.ID,
		PayeeID:     p.PayeeID,
		PayDate:     p.PayDate.Format(payroll.DateLayout),
		Amount:      money(p.Amount),
		Description: p.Description,
		Notes:       p.Notes,
		Status:      string(p.Status),
	}
}
