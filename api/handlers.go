/*
handlers.go - HTTP API handlers for the payout engine

PURPOSE:
  Exposes the payroll service via REST API. Handles HTTP request/response,
  JSON serialization and input validation, and delegates to payroll.Service.

ENDPOINTS:
  Payees:
    GET    /api/payees                     List payees
    POST   /api/payees                     Create payee
    GET    /api/payees/{id}                Get payee
    PUT    /api/payees/{id}                Replace payee
    DELETE /api/payees/{id}                Delete payee
    POST   /api/payees/{id}/adjustments    Add compensation change
    DELETE /api/payees/{id}/adjustments/{adjID}  Remove compensation change
    GET    /api/payees/{id}/advances       Advances with outstanding total

  Runs:
    GET    /api/runs                       List runs
    POST   /api/runs                       Run (or refresh) payroll for a month
    GET    /api/runs/{id}                  Run with payouts and issues
    DELETE /api/runs/{id}                  Delete run
    GET    /api/runs/{id}/reconciliation   Gross/deducted/net per payout
    GET    /api/runs/{id}/payment-summary  Paid vs unpaid totals

  Payouts:
    PATCH  /api/payouts/{id}               Edit status/notes
    POST   /api/payouts/{id}/paid          Mark paid (realizes deductions)

  Advances:
    GET    /api/advances                   List (?payee_id=&status=)
    POST   /api/advances                   Request advance
    GET    /api/advances/{id}              Advance with repayments
    POST   /api/advances/{id}/approve      Approve/activate
    POST   /api/advances/{id}/repayments   Manual repayment
    DELETE /api/advances/{id}              Delete (no repayment history)

  Ad-hoc payments:
    GET    /api/adhoc-payments             List (?year=&month=)
    POST   /api/adhoc-payments             Create
    PUT    /api/adhoc-payments/{id}/status Change status
    DELETE /api/adhoc-payments/{id}        Delete

ERROR HANDLING:
  Service errors map to status codes in writeServiceError:
  - 400: Invalid input (payroll.IsClientError)
  - 404: Resource not found (payroll.IsNotFound)
  - 409: Conflict (payroll.IsConflict)
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo rosters
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/warp/payout-engine/payroll"
	"github.com/warp/payout-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *payroll.Service
	Store   *sqlite.Store
	Logger  *slog.Logger

	validate *validator.Validate

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over a SQLite-backed service.
func NewHandler(store *sqlite.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Service:  payroll.NewService(store, logger),
		Store:    store,
		Logger:   logger,
		validate: validator.New(),
	}
}

// =============================================================================
// PAYEE HANDLERS
// =============================================================================

// ListPayees returns the roster.
func (h *Handler) ListPayees(w http.ResponseWriter, r *http.Request) {
	payees, err := h.Service.Store.ListPayees(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list payees", err)
		return
	}
	today := time.Now().UTC()
	dtos := make([]PayeeDTO, len(payees))
	for i, p := range payees {
		dtos[i] = toPayeeDTO(p, today)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPayee returns a single payee.
func (h *Handler) GetPayee(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.Store.GetPayee(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get payee", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Payee not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toPayeeDTO(*p, time.Now().UTC()))
}

// CreatePayee adds a payee to the roster.
func (h *Handler) CreatePayee(w http.ResponseWriter, r *http.Request) {
	h.savePayee(w, r, "", http.StatusCreated)
}

// UpdatePayee replaces a payee's fields.
func (h *Handler) UpdatePayee(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	existing, err := h.Service.Store.GetPayee(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get payee", err)
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "Payee not found", nil)
		return
	}
	h.savePayee(w, r, id, http.StatusOK)
}

func (h *Handler) savePayee(w http.ResponseWriter, r *http.Request, id string, status int) {
	var req SavePayeeRequest
	if !h.decode(w, r, &req) {
		return
	}
	start, err := payroll.ParseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date (use YYYY-MM-DD)", err)
		return
	}
	amount, err := payroll.ParseMoney(req.BaseMonthlyAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid base_monthly_amount", err)
		return
	}

	p, err := h.Service.SavePayee(r.Context(), payroll.Payee{
		ID:                id,
		Code:              req.Code,
		RealName:          req.RealName,
		WorkingName:       req.WorkingName,
		Status:            payroll.PayeeStatus(req.Status),
		StartDate:         start,
		PaymentMethod:     req.PaymentMethod,
		Frequency:         payroll.Frequency(req.Frequency),
		BaseMonthlyAmount: amount,
	})
	if err != nil {
		writeServiceError(w, "Failed to save payee", err)
		return
	}
	// Reload so adjustments are included.
	saved, err := h.Service.Store.GetPayee(r.Context(), p.ID)
	if err != nil || saved == nil {
		saved = p
	}
	writeJSON(w, status, toPayeeDTO(*saved, time.Now().UTC()))
}

// DeletePayee removes a payee. Existing payouts keep their codes and names.
func (h *Handler) DeletePayee(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeletePayee(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, "Failed to delete payee", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateAdjustment records a dated compensation change.
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req CreateAdjustmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	effective, err := payroll.ParseDate(req.EffectiveDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid effective_date (use YYYY-MM-DD)", err)
		return
	}
	amount, err := payroll.ParseMoney(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	adj, err := h.Service.AddCompensationAdjustment(r.Context(), chi.URLParam(r, "id"), effective, amount, req.Notes)
	if err != nil {
		writeServiceError(w, "Failed to add adjustment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAdjustmentDTO(*adj))
}

// DeleteAdjustment removes a compensation change from a payee.
func (h *Handler) DeleteAdjustment(w http.ResponseWriter, r *http.Request) {
	err := h.Service.DeleteCompensationAdjustment(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "adjID"))
	if err != nil {
		writeServiceError(w, "Failed to delete adjustment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListPayeeAdvances returns a payee's advances and what is still owed.
func (h *Handler) ListPayeeAdvances(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	advances, err := h.Service.Store.ListAdvances(r.Context(), id, "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list advances", err)
		return
	}
	dtos := make([]AdvanceDTO, len(advances))
	for i, a := range advances {
		dtos[i] = toAdvanceDTO(a)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"advances":    dtos,
		"outstanding": money(payroll.OutstandingTotal(advances)),
	})
}

// =============================================================================
// RUN HANDLERS
// =============================================================================

// ListRuns returns all runs, newest period first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Service.Store.ListRuns(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}
	dtos := make([]RunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RunPayroll computes or refreshes the run for a month.
// Returns 201 when the run was created, 200 when refreshed.
func (h *Handler) RunPayroll(w http.ResponseWriter, r *http.Request) {
	var req RunPayrollRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.Service.RunPayroll(r.Context(), payroll.RunRequest{
		Year:            req.Year,
		Month:           time.Month(req.Month),
		Currency:        req.Currency,
		IncludeInactive: req.IncludeInactive,
	})
	if err != nil {
		writeServiceError(w, "Failed to run payroll", err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, RunResultDTO{
		Run:         toRunDTO(result.Run),
		Created:     result.Created,
		Payouts:     toPayoutDTOs(result.Payouts),
		Issues:      toIssueDTOs(result.Issues),
		Allocations: toAllocationDTOs(result.Allocations),
	})
}

// GetRun returns a run with its payouts and validation issues.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	run, err := h.Service.Store.GetRun(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get run", err)
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "Run not found", nil)
		return
	}
	payouts, err := h.Service.Store.ListPayouts(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list payouts", err)
		return
	}
	issues, err := h.Service.Store.ListIssues(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list issues", err)
		return
	}

	writeJSON(w, http.StatusOK, RunDetailDTO{
		Run:     toRunDTO(*run),
		Payouts: toPayoutDTOs(payouts),
		Issues:  toIssueDTOs(issues),
	})
}

// DeleteRun removes a run and everything computed for it.
func (h *Handler) DeleteRun(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteRun(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, "Failed to delete run", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetReconciliation lists gross, deducted and net per payout.
func (h *Handler) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	lines, err := h.Service.Reconciliation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, "Failed to reconcile run", err)
		return
	}
	dtos := make([]ReconciliationDTO, len(lines))
	for i, l := range lines {
		dtos[i] = ReconciliationDTO{
			PayoutID: l.Payout.ID,
			PayDate:  l.Payout.PayDate.Format(payroll.DateLayout),
			Code:     l.Payout.Code,
			Status:   string(l.Payout.Status),
			Gross:    money(l.Gross),
			Deducted: money(l.Deducted),
			Net:      money(l.Net),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPaymentSummary reports paid vs unpaid totals for a run.
func (h *Handler) GetPaymentSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	run, err := h.Service.Store.GetRun(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get run", err)
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "Run not found", nil)
		return
	}

	sum, err := h.Service.RunPaymentSummary(ctx, id)
	if err != nil {
		writeServiceError(w, "Failed to summarize payments", err)
		return
	}
	counts := make(map[string]int, len(sum.StatusCounts))
	for st, n := range sum.StatusCounts {
		counts[string(st)] = n
	}
	writeJSON(w, http.StatusOK, PaymentSummaryDTO{
		PaidTotal:    money(sum.PaidTotal),
		UnpaidTotal:  money(sum.UnpaidTotal),
		PaidModels:   sum.PaidModels,
		TotalPayout:  money(sum.TotalPayout),
		StatusCounts: counts,
	})
}

// =============================================================================
// PAYOUT HANDLERS
// =============================================================================

// UpdatePayout edits a payout's status and/or notes.
func (h *Handler) UpdatePayout(w http.ResponseWriter, r *http.Request) {
	var req UpdatePayoutRequest
	if !h.decode(w, r, &req) {
		return
	}
	update := payroll.PayoutUpdate{Notes: req.Notes}
	if req.Status != nil {
		st, err := payroll.ParsePayoutStatus(*req.Status)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid status", err)
			return
		}
		update.Status = st
	}

	p, err := h.Service.UpdatePayout(r.Context(), chi.URLParam(r, "id"), update)
	if err != nil {
		writeServiceError(w, "Failed to update payout", err)
		return
	}
	writeJSON(w, http.StatusOK, toPayoutDTO(*p))
}

// MarkPayoutPaid marks a payout paid. Repeating the call changes nothing.
func (h *Handler) MarkPayoutPaid(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.MarkPayoutPaid(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, "Failed to mark payout paid", err)
		return
	}
	writeJSON(w, http.StatusOK, toPayoutDTO(*p))
}

// =============================================================================
// ADVANCE HANDLERS
// =============================================================================

// ListAdvances filters advances by payee and status.
func (h *Handler) ListAdvances(w http.ResponseWriter, r *http.Request) {
	var status payroll.AdvanceStatus
	if s := r.URL.Query().Get("status"); s != "" {
		parsed, err := payroll.ParseAdvanceStatus(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid status", err)
			return
		}
		status = parsed
	}
	advances, err := h.Service.Store.ListAdvances(r.Context(), r.URL.Query().Get("payee_id"), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list advances", err)
		return
	}
	dtos := make([]AdvanceDTO, len(advances))
	for i, a := range advances {
		dtos[i] = toAdvanceDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateAdvance requests a new advance.
func (h *Handler) CreateAdvance(w http.ResponseWriter, r *http.Request) {
	var req CreateAdvanceRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := payroll.ParseMoney(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	in := payroll.NewAdvance{
		PayeeID:  req.PayeeID,
		Amount:   amount,
		Strategy: payroll.Strategy(req.Strategy),
		Notes:    req.Notes,
	}
	if in.FixedAmount, err = optionalDecimal(req.FixedAmount); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid fixed_amount", err)
		return
	}
	if in.PercentRate, err = optionalDecimal(req.PercentRate); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid percent_rate", err)
		return
	}

	adv, err := h.Service.CreateAdvance(r.Context(), in)
	if err != nil {
		writeServiceError(w, "Failed to create advance", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAdvanceDTO(*adv))
}

// GetAdvance returns an advance with its repayment history.
func (h *Handler) GetAdvance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	adv, err := h.Service.Store.GetAdvance(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get advance", err)
		return
	}
	if adv == nil {
		writeError(w, http.StatusNotFound, "Advance not found", nil)
		return
	}
	repayments, err := h.Service.Store.ListRepayments(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list repayments", err)
		return
	}
	dtos := make([]AdvanceRepaymentDTO, len(repayments))
	for i, rp := range repayments {
		dtos[i] = toRepaymentDTO(rp)
	}
	writeJSON(w, http.StatusOK, AdvanceDetailDTO{Advance: toAdvanceDTO(*adv), Repayments: dtos})
}

// ApproveAdvance approves and, unless activate is false, activates.
func (h *Handler) ApproveAdvance(w http.ResponseWriter, r *http.Request) {
	var req ApproveAdvanceRequest
	if r.ContentLength != 0 {
		if !h.decode(w, r, &req) {
			return
		}
	}
	activate := req.Activate == nil || *req.Activate

	adv, err := h.Service.ApproveAdvance(r.Context(), chi.URLParam(r, "id"), activate)
	if err != nil {
		writeServiceError(w, "Failed to approve advance", err)
		return
	}
	writeJSON(w, http.StatusOK, toAdvanceDTO(*adv))
}

// RecordRepayment records a manual repayment against an advance.
func (h *Handler) RecordRepayment(w http.ResponseWriter, r *http.Request) {
	var req ManualRepaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := payroll.ParseMoney(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	rp, err := h.Service.RecordManualRepayment(r.Context(), chi.URLParam(r, "id"), amount, req.Notes)
	if err != nil {
		writeServiceError(w, "Failed to record repayment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRepaymentDTO(*rp))
}

// DeleteAdvance removes an advance that has never been repaid.
func (h *Handler) DeleteAdvance(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteAdvance(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, "Failed to delete advance", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// AD-HOC PAYMENT HANDLERS
// =============================================================================

// ListAdhocPayments returns one-off payments for ?year=&month=, or all of
// them when the period is omitted.
func (h *Handler) ListAdhocPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	var payments []payroll.AdhocPayment
	var err error
	if q.Get("year") != "" || q.Get("month") != "" {
		year, yErr := strconv.Atoi(q.Get("year"))
		month, mErr := strconv.Atoi(q.Get("month"))
		if yErr != nil || mErr != nil {
			writeError(w, http.StatusBadRequest, "year and month must be integers", errors.Join(yErr, mErr))
			return
		}
		payments, err = h.Service.ListAdhocPaymentsForMonth(ctx, year, time.Month(month))
	} else {
		payments, err = h.Service.Store.ListAdhocPayments(ctx, q.Get("payee_id"), time.Time{}, time.Time{})
	}
	if err != nil {
		writeServiceError(w, "Failed to list ad-hoc payments", err)
		return
	}

	dtos := make([]AdhocPaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = toAdhocDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateAdhocPayment records a pending one-off payment.
func (h *Handler) CreateAdhocPayment(w http.ResponseWriter, r *http.Request) {
	var req CreateAdhocPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	payDate, err := payroll.ParseDate(req.PayDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid pay_date (use YYYY-MM-DD)", err)
		return
	}
	amount, err := payroll.ParseMoney(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	p, err := h.Service.CreateAdhocPayment(r.Context(), payroll.NewAdhocPayment{
		PayeeID:     req.PayeeID,
		PayDate:     payDate,
		Amount:      amount,
		Description: req.Description,
		Notes:       req.Notes,
	})
	if err != nil {
		writeServiceError(w, "Failed to create ad-hoc payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAdhocDTO(*p))
}

// SetAdhocPaymentStatus moves a payment to pending, paid or cancelled.
func (h *Handler) SetAdhocPaymentStatus(w http.ResponseWriter, r *http.Request) {
	var req AdhocStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.Service.SetAdhocPaymentStatus(r.Context(), chi.URLParam(r, "id"), payroll.AdhocStatus(req.Status))
	if err != nil {
		writeServiceError(w, "Failed to update ad-hoc payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toAdhocDTO(*p))
}

// DeleteAdhocPayment removes a one-off payment.
func (h *Handler) DeleteAdhocPayment(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteAdhocPayment(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, "Failed to delete ad-hoc payment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads and validates a JSON body, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

func optionalDecimal(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError picks the status code from the payroll error kind.
func writeServiceError(w http.ResponseWriter, message string, err error) {
	switch {
	case payroll.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case payroll.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case payroll.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
