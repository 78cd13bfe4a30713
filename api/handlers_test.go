/*
handlers_test.go - Unit tests for API handlers

Tests for:
- Payee creation and request validation
- Run creation vs refresh status codes
- Marking payouts paid and payment summaries
- Advance lifecycle over HTTP
- Error-to-status mapping (400, 404, 409)
*/
package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payout-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func setupTestHandler(t *testing.T) *Handler {
	t.Helper()
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	h := NewHandler(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.Service.Now = func() time.Time { return time.Date(2025, 10, 15, 9, 0, 0, 0, time.UTC) }
	return h
}

type testServer struct {
	t      *testing.T
	h      *Handler
	router *chi.Mux
}

func newTestServer(t *testing.T) *testServer {
	h := setupTestHandler(t)
	return &testServer{t: t, h: h, router: NewRouter(h, nil)}
}

// do sends a request and decodes a JSON response into out when non-nil.
func (s *testServer) do(method, path string, body any, out any) int {
	s.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if out != nil && rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			s.t.Fatalf("Failed to decode %s %s response %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code
}

func (s *testServer) createPayee(code, freq, amount string) PayeeDTO {
	s.t.Helper()
	var p PayeeDTO
	status := s.do(http.MethodPost, "/api/payees", map[string]any{
		"code":                code,
		"real_name":           "Real " + code,
		"working_name":        "Work " + code,
		"status":              "Active",
		"start_date":          "2025-01-01",
		"payment_method":      "Bank transfer",
		"frequency":           freq,
		"base_monthly_amount": amount,
	}, &p)
	if status != http.StatusCreated {
		s.t.Fatalf("Expected 201 creating payee %s, got %d", code, status)
	}
	return p
}

func (s *testServer) runOctober() (int, RunResultDTO) {
	s.t.Helper()
	var result RunResultDTO
	status := s.do(http.MethodPost, "/api/runs", map[string]any{"year": 2025, "month": 10}, &result)
	return status, result
}

// =============================================================================
// PAYEES
// =============================================================================

func TestCreatePayee_Success(t *testing.T) {
	s := newTestServer(t)

	p := s.createPayee("W-1", "weekly", "1000.10")

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "W-1", p.Code)
	assert.Equal(t, "weekly", p.Frequency)
	assert.Equal(t, "1000.10", p.BaseMonthlyAmount)
	assert.Equal(t, "2025-01-01", p.StartDate)

	var list []PayeeDTO
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/payees", nil, &list))
	assert.Len(t, list, 1)
}

func TestCreatePayee_Validation(t *testing.T) {
	s := newTestServer(t)
	s.createPayee("DUP", "monthly", "100")

	valid := func() map[string]any {
		return map[string]any{
			"code": "X", "status": "Active", "start_date": "2025-01-01",
			"frequency": "weekly", "base_monthly_amount": "100",
		}
	}

	tests := []struct {
		name   string
		mutate func(m map[string]any)
		want   int
	}{
		{"missing code", func(m map[string]any) { delete(m, "code") }, http.StatusBadRequest},
		{"unknown frequency", func(m map[string]any) { m["frequency"] = "daily" }, http.StatusBadRequest},
		{"non-numeric amount", func(m map[string]any) { m["base_monthly_amount"] = "lots" }, http.StatusBadRequest},
		{"zero amount", func(m map[string]any) { m["base_monthly_amount"] = "0" }, http.StatusBadRequest},
		{"bad start date", func(m map[string]any) { m["start_date"] = "soon" }, http.StatusBadRequest},
		{"duplicate code", func(m map[string]any) { m["code"] = "dup" }, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := valid()
			tt.mutate(body)
			var resp ErrorResponse
			status := s.do(http.MethodPost, "/api/payees", body, &resp)
			assert.Equal(t, tt.want, status)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestUpdatePayee_NotFound(t *testing.T) {
	s := newTestServer(t)
	status := s.do(http.MethodPut, "/api/payees/missing", map[string]any{
		"code": "X", "status": "Active", "start_date": "2025-01-01",
		"frequency": "weekly", "base_monthly_amount": "100",
	}, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCreateAdjustment_ChangesRun(t *testing.T) {
	// GIVEN: A weekly payee with a raise from Oct 10
	s := newTestServer(t)
	p := s.createPayee("R-1", "weekly", "1000")
	var adj CompensationAdjustmentDTO
	status := s.do(http.MethodPost, "/api/payees/"+p.ID+"/adjustments", map[string]any{
		"effective_date": "2025-10-10", "amount": "2000",
	}, &adj)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "2000.00", adj.Amount)

	// WHEN: Running October
	_, result := s.runOctober()

	// THEN: The first payout uses the old amount, the rest the new one
	require.Len(t, result.Payouts, 4)
	assert.Equal(t, "250.00", result.Payouts[0].Amount)
	assert.Equal(t, "500.00", result.Payouts[1].Amount)
	assert.Equal(t, "1750.00", result.Run.Summary.TotalPayout)
}

func TestDeleteAdjustment(t *testing.T) {
	// GIVEN: A raise posted twice on the same date
	s := newTestServer(t)
	p := s.createPayee("R-1", "weekly", "1000")
	var first, second CompensationAdjustmentDTO
	body := map[string]any{"effective_date": "2025-10-10", "amount": "2000"}
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/payees/"+p.ID+"/adjustments", body, &first))
	body["amount"] = "3000"
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/payees/"+p.ID+"/adjustments", body, &second))
	assert.Equal(t, first.ID, second.ID)

	// WHEN: Deleting it by the returned ID
	status := s.do(http.MethodDelete, "/api/payees/"+p.ID+"/adjustments/"+second.ID, nil, nil)

	// THEN: It is gone and October pays the base amount
	require.Equal(t, http.StatusNoContent, status)
	var payee PayeeDTO
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/payees/"+p.ID, nil, &payee))
	assert.Empty(t, payee.Adjustments)
	_, result := s.runOctober()
	assert.Equal(t, "1000.00", result.Run.Summary.TotalPayout)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodDelete, "/api/payees/"+p.ID+"/adjustments/"+second.ID, nil, nil))
}

// =============================================================================
// RUNS & PAYOUTS
// =============================================================================

func TestRunPayroll_CreateThenRefresh(t *testing.T) {
	// GIVEN: A weekly payee
	s := newTestServer(t)
	s.createPayee("W-1", "weekly", "1000.10")

	// WHEN: Running October twice
	status, first := s.runOctober()

	// THEN: 201 with four payouts, remainder on the last
	require.Equal(t, http.StatusCreated, status)
	assert.True(t, first.Created)
	require.Len(t, first.Payouts, 4)
	assert.Equal(t, "2025-10-07", first.Payouts[0].PayDate)
	assert.Equal(t, "250.03", first.Payouts[0].Amount)
	assert.Equal(t, "250.01", first.Payouts[3].Amount)
	assert.True(t, first.Payouts[3].RoundingAdjusted)
	assert.Equal(t, "1000.10", first.Run.Summary.TotalPayout)
	assert.Equal(t, "USD", first.Run.Currency)

	status, second := s.runOctober()
	require.Equal(t, http.StatusOK, status)
	assert.False(t, second.Created)
	assert.Equal(t, first.Run.ID, second.Run.ID)

	var runs []RunDTO
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/runs", nil, &runs))
	assert.Len(t, runs, 1)
}

func TestRunPayroll_InvalidPeriod(t *testing.T) {
	s := newTestServer(t)
	for _, body := range []map[string]any{
		{"year": 2025, "month": 13},
		{"year": 2025, "month": 0},
		{"year": 2025, "month": 10, "currency": "dollars"},
	} {
		var resp ErrorResponse
		status := s.do(http.MethodPost, "/api/runs", body, &resp)
		assert.Equal(t, http.StatusBadRequest, status, "body %v", body)
		assert.Equal(t, "Validation failed", resp.Error)
	}
}

func TestMarkPayoutPaid_AndSummary(t *testing.T) {
	s := newTestServer(t)
	s.createPayee("W-1", "weekly", "1000")
	_, result := s.runOctober()
	id := result.Payouts[0].ID

	var paid PayoutDTO
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/payouts/"+id+"/paid", nil, &paid))
	assert.Equal(t, "paid", paid.Status)

	// Second call is a no-op
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/payouts/"+id+"/paid", nil, &paid))

	var sum PaymentSummaryDTO
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/runs/"+result.Run.ID+"/payment-summary", nil, &sum))
	assert.Equal(t, "250.00", sum.PaidTotal)
	assert.Equal(t, "750.00", sum.UnpaidTotal)
	assert.Equal(t, 1, sum.PaidModels)
	assert.Equal(t, 3, sum.StatusCounts["not_paid"])
}

func TestUpdatePayout_StatusAndNotes(t *testing.T) {
	s := newTestServer(t)
	s.createPayee("W-1", "weekly", "1000")
	_, result := s.runOctober()
	id := result.Payouts[1].ID

	var p PayoutDTO
	status := s.do(http.MethodPatch, "/api/payouts/"+id, map[string]any{"status": "on_hold", "notes": "bank details pending"}, &p)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "on_hold", p.Status)
	require.NotNil(t, p.Notes)

	// The edit survives a refresh
	_, refreshed := s.runOctober()
	assert.Equal(t, "on_hold", refreshed.Payouts[1].Status)
	require.NotNil(t, refreshed.Payouts[1].Notes)
	assert.Equal(t, "bank details pending", *refreshed.Payouts[1].Notes)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPatch, "/api/payouts/"+id, map[string]any{"status": "done"}, nil))
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPatch, "/api/payouts/missing", map[string]any{"notes": "x"}, nil))
}

func TestGetRun_DetailAndReconciliation(t *testing.T) {
	s := newTestServer(t)
	s.createPayee("M-1", "monthly", "3000")
	_, result := s.runOctober()

	var detail RunDetailDTO
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/runs/"+result.Run.ID, nil, &detail))
	require.Len(t, detail.Payouts, 1)
	assert.Equal(t, "2025-10-31", detail.Payouts[0].PayDate)

	var lines []ReconciliationDTO
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/runs/"+result.Run.ID+"/reconciliation", nil, &lines))
	require.Len(t, lines, 1)
	assert.Equal(t, "3000.00", lines[0].Gross)
	assert.Equal(t, "0.00", lines[0].Deducted)

	require.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, "/api/runs/"+result.Run.ID, nil, nil))
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/runs/"+result.Run.ID, nil, nil))
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/runs/"+result.Run.ID+"/reconciliation", nil, nil))
}

// =============================================================================
// ADVANCES
// =============================================================================

func TestAdvanceLifecycle(t *testing.T) {
	// GIVEN: A monthly payee with a requested fixed advance
	s := newTestServer(t)
	p := s.createPayee("A-1", "monthly", "500")

	var adv AdvanceDTO
	status := s.do(http.MethodPost, "/api/advances", map[string]any{
		"payee_id": p.ID, "amount": "300", "strategy": "fixed", "fixed_amount": "200",
	}, &adv)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "requested", adv.Status)
	assert.Equal(t, "300.00", adv.AmountRemaining)

	// Requested advances are not deducted
	_, result := s.runOctober()
	assert.Empty(t, result.Allocations)

	// WHEN: Approving with no body and re-running
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/advances/"+adv.ID+"/approve", nil, &adv))
	assert.Equal(t, "active", adv.Status)

	_, result = s.runOctober()

	// THEN: The payout is netted and the plan shows the deduction
	require.Len(t, result.Allocations, 1)
	assert.Equal(t, "200.00", result.Allocations[0].PlannedAmount)
	assert.Equal(t, "300.00", result.Payouts[0].Amount)
	assert.Equal(t, "500.00", result.Payouts[0].Gross)

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/payouts/"+result.Payouts[0].ID+"/paid", nil, nil))

	var detail AdvanceDetailDTO
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/advances/"+adv.ID, nil, &detail))
	assert.Equal(t, "100.00", detail.Advance.AmountRemaining)
	require.Len(t, detail.Repayments, 1)
	assert.Equal(t, "auto", detail.Repayments[0].Source)

	var owed map[string]any
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/payees/"+p.ID+"/advances", nil, &owed))
	assert.Equal(t, "100.00", owed["outstanding"])

	// Manual repayment above the balance is rejected
	var errResp ErrorResponse
	status = s.do(http.MethodPost, "/api/advances/"+adv.ID+"/repayments", map[string]any{"amount": "150"}, &errResp)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, errResp.Details, "exceeds remaining balance")

	var rp AdvanceRepaymentDTO
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/advances/"+adv.ID+"/repayments", map[string]any{"amount": "100"}, &rp))
	assert.Equal(t, "manual", rp.Source)

	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/advances/"+adv.ID, nil, &detail))
	assert.Equal(t, "closed", detail.Advance.Status)

	// Advances with history cannot be deleted
	assert.Equal(t, http.StatusConflict, s.do(http.MethodDelete, "/api/advances/"+adv.ID, nil, nil))
}

func TestCreateAdvance_Validation(t *testing.T) {
	s := newTestServer(t)
	p := s.createPayee("A-1", "monthly", "500")

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"fixed without amount", map[string]any{"payee_id": p.ID, "amount": "100", "strategy": "fixed"}, http.StatusBadRequest},
		{"percent without rate", map[string]any{"payee_id": p.ID, "amount": "100", "strategy": "percent"}, http.StatusBadRequest},
		{"unknown strategy", map[string]any{"payee_id": p.ID, "amount": "100", "strategy": "lump"}, http.StatusBadRequest},
		{"unknown payee", map[string]any{"payee_id": "ghost", "amount": "100", "strategy": "fixed", "fixed_amount": "10"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.do(http.MethodPost, "/api/advances", tt.body, nil))
		})
	}
}

// =============================================================================
// AD-HOC PAYMENTS
// =============================================================================

func TestAdhocPayments(t *testing.T) {
	s := newTestServer(t)
	p := s.createPayee("H-1", "monthly", "500")

	var pay AdhocPaymentDTO
	status := s.do(http.MethodPost, "/api/adhoc-payments", map[string]any{
		"payee_id": p.ID, "pay_date": "2025-10-20", "amount": "75.5", "description": "travel",
	}, &pay)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "75.50", pay.Amount)
	assert.Equal(t, "pending", pay.Status)

	var list []AdhocPaymentDTO
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/adhoc-payments?year=2025&month=10", nil, &list))
	assert.Len(t, list, 1)
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/adhoc-payments?year=2025&month=11", nil, &list))
	assert.Empty(t, list)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/adhoc-payments?year=x&month=10", nil, nil))

	require.Equal(t, http.StatusOK, s.do(http.MethodPut, "/api/adhoc-payments/"+pay.ID+"/status", map[string]any{"status": "paid"}, &pay))
	assert.Equal(t, "paid", pay.Status)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPut, "/api/adhoc-payments/"+pay.ID+"/status", map[string]any{"status": "refunded"}, nil))

	assert.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, "/api/adhoc-payments/"+pay.ID, nil, nil))
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodDelete, "/api/adhoc-payments/"+pay.ID, nil, nil))
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestNotFoundMapping(t *testing.T) {
	s := newTestServer(t)

	cases := []struct {
		method, path string
		body         any
	}{
		{http.MethodGet, "/api/payees/missing", nil},
		{http.MethodDelete, "/api/payees/missing", nil},
		{http.MethodGet, "/api/runs/missing", nil},
		{http.MethodGet, "/api/runs/missing/payment-summary", nil},
		{http.MethodDelete, "/api/runs/missing", nil},
		{http.MethodPost, "/api/payouts/missing/paid", nil},
		{http.MethodGet, "/api/advances/missing", nil},
		{http.MethodPost, "/api/advances/missing/approve", nil},
		{http.MethodPost, "/api/advances/missing/repayments", map[string]any{"amount": "10"}},
		{http.MethodPost, "/api/payees/missing/adjustments", map[string]any{"effective_date": "2025-10-01", "amount": "10"}},
		{http.MethodDelete, "/api/payees/missing/adjustments/missing", nil},
	}
	for _, c := range cases {
		t.Run(c.method+" "+c.path, func(t *testing.T) {
			var resp ErrorResponse
			status := s.do(c.method, c.path, c.body, &resp)
			if status != http.StatusNotFound {
				t.Errorf("Expected 404, got %d (%+v)", status, resp)
			}
		})
	}
}

func TestInvalidJSONBody(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/runs", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Invalid request body", resp.Error)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	var body map[string]string
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/healthz", nil, &body))
	assert.Equal(t, "ok", body["status"])
}
