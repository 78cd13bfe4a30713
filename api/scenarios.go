/*
scenarios.go - Demo rosters for testing and demonstrations

PURPOSE:
  Provides pre-built rosters that populate the database with realistic data
  and run payroll for the current month, so every feature can be seen
  without typing in payees by hand.

AVAILABLE SCENARIOS:
  basic-roster:         One payee per frequency plus an inactive one
  mid-month-starts:     Start dates gating some or all pay dates
  compensation-change:  A raise effective mid-month
  cash-advances:        Fixed and percent advances repaid FIFO
  rounding:             An amount that does not split evenly

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create payees through the service (same validation as the API)
 3. Add adjustments and advances where the scenario needs them
 4. Run payroll for the month containing the service clock's today

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "cash-advances"}

NOTE:
  Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler
  - payroll/service.go: RunPayroll
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payout-engine/payroll"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "basic-roster",
		Name:        "Basic Roster",
		Description: "Weekly, biweekly and monthly payees plus one inactive payee",
		Category:    "schedule",
	},
	{
		ID:          "mid-month-starts",
		Name:        "Mid-Month Starts",
		Description: "Payees starting mid-month and after the last pay date",
		Category:    "schedule",
	},
	{
		ID:          "compensation-change",
		Name:        "Compensation Change",
		Description: "Raise effective on the 10th applies from the 14th onwards",
		Category:    "schedule",
	},
	{
		ID:          "cash-advances",
		Name:        "Cash Advances",
		Description: "Fixed and percent advances deducted oldest first",
		Category:    "advances",
	},
	{
		ID:          "rounding",
		Name:        "Rounding",
		Description: "Weekly 1000.10 split with the remainder on the last pay date",
		Category:    "schedule",
	},
}

type scenarioLoader func(ctx context.Context, h *Handler, month time.Time) error

var scenarioLoaders = map[string]scenarioLoader{
	"basic-roster":        loadBasicRoster,
	"mid-month-starts":    loadMidMonthStarts,
	"compensation-change": loadCompensationChange,
	"cash-advances":       loadCashAdvances,
	"rounding":            loadRounding,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the database and loads a predefined roster.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	today := time.Now().UTC()
	if h.Service.Now != nil {
		today = h.Service.Now().UTC()
	}
	month := payroll.NewDate(today.Year(), today.Month(), 1)

	if err := load(ctx, h, month); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}
	result, err := h.Service.RunPayroll(ctx, payroll.RunRequest{Year: month.Year(), Month: month.Month()})
	if err != nil {
		writeServiceError(w, "Failed to run payroll for scenario", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()
	h.Logger.Info("scenario loaded", "scenario", req.ScenarioID, "run_id", result.Run.ID)

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"scenario": req.ScenarioID,
		"run":      toRunDTO(result.Run),
	})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// LOADERS
// =============================================================================

type demoPayee struct {
	code      string
	name      string
	freq      payroll.Frequency
	amount    string
	start     time.Time
	status    payroll.PayeeStatus
	noPayment bool
}

func (h *Handler) addPayees(ctx context.Context, payees []demoPayee) (map[string]*payroll.Payee, error) {
	out := make(map[string]*payroll.Payee, len(payees))
	for _, d := range payees {
		status := d.status
		if status == "" {
			status = payroll.PayeeActive
		}
		method := "Bank transfer"
		if d.noPayment {
			method = ""
		}
		p, err := h.Service.SavePayee(ctx, payroll.Payee{
			Code:              d.code,
			RealName:          d.name,
			WorkingName:       d.name,
			Status:            status,
			StartDate:         d.start,
			PaymentMethod:     method,
			Frequency:         d.freq,
			BaseMonthlyAmount: decimal.RequireFromString(d.amount),
		})
		if err != nil {
			return nil, fmt.Errorf("payee %s: %w", d.code, err)
		}
		out[d.code] = p
	}
	return out, nil
}

func loadBasicRoster(ctx context.Context, h *Handler, month time.Time) error {
	longAgo := month.AddDate(-1, 0, 0)
	_, err := h.addPayees(ctx, []demoPayee{
		{code: "W-001", name: "Avery Weekly", freq: payroll.FrequencyWeekly, amount: "2000.00", start: longAgo},
		{code: "B-001", name: "Blake Biweekly", freq: payroll.FrequencyBiweekly, amount: "3000.00", start: longAgo},
		{code: "M-001", name: "Casey Monthly", freq: payroll.FrequencyMonthly, amount: "4500.00", start: longAgo, noPayment: true},
		{code: "I-001", name: "Dana Inactive", freq: payroll.FrequencyWeekly, amount: "1500.00", start: longAgo, status: payroll.PayeeInactive},
	})
	return err
}

func loadMidMonthStarts(ctx context.Context, h *Handler, month time.Time) error {
	_, err := h.addPayees(ctx, []demoPayee{
		{code: "S-010", name: "Eli Starts Tenth", freq: payroll.FrequencyWeekly, amount: "2000.00", start: month.AddDate(0, 0, 9)},
		{code: "S-015", name: "Fran Starts Fifteenth", freq: payroll.FrequencyBiweekly, amount: "2400.00", start: month.AddDate(0, 0, 14)},
		{code: "S-NXT", name: "Gale Starts Next Month", freq: payroll.FrequencyMonthly, amount: "3000.00", start: month.AddDate(0, 1, 0)},
	})
	return err
}

func loadCompensationChange(ctx context.Context, h *Handler, month time.Time) error {
	payees, err := h.addPayees(ctx, []demoPayee{
		{code: "R-001", name: "Harper Raise", freq: payroll.FrequencyWeekly, amount: "1000.00", start: month.AddDate(-6, 0, 0)},
	})
	if err != nil {
		return err
	}
	notes := "Annual review"
	_, err = h.Service.AddCompensationAdjustment(ctx, payees["R-001"].ID, month.AddDate(0, 0, 9), decimal.NewFromInt(2000), &notes)
	return err
}

func loadCashAdvances(ctx context.Context, h *Handler, month time.Time) error {
	payees, err := h.addPayees(ctx, []demoPayee{
		{code: "A-001", name: "Indy Advances", freq: payroll.FrequencyWeekly, amount: "2000.00", start: month.AddDate(-3, 0, 0)},
		{code: "A-002", name: "Jules Percent", freq: payroll.FrequencyMonthly, amount: "4000.00", start: month.AddDate(-3, 0, 0)},
	})
	if err != nil {
		return err
	}

	fixed := decimal.NewFromInt(300)
	percent := decimal.NewFromInt(25)
	requests := []payroll.NewAdvance{
		{PayeeID: payees["A-001"].ID, Amount: decimal.NewFromInt(700), Strategy: payroll.StrategyFixed, FixedAmount: &fixed},
		{PayeeID: payees["A-001"].ID, Amount: decimal.NewFromInt(200), Strategy: payroll.StrategyPercent, PercentRate: &percent},
		{PayeeID: payees["A-002"].ID, Amount: decimal.NewFromInt(1500), Strategy: payroll.StrategyPercent, PercentRate: &percent},
	}
	for _, in := range requests {
		adv, err := h.Service.CreateAdvance(ctx, in)
		if err != nil {
			return err
		}
		if _, err := h.Service.ApproveAdvance(ctx, adv.ID, true); err != nil {
			return err
		}
	}
	return nil
}

func loadRounding(ctx context.Context, h *Handler, month time.Time) error {
	_, err := h.addPayees(ctx, []demoPayee{
		{code: "X-001", name: "Kai Rounding", freq: payroll.FrequencyWeekly, amount: "1000.10", start: month.AddDate(-1, 0, 0)},
		{code: "X-002", name: "Lee Rounding", freq: payroll.FrequencyBiweekly, amount: "999.99", start: month.AddDate(-1, 0, 0)},
	})
	return err
}
