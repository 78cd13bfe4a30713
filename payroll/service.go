/*
service.go - Orchestrates payroll runs over a transactional store

PURPOSE:
  Service is the entry point for every trigger that mutates payroll state:
  RunPayroll, MarkPayoutPaid/UpdatePayout, RecordManualRepayment, plus the
  roster, advance and ad-hoc operations around them. Each trigger runs in
  exactly one store transaction.

RUN FLOW (RunPayroll):
  1. Validate (year, month) before touching storage.
  2. Lock the period, open a transaction.
  3. Existing run: snapshot (code, pay date) -> {status, notes}, then clear
     its allocations, payouts and issues. Missing run: create it.
  4. Build and validate one row per payee, then schedule candidates.
  5. Carry snapshot status/notes onto matching candidates.
  6. Net advances (see advance.go), insert payouts and allocations.
  7. Persist the validation report, recompute the summary.

SETTLED PAYOUTS:
  A payout that already has realized repayments keeps them: its net is
  gross minus those repayments and it is left out of the FIFO plan. Payout
  IDs are derived from (run, code, pay date) so the link survives refreshes.

CONCURRENCY:
  Runs for the same period are serialized by an in-process lock on top of
  the store transaction. Different periods may run in parallel.

SEE ALSO:
  - schedule.go, advance.go: Pure computation
  - payouts.go: Status changes and realization
  - store.go: Persistence contract
*/
package payroll

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultCurrency labels runs requested without a currency.
const DefaultCurrency = "USD"

// payoutNamespace seeds deterministic payout IDs.
var payoutNamespace = uuid.MustParse("8f0c5b52-3d8e-4a43-9c41-2f7f0d1e6a90")

// Service coordinates payroll operations using store state.
type Service struct {
	Store           TxStore
	Logger          *slog.Logger
	Distributor     AdvanceDistributor
	DefaultCurrency string

	// Now is the clock used for "today". Tests pin it.
	Now func() time.Time

	locks periodLocks
}

// NewService creates a service with the system clock.
func NewService(store TxStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Store:           store,
		Logger:          logger,
		DefaultCurrency: DefaultCurrency,
		Now:             time.Now,
	}
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// PayoutID is the stable ID of the payout for a payee on a pay date.
func PayoutID(runID, code string, payDate time.Time) string {
	name := runID + "|" + strings.ToLower(code) + "|" + payDate.Format(DateLayout)
	return uuid.NewSHA1(payoutNamespace, []byte(name)).String()
}

// =============================================================================
// PERIOD LOCKS
// =============================================================================

type periodLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *periodLocks) lock(year int, month time.Month) func() {
	key := fmt.Sprintf("%04d-%02d", year, int(month))
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// =============================================================================
// RUN PAYROLL
// =============================================================================

// RunRequest identifies the period to compute.
type RunRequest struct {
	Year            int
	Month           time.Month
	Currency        string
	IncludeInactive bool
}

// RunResult is what a run produced.
type RunResult struct {
	Run         ScheduleRun
	Created     bool // false when an existing run was refreshed
	Payouts     []Payout
	Issues      []ValidationIssue
	Allocations []AdvanceAllocation
}

type carried struct {
	status PayoutStatus
	notes  *string
}

func snapshotKey(code string, payDate time.Time) string {
	return strings.ToLower(code) + "|" + payDate.Format(DateLayout)
}

// RunPayroll creates or refreshes the run for the requested month.
func (s *Service) RunPayroll(ctx context.Context, req RunRequest) (*RunResult, error) {
	if err := ValidatePeriod(req.Year, req.Month); err != nil {
		return nil, err
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.DefaultCurrency
	}
	if currency == "" {
		currency = DefaultCurrency
	}

	unlock := s.locks.lock(req.Year, req.Month)
	defer unlock()

	now := s.now()
	var result *RunResult
	err := s.Store.WithTx(ctx, func(tx Store) error {
		r, err := s.runInTx(ctx, tx, req, currency, now)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("run payroll %04d-%02d: %w", req.Year, int(req.Month), err)
	}

	s.Logger.Info("payroll run complete",
		"run_id", result.Run.ID,
		"period", fmt.Sprintf("%04d-%02d", req.Year, int(req.Month)),
		"created", result.Created,
		"payouts", len(result.Payouts),
		"issues", len(result.Issues),
		"allocations", len(result.Allocations),
		"total", result.Run.Summary.TotalPayout.StringFixed(MoneyPlaces),
	)
	return result, nil
}

func (s *Service) runInTx(ctx context.Context, tx Store, req RunRequest, currency string, now time.Time) (*RunResult, error) {
	run, err := tx.FindRun(ctx, req.Year, req.Month)
	if err != nil {
		return nil, fmt.Errorf("find run: %w", err)
	}

	snapshot := make(map[string]carried)
	created := false
	if run != nil {
		existing, err := tx.ListPayouts(ctx, run.ID)
		if err != nil {
			return nil, fmt.Errorf("list previous payouts: %w", err)
		}
		for _, p := range existing {
			snapshot[snapshotKey(p.Code, p.PayDate)] = carried{status: p.Status, notes: p.Notes}
		}
		if err := tx.ClearRun(ctx, run.ID); err != nil {
			return nil, fmt.Errorf("clear run: %w", err)
		}
		run.Currency = currency
		run.IncludeInactive = req.IncludeInactive
		run.UpdatedAt = now
	} else {
		run = &ScheduleRun{
			ID:              uuid.NewString(),
			Year:            req.Year,
			Month:           req.Month,
			Currency:        currency,
			IncludeInactive: req.IncludeInactive,
			Summary:         RunSummary{TotalPayout: decimal.Zero, FrequencyCounts: map[string]int{}},
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.CreateRun(ctx, *run); err != nil {
			return nil, fmt.Errorf("create run: %w", err)
		}
		created = true
	}

	payees, err := tx.ListPayees(ctx)
	if err != nil {
		return nil, fmt.Errorf("list payees: %w", err)
	}
	rows := make([]PayeeRow, len(payees))
	for i, p := range payees {
		rows[i] = RowFromPayee(i, p, now)
	}

	candidates, err := BuildSchedule(rows, req.Year, req.Month)
	if err != nil {
		return nil, err
	}

	payouts := make([]Payout, len(candidates))
	for i, c := range candidates {
		p := Payout{
			ID:               PayoutID(run.ID, c.Code, c.PayDate),
			RunID:            run.ID,
			PayeeID:          c.PayeeID,
			Seq:              i + 1,
			PayDate:          c.PayDate,
			Code:             c.Code,
			RealName:         c.RealName,
			WorkingName:      c.WorkingName,
			PaymentMethod:    c.PaymentMethod,
			Frequency:        c.Frequency,
			Gross:            c.Amount,
			Amount:           c.Amount,
			RoundingAdjusted: c.RoundingAdjusted,
			Status:           PayoutNotPaid,
		}
		if prev, ok := snapshot[snapshotKey(c.Code, c.PayDate)]; ok {
			p.Status = prev.status
			p.Notes = prev.notes
		}
		if p.RoundingAdjusted {
			s.Logger.Debug("rounding remainder absorbed",
				"code", p.Code, "pay_date", p.PayDate.Format(DateLayout), "amount", p.Gross.StringFixed(MoneyPlaces))
		}
		payouts[i] = p
	}

	allocations, err := s.netPayouts(ctx, tx, run.ID, payouts, now)
	if err != nil {
		return nil, err
	}

	if err := tx.InsertPayouts(ctx, payouts); err != nil {
		return nil, fmt.Errorf("insert payouts: %w", err)
	}
	if err := tx.InsertAllocations(ctx, allocations); err != nil {
		return nil, fmt.Errorf("insert allocations: %w", err)
	}

	issues := BuildReport(rows, req.IncludeInactive)
	for i := range issues {
		issues[i].ID = uuid.NewString()
		issues[i].RunID = run.ID
	}
	if err := tx.InsertIssues(ctx, issues); err != nil {
		return nil, fmt.Errorf("insert issues: %w", err)
	}

	run.Summary = Summarize(payouts)
	if err := tx.UpdateRun(ctx, *run); err != nil {
		return nil, fmt.Errorf("update run: %w", err)
	}

	return &RunResult{
		Run:         *run,
		Created:     created,
		Payouts:     payouts,
		Issues:      issues,
		Allocations: allocations,
	}, nil
}

// netPayouts sets each payout's net amount and returns the planned
// allocations. Payouts with realized repayments are netted from those.
func (s *Service) netPayouts(ctx context.Context, tx Store, runID string, payouts []Payout, now time.Time) ([]AdvanceAllocation, error) {
	var lines []PayoutLine
	advances := make(map[string][]Advance)

	for i := range payouts {
		p := &payouts[i]
		realized, err := tx.ListRepaymentsForPayout(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("list repayments for payout: %w", err)
		}
		if len(realized) > 0 || p.Status == PayoutPaid {
			deducted := decimal.Zero
			for _, r := range realized {
				deducted = deducted.Add(r.Amount)
			}
			p.Amount = decimal.Max(p.Gross.Sub(deducted), decimal.Zero)
			continue
		}

		lines = append(lines, PayoutLine{
			PayoutID: p.ID,
			PayeeID:  p.PayeeID,
			PayDate:  p.PayDate,
			Seq:      p.Seq,
			Gross:    p.Gross,
		})
		if p.PayeeID == "" {
			continue
		}
		if _, loaded := advances[p.PayeeID]; !loaded {
			list, err := tx.ListAdvances(ctx, p.PayeeID, AdvanceActive)
			if err != nil {
				return nil, fmt.Errorf("list advances: %w", err)
			}
			advances[p.PayeeID] = list
		}
	}

	plan := s.Distributor.Distribute(lines, advances)
	for i := range payouts {
		if net, ok := plan.Net[payouts[i].ID]; ok {
			payouts[i].Amount = net
		}
	}

	allocations := make([]AdvanceAllocation, 0, len(plan.Deductions))
	for _, d := range plan.Deductions {
		allocations = append(allocations, AdvanceAllocation{
			ID:            uuid.NewString(),
			RunID:         runID,
			PayoutID:      d.PayoutID,
			PayeeID:       d.PayeeID,
			AdvanceID:     d.AdvanceID,
			PlannedAmount: d.Amount,
			CreatedAt:     now,
		})
	}
	return allocations, nil
}

// DeleteRun removes a run with its payouts, issues and allocations.
func (s *Service) DeleteRun(ctx context.Context, runID string) error {
	return s.Store.WithTx(ctx, func(tx Store) error {
		run, err := tx.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		if run == nil {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return tx.DeleteRun(ctx, runID)
	})
}
