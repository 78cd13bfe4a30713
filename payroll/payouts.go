package payroll

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// STATUS CHANGES
// =============================================================================

// PayoutUpdate carries the human-editable fields of a payout.
// Zero Status and nil Notes leave the field unchanged; a pointer to ""
// clears the notes.
type PayoutUpdate struct {
	Status PayoutStatus
	Notes  *string
}

// UpdatePayout applies a status/notes change. Moving to paid realizes the
// payout's planned advance deductions in the same transaction.
func (s *Service) UpdatePayout(ctx context.Context, payoutID string, update PayoutUpdate) (*Payout, error) {
	if update.Status != "" {
		if _, err := ParsePayoutStatus(string(update.Status)); err != nil {
			return nil, err
		}
	}

	var out *Payout
	var realized int
	err := s.Store.WithTx(ctx, func(tx Store) error {
		p, err := tx.GetPayout(ctx, payoutID)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("%w: %s", ErrPayoutNotFound, payoutID)
		}
		if update.Status != "" {
			p.Status = update.Status
		}
		if update.Notes != nil {
			if strings.TrimSpace(*update.Notes) == "" {
				p.Notes = nil
			} else {
				notes := *update.Notes
				p.Notes = &notes
			}
		}
		if err := tx.UpdatePayout(ctx, *p); err != nil {
			return err
		}
		if p.Status == PayoutPaid {
			realized, err = s.realize(ctx, tx, p)
			if err != nil {
				return err
			}
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Info("payout updated",
		"payout_id", out.ID, "code", out.Code, "status", string(out.Status), "repayments", realized)
	return out, nil
}

// MarkPayoutPaid is UpdatePayout with status paid and notes untouched.
// Calling it again for the same payout is a no-op.
func (s *Service) MarkPayoutPaid(ctx context.Context, payoutID string) (*Payout, error) {
	return s.UpdatePayout(ctx, payoutID, PayoutUpdate{Status: PayoutPaid})
}

// realize turns the payout's planned allocations into repayments. It does
// nothing when the payout already has a repayment. A planned deduction the
// advance can no longer absorb is paid back onto the payout's net.
func (s *Service) realize(ctx context.Context, tx Store, p *Payout) (int, error) {
	existing, err := tx.ListRepaymentsForPayout(ctx, p.ID)
	if err != nil {
		return 0, fmt.Errorf("check repayments: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}

	allocs, err := tx.ListAllocationsForPayout(ctx, p.ID)
	if err != nil {
		return 0, fmt.Errorf("list allocations: %w", err)
	}

	now := s.now()
	count := 0
	shortfall := decimal.Zero
	for _, alloc := range allocs {
		adv, err := tx.GetAdvance(ctx, alloc.AdvanceID)
		if err != nil {
			return count, err
		}
		applied := decimal.Zero
		if adv != nil {
			applied = adv.ApplyRepayment(alloc.PlannedAmount)
			if applied.IsPositive() {
				if err := tx.InsertRepayment(ctx, AdvanceRepayment{
					ID:        uuid.NewString(),
					AdvanceID: adv.ID,
					PayoutID:  p.ID,
					Amount:    applied,
					Source:    RepaymentAuto,
					CreatedAt: now,
				}); err != nil {
					return count, fmt.Errorf("insert repayment: %w", err)
				}
				count++
			}
			if err := tx.SaveAdvance(ctx, *adv); err != nil {
				return count, fmt.Errorf("save advance: %w", err)
			}
			if adv.Status == AdvanceClosed {
				s.Logger.Info("advance settled", "advance_id", adv.ID, "payee_id", adv.PayeeID)
			}
		}
		shortfall = shortfall.Add(alloc.PlannedAmount.Sub(applied))
		if err := tx.DeleteAllocation(ctx, alloc.ID); err != nil {
			return count, fmt.Errorf("delete allocation: %w", err)
		}
	}

	if shortfall.IsPositive() {
		p.Amount = RoundMoney(decimal.Min(p.Amount.Add(shortfall), p.Gross))
		if err := tx.UpdatePayout(ctx, *p); err != nil {
			return count, fmt.Errorf("restore payout net: %w", err)
		}
		if err := s.resummarize(ctx, tx, p.RunID); err != nil {
			return count, err
		}
		s.Logger.Warn("planned deduction not recovered",
			"payout_id", p.ID, "code", p.Code, "restored", shortfall.StringFixed(MoneyPlaces))
	}
	return count, nil
}

// resummarize recomputes a run's summary from its stored payouts.
func (s *Service) resummarize(ctx context.Context, tx Store, runID string) error {
	run, err := tx.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run == nil {
		return nil
	}
	payouts, err := tx.ListPayouts(ctx, runID)
	if err != nil {
		return err
	}
	run.Summary = Summarize(payouts)
	run.UpdatedAt = s.now()
	if err := tx.UpdateRun(ctx, *run); err != nil {
		return fmt.Errorf("update run summary: %w", err)
	}
	return nil
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// PayoutReconciliation shows how a payout's net was reached.
type PayoutReconciliation struct {
	Payout   Payout
	Gross    decimal.Decimal
	Deducted decimal.Decimal
	Net      decimal.Decimal
}

// Reconciliation lists gross, deducted and net per payout of a run, ordered
// by (pay date, code). Deducted is whatever separates the stored gross from
// the net, planned or realized.
func (s *Service) Reconciliation(ctx context.Context, runID string) ([]PayoutReconciliation, error) {
	run, err := s.Store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	payouts, err := s.Store.ListPayouts(ctx, runID)
	if err != nil {
		return nil, err
	}
	out := make([]PayoutReconciliation, 0, len(payouts))
	for _, p := range payouts {
		out = append(out, PayoutReconciliation{
			Payout:   p,
			Gross:    p.Gross,
			Deducted: p.Gross.Sub(p.Amount),
			Net:      p.Amount,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Payout, out[j].Payout
		if !a.PayDate.Equal(b.PayDate) {
			return a.PayDate.Before(b.PayDate)
		}
		return a.Code < b.Code
	})
	return out, nil
}

// PaymentSummary splits a run's net total by payment status.
type PaymentSummary struct {
	PaidTotal    decimal.Decimal
	UnpaidTotal  decimal.Decimal
	PaidModels   int
	TotalPayout  decimal.Decimal
	StatusCounts map[PayoutStatus]int
}

// RunPaymentSummary reports paid vs unpaid totals for a run.
func (s *Service) RunPaymentSummary(ctx context.Context, runID string) (*PaymentSummary, error) {
	payouts, err := s.Store.ListPayouts(ctx, runID)
	if err != nil {
		return nil, err
	}
	sum := &PaymentSummary{
		PaidTotal:    decimal.Zero,
		UnpaidTotal:  decimal.Zero,
		TotalPayout:  decimal.Zero,
		StatusCounts: make(map[PayoutStatus]int),
	}
	paidCodes := make(map[string]struct{})
	for _, p := range payouts {
		sum.StatusCounts[p.Status]++
		sum.TotalPayout = sum.TotalPayout.Add(p.Amount)
		if p.Status == PayoutPaid {
			sum.PaidTotal = sum.PaidTotal.Add(p.Amount)
			paidCodes[strings.ToLower(p.Code)] = struct{}{}
		} else {
			sum.UnpaidTotal = sum.UnpaidTotal.Add(p.Amount)
		}
	}
	sum.PaidModels = len(paidCodes)
	return sum, nil
}
