package payroll

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreateAdvance opens a requested advance for an existing payee.
func (s *Service) CreateAdvance(ctx context.Context, in NewAdvance) (*Advance, error) {
	adv, err := in.Build()
	if err != nil {
		return nil, err
	}
	adv.ID = uuid.NewString()
	adv.CreatedAt = s.now()

	err = s.Store.WithTx(ctx, func(tx Store) error {
		payee, err := tx.GetPayee(ctx, in.PayeeID)
		if err != nil {
			return err
		}
		if payee == nil {
			return fmt.Errorf("%w: %s", ErrPayeeNotFound, in.PayeeID)
		}
		return tx.SaveAdvance(ctx, adv)
	})
	if err != nil {
		return nil, err
	}
	s.Logger.Info("advance created",
		"advance_id", adv.ID, "payee_id", adv.PayeeID, "amount", adv.AmountTotal.StringFixed(MoneyPlaces), "strategy", string(adv.Strategy))
	return &adv, nil
}

// ApproveAdvance activates an advance so the next run deducts from it.
// With activate false it is only approved and runs ignore it.
func (s *Service) ApproveAdvance(ctx context.Context, advanceID string, activate bool) (*Advance, error) {
	var out *Advance
	err := s.Store.WithTx(ctx, func(tx Store) error {
		adv, err := tx.GetAdvance(ctx, advanceID)
		if err != nil {
			return err
		}
		if adv == nil {
			return fmt.Errorf("%w: %s", ErrAdvanceNotFound, advanceID)
		}
		if err := adv.Approve(activate, s.now()); err != nil {
			return err
		}
		if err := tx.SaveAdvance(ctx, *adv); err != nil {
			return err
		}
		out = adv
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Logger.Info("advance approved", "advance_id", out.ID, "status", string(out.Status))
	return out, nil
}

// DeleteAdvance removes an advance and its planned allocations. Advances
// with repayment history cannot be deleted.
func (s *Service) DeleteAdvance(ctx context.Context, advanceID string) error {
	return s.Store.WithTx(ctx, func(tx Store) error {
		adv, err := tx.GetAdvance(ctx, advanceID)
		if err != nil {
			return err
		}
		if adv == nil {
			return fmt.Errorf("%w: %s", ErrAdvanceNotFound, advanceID)
		}
		repayments, err := tx.ListRepayments(ctx, advanceID)
		if err != nil {
			return err
		}
		if len(repayments) > 0 {
			return fmt.Errorf("%w: %s", ErrAdvanceHasRepayments, advanceID)
		}
		if err := tx.DeleteAllocationsForAdvance(ctx, advanceID); err != nil {
			return err
		}
		return tx.DeleteAdvance(ctx, advanceID)
	})
}

// RecordManualRepayment records a repayment made outside payroll. The
// amount must be positive and at most the remaining balance.
func (s *Service) RecordManualRepayment(ctx context.Context, advanceID string, amount decimal.Decimal, notes *string) (*AdvanceRepayment, error) {
	amount = RoundMoney(amount)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: repayment must be positive", ErrInvalidAmount)
	}

	var out *AdvanceRepayment
	var closed bool
	err := s.Store.WithTx(ctx, func(tx Store) error {
		adv, err := tx.GetAdvance(ctx, advanceID)
		if err != nil {
			return err
		}
		if adv == nil {
			return fmt.Errorf("%w: %s", ErrAdvanceNotFound, advanceID)
		}
		if !adv.Open() {
			return fmt.Errorf("%w: %s is %s", ErrAdvanceNotRepayable, advanceID, adv.Status)
		}
		if amount.GreaterThan(adv.AmountRemaining) {
			return &RepaymentExceedsBalanceError{
				AdvanceID: advanceID,
				Remaining: adv.AmountRemaining,
				Requested: amount,
			}
		}

		applied := adv.ApplyRepayment(amount)
		r := AdvanceRepayment{
			ID:        uuid.NewString(),
			AdvanceID: advanceID,
			Amount:    applied,
			Source:    RepaymentManual,
			Notes:     notes,
			CreatedAt: s.now(),
		}
		if err := tx.InsertRepayment(ctx, r); err != nil {
			return err
		}
		if err := tx.SaveAdvance(ctx, *adv); err != nil {
			return err
		}
		closed = adv.Status == AdvanceClosed
		out = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Logger.Info("manual repayment recorded",
		"advance_id", advanceID, "amount", out.Amount.StringFixed(MoneyPlaces), "closed", closed)
	return out, nil
}

// OutstandingAdvanceTotal sums what a payee still owes on open advances.
func (s *Service) OutstandingAdvanceTotal(ctx context.Context, payeeID string) (decimal.Decimal, error) {
	advances, err := s.Store.ListAdvances(ctx, payeeID, "")
	if err != nil {
		return decimal.Zero, err
	}
	return OutstandingTotal(advances), nil
}
