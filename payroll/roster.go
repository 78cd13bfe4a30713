package payroll

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SavePayee normalizes and stores a payee. A blank ID creates a new one;
// an update keeps the stored creation time, which fixes the roster order.
func (s *Service) SavePayee(ctx context.Context, p Payee) (*Payee, error) {
	p.Code = strings.TrimSpace(p.Code)
	if p.Code == "" {
		return nil, fmt.Errorf("%w: code is required", ErrInvalidPayee)
	}
	status, err := ParsePayeeStatus(string(p.Status))
	if err != nil {
		return nil, err
	}
	p.Status = status
	freq, err := ParseFrequency(string(p.Frequency))
	if err != nil {
		return nil, err
	}
	p.Frequency = freq
	p.BaseMonthlyAmount = RoundMoney(p.BaseMonthlyAmount)
	if !p.BaseMonthlyAmount.IsPositive() {
		return nil, fmt.Errorf("%w: monthly amount must be positive", ErrInvalidAmount)
	}
	if p.StartDate.IsZero() {
		return nil, fmt.Errorf("%w: start date is required", ErrInvalidPayee)
	}
	p.StartDate = TruncateDay(p.StartDate)

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	err = s.Store.WithTx(ctx, func(tx Store) error {
		existing, err := tx.GetPayee(ctx, p.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			p.CreatedAt = existing.CreatedAt
		} else if p.CreatedAt.IsZero() {
			p.CreatedAt = s.now()
		}
		return tx.SavePayee(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// DeletePayee removes a payee. Payouts keep their denormalized fields and
// lose the payee link.
func (s *Service) DeletePayee(ctx context.Context, payeeID string) error {
	return s.Store.WithTx(ctx, func(tx Store) error {
		p, err := tx.GetPayee(ctx, payeeID)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("%w: %s", ErrPayeeNotFound, payeeID)
		}
		return tx.DeletePayee(ctx, payeeID)
	})
}

// AddCompensationAdjustment sets the monthly amount from effective on. An
// adjustment on the same date is replaced and keeps its ID.
func (s *Service) AddCompensationAdjustment(ctx context.Context, payeeID string, effective time.Time, amount decimal.Decimal, notes *string) (*CompensationAdjustment, error) {
	amount = RoundMoney(amount)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: adjustment amount must be positive", ErrInvalidAmount)
	}
	adj := CompensationAdjustment{
		ID:            uuid.NewString(),
		PayeeID:       payeeID,
		EffectiveDate: TruncateDay(effective),
		Amount:        amount,
		Notes:         notes,
		CreatedAt:     s.now(),
	}
	var saved *CompensationAdjustment
	err := s.Store.WithTx(ctx, func(tx Store) error {
		p, err := tx.GetPayee(ctx, payeeID)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("%w: %s", ErrPayeeNotFound, payeeID)
		}
		if err := tx.SaveAdjustment(ctx, adj); err != nil {
			return err
		}
		p, err = tx.GetPayee(ctx, payeeID)
		if err != nil {
			return err
		}
		for _, a := range p.Adjustments {
			if a.EffectiveDate.Equal(adj.EffectiveDate) {
				saved = &a
				return nil
			}
		}
		return fmt.Errorf("%w: %s on %s", ErrAdjustmentNotFound, payeeID, adj.EffectiveDate.Format(DateLayout))
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// DeleteCompensationAdjustment removes one of the payee's adjustments. Runs
// computed before the delete are not touched until refreshed.
func (s *Service) DeleteCompensationAdjustment(ctx context.Context, payeeID, adjustmentID string) error {
	return s.Store.WithTx(ctx, func(tx Store) error {
		p, err := tx.GetPayee(ctx, payeeID)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("%w: %s", ErrPayeeNotFound, payeeID)
		}
		for _, a := range p.Adjustments {
			if a.ID == adjustmentID {
				return tx.DeleteAdjustment(ctx, adjustmentID)
			}
		}
		return fmt.Errorf("%w: %s", ErrAdjustmentNotFound, adjustmentID)
	})
}
