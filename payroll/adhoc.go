package payroll

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NewAdhocPayment is the input for a one-off payment.
type NewAdhocPayment struct {
	PayeeID     string
	PayDate     time.Time
	Amount      decimal.Decimal
	Description *string
	Notes       *string
}

// CreateAdhocPayment records a pending one-off payment.
func (s *Service) CreateAdhocPayment(ctx context.Context, in NewAdhocPayment) (*AdhocPayment, error) {
	amount := RoundMoney(in.Amount)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: ad-hoc amount must be positive", ErrInvalidAmount)
	}
	if in.PayDate.IsZero() {
		return nil, fmt.Errorf("%w: pay date is required", ErrInvalidPeriod)
	}
	now := s.now()
	p := AdhocPayment{
		ID:          uuid.NewString(),
		PayeeID:     in.PayeeID,
		PayDate:     TruncateDay(in.PayDate),
		Amount:      amount,
		Description: in.Description,
		Notes:       in.Notes,
		Status:      AdhocPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.Store.WithTx(ctx, func(tx Store) error {
		payee, err := tx.GetPayee(ctx, in.PayeeID)
		if err != nil {
			return err
		}
		if payee == nil {
			return fmt.Errorf("%w: %s", ErrPayeeNotFound, in.PayeeID)
		}
		return tx.SaveAdhocPayment(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SetAdhocPaymentStatus moves a payment between pending, paid and cancelled.
func (s *Service) SetAdhocPaymentStatus(ctx context.Context, id string, status AdhocStatus) (*AdhocPayment, error) {
	if _, err := ParseAdhocStatus(string(status)); err != nil {
		return nil, err
	}
	var out *AdhocPayment
	err := s.Store.WithTx(ctx, func(tx Store) error {
		p, err := tx.GetAdhocPayment(ctx, id)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("%w: %s", ErrAdhocNotFound, id)
		}
		p.Status = status
		p.UpdatedAt = s.now()
		if err := tx.SaveAdhocPayment(ctx, *p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListAdhocPaymentsForMonth returns the month's one-off payments by pay date.
func (s *Service) ListAdhocPaymentsForMonth(ctx context.Context, year int, month time.Month) ([]AdhocPayment, error) {
	if err := ValidatePeriod(year, month); err != nil {
		return nil, err
	}
	return s.Store.ListAdhocPayments(ctx, "", NewDate(year, month, 1), EndOfMonth(year, month))
}

func (s *Service) DeleteAdhocPayment(ctx context.Context, id string) error {
	return s.Store.WithTx(ctx, func(tx Store) error {
		p, err := tx.GetAdhocPayment(ctx, id)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("%w: %s", ErrAdhocNotFound, id)
		}
		return tx.DeleteAdhocPayment(ctx, id)
	})
}
