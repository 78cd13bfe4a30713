/*
allocator.go - Frequency plans and exact monthly splits

PURPOSE:
  Maps a payment frequency to the pay-date slots it uses and splits a monthly
  amount evenly over those slots without losing a cent.

SLOTS:
  Slot indexes refer to PayDates(): 0=7th, 1=14th, 2=21st, 3=last day.
    weekly   -> {0, 1, 2, 3}
    biweekly -> {1, 3}
    monthly  -> {3}

SPLIT RULE:
  Every slot but the last gets round_half_up(monthly / n, 2). The last slot
  gets monthly minus the sum of the others, so the parts always add up to the
  monthly amount exactly.

  Example: 1000.10 weekly -> [250.03, 250.03, 250.03, 250.01]

SEE ALSO:
  - calendar.go: PayDates
  - schedule.go: Uses per-slot shares
*/
package payroll

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Plan returns the pay-date slot indexes used by the frequency.
// Unknown frequencies have an empty plan.
func (f Frequency) Plan() []int {
	switch f {
	case FrequencyWeekly:
		return []int{0, 1, 2, 3}
	case FrequencyBiweekly:
		return []int{1, 3}
	case FrequencyMonthly:
		return []int{3}
	}
	return nil
}

// Allocate splits monthly into one amount per slot of the frequency's plan.
// wasRounded reports whether the last slot differs from the even share.
func Allocate(monthly decimal.Decimal, f Frequency) (amounts []decimal.Decimal, wasRounded bool, err error) {
	plan := f.Plan()
	if len(plan) == 0 {
		return nil, false, fmt.Errorf("%w: %q", ErrUnknownFrequency, string(f))
	}

	n := int64(len(plan))
	share := RoundMoney(monthly.Div(decimal.NewFromInt(n)))

	amounts = make([]decimal.Decimal, len(plan))
	for i := 0; i < len(plan)-1; i++ {
		amounts[i] = share
	}
	last := monthly.Sub(share.Mul(decimal.NewFromInt(n - 1)))
	amounts[len(plan)-1] = last

	return amounts, !last.Equal(share), nil
}
