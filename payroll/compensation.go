package payroll

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// effectiveChange is one point of a compensation timeline.
type effectiveChange struct {
	on     time.Time
	amount decimal.Decimal
}

// CompensationSchedule resolves the monthly amount in effect on a date.
// Build it once per payee and query it per pay date; it is immutable.
type CompensationSchedule struct {
	base    decimal.Decimal
	changes []effectiveChange // ascending by date, unique dates
}

// NewCompensationSchedule sorts the adjustments by effective date. When two
// adjustments share a date the later one in the slice wins.
func NewCompensationSchedule(base decimal.Decimal, adjustments []CompensationAdjustment) CompensationSchedule {
	changes := make([]effectiveChange, 0, len(adjustments))
	for _, adj := range adjustments {
		changes = append(changes, effectiveChange{on: TruncateDay(adj.EffectiveDate), amount: adj.Amount})
	}
	sort.SliceStable(changes, func(i, j int) bool { return changes[i].on.Before(changes[j].on) })

	deduped := changes[:0]
	for _, c := range changes {
		if n := len(deduped); n > 0 && deduped[n-1].on.Equal(c.on) {
			deduped[n-1] = c
			continue
		}
		deduped = append(deduped, c)
	}
	return CompensationSchedule{base: base, changes: deduped}
}

// Base is the amount used when no adjustment is in effect.
func (cs CompensationSchedule) Base() decimal.Decimal { return cs.base }

// EffectiveAmount returns the latest adjustment with effective date <= on,
// or the base amount when none qualifies.
func (cs CompensationSchedule) EffectiveAmount(on time.Time) decimal.Decimal {
	on = TruncateDay(on)
	// first change strictly after `on`
	i := sort.Search(len(cs.changes), func(i int) bool { return cs.changes[i].on.After(on) })
	if i == 0 {
		return cs.base
	}
	return cs.changes[i-1].amount
}

// Schedule builds the payee's compensation timeline.
func (p Payee) Schedule() CompensationSchedule {
	return NewCompensationSchedule(p.BaseMonthlyAmount, p.Adjustments)
}
