/*
advance.go - FIFO cash-advance deductions against a run's payouts

PURPOSE:
  Pure computation that nets outstanding advances out of freshly generated
  payouts. Produces the net amount per payout and the planned deductions;
  the orchestrator persists both.

ORDERING:
  Per payee, payouts are visited by (pay date, insertion order) and the
  payee's active advances by creation time (oldest first). An older advance
  drains before a newer one touches the same payout.

CLAMPING:
  For each (payout, advance) pair:
    candidate = fixed amount                      (strategy fixed)
              | round_half_up(gross * rate / 100) (strategy percent)
    deduct    = min(candidate, working remainder, room left on payout)
  Non-positive deductions are skipped. A payout's net never drops below 0.

WORKING REMAINDER:
  Remainders live in a map keyed by advance ID that is threaded through the
  whole plan. A later payout in the same run sees what earlier payouts
  already took; stored advances are not touched until realization.

POLICY KNOBS:
  MinNetFloor, MaxPerRun and CapMultiplier are carried on Advance but not
  applied here. Callers that want a cap plug in a DeductionCap.

SEE ALSO:
  - repayment.go: Turns planned deductions into repayments
  - service.go: RunPayroll calls Distribute after inserting payouts
*/
package payroll

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// PayoutLine is the slice of a payout the distributor needs.
type PayoutLine struct {
	PayoutID string
	PayeeID  string
	PayDate  time.Time
	Seq      int
	Gross    decimal.Decimal
}

// PlannedDeduction is one advance deducted from one payout.
type PlannedDeduction struct {
	PayoutID  string
	PayeeID   string
	AdvanceID string
	Amount    decimal.Decimal
}

// DeductionPlan is the distributor's output.
type DeductionPlan struct {
	Net        map[string]decimal.Decimal // payout ID -> net amount
	Deductions []PlannedDeduction
	Remaining  map[string]decimal.Decimal // advance ID -> remainder after the plan
}

// DeductionCap may lower a candidate deduction. It must not raise it.
type DeductionCap func(adv Advance, line PayoutLine, candidate decimal.Decimal) decimal.Decimal

// AdvanceDistributor applies advances to payouts oldest-first.
type AdvanceDistributor struct {
	Cap DeductionCap
}

// Candidate is the strategy amount before clamping.
func (a Advance) Candidate(gross decimal.Decimal) decimal.Decimal {
	switch a.Strategy {
	case StrategyFixed:
		if a.FixedAmount == nil {
			return decimal.Zero
		}
		return *a.FixedAmount
	case StrategyPercent:
		if a.PercentRate == nil {
			return decimal.Zero
		}
		return RoundMoney(gross.Mul(*a.PercentRate).Div(hundred))
	}
	return decimal.Zero
}

// Distribute plans deductions. advancesByPayee may contain advances in any
// status; only active ones are applied.
func (d *AdvanceDistributor) Distribute(lines []PayoutLine, advancesByPayee map[string][]Advance) *DeductionPlan {
	plan := &DeductionPlan{
		Net:       make(map[string]decimal.Decimal, len(lines)),
		Remaining: make(map[string]decimal.Decimal),
	}

	byPayee := make(map[string][]PayoutLine)
	var payees []string
	for _, line := range lines {
		plan.Net[line.PayoutID] = line.Gross
		if line.PayeeID == "" {
			continue
		}
		if _, seen := byPayee[line.PayeeID]; !seen {
			payees = append(payees, line.PayeeID)
		}
		byPayee[line.PayeeID] = append(byPayee[line.PayeeID], line)
	}

	for _, payeeID := range payees {
		advances := activeFIFO(advancesByPayee[payeeID])
		if len(advances) == 0 {
			continue
		}
		for _, adv := range advances {
			if _, ok := plan.Remaining[adv.ID]; !ok {
				plan.Remaining[adv.ID] = adv.AmountRemaining
			}
		}

		payeeLines := byPayee[payeeID]
		sort.SliceStable(payeeLines, func(i, j int) bool {
			if !payeeLines[i].PayDate.Equal(payeeLines[j].PayDate) {
				return payeeLines[i].PayDate.Before(payeeLines[j].PayDate)
			}
			return payeeLines[i].Seq < payeeLines[j].Seq
		})

		for _, line := range payeeLines {
			room := line.Gross
			for _, adv := range advances {
				if !room.IsPositive() {
					break
				}
				remaining := plan.Remaining[adv.ID]
				if !remaining.IsPositive() {
					continue
				}
				amount := adv.Candidate(line.Gross)
				if d.Cap != nil {
					amount = decimal.Min(amount, d.Cap(adv, line, amount))
				}
				amount = decimal.Min(amount, remaining, room)
				if !amount.IsPositive() {
					continue
				}
				room = room.Sub(amount)
				plan.Remaining[adv.ID] = remaining.Sub(amount)
				plan.Deductions = append(plan.Deductions, PlannedDeduction{
					PayoutID:  line.PayoutID,
					PayeeID:   payeeID,
					AdvanceID: adv.ID,
					Amount:    amount,
				})
			}
			if room.IsNegative() {
				room = decimal.Zero
			}
			plan.Net[line.PayoutID] = room
		}
	}
	return plan
}

// activeFIFO keeps active advances ordered oldest first.
func activeFIFO(advances []Advance) []Advance {
	out := make([]Advance, 0, len(advances))
	for _, a := range advances {
		if a.Status == AdvanceActive {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
