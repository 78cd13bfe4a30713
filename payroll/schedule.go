/*
schedule.go - Monthly payout candidates from validated roster rows

PURPOSE:
  Pure computation: (rows, year, month) -> payout candidates. No storage,
  no clock. The orchestrator in service.go persists the result.

RULES:
  - Only rows without errors and with status Active are scheduled.
  - For every slot in the frequency plan the monthly amount is resolved on
    that slot's pay date, split with Allocate, and the slot's share is taken.
    A raise effective on the 10th therefore changes the 14th, 21st and
    last-day payouts but not the 7th.
  - A pay date before the start date emits nothing. Skipped amounts are NOT
    carried forward to later dates.
  - A start date after the last pay date adds a warning to the row, active
    or not. Inactive rows only surface it when the report includes them.

ORDER:
  Candidates come back sorted by (pay date, code).

SEE ALSO:
  - allocator.go: Split rule
  - compensation.go: Per-date amount
  - advance.go: Nets candidates after insertion
*/
package payroll

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// NothingReleasedWarning is attached to rows whose start date is after
// every pay date of the month.
const NothingReleasedWarning = "Start date falls after all scheduled pay dates; nothing released this month."

func nothingReleased() ValidationMessage {
	return ValidationMessage{Severity: SeverityWarning, Text: NothingReleasedWarning}
}

// PayoutCandidate is a payout line before persistence and netting.
type PayoutCandidate struct {
	PayeeID          string
	Code             string
	RealName         string
	WorkingName      string
	PaymentMethod    string
	Frequency        Frequency
	PayDate          time.Time
	Amount           decimal.Decimal
	RoundingAdjusted bool
}

// BuildSchedule emits payout candidates for the month. It appends start-date
// warnings to rows in place.
func BuildSchedule(rows []PayeeRow, year int, month time.Month) ([]PayoutCandidate, error) {
	if err := ValidatePeriod(year, month); err != nil {
		return nil, err
	}
	payDates := PayDates(year, month)
	lastPayDate := payDates[len(payDates)-1]

	var out []PayoutCandidate
	for i := range rows {
		row := &rows[i]
		if !row.Valid() || row.StartDate == nil {
			continue
		}
		if !row.Active() {
			if row.StartDate.After(lastPayDate) {
				row.Messages = append(row.Messages, nothingReleased())
			}
			continue
		}
		freq, err := ParseFrequency(row.Frequency)
		if err != nil {
			return nil, err
		}

		plan := freq.Plan()
		emitted := 0
		for position, slot := range plan {
			payDate := payDates[slot]
			if row.StartDate.After(payDate) {
				continue
			}
			monthly := row.AmountOn(payDate)
			if !monthly.IsPositive() {
				continue
			}
			shares, rounded, err := Allocate(monthly, freq)
			if err != nil {
				return nil, err
			}
			out = append(out, PayoutCandidate{
				PayeeID:          row.PayeeID,
				Code:             row.Code,
				RealName:         row.RealName,
				WorkingName:      row.WorkingName,
				PaymentMethod:    row.PaymentMethod,
				Frequency:        freq,
				PayDate:          payDate,
				Amount:           shares[position],
				RoundingAdjusted: rounded && position == len(plan)-1,
			})
			emitted++
		}

		if emitted == 0 && row.StartDate.After(lastPayDate) {
			row.Messages = append(row.Messages, nothingReleased())
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].PayDate.Equal(out[j].PayDate) {
			return out[i].PayDate.Before(out[j].PayDate)
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

// Summarize aggregates persisted payouts: distinct scheduled codes, total
// net amount and payout count per frequency.
func Summarize(payouts []Payout) RunSummary {
	summary := RunSummary{TotalPayout: decimal.Zero, FrequencyCounts: map[string]int{}}
	codes := make(map[string]struct{})
	for _, p := range payouts {
		codes[strings.ToLower(p.Code)] = struct{}{}
		summary.TotalPayout = summary.TotalPayout.Add(p.Amount)
		summary.FrequencyCounts[p.Frequency.Title()]++
	}
	summary.ModelsPaid = len(codes)
	summary.TotalPayout = RoundMoney(summary.TotalPayout)
	return summary
}
