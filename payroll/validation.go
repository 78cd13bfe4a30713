/*
validation.go - Roster row validation

PURPOSE:
  Checks one roster row and returns every problem found. Checks never
  short-circuit: a row with a bad status AND a missing amount reports both.

SEVERITY:
  error   -> the row is excluded from payouts
  warning -> informational, payouts proceed

ROWS:
  PayeeRow is the normalized view the engine validates. RowFromPayee builds
  it from a stored payee; RowFromStrings builds it from raw text (imports,
  CLI) so unparseable values surface as validation errors instead of Go
  errors.

REPORT FILTER:
  BuildReport drops rows whose status is not Active unless includeInactive
  is set. Active rows are always reported.

SEE ALSO:
  - schedule.go: Consumes validated rows
*/
package payroll

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ValidationMessage is a single finding on a row.
type ValidationMessage struct {
	Severity Severity
	Text     string
}

// PayeeRow is the normalized, validatable view of a roster entry.
type PayeeRow struct {
	Row           int // 1-based with a header row, so the first payee is row 2
	PayeeID       string
	Code          string
	RealName      string
	WorkingName   string
	PaymentMethod string
	Status        string // title-cased, "" when missing
	Frequency     string // lower-cased, "" when missing
	Amount        *decimal.Decimal
	StartDate     *time.Time

	// Compensation resolves per pay date. Nil means Amount applies all month.
	Compensation *CompensationSchedule

	Messages []ValidationMessage
}

// headerOffset accounts for the header line of a roster sheet.
const headerOffset = 2

// RawRow is a roster entry as text.
type RawRow struct {
	Status        string
	Code          string
	RealName      string
	WorkingName   string
	PaymentMethod string
	Frequency     string
	Amount        string
	StartDate     string
}

// RowFromStrings normalizes a textual row. Unparseable amounts and dates are
// left nil so Validate reports them.
func RowFromStrings(index int, raw RawRow) PayeeRow {
	row := PayeeRow{
		Row:           index + headerOffset,
		Code:          strings.TrimSpace(raw.Code),
		RealName:      strings.TrimSpace(raw.RealName),
		WorkingName:   strings.TrimSpace(raw.WorkingName),
		PaymentMethod: strings.TrimSpace(raw.PaymentMethod),
		Status:        titleCase(raw.Status),
		Frequency:     strings.ToLower(strings.TrimSpace(raw.Frequency)),
	}
	if amount, err := ParseMoney(raw.Amount); err == nil {
		row.Amount = &amount
	}
	if start, err := ParseDate(raw.StartDate); err == nil {
		row.StartDate = &start
	}
	row.Messages = Validate(row)
	return row
}

// RowFromPayee builds the row for a stored payee. Amount is the
// compensation in effect at now; payouts resolve it per pay date.
func RowFromPayee(index int, p Payee, now time.Time) PayeeRow {
	schedule := p.Schedule()
	amount := schedule.EffectiveAmount(now)
	row := PayeeRow{
		Row:           index + headerOffset,
		PayeeID:       p.ID,
		Code:          strings.TrimSpace(p.Code),
		RealName:      strings.TrimSpace(p.RealName),
		WorkingName:   strings.TrimSpace(p.WorkingName),
		PaymentMethod: strings.TrimSpace(p.PaymentMethod),
		Status:        titleCase(string(p.Status)),
		Frequency:     strings.ToLower(strings.TrimSpace(string(p.Frequency))),
		Amount:        &amount,
		Compensation:  &schedule,
	}
	if !p.StartDate.IsZero() {
		start := TruncateDay(p.StartDate)
		row.StartDate = &start
	}
	row.Messages = Validate(row)
	return row
}

// Valid reports whether the row has no error-severity messages.
func (r PayeeRow) Valid() bool {
	for _, m := range r.Messages {
		if m.Severity == SeverityError {
			return false
		}
	}
	return true
}

func (r PayeeRow) Active() bool {
	return r.Status == string(PayeeActive)
}

// AmountOn resolves the monthly amount for a pay date.
func (r PayeeRow) AmountOn(payDate time.Time) decimal.Decimal {
	if r.Compensation != nil {
		return r.Compensation.EffectiveAmount(payDate)
	}
	if r.Amount != nil {
		return *r.Amount
	}
	return decimal.Zero
}

// Validate runs every check against the row.
func Validate(row PayeeRow) []ValidationMessage {
	var msgs []ValidationMessage
	errorf := func(format string, args ...any) {
		msgs = append(msgs, ValidationMessage{Severity: SeverityError, Text: fmt.Sprintf(format, args...)})
	}
	warn := func(text string) {
		msgs = append(msgs, ValidationMessage{Severity: SeverityWarning, Text: text})
	}

	switch {
	case row.Status == "":
		errorf("Status is required.")
	case row.Status != string(PayeeActive) && row.Status != string(PayeeInactive):
		errorf("Unrecognized status '%s'.", row.Status)
	case row.Status != string(PayeeActive):
		warn("Status is not Active; payouts suppressed.")
	}

	if row.Code == "" {
		errorf("Code is required.")
	}
	if row.RealName == "" {
		warn("Real Name is blank.")
	}
	if row.WorkingName == "" {
		warn("Working Name is blank.")
	}
	if row.PaymentMethod == "" {
		warn("Payment Method is blank.")
	}

	if row.Frequency == "" {
		errorf("Payment Frequency is required.")
	} else if _, err := ParseFrequency(row.Frequency); err != nil {
		errorf("Payment Frequency '%s' is invalid. Expected weekly, biweekly, or monthly.", row.Frequency)
	}

	if row.Amount == nil {
		errorf("Amount Monthly is missing or invalid.")
	} else if !row.Amount.IsPositive() {
		errorf("Amount Monthly must be positive.")
	}

	if row.StartDate == nil {
		errorf("Start Date is missing or invalid.")
	}

	return msgs
}

// BuildReport flattens row messages into issues ordered by row, then
// severity. Non-active rows are skipped unless includeInactive is set.
func BuildReport(rows []PayeeRow, includeInactive bool) []ValidationIssue {
	var issues []ValidationIssue
	for _, row := range rows {
		if !includeInactive && !row.Active() {
			continue
		}
		for _, m := range row.Messages {
			issues = append(issues, ValidationIssue{
				PayeeID:  row.PayeeID,
				Row:      row.Row,
				Code:     row.Code,
				Severity: m.Severity,
				Message:  m.Text,
			})
		}
	}
	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Row != issues[j].Row {
			return issues[i].Row < issues[j].Row
		}
		return issues[i].Severity < issues[j].Severity
	})
	return issues
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = capitalize(w)
	}
	return strings.Join(words, " ")
}
