package payroll

import (
	"fmt"
	"strings"
	"time"
)

// Pay days within a month. The fourth pay date is always the last day.
var fixedPayDays = [3]int{7, 14, 21}

// PayDates returns the four pay dates of a month in ascending order:
// the 7th, 14th, 21st and the last calendar day.
func PayDates(year int, month time.Month) [4]time.Time {
	var dates [4]time.Time
	for i, day := range fixedPayDays {
		dates[i] = NewDate(year, month, day)
	}
	dates[3] = EndOfMonth(year, month)
	return dates
}

// ValidatePeriod rejects months outside 1..12 and years outside 1..9999.
func ValidatePeriod(year int, month time.Month) error {
	if month < time.January || month > time.December {
		return fmt.Errorf("%w: month %d", ErrInvalidPeriod, int(month))
	}
	if year < 1 || year > 9999 {
		return fmt.Errorf("%w: year %d", ErrInvalidPeriod, year)
	}
	return nil
}

// =============================================================================
// DATE HELPERS - all dates are UTC midnight
// =============================================================================

func NewDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// TruncateDay drops the clock part, keeping the calendar date.
func TruncateDay(t time.Time) time.Time {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func EndOfMonth(year int, month time.Month) time.Time {
	return NewDate(year, month+1, 1).AddDate(0, 0, -1)
}

// DateLayout is the canonical textual date format.
const DateLayout = "2006-01-02"

var dateLayouts = []string{
	DateLayout,
	"2006/01/02",
	"01/02/2006",
	"2006-01-02T15:04:05Z07:00",
}

// ParseDate accepts the handful of layouts roster exports use.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return TruncateDay(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}
