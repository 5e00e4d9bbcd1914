package cashflow

import (
	"fmt"
	"regexp"
	"time"

	apperrors "folio/internal/errors"
)

// DateLayout is the only accepted record date format.
const DateLayout = "2006-01-02"

// MonthLayout identifies a summary month.
const MonthLayout = "2006-01"

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ParseDate parses a strict YYYY-MM-DD date with valid calendar fields.
// Anything else, including surrounding whitespace or a time suffix, is
// rejected with INVALID_DATE.
func ParseDate(s string) (time.Time, error) {
	if !datePattern.MatchString(s) {
		return time.Time{}, apperrors.WithMessage(apperrors.ErrInvalidDate, fmt.Sprintf("invalid date %q", s))
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, apperrors.Wrap(apperrors.ErrInvalidDate, err)
	}
	return t, nil
}

// ParseMonth parses a YYYY-MM month and returns its first day.
func ParseMonth(s string) (time.Time, error) {
	t, err := time.Parse(MonthLayout, s)
	if err != nil {
		return time.Time{}, apperrors.Wrap(apperrors.ErrInvalidDate, err)
	}
	return t, nil
}

// Window is a calendar month, inclusive at both ends.
type Window struct {
	Start time.Time
	End   time.Time
}

// MonthWindow returns the calendar window of the month containing t, in UTC.
func MonthWindow(t time.Time) Window {
	y, m, _ := t.Date()
	start := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0).Add(-time.Nanosecond)
	return Window{Start: start, End: end}
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Key returns the YYYY-MM label of the window.
func (w Window) Key() string {
	return w.Start.Format(MonthLayout)
}

// monthsBetween returns the number of calendar months from a to b.
func monthsBetween(a, b time.Time) int {
	return (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
}

// containsDate compares calendar dates, ignoring the time zone a timestamp
// was stored with.
func (w Window) containsDate(t time.Time) bool {
	y, m, d := t.Date()
	return w.Contains(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
}
