// Package period scopes every entry query to an explicit calendar window.
//
// Rows from closed months are relocated out of the live tables by an external
// archival job, so callers never scan "everything": they pass a day or a month
// window and the stores refuse anything wider than MaxSpan.
package period

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DayLayout   = "2006-01-02"
	MonthLayout = "2006-01"

	// MaxSpan is the widest window a store will list: one calendar month.
	MaxSpan = 31 * 24 * time.Hour
)

var ErrInvalidWindow = errors.New("invalid query window")

// Window is the half-open interval [From, To) of calendar days in UTC.
type Window struct {
	From time.Time
	To   time.Time
}

// Day drops the clock part of t, keeping t's own calendar date.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func MonthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func DayWindow(day time.Time) Window {
	from := Day(day)
	return Window{From: from, To: from.AddDate(0, 0, 1)}
}

func MonthWindow(month time.Time) Window {
	from := MonthStart(month)
	return Window{From: from, To: from.AddDate(0, 1, 0)}
}

func ParseDay(raw string) (time.Time, error) {
	parsed, err := time.Parse(DayLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("day must be formatted as YYYY-MM-DD: %w", err)
	}
	return parsed, nil
}

// ParseMonth accepts "2006-01" or a full day and returns the first of the month.
func ParseMonth(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if parsed, err := time.Parse(MonthLayout, trimmed); err == nil {
		return parsed, nil
	}
	parsed, err := time.Parse(DayLayout, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("month must be formatted as YYYY-MM: %w", err)
	}
	return MonthStart(parsed), nil
}

func FormatDay(t time.Time) string {
	return Day(t).Format(DayLayout)
}

func FormatMonth(t time.Time) string {
	return MonthStart(t).Format(MonthLayout)
}

// Validate rejects empty, inverted and unbounded windows.
func (w Window) Validate() error {
	if w.From.IsZero() || w.To.IsZero() {
		return fmt.Errorf("%w: both bounds are required", ErrInvalidWindow)
	}
	if !w.To.After(w.From) {
		return fmt.Errorf("%w: end %s is not after start %s", ErrInvalidWindow, FormatDay(w.To), FormatDay(w.From))
	}
	if w.To.Sub(w.From) > MaxSpan {
		return fmt.Errorf("%w: %s..%s is wider than one month", ErrInvalidWindow, FormatDay(w.From), FormatDay(w.To))
	}
	return nil
}

func (w Window) Contains(t time.Time) bool {
	day := Day(t)
	return !day.Before(w.From) && day.Before(w.To)
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", FormatDay(w.From), FormatDay(w.To))
}
