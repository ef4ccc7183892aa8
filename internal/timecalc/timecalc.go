package timecalc

import (
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/Tiliavir/t2r/internal/apperr"
)

// DayLayout is the canonical calendar-day format used in storage and URLs.
const DayLayout = "2006-01-02"

// ParseDay parses a calendar day in any common notation and returns local
// midnight of that day.
func ParseDay(text string, loc *time.Location) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, &apperr.FormatError{Expect: "a date such as " + DayLayout}
	}
	if loc == nil {
		loc = time.Local
	}
	t, err := dateparse.ParseIn(text, loc)
	if err != nil {
		return time.Time{}, &apperr.FormatError{Input: text, Expect: "a date such as " + DayLayout}
	}
	return StartOfDay(t), nil
}

// ParseInstant parses a point in time in any common notation. Values
// without a zone are read in loc.
func ParseInstant(text string, loc *time.Location) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, &apperr.FormatError{Expect: "a date or timestamp"}
	}
	if loc == nil {
		loc = time.Local
	}
	t, err := dateparse.ParseIn(text, loc)
	if err != nil {
		return time.Time{}, &apperr.FormatError{Input: text, Expect: "a date or timestamp"}
	}
	return t, nil
}

// FormatDuration formats seconds as a human-readable string like "1h 40m" or "45m" or "30s".
func FormatDuration(seconds int64) string {
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	if m > 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%ds", s)
}

// DayRange returns the first and last second of the day containing t.
func DayRange(t time.Time) (time.Time, time.Time) {
	return StartOfDay(t), EndOfDay(t)
}

// StartOfDay returns 00:00:00 of the same day.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// EndOfDay returns 23:59:59 of the same day.
func EndOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
}
