// Package dates classifies member date fields against a calendar day:
// anniversaries that recur yearly on month and day, and events that recur
// every N whole months. Classification is pure; only year, month and day
// of the inputs are consulted.
package dates

import (
	"fmt"
	"time"
)

// Kind selects how a date field recurs.
type Kind string

const (
	// KindAnniversary recurs yearly on the original month and day.
	KindAnniversary Kind = "ANNIVERSARY"
	// KindEvent recurs every FrequencyMonths whole months.
	KindEvent Kind = "EVENT"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindAnniversary || k == KindEvent
}

// Default round-year sets for the two standard fields.
var (
	DefaultRoundYears       = []int{10, 20, 30, 40, 50, 60, 70, 75, 80, 85, 90, 95, 100}
	DefaultSecondRoundYears = []int{5, 10, 25, 40, 50, 60, 70}
)

// RoundRule decides which elapsed-year counts are round. Every takes
// precedence when positive (every Nth year is round); otherwise Years
// is consulted as an explicit list.
type RoundRule struct {
	Every int
	Years []int
}

// Matches reports whether years counts as round under the rule.
func (r RoundRule) Matches(years int) bool {
	if years <= 0 {
		return false
	}
	if r.Every > 0 {
		return years%r.Every == 0
	}
	for _, y := range r.Years {
		if y == years {
			return true
		}
	}
	return false
}

// Field describes one configurable member date field.
type Field struct {
	Key             string
	Label           string
	Kind            Kind
	FrequencyMonths int
	Round           RoundRule
}

// Classification is the outcome of classifying one date value against one
// calendar day.
type Classification struct {
	Due        bool
	Years      int // full years elapsed; anniversary kind only
	Occurrence int // recurrence count; event kind only
	Round      bool
}

// Classify reports whether value is due on today under the field's rules.
func Classify(value, today time.Time, f Field) Classification {
	if f.Kind == KindEvent {
		return classifyEvent(value, today, f)
	}
	return classifyAnniversary(value, today, f)
}

func classifyAnniversary(value, today time.Time, f Field) Classification {
	var c Classification
	if today.Month() != value.Month() {
		return c
	}
	if today.Day() != ObservedDay(today.Year(), value.Month(), value.Day()) {
		return c
	}
	years := today.Year() - value.Year()
	if years < 0 {
		return c
	}
	c.Due = true
	c.Years = years
	c.Round = f.Round.Matches(years)
	return c
}

func classifyEvent(value, today time.Time, f Field) Classification {
	var c Classification
	freq := f.FrequencyMonths
	if freq <= 0 {
		freq = 12
	}
	months := MonthsBetween(value, today)
	if months < 0 || months%freq != 0 {
		return c
	}
	if today.Day() != ObservedDay(today.Year(), today.Month(), value.Day()) {
		return c
	}
	c.Due = true
	c.Occurrence = months / freq
	return c
}

// MonthsBetween returns the whole-month offset from a to b, ignoring days.
// Negative when b is in an earlier month than a.
func MonthsBetween(a, b time.Time) int {
	return (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
}

// CompletedYears returns the whole years from value to today. A year counts
// once its observed anniversary day is reached, so on the due day the count
// equals the classification's Years. Negative for future dates.
func CompletedYears(value, today time.Time) int {
	years := today.Year() - value.Year()
	day := ObservedDay(today.Year(), value.Month(), value.Day())
	if int(today.Month())*100+today.Day() < int(value.Month())*100+day {
		years--
	}
	return years
}

// CompletedOccurrences returns how many times an event recurring every freq
// whole months has come around by today. On a due day it equals the
// classification's Occurrence.
func CompletedOccurrences(value, today time.Time, freq int) int {
	if freq <= 0 {
		freq = 12
	}
	months := MonthsBetween(value, today)
	if today.Day() < ObservedDay(today.Year(), today.Month(), value.Day()) {
		months--
	}
	if months < 0 {
		return 0
	}
	return months / freq
}

// ObservedDay maps a nominal day of month into the given month. Days past
// the month's end are observed on its last day: Feb 29 falls on Feb 28 in
// common years, the 31st on the 30th in short months. A date is due only
// on the observed day, never shifted into the following month.
func ObservedDay(year int, month time.Month, nominal int) int {
	if last := DaysIn(year, month); nominal > last {
		return last
	}
	return nominal
}

// DaysIn returns the number of days in the month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Parse parses an ISO date (2006-01-02).
func Parse(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// MustParse is Parse for tests and fixtures; it panics on malformed input.
func MustParse(s string) time.Time {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}
