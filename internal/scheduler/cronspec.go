package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule modes the job form offers.
const (
	ModeDaily   = "daily"
	ModeWeekly  = "weekly"
	ModeMonthly = "monthly"
)

var weekdayNames = [7]string{
	"Sonntag", "Montag", "Dienstag", "Mittwoch", "Donnerstag", "Freitag", "Samstag",
}

// Weekday is one weekday option for the job form, Value in cron
// numbering.
type Weekday struct {
	Value int
	Name  string
}

// Weekdays returns the weekday options in German week order, Monday
// first.
func Weekdays() []Weekday {
	order := [7]int{1, 2, 3, 4, 5, 6, 0}
	out := make([]Weekday, 0, len(order))
	for _, v := range order {
		out = append(out, Weekday{Value: v, Name: weekdayNames[v]})
	}
	return out
}

// BuildSpec converts a schedule mode plus time fields into a five-field
// cron spec. weekday follows cron numbering, 0 is Sunday.
func BuildSpec(mode string, hour, minute, weekday, day int) (string, error) {
	if hour < 0 || hour > 23 {
		return "", fmt.Errorf("hour %d out of range 0-23", hour)
	}
	if minute < 0 || minute > 59 {
		return "", fmt.Errorf("minute %d out of range 0-59", minute)
	}

	switch mode {
	case ModeDaily:
		return fmt.Sprintf("%d %d * * *", minute, hour), nil
	case ModeWeekly:
		if weekday < 0 || weekday > 6 {
			return "", fmt.Errorf("weekday %d out of range 0-6", weekday)
		}
		return fmt.Sprintf("%d %d * * %d", minute, hour, weekday), nil
	case ModeMonthly:
		if day < 1 || day > 31 {
			return "", fmt.Errorf("day %d out of range 1-31", day)
		}
		return fmt.Sprintf("%d %d %d * *", minute, hour, day), nil
	default:
		return "", fmt.Errorf("unknown schedule mode %q", mode)
	}
}

// Validate checks a cron spec against the standard five-field format.
func Validate(spec string) error {
	_, err := cron.ParseStandard(spec)
	return err
}

// NextRun returns the first firing time after the given instant.
func NextRun(spec string, after time.Time) (time.Time, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(after), nil
}

// SpecFields is the builder view of a cron spec, the inverse of
// BuildSpec. The job form uses it to prefill the schedule fields.
type SpecFields struct {
	Mode    string
	Hour    int
	Minute  int
	Weekday int
	Day     int
}

// ParseSpec recognizes the specs BuildSpec produces. ok is false for
// anything more exotic; those edit as a raw cron spec.
func ParseSpec(spec string) (SpecFields, bool) {
	fields := strings.Fields(spec)
	if len(fields) != 5 {
		return SpecFields{}, false
	}
	minute, err := strconv.Atoi(fields[0])
	if err != nil {
		return SpecFields{}, false
	}
	hour, err := strconv.Atoi(fields[1])
	if err != nil {
		return SpecFields{}, false
	}
	sf := SpecFields{Hour: hour, Minute: minute, Day: 1}

	switch {
	case fields[2] == "*" && fields[3] == "*" && fields[4] == "*":
		sf.Mode = ModeDaily
		return sf, true
	case fields[2] == "*" && fields[3] == "*":
		wd, err := strconv.Atoi(fields[4])
		if err != nil || wd < 0 || wd > 6 {
			return SpecFields{}, false
		}
		sf.Mode = ModeWeekly
		sf.Weekday = wd
		return sf, true
	case fields[3] == "*" && fields[4] == "*":
		dom, err := strconv.Atoi(fields[2])
		if err != nil || dom < 1 || dom > 31 {
			return SpecFields{}, false
		}
		sf.Mode = ModeMonthly
		sf.Day = dom
		return sf, true
	}
	return SpecFields{}, false
}

// Describe renders the simple specs BuildSpec produces as German prose.
// Anything more exotic comes back unchanged.
func Describe(spec string) string {
	fields := strings.Fields(spec)
	if len(fields) != 5 {
		return spec
	}
	minute, err := strconv.Atoi(fields[0])
	if err != nil {
		return spec
	}
	hour, err := strconv.Atoi(fields[1])
	if err != nil {
		return spec
	}
	clock := fmt.Sprintf("%02d:%02d Uhr", hour, minute)

	switch {
	case fields[2] == "*" && fields[3] == "*" && fields[4] == "*":
		return "täglich um " + clock
	case fields[2] == "*" && fields[3] == "*":
		if wd, err := strconv.Atoi(fields[4]); err == nil && wd >= 0 && wd <= 6 {
			return "wöchentlich am " + weekdayNames[wd] + " um " + clock
		}
	case fields[3] == "*" && fields[4] == "*":
		if dom, err := strconv.Atoi(fields[2]); err == nil {
			return fmt.Sprintf("monatlich am %d. um %s", dom, clock)
		}
	}
	return spec
}
