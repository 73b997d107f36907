// Package timeparse implements C1, the time parser: a pure function from
// (text, now, timezone) to an absolute instant or a partial match. It never
// consults the wall clock itself — now is always injected by the caller so
// parsing stays deterministic and testable without real sleeps, the same
// discipline the teacher applies to CalculateNextSendAt.
package timeparse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/reminder-core/reminder/internal/domain/entities"
)

// Result is what Parse produces. At is nil when only a Partial could be
// resolved (e.g. a bare weekday with no time-of-day).
type Result struct {
	At      *time.Time
	Partial entities.Partial
}

// UnrecognizedTokenError identifies which token of the input failed to
// parse, per spec.md §4.1 ("never throw; return a structured error").
type UnrecognizedTokenError struct {
	Token string
}

func (e *UnrecognizedTokenError) Error() string {
	return fmt.Sprintf("timeparse: unrecognized token %q", e.Token)
}

var (
	isoDateTimeRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})(?:[ t](\d{2}:\d{2}(?::\d{2})?))?$`)
	atTimeRe      = regexp.MustCompile(`^at\s+(\d{1,2})(?::(\d{2}))?\s*(am|pm)?$`)
	relativeRe    = regexp.MustCompile(`^in\s+(\d+)\s*(minute|minutes|min|m|hour|hours|h|day|days|d|week|weeks)$`)
	namedDayRe    = regexp.MustCompile(`^(tomorrow|today|monday|tuesday|wednesday|thursday|friday|saturday|sunday)(?:\s+(?:at|by)\s+(.+))?$`)
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Parse recognizes the surface forms listed in spec.md §4.1. now and loc
// are always supplied by the caller; Parse consults neither time.Now() nor
// time.Local.
func Parse(text string, now time.Time, loc *time.Location) (Result, error) {
	norm := normalize(text)
	if norm == "" {
		return Result{}, &UnrecognizedTokenError{Token: text}
	}
	nowLocal := now.In(loc)

	switch norm {
	case "tonight":
		return Result{At: ptr(atLocalTime(nowLocal, 20, 0))}, nil
	case "morning":
		return Result{At: ptr(atLocalTime(nowLocal, 9, 0))}, nil
	case "afternoon":
		return Result{At: ptr(atLocalTime(nowLocal, 14, 0))}, nil
	case "evening":
		return Result{At: ptr(atLocalTime(nowLocal, 19, 0))}, nil
	}

	if m := isoDateTimeRe.FindStringSubmatch(norm); m != nil {
		return parseISO(m, loc)
	}

	if m := atTimeRe.FindStringSubmatch(norm); m != nil {
		return parseAtTime(m, nowLocal)
	}

	if m := relativeRe.FindStringSubmatch(norm); m != nil {
		return parseRelative(m, now)
	}

	if m := namedDayRe.FindStringSubmatch(norm); m != nil {
		return parseNamedDay(m, nowLocal, loc)
	}

	return Result{}, &UnrecognizedTokenError{Token: text}
}

func normalize(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(strings.TrimSpace(text)), " "))
}

func ptr(t time.Time) *time.Time { return &t }

func atLocalTime(base time.Time, hour, minute int) time.Time {
	return time.Date(base.Year(), base.Month(), base.Day(), hour, minute, 0, 0, base.Location())
}

func parseISO(m []string, loc *time.Location) (Result, error) {
	datePart := m[1]
	timePart := m[2]
	layout := "2006-01-02"
	value := datePart
	if timePart != "" {
		if strings.Count(timePart, ":") == 2 {
			layout = "2006-01-02 15:04:05"
		} else {
			layout = "2006-01-02 15:04"
		}
		value = datePart + " " + timePart
	}
	t, err := time.ParseInLocation(layout, value, loc)
	if err != nil {
		return Result{}, &UnrecognizedTokenError{Token: value}
	}
	return Result{At: ptr(t)}, nil
}

// parseAtTime resolves "at HH[:MM][am|pm]" to today at that local time. Per
// spec.md §4.1, if the time is already past today it is NOT rolled forward
// — the resulting instant is left in the past for the caller's sanity gate.
func parseAtTime(m []string, nowLocal time.Time) (Result, error) {
	hour, err := strconv.Atoi(m[1])
	if err != nil {
		return Result{}, &UnrecognizedTokenError{Token: m[1]}
	}
	minute := 0
	if m[2] != "" {
		minute, err = strconv.Atoi(m[2])
		if err != nil {
			return Result{}, &UnrecognizedTokenError{Token: m[2]}
		}
	}
	meridiem := m[3]
	switch meridiem {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return Result{}, &UnrecognizedTokenError{Token: fmt.Sprintf("%d:%d", hour, minute)}
	}
	return Result{At: ptr(atLocalTime(nowLocal, hour, minute))}, nil
}

var unitSeconds = map[string]time.Duration{
	"minute": time.Minute, "minutes": time.Minute, "min": time.Minute, "m": time.Minute,
	"hour": time.Hour, "hours": time.Hour, "h": time.Hour,
	"day": 24 * time.Hour, "days": 24 * time.Hour, "d": 24 * time.Hour,
	"week": 7 * 24 * time.Hour, "weeks": 7 * 24 * time.Hour,
}

func parseRelative(m []string, now time.Time) (Result, error) {
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 0 {
		return Result{}, &UnrecognizedTokenError{Token: m[1]}
	}
	unit, ok := unitSeconds[m[2]]
	if !ok {
		return Result{}, &UnrecognizedTokenError{Token: m[2]}
	}
	t := now.Add(time.Duration(n) * unit)
	return Result{At: ptr(t)}, nil
}

func parseNamedDay(m []string, nowLocal time.Time, loc *time.Location) (Result, error) {
	day := m[1]
	timeExpr := strings.TrimSpace(m[2])

	var targetDate time.Time
	switch day {
	case "today":
		targetDate = nowLocal
	case "tomorrow":
		targetDate = nowLocal.AddDate(0, 0, 1)
	default:
		wd, ok := weekdays[day]
		if !ok {
			return Result{}, &UnrecognizedTokenError{Token: day}
		}
		targetDate = nextWeekdayStrictlyAfter(nowLocal, wd)
	}

	if timeExpr == "" {
		return Result{Partial: entities.Partial{Day: day}}, nil
	}

	timeOnly, err := Parse("at "+timeExpr, nowLocal, loc)
	if err != nil || timeOnly.At == nil {
		// allow bare "4:30 pm" style without "at" prefix already handled by the
		// "at " prefix above; anything else is unrecognized.
		return Result{}, &UnrecognizedTokenError{Token: timeExpr}
	}
	hour, minute := timeOnly.At.Hour(), timeOnly.At.Minute()
	result := atLocalTime(targetDate, hour, minute)
	return Result{At: &result}, nil
}

// nextWeekdayStrictlyAfter returns the next occurrence of wd that is
// strictly later than now (spec.md §4.1: "selects the next occurrence
// strictly > now in tz").
func nextWeekdayStrictlyAfter(now time.Time, wd time.Weekday) time.Time {
	d := now
	for {
		d = d.AddDate(0, 0, 1)
		if d.Weekday() == wd {
			return d
		}
	}
}
