package scheduler

import (
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// FallbackInterval is used when a cron expression cannot be evaluated.
// Scheduling degrades to hourly instead of failing the tick.
const FallbackInterval = time.Hour

// NextRun evaluates a simplified cron subset against from and returns the
// next fire time. Supported forms: @hourly, @daily/@midnight, @weekly,
// @monthly, 5-field expressions with */N steps on the minute or hour field,
// and exact "minute hour * * *" times of day. Anything else falls back to
// one hour from now.
func NextRun(expression string, from time.Time) time.Time {
	switch strings.TrimSpace(expression) {
	case "@hourly":
		return from.Add(time.Hour)
	case "@daily", "@midnight":
		return nextMidnight(from)
	case "@weekly":
		return nextWeekday(from, time.Sunday)
	case "@monthly":
		return nextMonthStart(from)
	}

	fields := strings.Fields(expression)
	if len(fields) != 5 {
		return from.Add(FallbackInterval)
	}

	minute, hour := fields[0], fields[1]

	if step, ok := stepValue(minute); ok && hour == "*" {
		return from.Add(time.Duration(step) * time.Minute)
	}

	if step, ok := stepValue(hour); ok {
		return from.Add(time.Duration(step) * time.Hour)
	}

	return nextTimeOfDay(fields, from)
}

// Parseable reports whether the expression is accepted by a standard cron
// parser. Used as a save-time check so obviously broken expressions are
// rejected before a trigger silently degrades to hourly scheduling.
func Parseable(expression string) bool {
	_, err := cron.ParseStandard(expression)

	return err == nil
}

func stepValue(field string) (int, bool) {
	rest, found := strings.CutPrefix(field, "*/")
	if !found {
		return 0, false
	}

	step, err := strconv.Atoi(rest)
	if err != nil || step <= 0 {
		return 0, false
	}

	return step, true
}

// nextTimeOfDay handles "minute hour * * *": today if the time has not
// passed yet, otherwise tomorrow.
func nextTimeOfDay(fields []string, from time.Time) time.Time {
	minute, err := strconv.Atoi(fields[0])
	if err != nil || minute < 0 || minute > 59 {
		return from.Add(FallbackInterval)
	}

	hour, err := strconv.Atoi(fields[1])
	if err != nil || hour < 0 || hour > 23 {
		return from.Add(FallbackInterval)
	}

	if fields[2] != "*" || fields[3] != "*" || fields[4] != "*" {
		return from.Add(FallbackInterval)
	}

	next := time.Date(from.Year(), from.Month(), from.Day(), hour, minute, 0, 0, from.Location())
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}

	return next
}

func nextMidnight(from time.Time) time.Time {
	midnight := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())

	return midnight.AddDate(0, 0, 1)
}

func nextWeekday(from time.Time, weekday time.Weekday) time.Time {
	days := int(weekday - from.Weekday())
	if days <= 0 {
		days += 7
	}

	next := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())

	return next.AddDate(0, 0, days)
}

func nextMonthStart(from time.Time) time.Time {
	return time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, from.Location()).AddDate(0, 1, 0)
}
