package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextRun_Hourly(t *testing.T) {
	from := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

	assert.Equal(t, from.Add(time.Hour), NextRun("@hourly", from))
}

func TestNextRun_Daily(t *testing.T) {
	from := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	want := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, want, NextRun("@daily", from))
	assert.Equal(t, want, NextRun("@midnight", from))
}

func TestNextRun_Weekly(t *testing.T) {
	// 2025-03-10 is a Monday; the next Sunday is the 16th.
	from := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	want := time.Date(2025, 3, 16, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, want, NextRun("@weekly", from))

	// From a Sunday the next fire is a full week out.
	sunday := time.Date(2025, 3, 16, 8, 0, 0, 0, time.UTC)
	wantNext := time.Date(2025, 3, 23, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, wantNext, NextRun("@weekly", sunday))
}

func TestNextRun_Monthly(t *testing.T) {
	from := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	want := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, want, NextRun("@monthly", from))

	// Year rollover.
	december := time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC)
	wantJanuary := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, wantJanuary, NextRun("@monthly", december))
}

func TestNextRun_MinuteStep(t *testing.T) {
	from := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

	assert.Equal(t, from.Add(15*time.Minute), NextRun("*/15 * * * *", from))
	assert.Equal(t, from.Add(time.Minute), NextRun("*/1 * * * *", from))
}

func TestNextRun_HourStep(t *testing.T) {
	from := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

	assert.Equal(t, from.Add(6*time.Hour), NextRun("0 */6 * * *", from))
}

func TestNextRun_TimeOfDay(t *testing.T) {
	from := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

	// Later today.
	assert.Equal(t,
		time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC),
		NextRun("0 18 * * *", from))

	// Already passed today, so tomorrow.
	assert.Equal(t,
		time.Date(2025, 3, 11, 9, 30, 0, 0, time.UTC),
		NextRun("30 9 * * *", from))

	// Exactly now still rolls to tomorrow.
	assert.Equal(t,
		time.Date(2025, 3, 11, 14, 30, 0, 0, time.UTC),
		NextRun("30 14 * * *", from))
}

func TestNextRun_Deterministic(t *testing.T) {
	from := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

	first := NextRun("*/15 * * * *", from)
	second := NextRun("*/15 * * * *", from)

	assert.Equal(t, first, second)
}

func TestNextRun_FallbackOnUnsupportedExpressions(t *testing.T) {
	from := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	want := from.Add(FallbackInterval)

	// Not parseable at all.
	assert.Equal(t, want, NextRun("not a cron", from))
	assert.Equal(t, want, NextRun("", from))

	// Wrong field count.
	assert.Equal(t, want, NextRun("0 18 *", from))

	// Day-of-month, month or weekday restrictions are unsupported.
	assert.Equal(t, want, NextRun("0 18 1 * *", from))
	assert.Equal(t, want, NextRun("0 18 * * 1", from))

	// Out-of-range values.
	assert.Equal(t, want, NextRun("61 18 * * *", from))
	assert.Equal(t, want, NextRun("0 25 * * *", from))

	// Broken steps.
	assert.Equal(t, want, NextRun("*/0 * * * *", from))
	assert.Equal(t, want, NextRun("*/x * * * *", from))
}

func TestParseable(t *testing.T) {
	assert.True(t, Parseable("@hourly"))
	assert.True(t, Parseable("*/15 * * * *"))
	assert.True(t, Parseable("30 9 * * *"))

	assert.False(t, Parseable("not a cron"))
	assert.False(t, Parseable("61 * * * *"))
	assert.False(t, Parseable(""))
}
