package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCalendarHelpers(t *testing.T) {
	// Sunday evening in Almaty.
	ts := time.Date(2026, time.March, 15, 21, 30, 0, 0, AlmatyTZ)

	assert.Equal(t, time.Date(2026, time.March, 15, 0, 0, 0, 0, AlmatyTZ), StartOfDay(ts))
	assert.Equal(t, time.Date(2026, time.March, 9, 0, 0, 0, 0, AlmatyTZ), StartOfWeek(ts))
	assert.Equal(t, time.Date(2026, time.March, 1, 0, 0, 0, 0, AlmatyTZ), StartOfMonth(ts))
}

func TestDateKey_UsesLocation(t *testing.T) {
	// 20:00 UTC is already the next day in Almaty.
	ts := time.Date(2026, time.March, 15, 20, 0, 0, 0, time.UTC)

	assert.Equal(t, "2026-03-15", DateKey(ts, time.UTC))
	assert.Equal(t, "2026-03-16", DateKey(ts, AlmatyTZ))
}

func TestFixedClock(t *testing.T) {
	start := time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)
	c := NewFixedClock(start)

	c.Advance(36 * time.Hour)
	assert.Equal(t, start.Add(36*time.Hour), c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}
