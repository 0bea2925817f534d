// Package timeutil provides the canonical engine clock and calendar helpers.
// Every "day" in the engine is a calendar day in the clock's location, so
// streak and daily-activity bucketing never depend on per-call wall time.
// No external dependencies - uses only standard library.
package timeutil

import (
	"sync"
	"time"
)

// AlmatyTZ is the Almaty timezone (UTC+5, no DST).
var AlmatyTZ = time.FixedZone("Asia/Almaty", 5*60*60)

// DateLayout is the layout used for daily activity bucket keys.
const DateLayout = "2006-01-02"

// Clock is the single source of "now" for the engine.
type Clock interface {
	// Now returns the current instant in the clock's location.
	Now() time.Time

	// Location returns the timezone that defines calendar days.
	Location() *time.Location
}

// ─────────────────────────────────────────────────────────────────────────────
// System clock
// ─────────────────────────────────────────────────────────────────────────────

// SystemClock reads wall time and converts it into a fixed location.
type SystemClock struct {
	loc *time.Location
}

// NewSystemClock creates a clock for the given location (UTC when nil).
func NewSystemClock(loc *time.Location) *SystemClock {
	if loc == nil {
		loc = time.UTC
	}
	return &SystemClock{loc: loc}
}

// Now implements Clock.
func (c *SystemClock) Now() time.Time {
	return time.Now().In(c.loc)
}

// Location implements Clock.
func (c *SystemClock) Location() *time.Location {
	return c.loc
}

// ─────────────────────────────────────────────────────────────────────────────
// Fixed clock (tests)
// ─────────────────────────────────────────────────────────────────────────────

// FixedClock is a frozen clock that only moves when told to.
type FixedClock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewFixedClock creates a clock frozen at t.
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{now: t}
}

// Now implements Clock.
func (c *FixedClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Location implements Clock.
func (c *FixedClock) Location() *time.Location {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now.Location()
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// ─────────────────────────────────────────────────────────────────────────────
// Calendar helpers
// ─────────────────────────────────────────────────────────────────────────────

// StartOfDay returns 00:00:00 of t's calendar day in t's location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// StartOfWeek returns Monday 00:00:00 of t's week.
func StartOfWeek(t time.Time) time.Time {
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday
	}
	return StartOfDay(t.AddDate(0, 0, -(weekday - 1)))
}

// StartOfMonth returns the first day of t's month at 00:00:00.
func StartOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// DateKey returns the YYYY-MM-DD bucket key for t in loc.
func DateKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}
