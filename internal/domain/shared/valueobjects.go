// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// XP Value Object (Experience Points)
// ═══════════════════════════════════════════════════════════════════════════

// XP represents experience points earned by a user.
type XP int

// XPPerLevel is the width of one level band.
const XPPerLevel = 1000

// IsValid checks if the XP value is non-negative.
func (x XP) IsValid() bool {
	return x >= 0
}

// Int returns the underlying int value.
func (x XP) Int() int {
	return int(x)
}

// Level derives the level from total XP: floor(xp / 1000) + 1.
func (x XP) Level() Level {
	if x <= 0 {
		return MinLevel
	}
	return Level(int(x)/XPPerLevel + 1)
}

// ProgressToNextLevel returns percentage progress to next level (0-99).
func (x XP) ProgressToNextLevel() int {
	if x <= 0 {
		return 0
	}
	return (int(x) % XPPerLevel) * 100 / XPPerLevel
}

// NewXP creates a new XP value with validation.
func NewXP(amount int) (XP, error) {
	if amount < 0 {
		return 0, NewDomainError("shared", "NewXP", ErrNegativeValue, "XP cannot be negative")
	}
	return XP(amount), nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Level Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Level represents a user's level.
type Level int

// MinLevel is the level of a user with zero XP.
const MinLevel Level = 1

// IsValid checks if the level is positive.
func (l Level) IsValid() bool {
	return l >= MinLevel
}

// Int returns the underlying int value.
func (l Level) Int() int {
	return int(l)
}

// RequiredXP returns the total XP required to reach this level.
func (l Level) RequiredXP() int {
	if l <= MinLevel {
		return 0
	}
	return (int(l) - 1) * XPPerLevel
}

// ═══════════════════════════════════════════════════════════════════════════
// Rank Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Rank represents a user's ordinal position under a metric.
type Rank int

const (
	MinRank  Rank = 1
	Unranked Rank = 0 // Not yet ranked
)

// IsValid checks if the rank is valid.
func (r Rank) IsValid() bool {
	return r >= MinRank
}

// Int returns the underlying int value.
func (r Rank) Int() int {
	return int(r)
}

// IsUnranked checks if the user is not yet ranked.
func (r Rank) IsUnranked() bool {
	return r == Unranked
}

// IsTop returns true if the rank is in the top N.
func (r Rank) IsTop(n int) bool {
	return r.IsValid() && int(r) <= n
}

// ═══════════════════════════════════════════════════════════════════════════
// Metric Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Metric names the value users are ranked by.
type Metric string

const (
	MetricXP     Metric = "xp"
	MetricLevel  Metric = "level"
	MetricStreak Metric = "streak"
)

// AllMetrics lists every supported ranking metric.
var AllMetrics = []Metric{MetricXP, MetricLevel, MetricStreak}

// IsValid checks if the metric is supported.
func (m Metric) IsValid() bool {
	switch m {
	case MetricXP, MetricLevel, MetricStreak:
		return true
	}
	return false
}

// String returns the string representation.
func (m Metric) String() string {
	return string(m)
}

// ParseMetric parses a metric name.
func ParseMetric(s string) (Metric, error) {
	m := Metric(s)
	if !m.IsValid() {
		return "", ErrUnknownMetric
	}
	return m, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// TimeRange Value Object
// ═══════════════════════════════════════════════════════════════════════════

// TimeRange represents a time period. A zero From means "no lower bound".
type TimeRange struct {
	From time.Time
	To   time.Time
}

// IsUnbounded reports whether the range has no lower bound.
func (t TimeRange) IsUnbounded() bool {
	return t.From.IsZero()
}

// Contains checks if a time is within the range.
func (t TimeRange) Contains(tm time.Time) bool {
	if !t.From.IsZero() && tm.Before(t.From) {
		return false
	}
	if !t.To.IsZero() && tm.After(t.To) {
		return false
	}
	return true
}

// NewTimeRange creates a new TimeRange with validation.
func NewTimeRange(from, to time.Time) (TimeRange, error) {
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return TimeRange{}, NewDomainError("shared", "NewTimeRange", ErrInvalidInput, "'from' must be before 'to'")
	}
	return TimeRange{From: from, To: to}, nil
}
