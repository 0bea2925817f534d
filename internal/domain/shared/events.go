// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types emitted by the progression engine.
// Events are ephemeral: the engine never persists them itself.
const (
	EventXPGranted           EventType = "xp_granted"
	EventLevelUp             EventType = "level_up"
	EventStreakChanged       EventType = "streak_changed"
	EventAchievementUnlocked EventType = "achievement_unlocked"
	EventRankChanged         EventType = "rank_changed"
)

// AllEventTypes lists every event type in emission order.
var AllEventTypes = []EventType{
	EventXPGranted,
	EventLevelUp,
	EventStreakChanged,
	EventAchievementUnlocked,
	EventRankChanged,
}

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the user the event belongs to.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event stamped with the supplied instant.
// The instant comes from the engine clock, never from wall time.
func NewBaseEvent(eventType EventType, userID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: userID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// XP Events
// ═══════════════════════════════════════════════════════════════════════════

// XPGrantedEvent is emitted when a user's total XP grows.
type XPGrantedEvent struct {
	BaseEvent
	Amount   int    `json:"amount"`
	NewTotal int    `json:"new_total"`
	Source   string `json:"source"`
}

// Payload implements Event interface.
func (e XPGrantedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"amount":    e.Amount,
		"new_total": e.NewTotal,
		"source":    e.Source,
	}
}

// NewXPGrantedEvent creates a new XPGrantedEvent.
func NewXPGrantedEvent(userID string, amount, newTotal int, source string, at time.Time) XPGrantedEvent {
	return XPGrantedEvent{
		BaseEvent: NewBaseEvent(EventXPGranted, userID, at),
		Amount:    amount,
		NewTotal:  newTotal,
		Source:    source,
	}
}

// LevelUpEvent is emitted when a user crosses one or more level boundaries.
type LevelUpEvent struct {
	BaseEvent
	OldLevel     int `json:"old_level"`
	NewLevel     int `json:"new_level"`
	LevelsGained int `json:"levels_gained"`
}

// Payload implements Event interface.
func (e LevelUpEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"old_level":     e.OldLevel,
		"new_level":     e.NewLevel,
		"levels_gained": e.LevelsGained,
	}
}

// NewLevelUpEvent creates a new LevelUpEvent.
func NewLevelUpEvent(userID string, oldLevel, newLevel int, at time.Time) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent:    NewBaseEvent(EventLevelUp, userID, at),
		OldLevel:     oldLevel,
		NewLevel:     newLevel,
		LevelsGained: newLevel - oldLevel,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Streak Events
// ═══════════════════════════════════════════════════════════════════════════

// StreakChangedEvent is emitted when the daily streak counter moves.
type StreakChangedEvent struct {
	BaseEvent
	OldStreak   int  `json:"old_streak"`
	NewStreak   int  `json:"new_streak"`
	Longest     int  `json:"longest"`
	IsNewRecord bool `json:"is_new_record"`
	WasReset    bool `json:"was_reset"`
}

// Payload implements Event interface.
func (e StreakChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"old_streak":    e.OldStreak,
		"new_streak":    e.NewStreak,
		"longest":       e.Longest,
		"is_new_record": e.IsNewRecord,
		"was_reset":     e.WasReset,
	}
}

// NewStreakChangedEvent creates a new StreakChangedEvent.
func NewStreakChangedEvent(userID string, oldStreak, newStreak, longest int, isNewRecord bool, at time.Time) StreakChangedEvent {
	return StreakChangedEvent{
		BaseEvent:   NewBaseEvent(EventStreakChanged, userID, at),
		OldStreak:   oldStreak,
		NewStreak:   newStreak,
		Longest:     longest,
		IsNewRecord: isNewRecord,
		WasReset:    newStreak < oldStreak,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Achievement Events
// ═══════════════════════════════════════════════════════════════════════════

// AchievementUnlockedEvent is emitted once per newly unlocked achievement.
type AchievementUnlockedEvent struct {
	BaseEvent
	AchievementID       string `json:"achievement_id"`
	Name                string `json:"name"`
	RewardXP            int    `json:"reward_xp"`
	RewardStreakFreezes int    `json:"reward_streak_freezes"`
}

// Payload implements Event interface.
func (e AchievementUnlockedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"achievement_id":        e.AchievementID,
		"name":                  e.Name,
		"reward_xp":             e.RewardXP,
		"reward_streak_freezes": e.RewardStreakFreezes,
	}
}

// NewAchievementUnlockedEvent creates a new AchievementUnlockedEvent.
func NewAchievementUnlockedEvent(userID, achievementID, name string, rewardXP, rewardFreezes int, at time.Time) AchievementUnlockedEvent {
	return AchievementUnlockedEvent{
		BaseEvent:           NewBaseEvent(EventAchievementUnlocked, userID, at),
		AchievementID:       achievementID,
		Name:                name,
		RewardXP:            rewardXP,
		RewardStreakFreezes: rewardFreezes,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Rank Events
// ═══════════════════════════════════════════════════════════════════════════

// RankChangedEvent is emitted when a user's stored rank differs from the
// freshly computed one.
type RankChangedEvent struct {
	BaseEvent
	Metric  Metric `json:"metric"`
	OldRank int    `json:"old_rank"`
	NewRank int    `json:"new_rank"`
}

// Payload implements Event interface.
func (e RankChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"metric":   string(e.Metric),
		"old_rank": e.OldRank,
		"new_rank": e.NewRank,
	}
}

// MovedUp returns true if the user climbed.
func (e RankChangedEvent) MovedUp() bool {
	return e.OldRank == 0 || e.NewRank < e.OldRank
}

// NewRankChangedEvent creates a new RankChangedEvent.
func NewRankChangedEvent(userID string, metric Metric, oldRank, newRank int, at time.Time) RankChangedEvent {
	return RankChangedEvent{
		BaseEvent: NewBaseEvent(EventRankChanged, userID, at),
		Metric:    metric,
		OldRank:   oldRank,
		NewRank:   newRank,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Handler Types
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
