package redis

import (
	"context"
	"time"

	"github.com/alem-hub/progression-engine/internal/domain/shared"
	"github.com/alem-hub/progression-engine/internal/infrastructure/messaging"
)

// NotificationSink implements progression.NotificationSink over Redis
// pub/sub. Each user has a channel "progression:{userId}" carrying JSON
// envelopes.
type NotificationSink struct {
	cache *Cache
}

// NewNotificationSink creates a sink on the shared client.
func NewNotificationSink(cache *Cache) *NotificationSink {
	return &NotificationSink{cache: cache}
}

// Publish implements progression.NotificationSink.
func (s *NotificationSink) Publish(ctx context.Context, userID string, eventType shared.EventType, payload map[string]interface{}) error {
	env := messaging.Envelope{
		UserID:     userID,
		Type:       eventType,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}
	return s.cache.Publish(ctx, NotificationChannel(userID), env)
}
