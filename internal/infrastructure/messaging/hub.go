package messaging

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION HUB
// ══════════════════════════════════════════════════════════════════════════════

// Subscription is a connected client listening for one user's notifications.
type Subscription struct {
	ID          string
	UserID      string
	ConnectedAt time.Time
	Events      chan Envelope
}

// Hub is an in-process progression.NotificationSink. Delivery is
// non-blocking: a subscriber whose buffer is full misses the notification.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]*Subscription
	bufferSize int
	logger     *slog.Logger
	closed     bool

	delivered atomic.Int64
	dropped   atomic.Int64
}

// NewHub creates a notification hub.
func NewHub(bufferSize int, logger *slog.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[string]*Subscription),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// Subscribe registers a client for a user. An empty userID receives
// notifications for every user.
func (h *Hub) Subscribe(userID string) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrEventBusClosed
	}

	sub := &Subscription{
		ID:          uuid.NewString(),
		UserID:      userID,
		ConnectedAt: time.Now(),
		Events:      make(chan Envelope, h.bufferSize),
	}
	h.clients[sub.ID] = sub

	h.logger.Debug("notification client subscribed",
		slog.String("client_id", sub.ID),
		slog.String("user_id", userID),
	)
	return sub, nil
}

// Unsubscribe removes a client and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.clients[id]
	if !ok {
		return
	}
	delete(h.clients, id)
	close(sub.Events)
}

// Publish implements progression.NotificationSink.
func (h *Hub) Publish(_ context.Context, userID string, eventType shared.EventType, payload map[string]interface{}) error {
	env := Envelope{
		UserID:     userID,
		Type:       eventType,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return ErrEventBusClosed
	}

	for _, sub := range h.clients {
		if sub.UserID != "" && sub.UserID != userID {
			continue
		}
		select {
		case sub.Events <- env:
			h.delivered.Add(1)
		default:
			h.dropped.Add(1)
			h.logger.Warn("dropped notification for slow client",
				slog.String("client_id", sub.ID),
				slog.String("event_type", string(eventType)),
			)
		}
	}
	return nil
}

// Stats returns delivered and dropped counters.
func (h *Hub) Stats() (delivered, dropped int64) {
	return h.delivered.Load(), h.dropped.Load()
}

// Close disconnects all clients.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	for id, sub := range h.clients {
		close(sub.Events)
		delete(h.clients, id)
	}
	return nil
}
