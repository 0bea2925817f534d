package messaging

import (
	"context"
	"log/slog"
	"time"

	"github.com/alem-hub/progression-engine/internal/domain/progression"
	"github.com/alem-hub/progression-engine/internal/domain/shared"
	"github.com/alem-hub/progression-engine/pkg/circuitbreaker"
)

// Notifier forwards bus events to a NotificationSink.
// Delivery failures are logged and never reach the publisher.
type Notifier struct {
	sink    progression.NotificationSink
	breaker *circuitbreaker.CircuitBreaker
	timeout time.Duration
	logger  *slog.Logger
}

// NewNotifier creates a notifier. A nil breaker disables circuit breaking.
func NewNotifier(sink progression.NotificationSink, breaker *circuitbreaker.CircuitBreaker, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		sink:    sink,
		breaker: breaker,
		timeout: 2 * time.Second,
		logger:  logger,
	}
}

// Attach subscribes the notifier to every event on the bus.
func (n *Notifier) Attach(bus shared.EventSubscriber) error {
	return bus.SubscribeAll(n.Handle)
}

// Handle delivers one event. It matches shared.EventHandler.
func (n *Notifier) Handle(event shared.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	deliver := func(ctx context.Context) error {
		return n.sink.Publish(ctx, event.AggregateID(), event.EventType(), event.Payload())
	}

	var err error
	if n.breaker != nil {
		err = n.breaker.Execute(ctx, deliver)
	} else {
		err = deliver(ctx)
	}

	if err != nil {
		n.logger.Warn("notification delivery failed",
			"event_type", event.EventType(),
			"user_id", event.AggregateID(),
			"error", err,
		)
	}
	return nil
}
