package providers

import (
	"context"
	"log/slog"

	"github.com/samber/do/v2"

	"github.com/alem-hub/progression-engine/config"
	"github.com/alem-hub/progression-engine/internal/domain/progression"
	"github.com/alem-hub/progression-engine/internal/domain/shared"
	"github.com/alem-hub/progression-engine/internal/infrastructure/messaging"
	"github.com/alem-hub/progression-engine/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/progression-engine/pkg/circuitbreaker"
	"github.com/alem-hub/progression-engine/pkg/logger"
)

// ExecutorHandle wraps the background task executor with shutdown capability.
type ExecutorHandle struct {
	*messaging.Executor
}

// Shutdown implements do.Shutdownable. Queued tasks get shutdownTimeout to drain.
func (h *ExecutorHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Executor.Close(ctx)
}

// ProvideExecutor provides the bounded executor shared by the event bus and
// the coordinator's background work.
func ProvideExecutor(i do.Injector) (*ExecutorHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*slog.Logger](i)

	exec := messaging.NewExecutor(messaging.ExecutorConfig{
		QueueSize: cfg.Executor.QueueSize,
		Workers:   cfg.Executor.Workers,
		Policy:    messaging.OverflowPolicy(cfg.Executor.Policy),
		Logger:    log.With(logger.Component("executor")),
	})

	return &ExecutorHandle{Executor: exec}, nil
}

// NotificationHandle owns the event bus and the sink it forwards to.
// Hub is set only when Redis is unavailable.
type NotificationHandle struct {
	Bus *messaging.InMemoryEventBus
	Hub *messaging.Hub
}

// Shutdown implements do.Shutdownable.
func (h *NotificationHandle) Shutdown() error {
	err := h.Bus.Close()
	if h.Hub != nil {
		if hubErr := h.Hub.Close(); err == nil {
			err = hubErr
		}
	}
	return err
}

// ProvideNotifications provides the event bus with a notifier attached.
// Events reach Redis pub/sub when available, otherwise the in-process hub.
func ProvideNotifications(i do.Injector) (*NotificationHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*slog.Logger](i)
	exec := do.MustInvoke[*ExecutorHandle](i)
	rh := do.MustInvoke[*RedisHandle](i)

	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{
		Executor:      exec.Executor,
		Logger:        log.With(logger.Component("event_bus")),
		EnableMetrics: true,
	})

	handle := &NotificationHandle{Bus: bus}

	var sink progression.NotificationSink
	if rh.Cache != nil {
		sink = redis.NewNotificationSink(rh.Cache)
	} else {
		handle.Hub = messaging.NewHub(64, log)
		sink = handle.Hub
	}

	notifier := messaging.NewNotifier(
		&flaggedSink{next: sink, flags: cfg.Features},
		circuitbreaker.NotificationBreaker(logStateChange(log)),
		log.With(logger.Component("notifier")),
	)
	if err := notifier.Attach(bus); err != nil {
		_ = bus.Close()
		return nil, err
	}

	return handle, nil
}

// flaggedSink drops notifications whose feature is off for the user.
type flaggedSink struct {
	next  progression.NotificationSink
	flags *config.FeatureFlags
}

func (s *flaggedSink) Publish(ctx context.Context, userID string, eventType shared.EventType, payload map[string]interface{}) error {
	if !s.flags.NotificationsEnabled(string(eventType), userID) {
		return nil
	}
	return s.next.Publish(ctx, userID, eventType, payload)
}
