package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/progression-engine/internal/domain/shared"
	"github.com/alem-hub/progression-engine/pkg/circuitbreaker"
)

func TestHub_FiltersByUser(t *testing.T) {
	hub := NewHub(4, nil)
	mine, err := hub.Subscribe("u1")
	require.NoError(t, err)
	everyone, err := hub.Subscribe("")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, hub.Publish(ctx, "u1", shared.EventLevelUp, map[string]interface{}{"new_level": 2}))
	require.NoError(t, hub.Publish(ctx, "u2", shared.EventLevelUp, map[string]interface{}{"new_level": 3}))

	assert.Len(t, mine.Events, 1)
	assert.Len(t, everyone.Events, 2)

	env := <-mine.Events
	assert.Equal(t, "u1", env.UserID)
	assert.Equal(t, shared.EventLevelUp, env.Type)
}

func TestHub_DropsWhenBufferFull(t *testing.T) {
	hub := NewHub(1, nil)
	sub, err := hub.Subscribe("u1")
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, hub.Publish(ctx, "u1", shared.EventXPGranted, nil))
	}

	delivered, dropped := hub.Stats()
	assert.Equal(t, int64(1), delivered)
	assert.Equal(t, int64(2), dropped)
	assert.Len(t, sub.Events, 1)
}

func TestHub_UnsubscribeAndClose(t *testing.T) {
	hub := NewHub(1, nil)
	sub, err := hub.Subscribe("u1")
	require.NoError(t, err)

	hub.Unsubscribe(sub.ID)
	_, open := <-sub.Events
	assert.False(t, open)

	require.NoError(t, hub.Close())
	_, err = hub.Subscribe("u1")
	assert.ErrorIs(t, err, ErrEventBusClosed)
}

type failingSink struct{ calls int }

func (f *failingSink) Publish(context.Context, string, shared.EventType, map[string]interface{}) error {
	f.calls++
	return errors.New("sink down")
}

func TestNotifier_BreakerStopsCallingFailingSink(t *testing.T) {
	sink := &failingSink{}
	breaker := circuitbreaker.New("test-notify",
		circuitbreaker.WithFailureThreshold(2),
		circuitbreaker.WithTimeout(time.Hour),
	)
	n := NewNotifier(sink, breaker, nil)

	for i := 0; i < 5; i++ {
		assert.NoError(t, n.Handle(shared.NewLevelUpEvent("u1", 1, 2, testTime)))
	}
	assert.Equal(t, 2, sink.calls)
	assert.Equal(t, circuitbreaker.StateOpen, breaker.State())
}

func TestNotifier_ForwardsToHub(t *testing.T) {
	hub := NewHub(4, nil)
	sub, err := hub.Subscribe("u1")
	require.NoError(t, err)

	bus := NewInMemoryEventBus(InMemoryEventBusConfig{})
	require.NoError(t, NewNotifier(hub, nil, nil).Attach(bus))
	require.NoError(t, bus.Publish(shared.NewXPGrantedEvent("u1", 250, 1250, "challenge", testTime)))

	require.Len(t, sub.Events, 1)
	env := <-sub.Events
	assert.Equal(t, 250, env.Payload["amount"])
}

func TestEnvelope_Golden(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	tests := []struct {
		name  string
		event shared.Event
	}{
		{"xp_granted", shared.NewXPGrantedEvent("u1", 250, 1250, "challenge", testTime)},
		{"level_up", shared.NewLevelUpEvent("u1", 1, 3, testTime)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := NewEnvelope(tt.event).Encode()
			require.NoError(t, err)
			g.Assert(t, tt.name, data)

			decoded, err := DecodeEnvelope(data)
			require.NoError(t, err)
			assert.Equal(t, tt.event.EventType(), decoded.Type)
			assert.True(t, testTime.Equal(decoded.OccurredAt))
		})
	}
}

func TestDecodeEnvelope_RejectsIncomplete(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"type":"level_up"}`))
	assert.Error(t, err)
}
