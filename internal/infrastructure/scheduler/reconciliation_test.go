package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/progression-engine/internal/domain/shared"
	"github.com/alem-hub/progression-engine/pkg/timeutil"
)

type fakeReconciler struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
	hook  func(userID string)
}

func (f *fakeReconciler) Reconcile(_ context.Context, userID string) error {
	f.mu.Lock()
	f.calls = append(f.calls, userID)
	hook := f.hook
	err := f.fail[userID]
	f.mu.Unlock()
	if hook != nil {
		hook(userID)
	}
	return err
}

func (f *fakeReconciler) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

var t0 = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newReconciliation(t *testing.T, rec *fakeReconciler) (*ReconciliationQueue, *ReconciliationScheduler, *timeutil.FixedClock) {
	t.Helper()
	clock := timeutil.NewFixedClock(t0)
	q := NewReconciliationQueue(clock)
	r := NewReconciliationScheduler(q, rec, DefaultReconciliationConfig(), nil)
	return q, r, clock
}

func TestReconciliationQueue_EnqueueCoalesces(t *testing.T) {
	q := NewReconciliationQueue(timeutil.NewFixedClock(t0))

	require.NoError(t, q.Enqueue("u1", "ledger_failed"))
	require.NoError(t, q.Enqueue("u1", "save_failed"))
	require.NoError(t, q.Enqueue("u2", "save_failed"))

	assert.Equal(t, 2, q.Len())
	e, ok := q.Get("u1")
	require.True(t, ok)
	assert.Equal(t, 1, e.AttemptCount)
	assert.Equal(t, "save_failed", e.Reason)
	assert.Equal(t, t0, e.EnqueuedAt)
}

func TestReconciliationQueue_RejectsAfterClose(t *testing.T) {
	q := NewReconciliationQueue(timeutil.NewFixedClock(t0))
	q.Close()

	err := q.Enqueue("u1", "x")
	assert.ErrorIs(t, err, shared.ErrShuttingDown)
	assert.Zero(t, q.Len())
}

func TestReconciliationScheduler_SuccessRemovesEntry(t *testing.T) {
	rec := &fakeReconciler{}
	q, r, _ := newReconciliation(t, rec)
	require.NoError(t, q.Enqueue("u1", "x"))

	n, err := r.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, q.Len())
	assert.Equal(t, []string{"u1"}, rec.called())
	assert.Equal(t, int64(1), r.Stats().Processed)
}

func TestReconciliationScheduler_FailureKeepsEntry(t *testing.T) {
	rec := &fakeReconciler{fail: map[string]error{"u1": shared.ErrUnavailable}}
	q, r, _ := newReconciliation(t, rec)
	require.NoError(t, q.Enqueue("u1", "x"))

	_, err := r.Tick(context.Background())
	require.NoError(t, err)

	e, ok := q.Get("u1")
	require.True(t, ok)
	assert.Equal(t, 1, e.AttemptCount)
	assert.Equal(t, int64(1), r.Stats().Failed)

	rec.mu.Lock()
	rec.fail = nil
	rec.mu.Unlock()

	_, err = r.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, q.Len())
}

func TestReconciliationScheduler_BatchIsBounded(t *testing.T) {
	rec := &fakeReconciler{}
	q, r, clock := newReconciliation(t, rec)
	for i := 0; i < 25; i++ {
		require.NoError(t, q.Enqueue(fmt.Sprintf("u%02d", i), "x"))
		clock.Advance(time.Second)
	}

	n, err := r.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, 15, q.Len())

	// oldest first
	assert.Equal(t, "u00", rec.called()[0])
	assert.Equal(t, "u09", rec.called()[9])
}

func TestReconciliationScheduler_EvictsOldAndExhausted(t *testing.T) {
	rec := &fakeReconciler{}
	q, r, clock := newReconciliation(t, rec)

	require.NoError(t, q.Enqueue("old", "x"))
	clock.Advance(61 * time.Minute)

	for i := 0; i < 7; i++ {
		require.NoError(t, q.Enqueue("flaky", "x"))
	}
	require.NoError(t, q.Enqueue("fresh", "x"))

	_, err := r.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"fresh"}, rec.called())
	assert.Equal(t, int64(2), r.Stats().Evicted)
	assert.Zero(t, q.Len())
}

func TestReconciliationScheduler_RequeueDuringFlightIsKept(t *testing.T) {
	rec := &fakeReconciler{}
	q, r, _ := newReconciliation(t, rec)
	rec.hook = func(userID string) {
		_ = q.Enqueue(userID, "degraded_again")
	}
	require.NoError(t, q.Enqueue("u1", "x"))

	_, err := r.Tick(context.Background())
	require.NoError(t, err)

	e, ok := q.Get("u1")
	require.True(t, ok)
	assert.Equal(t, "degraded_again", e.Reason)
}

func TestReconciliationScheduler_StopFinishesInFlightBatch(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	rec := &fakeReconciler{}
	q, r, _ := newReconciliation(t, rec)
	rec.hook = func(string) {
		close(started)
		<-release
	}
	require.NoError(t, q.Enqueue("u1", "x"))

	tickDone := make(chan error, 1)
	go func() {
		_, err := r.Tick(context.Background())
		tickDone <- err
	}()
	<-started

	stopDone := make(chan error, 1)
	go func() { stopDone <- r.Stop(context.Background()) }()

	assert.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return q.closed
	}, time.Second, time.Millisecond)
	assert.ErrorIs(t, q.Enqueue("u2", "x"), shared.ErrShuttingDown)

	select {
	case <-stopDone:
		t.Fatal("stop returned before the batch finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-tickDone)
	require.NoError(t, <-stopDone)
	assert.Zero(t, q.Len())

	_, err := r.Tick(context.Background())
	assert.True(t, errors.Is(err, shared.ErrSchedulerStopped))
}

func TestReconciliationScheduler_StopHonoursContext(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	rec := &fakeReconciler{}
	q, r, _ := newReconciliation(t, rec)
	rec.hook = func(string) {
		close(started)
		<-release
	}
	require.NoError(t, q.Enqueue("u1", "x"))

	go func() { _, _ = r.Tick(context.Background()) }()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Stop(ctx), context.DeadlineExceeded)
	close(release)
}
