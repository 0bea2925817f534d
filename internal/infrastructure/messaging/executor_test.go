package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockWorker occupies the single worker until release is closed.
func blockWorker(t *testing.T, e *Executor) chan struct{} {
	t.Helper()
	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, e.Submit(Task{Name: "block", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started
	return release
}

func TestExecutor_DropOldest(t *testing.T) {
	e := NewExecutor(ExecutorConfig{QueueSize: 2, Workers: 1, Policy: PolicyDropOldest})
	release := blockWorker(t, e)

	var (
		mu  sync.Mutex
		ran []string
	)
	record := func(name string) Task {
		return Task{Name: name, Run: func(context.Context) error {
			mu.Lock()
			ran = append(ran, name)
			mu.Unlock()
			return nil
		}}
	}

	require.NoError(t, e.Submit(record("t1")))
	require.NoError(t, e.Submit(record("t2")))
	require.NoError(t, e.Submit(record("t3")))

	close(release)
	require.NoError(t, e.Close(context.Background()))

	assert.Equal(t, []string{"t2", "t3"}, ran)
	stats := e.Stats()
	assert.Equal(t, int64(1), stats.Dropped)
	assert.Equal(t, int64(3), stats.Completed)
	assert.Equal(t, 0, stats.Queued)
}

func TestExecutor_Reject(t *testing.T) {
	e := NewExecutor(ExecutorConfig{QueueSize: 1, Workers: 1, Policy: PolicyReject})
	release := blockWorker(t, e)

	noop := Task{Name: "noop", Run: func(context.Context) error { return nil }}
	require.NoError(t, e.Submit(noop))
	assert.ErrorIs(t, e.Submit(noop), ErrQueueFull)

	close(release)
	require.NoError(t, e.Close(context.Background()))
	assert.Equal(t, int64(1), e.Stats().Rejected)
}

func TestExecutor_SubmitAfterClose(t *testing.T) {
	e := NewExecutor(ExecutorConfig{Workers: 1})
	require.NoError(t, e.Close(context.Background()))

	err := e.Submit(Task{Name: "late", Run: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrExecutorClosed)
}

func TestExecutor_FailuresAndPanicsAreContained(t *testing.T) {
	e := NewExecutor(ExecutorConfig{Workers: 2})

	require.NoError(t, e.Submit(Task{Name: "fail", Run: func(context.Context) error {
		return errors.New("boom")
	}}))
	require.NoError(t, e.Submit(Task{Name: "panic", Run: func(context.Context) error {
		panic("oops")
	}}))

	require.NoError(t, e.Close(context.Background()))
	assert.Equal(t, int64(2), e.Stats().Failed)
}

func TestExecutor_CloseTimeoutCancelsTasks(t *testing.T) {
	e := NewExecutor(ExecutorConfig{Workers: 1, TaskTimeout: time.Minute})

	started := make(chan struct{})
	require.NoError(t, e.Submit(Task{Name: "slow", Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, e.Close(ctx), context.DeadlineExceeded)
}
