package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errConflict = errors.New("conflict")

func TestDo_RetriesUntilSuccess(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return Retryable(errConflict)
		}
		return nil
	}, WithMaxAttempts(5), WithInitialDelay(time.Millisecond), WithJitter(0))

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	attempts := 0
	boom := errors.New("boom")
	err := Do(context.Background(), func(context.Context) error {
		attempts++
		return boom
	}, WithMaxAttempts(5), WithInitialDelay(time.Millisecond))

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
}

func TestDo_PermanentIsUnwrapped(t *testing.T) {
	err := Do(context.Background(), func(context.Context) error {
		return Permanent(errConflict)
	}, WithRetryIf(func(error) bool { return true }))

	assert.Equal(t, errConflict, err)
	assert.True(t, IsPermanent(Permanent(errConflict)))
	assert.False(t, IsPermanent(errConflict))
}

func TestConflictRetrier_ReportsEachRetry(t *testing.T) {
	var seen []int
	r := ConflictRetrier(
		func(err error) bool { return errors.Is(err, errConflict) },
		WithInitialDelay(time.Millisecond),
		WithJitter(0),
		WithOnRetry(func(attempt int, err error, _ time.Duration) {
			assert.ErrorIs(t, err, errConflict)
			seen = append(seen, attempt)
		}),
	)

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errConflict
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, seen)
}

func TestCalculateDelay_BackoffIsCapped(t *testing.T) {
	r := New(
		WithInitialDelay(10*time.Millisecond),
		WithMultiplier(3),
		WithMaxDelay(50*time.Millisecond),
		WithJitter(0),
	)

	assert.Equal(t, 10*time.Millisecond, r.calculateDelay(1))
	assert.Equal(t, 30*time.Millisecond, r.calculateDelay(2))
	assert.Equal(t, 50*time.Millisecond, r.calculateDelay(3))
	assert.Equal(t, 50*time.Millisecond, r.calculateDelay(10))
}

func TestConflictRetrier_ExhaustsAttempts(t *testing.T) {
	attempts := 0
	r := ConflictRetrier(func(err error) bool { return errors.Is(err, errConflict) })
	r.config.InitialDelay = time.Millisecond

	err := r.Do(context.Background(), func(context.Context) error {
		attempts++
		return errConflict
	})

	assert.ErrorIs(t, err, errConflict)
	assert.Equal(t, 5, attempts)
}

func TestDoWithData(t *testing.T) {
	calls := 0
	v, err := DoWithData(context.Background(), func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, Retryable(errConflict)
		}
		return 42, nil
	}, WithInitialDelay(time.Millisecond))

	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestDo_RespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := Do(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
