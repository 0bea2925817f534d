package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/progression-engine/internal/domain/shared"
)

type fakeRanks struct {
	seen []shared.Metric
	fail map[shared.Metric]error
}

func (f *fakeRanks) RecomputeAllRanks(_ context.Context, metric shared.Metric) (int, error) {
	f.seen = append(f.seen, metric)
	if err := f.fail[metric]; err != nil {
		return 0, err
	}
	return 3, nil
}

type fakeTicker struct{ err error }

func (f fakeTicker) Tick(context.Context) (int, error) { return 0, f.err }

func TestRecomputeRanksJob_RunsEveryMetric(t *testing.T) {
	ranks := &fakeRanks{fail: map[shared.Metric]error{shared.MetricLevel: shared.ErrUnavailable}}
	job := NewRecomputeRanksJob(ranks, RecomputeRanksConfig{
		Metrics: []shared.Metric{shared.MetricXP, shared.MetricLevel, shared.MetricStreak},
	}, nil)

	err := job.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrUnavailable)
	assert.Len(t, ranks.seen, 3)

	stats := job.LastStats()
	require.NotNil(t, stats)
	assert.Equal(t, 3, stats.Ranked[shared.MetricXP])
	assert.Len(t, stats.Errors, 1)
}

func TestReconcileUsersJob_IgnoresStoppedScheduler(t *testing.T) {
	assert.NoError(t, NewReconcileUsersJob(fakeTicker{err: shared.ErrSchedulerStopped}).Run(context.Background()))

	boom := errors.New("boom")
	assert.ErrorIs(t, NewReconcileUsersJob(fakeTicker{err: boom}).Run(context.Background()), boom)
}
