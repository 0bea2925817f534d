// Package jobs contains the scheduled jobs of the progression engine.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alem-hub/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECOMPUTE RANKS JOB
// ══════════════════════════════════════════════════════════════════════════════

// RankRecomputer assigns dense ranks to every active user for a metric.
type RankRecomputer interface {
	RecomputeAllRanks(ctx context.Context, metric shared.Metric) (int, error)
}

// RecomputeRanksConfig contains configuration for the recompute job.
type RecomputeRanksConfig struct {
	// Metrics to recompute on every run.
	Metrics []shared.Metric

	// Timeout is the maximum duration for one run across all metrics.
	Timeout time.Duration
}

// DefaultRecomputeRanksConfig returns sensible defaults.
func DefaultRecomputeRanksConfig() RecomputeRanksConfig {
	return RecomputeRanksConfig{
		Metrics: []shared.Metric{shared.MetricXP},
		Timeout: 5 * time.Minute,
	}
}

// RecomputeStats contains statistics from a recompute run.
type RecomputeStats struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Ranked      map[shared.Metric]int
	Errors      []error
}

// RecomputeRanksJob is the independent low-frequency rank timer.
type RecomputeRanksJob struct {
	ranks  RankRecomputer
	config RecomputeRanksConfig
	logger *slog.Logger

	lastStats atomic.Pointer[RecomputeStats]
}

// NewRecomputeRanksJob creates a new recompute job.
func NewRecomputeRanksJob(ranks RankRecomputer, config RecomputeRanksConfig, logger *slog.Logger) *RecomputeRanksJob {
	if logger == nil {
		logger = slog.Default()
	}
	if len(config.Metrics) == 0 {
		config.Metrics = DefaultRecomputeRanksConfig().Metrics
	}
	return &RecomputeRanksJob{
		ranks:  ranks,
		config: config,
		logger: logger,
	}
}

// Name returns the job name.
func (j *RecomputeRanksJob) Name() string {
	return "recompute_ranks"
}

// Description returns a human-readable description.
func (j *RecomputeRanksJob) Description() string {
	return "Recomputes dense ranks for all active users"
}

// Run recomputes every configured metric. A failing metric does not stop
// the others; all errors are joined.
func (j *RecomputeRanksJob) Run(ctx context.Context) error {
	stats := &RecomputeStats{
		StartedAt: time.Now(),
		Ranked:    make(map[shared.Metric]int, len(j.config.Metrics)),
	}

	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	for _, metric := range j.config.Metrics {
		n, err := j.ranks.RecomputeAllRanks(ctx, metric)
		stats.Ranked[metric] = n
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Errorf("recompute %s: %w", metric, err))
		}
	}

	stats.CompletedAt = time.Now()
	stats.Duration = stats.CompletedAt.Sub(stats.StartedAt)
	j.lastStats.Store(stats)

	j.logger.Info("recompute_ranks job completed",
		"duration", stats.Duration.String(),
		"metrics", len(j.config.Metrics),
		"errors", len(stats.Errors),
	)
	return errors.Join(stats.Errors...)
}

// LastStats returns statistics from the last run, or nil.
func (j *RecomputeRanksJob) LastStats() *RecomputeStats {
	return j.lastStats.Load()
}
