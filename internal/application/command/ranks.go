package command

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/progression-engine/internal/domain/progression"
	"github.com/alem-hub/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RANKS
// ══════════════════════════════════════════════════════════════════════════════

// MaxTopN bounds a leaderboard page.
const MaxTopN = 100

// GetRank returns the user's current position under a metric.
func (c *Coordinator) GetRank(ctx context.Context, userID string, metric shared.Metric) (shared.Rank, error) {
	if err := requireUserID("GetRank", userID); err != nil {
		return shared.Unranked, err
	}
	if !metric.IsValid() {
		return shared.Unranked, shared.ErrUnknownMetric
	}

	user, err := c.store.GetUser(ctx, userID)
	if err != nil {
		return shared.Unranked, fmt.Errorf("get_rank: %w", err)
	}

	rank, err := c.ranks.RankOf(ctx, user, metric)
	if err != nil {
		return shared.Unranked, fmt.Errorf("get_rank: %w", err)
	}

	c.maybeRecompute()
	return rank, nil
}

// RecomputeAllRanks assigns ranks 1..N to every active user. Concurrent
// calls for the same metric share a single run.
func (c *Coordinator) RecomputeAllRanks(ctx context.Context, metric shared.Metric) (int, error) {
	if !metric.IsValid() {
		return 0, shared.ErrUnknownMetric
	}

	v, err, coalesced := c.recompute.Do(string(metric), func() (interface{}, error) {
		start := time.Now()
		n, err := c.ranks.RecomputeAll(ctx, metric)
		if err == nil || n > 0 {
			c.markRecomputed(metric)
		}
		c.logger.Info("ranks recomputed",
			"metric", metric,
			"users", n,
			"duration", time.Since(start),
			"error", err,
		)
		return n, err
	})
	if coalesced {
		c.logger.Debug("rank recompute coalesced", "metric", metric)
	}

	n, _ := v.(int)
	if err != nil {
		return n, fmt.Errorf("recompute_ranks: %w", err)
	}
	return n, nil
}

// TopN returns the first limit users under a metric.
func (c *Coordinator) TopN(ctx context.Context, metric shared.Metric, limit int) ([]progression.RankedEntry, error) {
	if !metric.IsValid() {
		return nil, shared.ErrUnknownMetric
	}
	if limit <= 0 || limit > MaxTopN {
		return nil, shared.NewDomainError("command", "TopN", shared.ErrInvalidInput,
			fmt.Sprintf("limit must be between 1 and %d", MaxTopN))
	}

	entries, err := c.ranks.Top(ctx, metric, limit)
	if err != nil {
		return nil, fmt.Errorf("top_n: %w", err)
	}
	return entries, nil
}

// LastRecompute returns when ranks for the metric were last recomputed.
func (c *Coordinator) LastRecompute(metric shared.Metric) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.lastRecompute[metric]
	return t, ok
}

func (c *Coordinator) markRecomputed(metric shared.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastRecompute[metric] = c.clock.Now()
}

func (c *Coordinator) isStale(metric shared.Metric, now time.Time) bool {
	last, ok := c.LastRecompute(metric)
	return !ok || now.Sub(last) > c.config.StalenessBudget
}

// maybeRecompute schedules a background recompute for metrics whose last
// full recompute is older than the staleness budget. The limiter keeps a
// burst of operations from scheduling more than one run per interval.
func (c *Coordinator) maybeRecompute() {
	if c.async == nil || c.config.StalenessBudget <= 0 {
		return
	}

	now := c.clock.Now()
	for _, metric := range c.config.RankMetrics {
		if !c.isStale(metric, now) || !c.limiter.AllowN(now, 1) {
			continue
		}
		err := c.async.Go("recompute_ranks:"+string(metric), func(ctx context.Context) error {
			_, err := c.RecomputeAllRanks(ctx, metric)
			return err
		})
		if err != nil {
			c.logger.Warn("failed to schedule rank recompute", "metric", metric, "error", err)
		}
	}
}
