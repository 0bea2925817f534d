package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/progression-engine/internal/domain/progression"
	"github.com/alem-hub/progression-engine/internal/domain/shared"
	"github.com/alem-hub/progression-engine/pkg/circuitbreaker"
)

// ══════════════════════════════════════════════════════════════════════════════
// RANK CACHE
// ══════════════════════════════════════════════════════════════════════════════

// RankCache implements progression.RankCache with one sorted set per metric.
// Scores are metric values; creation times live in a side hash so ties can
// be broken the same way the store breaks them.
type RankCache struct {
	client  redis.UniversalClient
	breaker *circuitbreaker.CircuitBreaker
}

// NewRankCache creates a rank cache. breaker may be nil.
func NewRankCache(cache *Cache, breaker *circuitbreaker.CircuitBreaker) *RankCache {
	return &RankCache{client: cache.Client(), breaker: breaker}
}

func (c *RankCache) do(ctx context.Context, op string, fn func(context.Context) error) error {
	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(ctx, fn)
	} else {
		err = fn(ctx)
	}
	if err == nil {
		return nil
	}
	if circuitbreaker.IsRejected(err) || !errors.Is(err, redis.Nil) {
		return shared.WrapError("rank", op, shared.ErrUnavailable, "rank cache unavailable", err)
	}
	return shared.WrapError("rank", op, shared.ErrNotFound, "rank cache miss", err)
}

// Upsert implements progression.RankCache.
func (c *RankCache) Upsert(ctx context.Context, metric shared.Metric, e progression.RankEntry) error {
	return c.do(ctx, "Upsert", func(ctx context.Context) error {
		pipe := c.client.Pipeline()
		pipe.ZAdd(ctx, RankKey(string(metric)), redis.Z{Score: float64(e.Value), Member: e.UserID})
		if !e.CreatedAt.IsZero() {
			pipe.HSet(ctx, KeyRankCreated, e.UserID, e.CreatedAt.UnixNano())
		}
		_, err := pipe.Exec(ctx)
		return err
	})
}

// CountGreater implements progression.RankCache.
func (c *RankCache) CountGreater(ctx context.Context, metric shared.Metric, value int64) (int64, error) {
	var n int64
	err := c.do(ctx, "CountGreater", func(ctx context.Context) error {
		var err error
		n, err = c.client.ZCount(ctx, RankKey(string(metric)), exclusiveMin(value), "+inf").Result()
		return err
	})
	return n, err
}

// Rebuild implements progression.RankCache. The set is replaced inside a
// MULTI block so readers never observe a half-built index.
func (c *RankCache) Rebuild(ctx context.Context, metric shared.Metric, entries []progression.RankEntry) error {
	return c.do(ctx, "Rebuild", func(ctx context.Context) error {
		key := RankKey(string(metric))
		pipe := c.client.TxPipeline()
		pipe.Del(ctx, key)

		if len(entries) > 0 {
			members := make([]redis.Z, 0, len(entries))
			created := make(map[string]interface{}, len(entries))
			for _, e := range entries {
				members = append(members, redis.Z{Score: float64(e.Value), Member: e.UserID})
				created[e.UserID] = e.CreatedAt.UnixNano()
			}
			pipe.ZAdd(ctx, key, members...)
			pipe.HSet(ctx, KeyRankCreated, created)
		}

		_, err := pipe.Exec(ctx)
		return err
	})
}

// Top implements progression.RankCache. Members tied with the last one are
// fetched too so the cut at limit follows the store's tie-break order.
func (c *RankCache) Top(ctx context.Context, metric shared.Metric, limit int) ([]progression.RankEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	var out []progression.RankEntry
	err := c.do(ctx, "Top", func(ctx context.Context) error {
		key := RankKey(string(metric))
		top, err := c.client.ZRevRangeWithScores(ctx, key, 0, int64(limit-1)).Result()
		if err != nil {
			return err
		}
		if len(top) == 0 {
			out = nil
			return nil
		}

		boundary := top[len(top)-1].Score
		score := strconv.FormatInt(int64(boundary), 10)
		tied, err := c.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: score, Max: score}).Result()
		if err != nil {
			return err
		}

		seen := make(map[string]bool, len(top)+len(tied))
		ids := make([]string, 0, len(top)+len(tied))
		values := make(map[string]int64, len(top)+len(tied))
		for _, z := range top {
			id := fmt.Sprint(z.Member)
			seen[id] = true
			ids = append(ids, id)
			values[id] = int64(z.Score)
		}
		for _, id := range tied {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
				values[id] = int64(boundary)
			}
		}

		created, err := c.client.HMGet(ctx, KeyRankCreated, ids...).Result()
		if err != nil {
			return err
		}

		entries := make([]progression.RankEntry, len(ids))
		for i, id := range ids {
			entries[i] = progression.RankEntry{
				UserID:    id,
				Value:     values[id],
				CreatedAt: parseUnixNano(created[i]),
			}
		}

		ranked := progression.AssignDenseRanks(entries)
		if len(ranked) > limit {
			ranked = ranked[:limit]
		}
		out = make([]progression.RankEntry, len(ranked))
		for i, r := range ranked {
			out[i] = r.RankEntry
		}
		return nil
	})
	return out, err
}

// exclusiveMin formats a ZCOUNT lower bound that excludes value itself.
func exclusiveMin(value int64) string {
	return "(" + strconv.FormatInt(value, 10)
}

func parseUnixNano(v interface{}) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
