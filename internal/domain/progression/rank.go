package progression

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/alem-hub/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RANK INDEX
// ══════════════════════════════════════════════════════════════════════════════

// RankCache - быстрый упорядоченный индекс метрик (например, sorted set).
// Необязателен: без него запросы идут в Store.
type RankCache interface {
	// Upsert обновляет значение метрики пользователя.
	Upsert(ctx context.Context, metric shared.Metric, entry RankEntry) error

	// CountGreater возвращает число пользователей со значением строго больше value.
	CountGreater(ctx context.Context, metric shared.Metric, value int64) (int64, error)

	// Rebuild атомарно заменяет индекс метрики снимком.
	Rebuild(ctx context.Context, metric shared.Metric, entries []RankEntry) error

	// Top возвращает первых limit пользователей по убыванию метрики.
	Top(ctx context.Context, metric shared.Metric, limit int) ([]RankEntry, error)
}

// RankedEntry - пользователь с присвоенным местом.
type RankedEntry struct {
	RankEntry
	Rank shared.Rank
}

// RankIndex вычисляет места пользователей по выбранной метрике.
type RankIndex struct {
	store  Store
	cache  RankCache
	logger *slog.Logger
}

// NewRankIndex создаёт индекс. cache может быть nil.
func NewRankIndex(store Store, cache RankCache, logger *slog.Logger) *RankIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &RankIndex{store: store, cache: cache, logger: logger}
}

// RankOf возвращает место пользователя: число активных пользователей со
// строго большей метрикой + 1. Дешёвый запрос, безопасен после каждого начисления.
func (r *RankIndex) RankOf(ctx context.Context, user *User, metric shared.Metric) (shared.Rank, error) {
	if !metric.IsValid() {
		return shared.Unranked, shared.ErrUnknownMetric
	}
	value := user.MetricValue(metric)

	if r.cache != nil {
		n, err := r.rankFromCache(ctx, user, metric, value)
		if err == nil {
			return shared.Rank(n + 1), nil
		}
		r.logger.Warn("rank cache unavailable, falling back to store",
			"user_id", user.ID,
			"metric", metric,
			"error", err,
		)
	}

	n, err := r.store.CountUsersWhere(ctx, UserPredicate{Metric: metric, GreaterThan: value, ActiveOnly: true})
	if err != nil {
		return shared.Unranked, fmt.Errorf("failed to count users above %d: %w", value, err)
	}
	return shared.Rank(n + 1), nil
}

func (r *RankIndex) rankFromCache(ctx context.Context, user *User, metric shared.Metric, value int64) (int64, error) {
	if user.IsActive {
		entry := RankEntry{UserID: user.ID, Value: value, CreatedAt: user.CreatedAt}
		if err := r.cache.Upsert(ctx, metric, entry); err != nil {
			return 0, err
		}
	}
	return r.cache.CountGreater(ctx, metric, value)
}

// RecomputeAll присваивает всем активным пользователям места 1..N.
// Снимок читается одним запросом; места записываются по одному, поэтому
// параллельные начисления допускаются и исправляются следующим пересчётом.
// Возвращает количество ранжированных пользователей.
func (r *RankIndex) RecomputeAll(ctx context.Context, metric shared.Metric) (int, error) {
	if !metric.IsValid() {
		return 0, shared.ErrUnknownMetric
	}

	entries, err := r.store.FindAllActiveUsersSortedBy(ctx, metric)
	if err != nil {
		return 0, fmt.Errorf("failed to load rank snapshot: %w", err)
	}

	ranked := AssignDenseRanks(entries)

	var errs []error
	for _, e := range ranked {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := r.store.UpdateRank(ctx, e.UserID, metric, e.Rank); err != nil {
			errs = append(errs, fmt.Errorf("user %s: %w", e.UserID, err))
		}
	}

	if r.cache != nil {
		if err := r.cache.Rebuild(ctx, metric, entries); err != nil {
			r.logger.Warn("failed to rebuild rank cache", "metric", metric, "error", err)
		}
	}

	return len(ranked), errors.Join(errs...)
}

// Top возвращает первых limit пользователей по метрике.
func (r *RankIndex) Top(ctx context.Context, metric shared.Metric, limit int) ([]RankedEntry, error) {
	if !metric.IsValid() {
		return nil, shared.ErrUnknownMetric
	}
	if limit <= 0 {
		return nil, nil
	}

	if r.cache != nil {
		entries, err := r.cache.Top(ctx, metric, limit)
		if err == nil && len(entries) > 0 {
			return AssignDenseRanks(entries), nil
		}
		if err != nil {
			r.logger.Warn("rank cache top failed, falling back to store", "metric", metric, "error", err)
		}
	}

	entries, err := r.store.FindAllActiveUsersSortedBy(ctx, metric)
	if err != nil {
		return nil, fmt.Errorf("failed to load rank snapshot: %w", err)
	}
	ranked := AssignDenseRanks(entries)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// AssignDenseRanks упорядочивает снимок по убыванию метрики и присваивает
// места 1..N. При равенстве раньше идёт более старый пользователь, затем
// меньший ID, поэтому результат детерминирован.
func AssignDenseRanks(entries []RankEntry) []RankedEntry {
	sorted := make([]RankEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return rankLess(sorted[i], sorted[j])
	})

	out := make([]RankedEntry, len(sorted))
	for i, e := range sorted {
		out[i] = RankedEntry{RankEntry: e, Rank: shared.Rank(i + 1)}
	}
	return out
}

func rankLess(a, b RankEntry) bool {
	if a.Value != b.Value {
		return a.Value > b.Value
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		if a.CreatedAt.IsZero() || b.CreatedAt.IsZero() {
			return !a.CreatedAt.IsZero()
		}
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.UserID < b.UserID
}
