package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/progression-engine/internal/domain/progression"
	"github.com/alem-hub/progression-engine/internal/domain/shared"
	"github.com/alem-hub/progression-engine/pkg/circuitbreaker"
)

const dateLayout = "2006-01-02"

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store implements progression.Store and progression.Ledger for PostgreSQL.
type Store struct {
	conn    *Connection
	breaker *circuitbreaker.CircuitBreaker
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithBreaker guards user reads and writes with a circuit breaker. An open
// circuit surfaces as an Unavailable error.
func WithBreaker(cb *circuitbreaker.CircuitBreaker) StoreOption {
	return func(s *Store) {
		s.breaker = cb
	}
}

// NewStore creates a new Store.
func NewStore(conn *Connection, opts ...StoreOption) *Store {
	s := &Store{conn: conn}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) guard(ctx context.Context, op string, fn func(context.Context) error) error {
	if s.breaker == nil {
		return fn(ctx)
	}
	err := s.breaker.Execute(ctx, fn)
	if circuitbreaker.IsRejected(err) {
		return shared.WrapError("progression", op, shared.ErrUnavailable, "store circuit open", err)
	}
	return err
}

// preferencesRow is the JSONB layout of user preferences.
type preferencesRow struct {
	Notifications bool   `json:"notifications"`
	PublicProfile bool   `json:"public_profile"`
	Theme         string `json:"theme,omitempty"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Users
// ─────────────────────────────────────────────────────────────────────────────

// CreateUser inserts a new user with version 1.
func (s *Store) CreateUser(ctx context.Context, u *progression.User) error {
	prefs, err := json.Marshal(preferencesRow(u.Profile.Preferences))
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}

	_, err = s.conn.Exec(ctx, `
		INSERT INTO users (
			id, display_name, bio, timezone, preferences, total_xp, level,
			current_streak, longest_streak, streak_freezes, challenges_completed,
			perfect_scores, recent_operations, is_active, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 1, $15, $16)
	`,
		u.ID,
		u.Profile.DisplayName,
		u.Profile.Bio,
		u.Profile.Timezone,
		prefs,
		int64(u.TotalXP),
		int(u.Level),
		u.CurrentStreak,
		u.LongestStreak,
		u.StreakFreezes,
		u.ChallengesCompleted,
		u.PerfectScores,
		nonNil(u.RecentOperations),
		u.IsActive,
		u.CreatedAt,
		u.UpdatedAt,
	)
	if err != nil {
		return mapError("progression", "CreateUser", err)
	}
	u.Version = 1
	return nil
}

// GetUser implements progression.Store.
func (s *Store) GetUser(ctx context.Context, id string) (*progression.User, error) {
	var user *progression.User
	err := s.guard(ctx, "GetUser", func(ctx context.Context) error {
		return s.conn.ReadTx(ctx, func(tx pgx.Tx) error {
			u, err := s.loadUser(ctx, tx, id)
			if err != nil {
				return err
			}
			user = u
			return nil
		})
	})
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, shared.ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (s *Store) loadUser(ctx context.Context, q Querier, id string) (*progression.User, error) {
	u := &progression.User{Ranks: make(map[shared.Metric]shared.Rank)}
	var (
		prefsJSON []byte
		totalXP   int64
		level     int
	)

	err := q.QueryRow(ctx, `
		SELECT id, display_name, bio, timezone, preferences, total_xp, level,
			   current_streak, longest_streak, streak_freezes, challenges_completed,
			   perfect_scores, recent_operations, is_active, version, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id).Scan(
		&u.ID,
		&u.Profile.DisplayName,
		&u.Profile.Bio,
		&u.Profile.Timezone,
		&prefsJSON,
		&totalXP,
		&level,
		&u.CurrentStreak,
		&u.LongestStreak,
		&u.StreakFreezes,
		&u.ChallengesCompleted,
		&u.PerfectScores,
		&u.RecentOperations,
		&u.IsActive,
		&u.Version,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, mapError("progression", "GetUser", err)
	}
	u.TotalXP = shared.XP(totalXP)
	u.Level = shared.Level(level)

	var prefs preferencesRow
	if len(prefsJSON) > 0 {
		if err := json.Unmarshal(prefsJSON, &prefs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal preferences: %w", err)
		}
	}
	u.Profile.Preferences = progression.Preferences(prefs)

	if err := s.loadRanks(ctx, q, u); err != nil {
		return nil, err
	}
	if err := s.loadActivity(ctx, q, u); err != nil {
		return nil, err
	}
	if err := s.loadAchievements(ctx, q, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) loadRanks(ctx context.Context, q Querier, u *progression.User) error {
	rows, err := q.Query(ctx, `SELECT metric, rank FROM user_ranks WHERE user_id = $1`, u.ID)
	if err != nil {
		return mapError("progression", "loadRanks", err)
	}
	defer rows.Close()

	for rows.Next() {
		var metric string
		var rank int
		if err := rows.Scan(&metric, &rank); err != nil {
			return fmt.Errorf("failed to scan rank: %w", err)
		}
		u.Ranks[shared.Metric(metric)] = shared.Rank(rank)
	}
	return rows.Err()
}

func (s *Store) loadActivity(ctx context.Context, q Querier, u *progression.User) error {
	rows, err := q.Query(ctx, `
		SELECT date, xp_gained, activity_count, source_tags
		FROM daily_activity
		WHERE user_id = $1
		ORDER BY date
	`, u.ID)
	if err != nil {
		return mapError("progression", "loadActivity", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			day time.Time
			a   progression.DailyActivity
		)
		if err := rows.Scan(&day, &a.XPGained, &a.ActivityCount, &a.SourceTags); err != nil {
			return fmt.Errorf("failed to scan daily activity: %w", err)
		}
		a.Date = day.Format(dateLayout)
		u.DailyActivity = append(u.DailyActivity, a)
	}
	return rows.Err()
}

func (s *Store) loadAchievements(ctx context.Context, q Querier, u *progression.User) error {
	rows, err := q.Query(ctx, `
		SELECT achievement_id FROM unlocked_achievements
		WHERE user_id = $1
		ORDER BY position
	`, u.ID)
	if err != nil {
		return mapError("progression", "loadAchievements", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("failed to scan achievement: %w", err)
		}
		u.UnlockedAchievements = append(u.UnlockedAchievements, id)
	}
	return rows.Err()
}

// SaveUser implements progression.Store. The user row, its daily buckets,
// unlocked achievements, ranks and the new ledger records are written in one
// transaction guarded by the version column.
func (s *Store) SaveUser(ctx context.Context, u *progression.User, entries ...progression.LedgerRecord) error {
	prefs, err := json.Marshal(preferencesRow(u.Profile.Preferences))
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}

	err = s.guard(ctx, "SaveUser", func(ctx context.Context) error {
		return s.conn.WriteTx(ctx, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, `
				UPDATE users SET
					display_name = $1,
					bio = $2,
					timezone = $3,
					preferences = $4,
					total_xp = $5,
					level = $6,
					current_streak = $7,
					longest_streak = $8,
					streak_freezes = $9,
					challenges_completed = $10,
					perfect_scores = $11,
					recent_operations = $12,
					is_active = $13,
					updated_at = $14,
					version = version + 1
				WHERE id = $15 AND version = $16
			`,
				u.Profile.DisplayName,
				u.Profile.Bio,
				u.Profile.Timezone,
				prefs,
				int64(u.TotalXP),
				int(u.Level),
				u.CurrentStreak,
				u.LongestStreak,
				u.StreakFreezes,
				u.ChallengesCompleted,
				u.PerfectScores,
				nonNil(u.RecentOperations),
				u.IsActive,
				u.UpdatedAt,
				u.ID,
				u.Version,
			)
			if err != nil {
				return mapError("progression", "SaveUser", err)
			}
			if tag.RowsAffected() == 0 {
				return s.missingOrConflict(ctx, tx, u.ID)
			}

			batch := &pgx.Batch{}
			for _, a := range u.DailyActivity {
				day, err := time.Parse(dateLayout, a.Date)
				if err != nil {
					return fmt.Errorf("invalid activity date %q: %w", a.Date, err)
				}
				batch.Queue(`
					INSERT INTO daily_activity (user_id, date, xp_gained, activity_count, source_tags)
					VALUES ($1, $2, $3, $4, $5)
					ON CONFLICT (user_id, date) DO UPDATE SET
						xp_gained = EXCLUDED.xp_gained,
						activity_count = EXCLUDED.activity_count,
						source_tags = EXCLUDED.source_tags
				`, u.ID, day, a.XPGained, a.ActivityCount, nonNil(a.SourceTags))
			}
			for i, id := range u.UnlockedAchievements {
				batch.Queue(`
					INSERT INTO unlocked_achievements (user_id, achievement_id, position, unlocked_at)
					VALUES ($1, $2, $3, $4)
					ON CONFLICT (user_id, achievement_id) DO NOTHING
				`, u.ID, id, i, u.UpdatedAt)
			}
			for metric, rank := range u.Ranks {
				batch.Queue(upsertRankSQL, u.ID, string(metric), int(rank))
			}
			for _, e := range entries {
				if e.ID == "" {
					e.ID = uuid.NewString()
				}
				batch.Queue(`
					INSERT INTO ledger_entries (id, user_id, kind, reference_id, score, xp, time_spent_ms, occurred_at)
					VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				`, e.ID, u.ID, string(e.Kind), e.ReferenceID, e.Score, e.XP, e.TimeSpent.Milliseconds(), e.OccurredAt)
			}

			return execBatch(ctx, tx, batch, "SaveUser")
		})
	})
	if err != nil {
		return err
	}

	u.Version++
	return nil
}

func (s *Store) missingOrConflict(ctx context.Context, q Querier, id string) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists); err != nil {
		return mapError("progression", "SaveUser", err)
	}
	if !exists {
		return shared.ErrUserNotFound
	}
	return shared.ErrVersionConflict
}

const upsertRankSQL = `
	INSERT INTO user_ranks (user_id, metric, rank, updated_at)
	VALUES ($1, $2, $3, NOW())
	ON CONFLICT (user_id, metric) DO UPDATE SET rank = EXCLUDED.rank, updated_at = NOW()
`

// UpdateRank implements progression.Store.
func (s *Store) UpdateRank(ctx context.Context, userID string, metric shared.Metric, rank shared.Rank) error {
	_, err := s.conn.Exec(ctx, upsertRankSQL, userID, string(metric), int(rank))
	if sqlState(err) == codeForeignKeyViolation {
		return shared.ErrUserNotFound
	}
	return mapError("progression", "UpdateRank", err)
}

// ─────────────────────────────────────────────────────────────────────────────
// Range queries
// ─────────────────────────────────────────────────────────────────────────────

func metricColumn(metric shared.Metric) (string, error) {
	switch metric {
	case shared.MetricXP:
		return "total_xp", nil
	case shared.MetricLevel:
		return "level", nil
	case shared.MetricStreak:
		return "current_streak", nil
	}
	return "", shared.ErrUnknownMetric
}

// CountUsersWhere implements progression.Store.
func (s *Store) CountUsersWhere(ctx context.Context, p progression.UserPredicate) (int64, error) {
	col, err := metricColumn(p.Metric)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf("SELECT count(*) FROM users WHERE %s > $1", col)
	if p.ActiveOnly {
		query += " AND is_active"
	}

	var n int64
	if err := s.conn.QueryRow(ctx, query, p.GreaterThan).Scan(&n); err != nil {
		return 0, mapError("progression", "CountUsersWhere", err)
	}
	return n, nil
}

// FindAllActiveUsersSortedBy implements progression.Store.
func (s *Store) FindAllActiveUsersSortedBy(ctx context.Context, metric shared.Metric) ([]progression.RankEntry, error) {
	col, err := metricColumn(metric)
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.Query(ctx, fmt.Sprintf(`
		SELECT id, %[1]s, created_at FROM users
		WHERE is_active
		ORDER BY %[1]s DESC, created_at ASC, id ASC
	`, col))
	if err != nil {
		return nil, mapError("progression", "FindAllActiveUsersSortedBy", err)
	}
	defer rows.Close()

	var entries []progression.RankEntry
	for rows.Next() {
		var e progression.RankEntry
		if err := rows.Scan(&e.UserID, &e.Value, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rank entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListUserIDs implements progression.Store.
func (s *Store) ListUserIDs(ctx context.Context, offset, limit int) ([]string, error) {
	query := `SELECT id FROM users ORDER BY id OFFSET $1`
	args := []interface{}{offset}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError("progression", "ListUserIDs", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Ledger
// ─────────────────────────────────────────────────────────────────────────────

// QueryLedger implements progression.Ledger.
func (s *Store) QueryLedger(ctx context.Context, userID string, f progression.LedgerFilter) ([]progression.LedgerRecord, error) {
	query, args := buildLedgerQuery(userID, f)

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError("ledger", "QueryLedger", err)
	}
	defer rows.Close()

	var out []progression.LedgerRecord
	for rows.Next() {
		var (
			r         progression.LedgerRecord
			kind      string
			spentMsec int64
		)
		if err := rows.Scan(&r.ID, &r.UserID, &kind, &r.ReferenceID, &r.Score, &r.XP, &spentMsec, &r.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		r.Kind = progression.LedgerKind(kind)
		r.TimeSpent = time.Duration(spentMsec) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

func buildLedgerQuery(userID string, f progression.LedgerFilter) (string, []interface{}) {
	where := []string{"user_id = $1"}
	args := []interface{}{userID}

	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Kind != "" {
		add("kind = $%d", string(f.Kind))
	}
	if f.MinScore > 0 {
		add("score >= $%d", f.MinScore)
	}
	if !f.Range.From.IsZero() {
		add("occurred_at >= $%d", f.Range.From)
	}
	if !f.Range.To.IsZero() {
		add("occurred_at <= $%d", f.Range.To)
	}

	query := `
		SELECT id::text, user_id, kind, reference_id, score, xp, time_spent_ms, occurred_at
		FROM ledger_entries
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY occurred_at`
	return query, args
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
