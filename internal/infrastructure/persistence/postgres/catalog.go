package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/progression-engine/internal/domain/progression"
	"github.com/alem-hub/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// Catalog implements progression.AchievementCatalog and
// progression.ChallengeCatalog. Achievements are returned by position.
type Catalog struct {
	conn *Connection
}

// NewCatalog creates a new Catalog.
func NewCatalog(conn *Connection) *Catalog {
	return &Catalog{conn: conn}
}

// ListActive implements progression.AchievementCatalog.
func (c *Catalog) ListActive(ctx context.Context) ([]progression.AchievementDefinition, error) {
	rows, err := c.conn.Query(ctx, `
		SELECT id, name, description, criteria_type, target, timeframe,
			   reward_xp, reward_streak_freezes, custom_key, is_active, total_unlocked
		FROM achievements
		WHERE is_active
		ORDER BY position, id
	`)
	if err != nil {
		return nil, mapError("achievement", "ListActive", err)
	}
	defer rows.Close()

	var defs []progression.AchievementDefinition
	for rows.Next() {
		var (
			d         progression.AchievementDefinition
			criteria  string
			timeframe string
		)
		if err := rows.Scan(
			&d.ID,
			&d.Name,
			&d.Description,
			&criteria,
			&d.Target,
			&timeframe,
			&d.RewardXP,
			&d.RewardStreakFreezes,
			&d.CustomKey,
			&d.IsActive,
			&d.TotalUnlocked,
		); err != nil {
			return nil, fmt.Errorf("failed to scan achievement: %w", err)
		}
		d.CriteriaType = progression.CriteriaType(criteria)
		d.Timeframe = progression.Timeframe(timeframe)
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

// IncrementUnlocked implements progression.AchievementCatalog.
func (c *Catalog) IncrementUnlocked(ctx context.Context, achievementID string) error {
	tag, err := c.conn.Exec(ctx,
		`UPDATE achievements SET total_unlocked = total_unlocked + 1 WHERE id = $1`,
		achievementID,
	)
	if err != nil {
		return mapError("achievement", "IncrementUnlocked", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrAchievementNotFound
	}
	return nil
}

// GetChallenge implements progression.ChallengeCatalog.
func (c *Catalog) GetChallenge(ctx context.Context, id string) (*progression.Challenge, error) {
	var ch progression.Challenge
	err := c.conn.QueryRow(ctx, `
		SELECT id, title, base_reward, is_active
		FROM challenges
		WHERE id = $1 AND is_active
	`, id).Scan(&ch.ID, &ch.Title, &ch.BaseReward, &ch.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrChallengeNotFound
	}
	if err != nil {
		return nil, mapError("challenge", "GetChallenge", err)
	}
	return &ch, nil
}

// SyncAchievements upserts the catalog file into the achievements table.
// The slice order becomes the evaluation order; unlock counters are kept.
// Definitions missing from the file are deactivated.
func (c *Catalog) SyncAchievements(ctx context.Context, defs []progression.AchievementDefinition) error {
	return c.conn.WriteTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE achievements SET is_active = FALSE`); err != nil {
			return mapError("achievement", "SyncAchievements", err)
		}

		batch := &pgx.Batch{}
		for i, d := range defs {
			batch.Queue(`
				INSERT INTO achievements (
					id, position, name, description, criteria_type, target, timeframe,
					reward_xp, reward_streak_freezes, custom_key, is_active
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
				ON CONFLICT (id) DO UPDATE SET
					position = EXCLUDED.position,
					name = EXCLUDED.name,
					description = EXCLUDED.description,
					criteria_type = EXCLUDED.criteria_type,
					target = EXCLUDED.target,
					timeframe = EXCLUDED.timeframe,
					reward_xp = EXCLUDED.reward_xp,
					reward_streak_freezes = EXCLUDED.reward_streak_freezes,
					custom_key = EXCLUDED.custom_key,
					is_active = EXCLUDED.is_active
			`,
				d.ID,
				i,
				d.Name,
				d.Description,
				string(d.CriteriaType),
				d.Target,
				string(d.Timeframe),
				d.RewardXP,
				d.RewardStreakFreezes,
				d.CustomKey,
				d.IsActive,
			)
		}
		return execBatch(ctx, tx, batch, "SyncAchievements")
	})
}

// SyncChallenges upserts challenges from the catalog file.
func (c *Catalog) SyncChallenges(ctx context.Context, challenges []progression.Challenge) error {
	return c.conn.WriteTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, ch := range challenges {
			batch.Queue(`
				INSERT INTO challenges (id, title, base_reward, is_active)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (id) DO UPDATE SET
					title = EXCLUDED.title,
					base_reward = EXCLUDED.base_reward,
					is_active = EXCLUDED.is_active
			`, ch.ID, ch.Title, ch.BaseReward, ch.IsActive)
		}
		return execBatch(ctx, tx, batch, "SyncChallenges")
	})
}

func execBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch, op string) error {
	if batch.Len() == 0 {
		return nil
	}
	br := tx.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return mapError("catalog", op, err)
		}
	}
	return nil
}
