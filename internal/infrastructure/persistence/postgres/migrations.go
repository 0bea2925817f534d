package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrMigrationFailed wraps every failure to apply or revert a migration.
var ErrMigrationFailed = errors.New("postgres: migration failed")

// Migration is one schema step. AppliedAt is set by Status.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	IsApplied bool
	AppliedAt time.Time
}

// migrations is the schema history, oldest first. Versions are dense from 1.
var migrations = []Migration{
	{Version: 1, Name: "create_users", UpSQL: migration001Up, DownSQL: migration001Down},
	{Version: 2, Name: "create_ledger", UpSQL: migration002Up, DownSQL: migration002Down},
	{Version: 3, Name: "create_catalog", UpSQL: migration003Up, DownSQL: migration003Down},
}

const createMigrationsTableSQL = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)
`

// Migrator applies and reverts the schema history.
type Migrator struct {
	conn *Connection
}

// NewMigrator creates a Migrator over conn.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn}
}

// applied returns the apply time of every recorded version.
func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	if _, err := m.conn.Exec(ctx, createMigrationsTableSQL); err != nil {
		return nil, fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	rows, err := m.conn.Query(ctx, `SELECT version, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[int]time.Time)
	for rows.Next() {
		var (
			version int
			at      time.Time
		)
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("failed to scan schema_migrations: %w", err)
		}
		out[version] = at
	}
	return out, rows.Err()
}

// Migrate applies every pending migration, each in its own transaction.
func (m *Migrator) Migrate(ctx context.Context) error {
	done, err := m.applied(ctx)
	if err != nil {
		return err
	}

	for _, mig := range migrations {
		if _, ok := done[mig.Version]; ok {
			continue
		}
		err := m.conn.WriteTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: %03d_%s: %v", ErrMigrationFailed, mig.Version, mig.Name, err)
		}
	}
	return nil
}

// Rollback reverts the newest applied migration. Nothing applied is a no-op.
func (m *Migrator) Rollback(ctx context.Context) error {
	done, err := m.applied(ctx)
	if err != nil {
		return err
	}

	for i := len(migrations) - 1; i >= 0; i-- {
		mig := migrations[i]
		if _, ok := done[mig.Version]; !ok {
			continue
		}
		err := m.conn.WriteTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.DownSQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `DELETE FROM schema_migrations WHERE version = $1`, mig.Version)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: revert %03d_%s: %v", ErrMigrationFailed, mig.Version, mig.Name, err)
		}
		return nil
	}
	return nil
}

// Status lists every known migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	done, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Migration, len(migrations))
	for i, mig := range migrations {
		if at, ok := done[mig.Version]; ok {
			mig.IsApplied = true
			mig.AppliedAt = at
		}
		out[i] = mig
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE USERS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create users and derived per-user state
-- Version: 001

CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    display_name VARCHAR(100) NOT NULL DEFAULT '',
    bio TEXT NOT NULL DEFAULT '',
    timezone VARCHAR(64) NOT NULL DEFAULT '',
    preferences JSONB NOT NULL DEFAULT '{}'::jsonb,
    total_xp BIGINT NOT NULL DEFAULT 0,
    level INTEGER NOT NULL DEFAULT 1,
    current_streak INTEGER NOT NULL DEFAULT 0,
    longest_streak INTEGER NOT NULL DEFAULT 0,
    streak_freezes INTEGER NOT NULL DEFAULT 0,
    challenges_completed INTEGER NOT NULL DEFAULT 0,
    perfect_scores INTEGER NOT NULL DEFAULT 0,
    recent_operations TEXT[] NOT NULL DEFAULT '{}',
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    version BIGINT NOT NULL DEFAULT 1,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_xp CHECK (total_xp >= 0),
    CONSTRAINT valid_level CHECK (level >= 1),
    CONSTRAINT valid_streak CHECK (current_streak >= 0 AND longest_streak >= current_streak),
    CONSTRAINT valid_freezes CHECK (streak_freezes >= 0)
);

CREATE INDEX IF NOT EXISTS idx_users_active_xp ON users(total_xp DESC, created_at, id) WHERE is_active;
CREATE INDEX IF NOT EXISTS idx_users_active_level ON users(level DESC, created_at, id) WHERE is_active;
CREATE INDEX IF NOT EXISTS idx_users_active_streak ON users(current_streak DESC, created_at, id) WHERE is_active;

CREATE TABLE IF NOT EXISTS user_ranks (
    user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    metric VARCHAR(20) NOT NULL,
    rank INTEGER NOT NULL,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (user_id, metric),
    CONSTRAINT valid_metric CHECK (metric IN ('xp', 'level', 'streak')),
    CONSTRAINT valid_rank CHECK (rank >= 1)
);

CREATE TABLE IF NOT EXISTS daily_activity (
    user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    date DATE NOT NULL,
    xp_gained INTEGER NOT NULL DEFAULT 0,
    activity_count INTEGER NOT NULL DEFAULT 0,
    source_tags TEXT[] NOT NULL DEFAULT '{}',

    -- one bucket per user per day
    CONSTRAINT unique_user_date UNIQUE (user_id, date)
);

CREATE TABLE IF NOT EXISTS unlocked_achievements (
    user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    achievement_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    unlocked_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (user_id, achievement_id)
);
`

const migration001Down = `
DROP TABLE IF EXISTS unlocked_achievements;
DROP TABLE IF EXISTS daily_activity;
DROP TABLE IF EXISTS user_ranks;
DROP TABLE IF EXISTS users;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE LEDGER
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create activity ledger
-- Version: 002

CREATE TABLE IF NOT EXISTS ledger_entries (
    id UUID PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    kind VARCHAR(40) NOT NULL,
    reference_id TEXT NOT NULL DEFAULT '',
    score INTEGER NOT NULL DEFAULT 0,
    xp INTEGER NOT NULL DEFAULT 0,
    time_spent_ms BIGINT NOT NULL DEFAULT 0,
    occurred_at TIMESTAMP WITH TIME ZONE NOT NULL,

    CONSTRAINT valid_score CHECK (score >= 0 AND score <= 100)
);

CREATE INDEX IF NOT EXISTS idx_ledger_user_kind_time ON ledger_entries(user_id, kind, occurred_at);
`

const migration002Down = `
DROP TABLE IF EXISTS ledger_entries;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CREATE CATALOG
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Migration: Create achievement and challenge catalogs
-- Version: 003

CREATE TABLE IF NOT EXISTS achievements (
    id TEXT PRIMARY KEY,
    position INTEGER NOT NULL,
    name VARCHAR(100) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    criteria_type VARCHAR(30) NOT NULL,
    target INTEGER NOT NULL DEFAULT 0,
    timeframe VARCHAR(20) NOT NULL DEFAULT 'all_time',
    reward_xp INTEGER NOT NULL DEFAULT 0,
    reward_streak_freezes INTEGER NOT NULL DEFAULT 0,
    custom_key TEXT NOT NULL DEFAULT '',
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    total_unlocked BIGINT NOT NULL DEFAULT 0,

    CONSTRAINT valid_rewards CHECK (target >= 0 AND reward_xp >= 0 AND reward_streak_freezes >= 0)
);

-- evaluation order
CREATE INDEX IF NOT EXISTS idx_achievements_position ON achievements(position) WHERE is_active;

CREATE TABLE IF NOT EXISTS challenges (
    id TEXT PRIMARY KEY,
    title VARCHAR(200) NOT NULL DEFAULT '',
    base_reward INTEGER NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,

    CONSTRAINT valid_base_reward CHECK (base_reward >= 0)
);
`

const migration003Down = `
DROP TABLE IF EXISTS challenges;
DROP TABLE IF EXISTS achievements;
`
