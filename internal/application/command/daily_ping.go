package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/progression-engine/internal/domain/progression"
	"github.com/alem-hub/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DAILY PING / STREAK FREEZE
// ══════════════════════════════════════════════════════════════════════════════

// StreakResult is returned by RecordDailyPing.
type StreakResult struct {
	UserID string

	OldStreak     int
	CurrentStreak int
	LongestStreak int

	Increased   bool
	Reset       bool
	IsNewRecord bool

	// BonusXP is milestone and achievement XP credited by the ping.
	BonusXP int

	TotalXP int
	Level   int

	UnlockedAchievements []string
}

// RecordDailyPing keeps the streak alive without earning XP.
// Only the first ping of a day has an effect.
func (c *Coordinator) RecordDailyPing(ctx context.Context, userID string) (*StreakResult, error) {
	if err := requireUserID("RecordDailyPing", userID); err != nil {
		return nil, err
	}

	out, err := c.run(ctx, operation{
		name:     "daily_ping",
		userID:   userID,
		evaluate: true,
		mutate: func(s *opState) error {
			if day, ok := s.user.ActivityOn(s.today); ok && day.HasTag(progression.SourceLogin) {
				s.noop = true
				return nil
			}
			s.ledger = append(s.ledger, progression.LedgerRecord{
				UserID:     s.user.ID,
				Kind:       progression.LedgerLogin,
				OccurredAt: s.now,
			})
			return c.recordActivity(s, 0, progression.SourceLogin)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("daily_ping: %w", err)
	}

	pre, post := out.pre, out.user
	res := &StreakResult{
		UserID:               post.ID,
		OldStreak:            pre.CurrentStreak,
		CurrentStreak:        post.CurrentStreak,
		LongestStreak:        post.LongestStreak,
		Increased:            out.state.streak.Increased,
		Reset:                out.state.streak.Reset,
		IsNewRecord:          out.state.streak.IsNewRecord,
		TotalXP:              int(post.TotalXP),
		Level:                int(post.Level),
		UnlockedAchievements: unlockedIDs(out.unlocks),
	}
	if post.TotalXP > pre.TotalXP {
		res.BonusXP = int(post.TotalXP - pre.TotalXP)
	}
	return res, nil
}

// UseStreakFreeze consumes one streak freeze and marks today as active,
// so the next day's streak check sees no gap. Returns the freezes left.
// A day that already has a bucket (real activity or an earlier freeze)
// needs no cover, so nothing is consumed.
// Fails with ErrInsufficientResource when none are left.
func (c *Coordinator) UseStreakFreeze(ctx context.Context, userID string) (int, error) {
	if err := requireUserID("UseStreakFreeze", userID); err != nil {
		return 0, err
	}

	out, err := c.run(ctx, operation{
		name:   "use_streak_freeze",
		userID: userID,
		mutate: func(s *opState) error {
			if s.user.StreakFreezes <= 0 {
				return shared.ErrNoStreakFreezes
			}
			if _, ok := s.user.ActivityOn(s.today); ok {
				s.noop = true
				return nil
			}
			s.user.StreakFreezes--
			s.user.UpsertActivity(s.today, 0, progression.SourceStreakFreeze)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("use_streak_freeze: %w", err)
	}

	return out.user.StreakFreezes, nil
}
