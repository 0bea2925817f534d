package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/progression-engine/internal/domain/progression"
)

// ══════════════════════════════════════════════════════════════════════════════
// GRANT XP COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// SourceAchievement tags daily buckets credited by achievement rewards.
const SourceAchievement = "achievement"

// GrantXPCommand contains the data to grant XP.
type GrantXPCommand struct {
	// UserID is the user receiving XP.
	UserID string `json:"user_id" validate:"required"`

	// Amount must be positive.
	Amount int `json:"amount" validate:"gt=0"`

	// Source tags the grant in events and the daily bucket.
	Source string `json:"source" validate:"required,max=64"`

	// Metadata is logged with the grant.
	Metadata map[string]string `json:"metadata,omitempty"`

	// IdempotencyKey makes retries of the same request a no-op.
	IdempotencyKey string `json:"idempotency_key,omitempty" validate:"omitempty,max=128"`
}

// ProgressionResult is returned by XP-granting operations.
type ProgressionResult struct {
	UserID string

	// XPGained is the XP granted by the operation itself.
	XPGained int

	// BonusXP is XP from streak milestones and achievement rewards.
	BonusXP int

	TotalXP   int
	OldLevel  int
	NewLevel  int
	LeveledUp bool

	// UnlockedAchievements are IDs unlocked by this operation.
	UnlockedAchievements []string

	Rank        int
	RankChanged bool

	// Replayed is true when the idempotency key was already applied.
	Replayed bool
}

// GrantXP grants XP to a user.
func (c *Coordinator) GrantXP(ctx context.Context, cmd GrantXPCommand) (*ProgressionResult, error) {
	if err := c.validator.Validate("GrantXP", cmd); err != nil {
		return nil, err
	}

	out, err := c.run(ctx, operation{
		name:     "grant_xp",
		userID:   cmd.UserID,
		key:      cmd.IdempotencyKey,
		evaluate: true,
		mutate: func(s *opState) error {
			if err := s.grant(cmd.Amount, cmd.Source); err != nil {
				return err
			}
			s.primaryXP = cmd.Amount
			return c.recordActivity(s, cmd.Amount, cmd.Source)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("grant_xp: %w", err)
	}

	if len(cmd.Metadata) > 0 {
		c.logger.Debug("xp granted", "user_id", cmd.UserID, "amount", cmd.Amount, "source", cmd.Source, "metadata", cmd.Metadata)
	}
	return c.progressionResult(out), nil
}

func (c *Coordinator) progressionResult(out *outcome) *ProgressionResult {
	pre, post := out.pre, out.user
	metric := c.primaryMetric()

	res := &ProgressionResult{
		UserID:      post.ID,
		XPGained:    out.state.primaryXP,
		TotalXP:     int(post.TotalXP),
		OldLevel:    int(pre.Level),
		NewLevel:    int(post.Level),
		LeveledUp:   post.Level > pre.Level,
		Rank:        int(post.RankFor(metric)),
		RankChanged: post.RankFor(metric) != pre.RankFor(metric),
		Replayed:    out.state.replayed,
	}
	if bonus := int(post.TotalXP-pre.TotalXP) - out.state.primaryXP; bonus > 0 {
		res.BonusXP = bonus
	}

	res.UnlockedAchievements = unlockedIDs(out.unlocks)
	return res
}

func unlockedIDs(unlocks []progression.Unlock) []string {
	ids := make([]string, 0, len(unlocks))
	for _, u := range unlocks {
		ids = append(ids, u.Definition.ID)
	}
	return ids
}
