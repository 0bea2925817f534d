package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/progression-engine/internal/domain/progression"
	"github.com/alem-hub/progression-engine/internal/domain/shared"
)

// Reconcile repairs derived state of one user: the level is re-derived from
// total XP, completion counters are re-synchronized with the ledger and
// achievements are re-evaluated. An error means the user should stay queued.
func (c *Coordinator) Reconcile(ctx context.Context, userID string) error {
	if err := requireUserID("Reconcile", userID); err != nil {
		return err
	}

	unlock, err := c.locker.Lock(ctx, userID)
	if err != nil {
		return shared.WrapError("coordinator", "reconcile", shared.ErrUnavailable, "failed to lock user", err)
	}
	defer unlock()

	err = c.retrier.Do(ctx, func(ctx context.Context) error {
		return c.reconcile(ctx, userID)
	})
	if shared.IsNotFound(err) {
		c.logger.Info("reconciliation skipped, user not found", "user_id", userID)
		return nil
	}
	return err
}

func (c *Coordinator) reconcile(ctx context.Context, userID string) error {
	user, err := c.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	pre := user.Clone()
	now := c.clock.Now()

	changed := user.RederiveLevel()

	if c.ledger != nil {
		records, err := c.ledger.QueryLedger(ctx, userID, progression.LedgerFilter{Kind: progression.LedgerChallengeCompleted})
		if err != nil {
			return fmt.Errorf("failed to query ledger: %w", err)
		}
		perfect := 0
		for _, r := range records {
			if progression.IsPerfect(r.Score) {
				perfect++
			}
		}
		if user.ChallengesCompleted != len(records) || user.PerfectScores != perfect {
			user.ChallengesCompleted = len(records)
			user.PerfectScores = perfect
			changed = true
		}
	}

	defs, err := c.achievements.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list achievements: %w", err)
	}
	unlocks, evalErr := c.evaluator.EvaluateAll(ctx, user, defs, now)

	var grants []xpGrant
	for _, u := range unlocks {
		if u.Definition.RewardXP > 0 {
			grants = append(grants, xpGrant{amount: u.Definition.RewardXP, source: "achievement:" + u.Definition.ID})
		}
	}

	if !changed && len(unlocks) == 0 {
		return evalErr
	}

	user.UpdatedAt = now
	if err := c.store.SaveUser(ctx, user); err != nil {
		return err
	}

	for _, u := range unlocks {
		if err := c.achievements.IncrementUnlocked(ctx, u.Definition.ID); err != nil {
			c.logger.Warn("failed to increment unlock counter", "achievement_id", u.Definition.ID, "error", err)
		}
	}

	c.publish("reconcile", diffEvents(pre, user, grants, unlocks, now))
	c.logger.Info("user reconciled",
		"user_id", userID,
		"level", int(user.Level),
		"challenges_completed", user.ChallengesCompleted,
		"unlocked", len(unlocks),
	)
	return evalErr
}
