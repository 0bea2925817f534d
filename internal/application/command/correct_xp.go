package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/progression-engine/internal/domain/shared"
)

// SourceCorrection tags XP added by an administrative correction.
const SourceCorrection = "correction"

// CorrectXPCommand sets a user's total XP. It is the only way XP can decrease.
type CorrectXPCommand struct {
	UserID   string `json:"user_id" validate:"required"`
	NewTotal int    `json:"new_total" validate:"gte=0"`
	Reason   string `json:"reason" validate:"required,max=256"`

	IdempotencyKey string `json:"idempotency_key,omitempty" validate:"omitempty,max=128"`
}

// CorrectXP overwrites total XP and re-derives the level.
// xp_granted is emitted only for an increase and level_up only when the level rises.
func (c *Coordinator) CorrectXP(ctx context.Context, cmd CorrectXPCommand) (*ProgressionResult, error) {
	if err := c.validator.Validate("CorrectXP", cmd); err != nil {
		return nil, err
	}

	out, err := c.run(ctx, operation{
		name:     "correct_xp",
		userID:   cmd.UserID,
		key:      cmd.IdempotencyKey,
		evaluate: true,
		mutate: func(s *opState) error {
			old := int(s.user.TotalXP)
			if cmd.NewTotal == old {
				s.noop = true
				return nil
			}

			s.user.TotalXP = shared.XP(cmd.NewTotal)
			s.user.RederiveLevel()

			diff := cmd.NewTotal - old
			s.primaryXP = diff
			if diff > 0 {
				s.grants = append(s.grants, xpGrant{amount: diff, source: SourceCorrection})
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("correct_xp: %w", err)
	}

	if !out.state.noop {
		c.logger.Info("xp corrected",
			"user_id", cmd.UserID,
			"old_total", int(out.pre.TotalXP),
			"new_total", cmd.NewTotal,
			"reason", cmd.Reason,
		)
	}
	return c.progressionResult(out), nil
}
