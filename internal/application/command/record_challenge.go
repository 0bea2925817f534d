package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alem-hub/progression-engine/internal/domain/progression"
	"github.com/alem-hub/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD CHALLENGE COMPLETION COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// SourceChallenge tags XP earned from challenges.
const SourceChallenge = "challenge"

// RecordChallengeCompletionCommand contains the data of a finished challenge.
type RecordChallengeCompletionCommand struct {
	UserID      string `json:"user_id" validate:"required"`
	ChallengeID string `json:"challenge_id" validate:"required"`

	// Score is the percentage achieved, 0..100.
	Score int `json:"score" validate:"gte=0,lte=100"`

	TimeSpent time.Duration `json:"time_spent" validate:"gte=0"`

	IdempotencyKey string `json:"idempotency_key,omitempty" validate:"omitempty,max=128"`
}

// RecordChallengeCompletion credits XP for a challenge scaled by the score
// (never below the performance floor) and appends a ledger record that
// countable achievements read later.
func (c *Coordinator) RecordChallengeCompletion(ctx context.Context, cmd RecordChallengeCompletionCommand) (*ProgressionResult, error) {
	if err := c.validator.Validate("RecordChallengeCompletion", cmd); err != nil {
		return nil, err
	}
	if c.challenges == nil {
		return nil, shared.NewDomainError("command", "RecordChallengeCompletion", shared.ErrUnavailable, "challenge catalog is not configured")
	}

	// Missing challenge aborts before anything is written.
	challenge, err := c.challenges.GetChallenge(ctx, cmd.ChallengeID)
	if err != nil {
		return nil, fmt.Errorf("record_challenge: failed to get challenge: %w", err)
	}

	base := challenge.BaseReward
	if base <= 0 {
		base = c.config.ChallengeBaseReward
	}
	xp := progression.ChallengeXP(base, cmd.Score, c.config.PerformanceFloor)
	if xp <= 0 {
		return nil, errors.Join(shared.ErrNonPositiveXP, fmt.Errorf("challenge %s yields no xp", cmd.ChallengeID))
	}

	out, err := c.run(ctx, operation{
		name:     "record_challenge",
		userID:   cmd.UserID,
		key:      cmd.IdempotencyKey,
		evaluate: true,
		mutate: func(s *opState) error {
			if err := s.grant(xp, SourceChallenge); err != nil {
				return err
			}
			s.primaryXP = xp

			s.user.ChallengesCompleted++
			if progression.IsPerfect(cmd.Score) {
				s.user.PerfectScores++
			}
			s.ledger = append(s.ledger, progression.LedgerRecord{
				UserID:      s.user.ID,
				Kind:        progression.LedgerChallengeCompleted,
				ReferenceID: cmd.ChallengeID,
				Score:       cmd.Score,
				XP:          xp,
				TimeSpent:   cmd.TimeSpent,
				OccurredAt:  s.now,
			})

			return c.recordActivity(s, xp, SourceChallenge)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("record_challenge: %w", err)
	}

	return c.progressionResult(out), nil
}
