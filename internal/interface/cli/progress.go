package cli

import (
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/alem-hub/progression-engine/internal/application/command"
)

func printProgression(opts *RootOptions, cmd *cobra.Command, r *command.ProgressionResult) error {
	return opts.printer(cmd).Print(r, func(w io.Writer) {
		if r.Replayed {
			field(w, "replayed", "operation already applied, nothing changed")
		}
		field(w, "user", r.UserID)
		field(w, "xp gained", r.XPGained)
		if r.BonusXP > 0 {
			field(w, "bonus xp", r.BonusXP)
		}
		field(w, "total xp", r.TotalXP)
		if r.LeveledUp {
			field(w, "level", formatChange(r.OldLevel, r.NewLevel))
		} else {
			field(w, "level", r.NewLevel)
		}
		if len(r.UnlockedAchievements) > 0 {
			field(w, "unlocked", strings.Join(r.UnlockedAchievements, ", "))
		}
		if r.Rank > 0 {
			field(w, "rank", r.Rank)
		}
	})
}

// NewGrantXPCommand creates the grant-xp command.
func NewGrantXPCommand(opts *RootOptions) *cobra.Command {
	var (
		source   string
		key      string
		metadata map[string]string
	)

	cmd := &cobra.Command{
		Use:   "grant-xp <user-id> <amount>",
		Short: "Grant XP to a user",
		Long: `Grant XP to a user. Level, streak and achievements are updated in the
same operation.

Example:
  progressctl grant-xp alice 250 --source lesson --key lesson-42-alice`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseIntArg("amount", args[1])
			if err != nil {
				return err
			}

			coord, err := opts.coordinator()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			res, err := coord.GrantXP(ctx, command.GrantXPCommand{
				UserID:         args[0],
				Amount:         amount,
				Source:         source,
				Metadata:       metadata,
				IdempotencyKey: key,
			})
			if err != nil {
				return err
			}
			return printProgression(opts, cmd, res)
		},
	}

	cmd.Flags().StringVar(&source, "source", "manual", "what the XP is for")
	cmd.Flags().StringVar(&key, "key", "", "idempotency key; repeating it is a no-op")
	cmd.Flags().StringToStringVar(&metadata, "meta", nil, "extra key=value pairs logged with the grant")

	return cmd
}

// NewChallengeCommand creates the challenge command.
func NewChallengeCommand(opts *RootOptions) *cobra.Command {
	var (
		score     int
		timeSpent time.Duration
		key       string
	)

	cmd := &cobra.Command{
		Use:   "challenge <user-id> <challenge-id>",
		Short: "Record a completed challenge",
		Long: `Record a completed challenge. The reward is the challenge's base reward
scaled by the score, never below the configured floor.

Example:
  progressctl challenge alice warmup --score 85 --time 12m`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, err := opts.coordinator()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			res, err := coord.RecordChallengeCompletion(ctx, command.RecordChallengeCompletionCommand{
				UserID:         args[0],
				ChallengeID:    args[1],
				Score:          score,
				TimeSpent:      timeSpent,
				IdempotencyKey: key,
			})
			if err != nil {
				return err
			}
			return printProgression(opts, cmd, res)
		},
	}

	cmd.Flags().IntVar(&score, "score", 100, "score in percent, 0..100")
	cmd.Flags().DurationVar(&timeSpent, "time", 0, "time spent on the challenge")
	cmd.Flags().StringVar(&key, "key", "", "idempotency key; repeating it is a no-op")

	return cmd
}

// NewCorrectXPCommand creates the correct-xp command.
func NewCorrectXPCommand(opts *RootOptions) *cobra.Command {
	var reason, key string

	cmd := &cobra.Command{
		Use:   "correct-xp <user-id> <new-total>",
		Short: "Overwrite a user's total XP",
		Long: `Overwrite a user's total XP and re-derive the level. This is the only
way total XP can go down; unlocked achievements are kept.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			total, err := parseIntArg("new-total", args[1])
			if err != nil {
				return err
			}

			coord, err := opts.coordinator()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			res, err := coord.CorrectXP(ctx, command.CorrectXPCommand{
				UserID:         args[0],
				NewTotal:       total,
				Reason:         reason,
				IdempotencyKey: key,
			})
			if err != nil {
				return err
			}
			return printProgression(opts, cmd, res)
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "why the total is being corrected (required)")
	cmd.Flags().StringVar(&key, "key", "", "idempotency key; repeating it is a no-op")
	_ = cmd.MarkFlagRequired("reason")

	return cmd
}
