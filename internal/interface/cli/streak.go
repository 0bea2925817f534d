package cli

import (
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// NewPingCommand creates the ping command.
func NewPingCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ping <user-id>",
		Short: "Record daily activity without XP",
		Long: `Record that a user was active today. Only the first ping of the day
moves the streak; later pings report the current state unchanged.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, err := opts.coordinator()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			res, err := coord.RecordDailyPing(ctx, args[0])
			if err != nil {
				return err
			}

			return opts.printer(cmd).Print(res, func(w io.Writer) {
				field(w, "user", res.UserID)
				switch {
				case res.Increased:
					field(w, "streak", formatChange(res.OldStreak, res.CurrentStreak))
				case res.Reset:
					field(w, "streak", formatChange(res.OldStreak, res.CurrentStreak)+" (reset)")
				default:
					field(w, "streak", res.CurrentStreak)
				}
				field(w, "longest", res.LongestStreak)
				if res.IsNewRecord {
					field(w, "record", "new personal best")
				}
				if res.BonusXP > 0 {
					field(w, "bonus xp", res.BonusXP)
				}
				field(w, "total xp", res.TotalXP)
				field(w, "level", res.Level)
				if len(res.UnlockedAchievements) > 0 {
					field(w, "unlocked", strings.Join(res.UnlockedAchievements, ", "))
				}
			})
		},
	}
}

// NewFreezeCommand creates the freeze command.
func NewFreezeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "freeze <user-id>",
		Short: "Spend a streak freeze to cover today",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, err := opts.coordinator()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			left, err := coord.UseStreakFreeze(ctx, args[0])
			if err != nil {
				return err
			}

			out := struct {
				UserID      string `json:"user_id"`
				FreezesLeft int    `json:"freezes_left"`
			}{UserID: args[0], FreezesLeft: left}

			return opts.printer(cmd).Print(out, func(w io.Writer) {
				field(w, "user", out.UserID)
				field(w, "freezes left", out.FreezesLeft)
			})
		},
	}
}
