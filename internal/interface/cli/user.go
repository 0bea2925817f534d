package cli

import (
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alem-hub/progression-engine/internal/application/command"
	"github.com/alem-hub/progression-engine/internal/domain/progression"
)

// userView is the printed form of a user.
type userView struct {
	ID                   string   `json:"id"`
	DisplayName          string   `json:"display_name"`
	Bio                  string   `json:"bio,omitempty"`
	Timezone             string   `json:"timezone,omitempty"`
	TotalXP              int      `json:"total_xp"`
	Level                int      `json:"level"`
	CurrentStreak        int      `json:"current_streak"`
	LongestStreak        int      `json:"longest_streak"`
	StreakFreezes        int      `json:"streak_freezes"`
	ChallengesCompleted  int      `json:"challenges_completed"`
	UnlockedAchievements []string `json:"unlocked_achievements"`
	Notifications        bool     `json:"notifications"`
	PublicProfile        bool     `json:"public_profile"`
	Theme                string   `json:"theme,omitempty"`
}

func newUserView(u *progression.User) userView {
	return userView{
		ID:                   u.ID,
		DisplayName:          u.Profile.DisplayName,
		Bio:                  u.Profile.Bio,
		Timezone:             u.Profile.Timezone,
		TotalXP:              u.TotalXP.Int(),
		Level:                int(u.Level),
		CurrentStreak:        u.CurrentStreak,
		LongestStreak:        u.LongestStreak,
		StreakFreezes:        u.StreakFreezes,
		ChallengesCompleted:  u.ChallengesCompleted,
		UnlockedAchievements: u.UnlockedAchievements,
		Notifications:        u.Profile.Preferences.Notifications,
		PublicProfile:        u.Profile.Preferences.PublicProfile,
		Theme:                u.Profile.Preferences.Theme,
	}
}

func (v userView) text(w io.Writer) {
	field(w, "user", v.ID)
	field(w, "name", v.DisplayName)
	if v.Timezone != "" {
		field(w, "timezone", v.Timezone)
	}
	field(w, "xp", v.TotalXP)
	field(w, "level", v.Level)
	field(w, "streak", v.CurrentStreak)
	field(w, "longest streak", v.LongestStreak)
	field(w, "freezes", v.StreakFreezes)
	field(w, "challenges", v.ChallengesCompleted)
	if len(v.UnlockedAchievements) > 0 {
		field(w, "achievements", strings.Join(v.UnlockedAchievements, ", "))
	}
}

// NewUserCommand creates the user command group.
func NewUserCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Register, inspect and edit users",
	}

	cmd.AddCommand(newUserCreateCommand(rootOpts))
	cmd.AddCommand(newUserShowCommand(rootOpts))
	cmd.AddCommand(newUserProfileCommand(rootOpts))

	return cmd
}

func newUserCreateCommand(opts *RootOptions) *cobra.Command {
	var name, timezone string

	cmd := &cobra.Command{
		Use:   "create <user-id>",
		Short: "Register a user with zero progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, err := opts.coordinator()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			user, err := coord.RegisterUser(ctx, command.RegisterUserCommand{
				UserID:      args[0],
				DisplayName: name,
				Timezone:    timezone,
			})
			if err != nil {
				return err
			}

			view := newUserView(user)
			return opts.printer(cmd).Print(view, view.text)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name (defaults to the user id)")
	cmd.Flags().StringVar(&timezone, "timezone", "", "IANA timezone, e.g. Asia/Almaty")

	return cmd
}

func newUserShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <user-id>",
		Short: "Print a user's progression state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, err := opts.coordinator()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			user, err := coord.GetUser(ctx, args[0])
			if err != nil {
				return err
			}

			view := newUserView(user)
			return opts.printer(cmd).Print(view, view.text)
		},
	}
}

func newUserProfileCommand(opts *RootOptions) *cobra.Command {
	var (
		name, bio, timezone, theme   string
		notifications, publicProfile bool
	)

	cmd := &cobra.Command{
		Use:   "profile <user-id>",
		Short: "Update profile fields; only the flags given are changed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()

			var patch progression.ProfilePatch
			if flags.Changed("name") {
				patch.DisplayName = &name
			}
			if flags.Changed("bio") {
				patch.Bio = &bio
			}
			if flags.Changed("timezone") {
				patch.Timezone = &timezone
			}

			var prefs progression.PreferencesPatch
			if flags.Changed("notifications") {
				prefs.Notifications = &notifications
			}
			if flags.Changed("public") {
				prefs.PublicProfile = &publicProfile
			}
			if flags.Changed("theme") {
				prefs.Theme = &theme
			}
			if prefs != (progression.PreferencesPatch{}) {
				patch.Preferences = &prefs
			}

			coord, err := opts.coordinator()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			profile, err := coord.UpdateProfile(ctx, command.UpdateProfileCommand{
				UserID: args[0],
				Patch:  patch,
			})
			if err != nil {
				return err
			}

			return opts.printer(cmd).Print(profile, func(w io.Writer) {
				field(w, "name", profile.DisplayName)
				field(w, "bio", profile.Bio)
				field(w, "timezone", profile.Timezone)
				field(w, "notifications", profile.Preferences.Notifications)
				field(w, "public", profile.Preferences.PublicProfile)
				field(w, "theme", profile.Preferences.Theme)
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&bio, "bio", "", "short bio")
	cmd.Flags().StringVar(&timezone, "timezone", "", "IANA timezone")
	cmd.Flags().StringVar(&theme, "theme", "", "light, dark or system")
	cmd.Flags().BoolVar(&notifications, "notifications", true, "receive notifications")
	cmd.Flags().BoolVar(&publicProfile, "public", true, "show the profile publicly")

	return cmd
}
