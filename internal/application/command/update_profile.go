package command

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/progression-engine/internal/domain/progression"
	"github.com/alem-hub/progression-engine/internal/domain/shared"
)

// UpdateProfileCommand applies a partial profile update.
type UpdateProfileCommand struct {
	UserID string                   `json:"user_id" validate:"required"`
	Patch  progression.ProfilePatch `json:"patch"`
}

// UpdateProfile merges the patch into the stored profile and returns the result.
// Fields left nil in the patch are kept as is.
func (c *Coordinator) UpdateProfile(ctx context.Context, cmd UpdateProfileCommand) (*progression.Profile, error) {
	if err := c.validator.Validate("UpdateProfile", cmd); err != nil {
		return nil, err
	}
	if tz := cmd.Patch.Timezone; tz != nil && *tz != "" {
		if _, err := time.LoadLocation(*tz); err != nil {
			return nil, shared.WrapError("command", "UpdateProfile", shared.ErrInvalidInput, "unknown timezone", err)
		}
	}

	out, err := c.run(ctx, operation{
		name:   "update_profile",
		userID: cmd.UserID,
		mutate: func(s *opState) error {
			if cmd.Patch.IsEmpty() {
				s.noop = true
				return nil
			}
			s.user.Profile = progression.MergeProfile(s.user.Profile, cmd.Patch)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("update_profile: %w", err)
	}

	profile := out.user.Profile
	return &profile, nil
}
