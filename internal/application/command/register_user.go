package command

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/progression-engine/internal/domain/progression"
	"github.com/alem-hub/progression-engine/internal/domain/shared"
)

// RegisterUserCommand creates a user with zero progress.
type RegisterUserCommand struct {
	UserID      string `json:"user_id" validate:"required,max=128"`
	DisplayName string `json:"display_name" validate:"max=100"`
	Timezone    string `json:"timezone,omitempty" validate:"omitempty,max=64"`
}

// RegisterUser stores a new user at level 1. Registering an existing ID
// fails with shared.ErrAlreadyExists.
func (c *Coordinator) RegisterUser(ctx context.Context, cmd RegisterUserCommand) (*progression.User, error) {
	if err := c.validator.Validate("RegisterUser", cmd); err != nil {
		return nil, err
	}
	if cmd.Timezone != "" {
		if _, err := time.LoadLocation(cmd.Timezone); err != nil {
			return nil, shared.WrapError("command", "RegisterUser", shared.ErrInvalidInput, "unknown timezone", err)
		}
	}

	name := cmd.DisplayName
	if name == "" {
		name = cmd.UserID
	}
	user := progression.NewUser(cmd.UserID, name, c.clock.Now())
	user.Profile.Timezone = cmd.Timezone

	if err := c.store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("register_user: %w", err)
	}

	c.logger.Info("user registered", "user_id", user.ID)
	return user, nil
}

// GetUser returns a snapshot of the stored user.
func (c *Coordinator) GetUser(ctx context.Context, userID string) (*progression.User, error) {
	if err := requireUserID("GetUser", userID); err != nil {
		return nil, err
	}
	user, err := c.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get_user: %w", err)
	}
	return user, nil
}
