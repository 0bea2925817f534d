// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")

	// State errors
	ErrInsufficientResource = errors.New("insufficient resource")
	ErrShuttingDown         = errors.New("shutting down")

	// Concurrency errors
	ErrConflict = errors.New("concurrent modification detected")

	// Availability errors
	ErrUnavailable = errors.New("service unavailable")
	ErrTimeout     = errors.New("operation timeout")

	// ErrPartialDegradation marks a non-critical sub-step that failed after
	// the primary state mutation was persisted.
	ErrPartialDegradation = errors.New("partial degradation")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "progression", "rank", "reconciliation"
	Op      string // Operation that failed, e.g., "GrantXP", "SaveUser"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Progression domain errors
var (
	ErrUserNotFound        = NewDomainError("progression", "GetUser", ErrNotFound, "user not found")
	ErrAchievementNotFound = NewDomainError("progression", "GetAchievement", ErrNotFound, "achievement not found")
	ErrChallengeNotFound   = NewDomainError("progression", "GetChallenge", ErrNotFound, "challenge not found")
	ErrNonPositiveXP       = NewDomainError("progression", "ApplyXP", ErrInvalidAmount, "xp delta must be positive")
	ErrXPOverflow          = NewDomainError("progression", "ApplyXP", ErrInvalidAmount, "xp delta overflows total xp")
	ErrInvalidScore        = NewDomainError("progression", "Validate", ErrValueOutOfRange, "score must be between 0 and 100")
	ErrNoStreakFreezes     = NewDomainError("progression", "UseStreakFreeze", ErrInsufficientResource, "no streak freezes left")
	ErrVersionConflict     = NewDomainError("progression", "SaveUser", ErrConflict, "user record was modified concurrently")
)

// Rank domain errors
var (
	ErrUnknownMetric    = NewDomainError("rank", "Validate", ErrInvalidInput, "unknown ranking metric")
	ErrUserNotIndexed   = NewDomainError("rank", "RankOf", ErrNotFound, "user is not present in rank index")
	ErrRankIndexOffline = NewDomainError("rank", "Query", ErrUnavailable, "rank index is unavailable")
)

// Reconciliation errors
var (
	ErrSchedulerStopped = NewDomainError("reconciliation", "Enqueue", ErrShuttingDown, "reconciliation scheduler is stopped")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsConflict checks if the store detected a concurrent write.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConflict)
}
