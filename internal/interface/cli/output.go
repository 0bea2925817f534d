package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/alem-hub/progression-engine/internal/domain/shared"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Anything not covered below
	ExitInvalidInput = 2 // Bad flags, arguments or rejected input
	ExitNotFound     = 3 // Unknown user, challenge or migration
	ExitUnavailable  = 4 // Storage or cache could not be reached
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// ExitCode maps an error returned by a command to a process exit code.
// Domain errors are classified by kind.
func ExitCode(err error) int {
	var exitErr *ExitError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &exitErr):
		return exitErr.Code
	case shared.IsValidation(err):
		return ExitInvalidInput
	case shared.IsNotFound(err):
		return ExitNotFound
	case errors.Is(err, shared.ErrUnavailable), errors.Is(err, shared.ErrTimeout):
		return ExitUnavailable
	default:
		return ExitFailure
	}
}

// Printer renders command results as indented JSON or aligned text.
type Printer struct {
	Format string
	Writer io.Writer
}

// Print writes v as JSON, or calls text with a tab-aligned writer.
func (p *Printer) Print(v any, text func(w io.Writer)) error {
	if p.Format == "json" {
		enc := json.NewEncoder(p.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	tw := tabwriter.NewWriter(p.Writer, 0, 0, 2, ' ', 0)
	text(tw)
	return tw.Flush()
}

func field(w io.Writer, name string, value any) {
	fmt.Fprintf(w, "%s:\t%v\n", name, value)
}

func formatChange(from, to int) string {
	return fmt.Sprintf("%d -> %d", from, to)
}

func parseIntArg(name, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, NewExitError(ExitInvalidInput, fmt.Sprintf("%s must be an integer, got %q", name, s))
	}
	return n, nil
}
