// Package cli implements progressctl, the operator command line for the
// progression engine.
package cli

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/alem-hub/progression-engine/internal/application/command"
	"github.com/alem-hub/progression-engine/internal/di"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format  string // "json" | "text"
	Timeout time.Duration

	injector do.Injector
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command. Services are resolved from
// injector only when a subcommand needs them.
func NewRootCommand(injector do.Injector) *cobra.Command {
	opts := &RootOptions{injector: injector}

	cmd := &cobra.Command{
		Use:   "progressctl",
		Short: "Operate the progression engine",
		Long: `progressctl drives the progression engine directly: it registers users,
grants XP, records challenges and daily pings, queries ranks and runs
maintenance such as migrations and reconciliation.

Configuration comes from the environment (and .env), exactly as for the worker.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitInvalidInput, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if opts.Timeout <= 0 {
				return NewExitError(ExitInvalidInput, "timeout must be positive")
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "deadline for the whole command")

	// Add subcommands
	cmd.AddCommand(NewUserCommand(opts))
	cmd.AddCommand(NewGrantXPCommand(opts))
	cmd.AddCommand(NewChallengeCommand(opts))
	cmd.AddCommand(NewCorrectXPCommand(opts))
	cmd.AddCommand(NewPingCommand(opts))
	cmd.AddCommand(NewFreezeCommand(opts))
	cmd.AddCommand(NewRankCommand(opts))
	cmd.AddCommand(NewRecomputeRanksCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))

	return cmd
}

// coordinator resolves the coordinator, building storage and messaging on first use.
func (o *RootOptions) coordinator() (*command.Coordinator, error) {
	coord, err := di.Coordinator(o.injector)
	if err != nil {
		return nil, WrapExitError(ExitUnavailable, "failed to start engine", err)
	}
	return coord, nil
}

func (o *RootOptions) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.Timeout)
}

func (o *RootOptions) printer(cmd *cobra.Command) *Printer {
	return &Printer{Format: o.Format, Writer: cmd.OutOrStdout()}
}
