package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/alem-hub/progression-engine/internal/di"
	"github.com/alem-hub/progression-engine/internal/infrastructure/persistence/postgres"
)

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <user-id>...",
		Short: "Repair derived state of users right now",
		Long: `Re-derive level, completion counters and achievements for each user,
without waiting for the background queue. Unknown users are skipped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, err := opts.coordinator()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			type result struct {
				UserID string `json:"user_id"`
				Error  string `json:"error,omitempty"`
			}
			results := make([]result, 0, len(args))

			var failed int
			for _, id := range args {
				r := result{UserID: id}
				if err := coord.Reconcile(ctx, id); err != nil {
					r.Error = err.Error()
					failed++
				}
				results = append(results, r)
			}

			if err := opts.printer(cmd).Print(results, func(w io.Writer) {
				for _, r := range results {
					if r.Error != "" {
						field(w, r.UserID, "failed: "+r.Error)
					} else {
						field(w, r.UserID, "ok")
					}
				}
			}); err != nil {
				return err
			}

			if failed > 0 {
				return NewExitError(ExitFailure, fmt.Sprintf("%d of %d users could not be reconciled", failed, len(args)))
			}
			return nil
		},
	}
}

// NewMigrateCommand creates the migrate command group.
func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(opts, cmd, func(m *postgres.Migrator) error {
				ctx, cancel := opts.context(cmd)
				defer cancel()
				if err := m.Migrate(ctx); err != nil {
					return err
				}
				return printStatus(opts, cmd, m)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the last applied migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(opts, cmd, func(m *postgres.Migrator) error {
				ctx, cancel := opts.context(cmd)
				defer cancel()
				if err := m.Rollback(ctx); err != nil {
					return err
				}
				return printStatus(opts, cmd, m)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(opts, cmd, func(m *postgres.Migrator) error {
				return printStatus(opts, cmd, m)
			})
		},
	})

	return cmd
}

func withMigrator(opts *RootOptions, cmd *cobra.Command, fn func(m *postgres.Migrator) error) error {
	db, err := di.Database(opts.injector)
	if err != nil {
		return WrapExitError(ExitUnavailable, "failed to connect to database", err)
	}
	if db.Conn == nil {
		return NewExitError(ExitInvalidInput, "DATABASE_URL is not set, nothing to migrate")
	}
	return fn(postgres.NewMigrator(db.Conn))
}

func printStatus(opts *RootOptions, cmd *cobra.Command, m *postgres.Migrator) error {
	ctx, cancel := opts.context(cmd)
	defer cancel()

	migrations, err := m.Status(ctx)
	if err != nil {
		return err
	}

	type row struct {
		Version   int        `json:"version"`
		Name      string     `json:"name"`
		Applied   bool       `json:"applied"`
		AppliedAt *time.Time `json:"applied_at,omitempty"`
	}
	rows := make([]row, 0, len(migrations))
	for _, mg := range migrations {
		r := row{Version: mg.Version, Name: mg.Name, Applied: mg.IsApplied}
		if mg.IsApplied {
			at := mg.AppliedAt
			r.AppliedAt = &at
		}
		rows = append(rows, r)
	}

	return opts.printer(cmd).Print(rows, func(w io.Writer) {
		fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED")
		for _, r := range rows {
			applied := "-"
			if r.AppliedAt != nil {
				applied = r.AppliedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\n", r.Version, r.Name, applied)
		}
	})
}
