package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/progression-engine/internal/domain/shared"
)

// NewRankCommand creates the rank command.
func NewRankCommand(opts *RootOptions) *cobra.Command {
	var (
		metric string
		top    int
	)

	cmd := &cobra.Command{
		Use:   "rank [user-id]",
		Short: "Show a user's rank or the leaderboard",
		Long: `Show a user's rank under a metric, or with --top the first N users.

Examples:
  progressctl rank alice --metric streak
  progressctl rank --top 10`,
		Args: cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := shared.ParseMetric(metric)
			if err != nil {
				return WrapExitError(ExitInvalidInput, "invalid --metric", err)
			}
			if top == 0 && len(args) == 0 {
				return NewExitError(ExitInvalidInput, "either a user id or --top is required")
			}

			coord, err := opts.coordinator()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			if top > 0 {
				entries, err := coord.TopN(ctx, m, top)
				if err != nil {
					return err
				}

				type row struct {
					Rank   int    `json:"rank"`
					UserID string `json:"user_id"`
					Value  int64  `json:"value"`
				}
				rows := make([]row, 0, len(entries))
				for _, e := range entries {
					rows = append(rows, row{Rank: int(e.Rank), UserID: e.UserID, Value: e.Value})
				}

				return opts.printer(cmd).Print(rows, func(w io.Writer) {
					fmt.Fprintf(w, "RANK\tUSER\t%s\n", m)
					for _, r := range rows {
						fmt.Fprintf(w, "%d\t%s\t%d\n", r.Rank, r.UserID, r.Value)
					}
				})
			}

			rank, err := coord.GetRank(ctx, args[0], m)
			if err != nil {
				return err
			}

			out := struct {
				UserID string `json:"user_id"`
				Metric string `json:"metric"`
				Rank   int    `json:"rank"`
			}{UserID: args[0], Metric: m.String(), Rank: int(rank)}

			return opts.printer(cmd).Print(out, func(w io.Writer) {
				field(w, "user", out.UserID)
				field(w, "metric", out.Metric)
				field(w, "rank", out.Rank)
			})
		},
	}

	cmd.Flags().StringVar(&metric, "metric", string(shared.MetricXP), "xp, level or streak")
	cmd.Flags().IntVar(&top, "top", 0, "print the first N users instead of one rank")

	return cmd
}

// NewRecomputeRanksCommand creates the recompute-ranks command.
func NewRecomputeRanksCommand(opts *RootOptions) *cobra.Command {
	var metrics []string

	cmd := &cobra.Command{
		Use:   "recompute-ranks",
		Short: "Recompute ranks 1..N for every active user",
		Long: `Recompute ranks for every active user. Metrics are recomputed
concurrently; the first failure cancels the rest.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed := make([]shared.Metric, 0, len(metrics))
			for _, name := range metrics {
				m, err := shared.ParseMetric(name)
				if err != nil {
					return WrapExitError(ExitInvalidInput, fmt.Sprintf("invalid metric %q", name), err)
				}
				parsed = append(parsed, m)
			}

			coord, err := opts.coordinator()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			var (
				mu     sync.Mutex
				counts = make(map[string]int, len(parsed))
			)

			g, gctx := errgroup.WithContext(ctx)
			for _, m := range parsed {
				g.Go(func() error {
					n, err := coord.RecomputeAllRanks(gctx, m)
					if err != nil {
						return err
					}
					mu.Lock()
					counts[m.String()] = n
					mu.Unlock()
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			return opts.printer(cmd).Print(counts, func(w io.Writer) {
				for _, m := range parsed {
					field(w, m.String(), fmt.Sprintf("%d users ranked", counts[m.String()]))
				}
			})
		},
	}

	cmd.Flags().StringSliceVar(&metrics, "metric", []string{"xp", "level", "streak"}, "metrics to recompute")

	return cmd
}
