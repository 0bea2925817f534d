package providers

import (
	"fmt"
	"log/slog"

	"github.com/samber/do/v2"

	"github.com/alem-hub/progression-engine/config"
	"github.com/alem-hub/progression-engine/internal/application/command"
	"github.com/alem-hub/progression-engine/internal/domain/progression"
	"github.com/alem-hub/progression-engine/internal/domain/shared"
	"github.com/alem-hub/progression-engine/internal/infrastructure/scheduler"
	"github.com/alem-hub/progression-engine/pkg/logger"
	"github.com/alem-hub/progression-engine/pkg/timeutil"
)

// ProvideReconciliationQueue provides the queue of users flagged as possibly stale.
func ProvideReconciliationQueue(i do.Injector) (*scheduler.ReconciliationQueue, error) {
	clock := do.MustInvoke[timeutil.Clock](i)
	return scheduler.NewReconciliationQueue(clock), nil
}

// ProvideCoordinator provides the progression coordinator.
func ProvideCoordinator(i do.Injector) (*command.Coordinator, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*slog.Logger](i)
	clock := do.MustInvoke[timeutil.Clock](i)
	storage := do.MustInvoke[*StorageHandle](i)
	locker := do.MustInvoke[progression.UserLocker](i)
	ranks := do.MustInvoke[*progression.RankIndex](i)
	exec := do.MustInvoke[*ExecutorHandle](i)
	notifications := do.MustInvoke[*NotificationHandle](i)
	queue := do.MustInvoke[*scheduler.ReconciliationQueue](i)

	metrics, err := ParseMetrics(cfg.Ranking.Metrics)
	if err != nil {
		return nil, err
	}

	return command.NewCoordinator(command.Dependencies{
		Store:        storage.Store,
		Ledger:       storage.Ledger,
		Achievements: storage.Achievements,
		Challenges:   storage.Challenges,
		Locker:       locker,
		Ranks:        ranks,
		Evaluator:    progression.NewEvaluator(storage.Ledger, log.With(logger.Component("evaluator"))),
		Events:       notifications.Bus,
		Reconciler:   queue,
		Async:        exec.Executor,
		Clock:        clock,
		Logger:       log.With(logger.Component("coordinator")),
	}, command.Config{
		ChallengeBaseReward: cfg.Progression.ChallengeBaseReward,
		PerformanceFloor:    cfg.Progression.PerformanceFloor,
		StreakBonuses: progression.StreakBonuses{
			EveryThirdDay: cfg.Progression.StreakBonusThirdDay,
			Weekly:        cfg.Progression.StreakBonusWeekly,
			Monthly:       cfg.Progression.StreakBonusMonthly,
		},
		RankMetrics:       metrics,
		StalenessBudget:   cfg.Ranking.StalenessBudget,
		RecomputeInterval: cfg.Ranking.RecomputeInterval,
	})
}

// ParseMetrics converts configured metric names.
func ParseMetrics(names []string) ([]shared.Metric, error) {
	metrics := make([]shared.Metric, 0, len(names))
	for _, name := range names {
		m, err := shared.ParseMetric(name)
		if err != nil {
			return nil, fmt.Errorf("ranking metrics: %w", err)
		}
		metrics = append(metrics, m)
	}
	return metrics, nil
}
