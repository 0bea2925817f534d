package providers

import (
	"log/slog"

	"github.com/samber/do/v2"

	"github.com/alem-hub/progression-engine/config"
	"github.com/alem-hub/progression-engine/internal/application/command"
	"github.com/alem-hub/progression-engine/internal/infrastructure/scheduler"
	"github.com/alem-hub/progression-engine/internal/infrastructure/scheduler/jobs"
	"github.com/alem-hub/progression-engine/pkg/logger"
)

// ProvideReconciliation provides the reconciliation scheduler draining the queue
// through the coordinator.
func ProvideReconciliation(i do.Injector) (*scheduler.ReconciliationScheduler, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*slog.Logger](i)
	queue := do.MustInvoke[*scheduler.ReconciliationQueue](i)
	coordinator := do.MustInvoke[*command.Coordinator](i)

	return scheduler.NewReconciliationScheduler(queue, coordinator, scheduler.ReconciliationConfig{
		PollInterval: cfg.Reconciliation.PollInterval,
		BatchSize:    cfg.Reconciliation.BatchSize,
		MaxAge:       cfg.Reconciliation.MaxAge,
		MaxAttempts:  cfg.Reconciliation.MaxAttempts,
	}, log), nil
}

// ProvideScheduler provides the started job scheduler with the jobs enabled
// by feature flags.
func ProvideScheduler(i do.Injector) (*scheduler.Scheduler, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*slog.Logger](i)
	coordinator := do.MustInvoke[*command.Coordinator](i)
	reconciliation := do.MustInvoke[*scheduler.ReconciliationScheduler](i)

	sched, err := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:        log.With(logger.Component("scheduler")),
		Timezone:      cfg.App.Location,
		StopTimeout:   shutdownTimeout,
		EnableMetrics: true,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Features.ReconciliationEnabled() {
		job := jobs.NewReconcileUsersJob(reconciliation)
		if err := sched.Register(job, reconciliation.Config().PollInterval); err != nil {
			return nil, err
		}
	}

	if cfg.Features.RankTimerEnabled() {
		metrics, err := ParseMetrics(cfg.Ranking.Metrics)
		if err != nil {
			return nil, err
		}
		job := jobs.NewRecomputeRanksJob(coordinator, jobs.RecomputeRanksConfig{
			Metrics: metrics,
			Timeout: cfg.Ranking.RecomputeTimeout,
		}, log)
		if err := sched.Register(job, cfg.Ranking.RecomputeInterval); err != nil {
			return nil, err
		}
	}

	sched.OnJobError(func(jobName string, err error) {
		log.Warn("scheduled job failed", "job", jobName, logger.Err(err))
	})

	if err := sched.Start(); err != nil {
		return nil, err
	}

	return sched, nil
}
