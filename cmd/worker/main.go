// Package main - точка входа для фонового процесса (Worker) движка прогрессии.
//
// Worker отвечает за:
// - Периодический пересчёт рангов по всем метрикам
// - Разбор очереди согласования (пользователи с возможно устаревшим состоянием)
// - Доставку доменных событий в канал уведомлений
// - HTTP-эндпоинт с проверками здоровья, метриками и рейтингом
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/do/v2"
	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/progression-engine/config"
	"github.com/alem-hub/progression-engine/internal/di"
	"github.com/alem-hub/progression-engine/internal/di/providers"
	"github.com/alem-hub/progression-engine/internal/infrastructure/scheduler"
	"github.com/alem-hub/progression-engine/pkg/logger"
)

// statsInterval - как часто писать сводку по очередям в лог.
const statsInterval = time.Minute

// healthInterval - как часто проверять PostgreSQL и Redis.
const healthInterval = 30 * time.Second

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. СБОРКА ЗАВИСИМОСТЕЙ
	// ─────────────────────────────────────────────────────────────────────────
	injector := di.NewContainer()

	cfg, err := do.Invoke[*config.Config](injector)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := do.MustInvoke[*slog.Logger](injector)
	slog.SetDefault(log)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. ЗАПУСК ПЛАНИРОВЩИКА
	// ─────────────────────────────────────────────────────────────────────────
	sched, err := di.StartWorker(injector)
	if err != nil {
		shutdown(injector, log)
		return fmt.Errorf("failed to start worker: %w", err)
	}

	ops, err := di.StartOpsServer(injector)
	if err != nil {
		shutdown(injector, log)
		return fmt.Errorf("failed to start ops server: %w", err)
	}

	reconciliation := do.MustInvoke[*scheduler.ReconciliationScheduler](injector)
	exec := do.MustInvoke[*providers.ExecutorHandle](injector)

	log.Info("worker is running",
		"jobs", len(sched.ListJobs()),
		"ops_server", ops.Server != nil,
		"reconciliation", cfg.Features.ReconciliationEnabled(),
		"rank_timer", cfg.Features.RankTimerEnabled(),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. СЛУЖЕБНЫЕ ЦИКЛЫ
	// ─────────────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return every(gctx, statsInterval, func() {
			rs := reconciliation.Stats()
			es := exec.Stats()
			log.Info("worker stats",
				"reconcile_processed", rs.Processed,
				"reconcile_failed", rs.Failed,
				"reconcile_evicted", rs.Evicted,
				"reconcile_queue", rs.QueueLength,
				"tasks_completed", es.Completed,
				"tasks_dropped", es.Dropped,
				"tasks_rejected", es.Rejected,
				"tasks_queued", es.Queued,
			)
		})
	})

	g.Go(func() error {
		return every(gctx, healthInterval, func() {
			checkHealth(gctx, injector, log)
		})
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 4. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	err = g.Wait()
	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())

	done := make(chan struct{})
	go func() {
		shutdown(injector, log)
		close(done)
	}()

	select {
	case <-done:
		log.Info("shutdown completed")
	case <-time.After(cfg.App.ShutdownTimeout):
		log.Warn("shutdown timed out")
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// every runs fn on a ticker until ctx is done.
func every(ctx context.Context, interval time.Duration, fn func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn()
		}
	}
}

func checkHealth(ctx context.Context, injector do.Injector, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	storage := do.MustInvoke[*providers.StorageHandle](injector)
	if storage.Conn != nil {
		if err := storage.Conn.Ping(ctx); err != nil {
			log.Warn("database health check failed", logger.Err(err))
		}
	}

	rh := do.MustInvoke[*providers.RedisHandle](injector)
	if rh.Cache != nil {
		if err := rh.Cache.Ping(ctx); err != nil {
			log.Warn("redis health check failed", logger.Err(err))
		}
	}
}

// shutdown stops services in reverse dependency order.
func shutdown(injector *do.RootScope, log *slog.Logger) {
	if err := injector.Shutdown(); err != nil {
		log.Error("shutdown error", logger.Err(err))
	}
}
