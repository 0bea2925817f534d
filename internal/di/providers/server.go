package providers

import (
	"context"
	"log/slog"

	"github.com/samber/do/v2"

	"github.com/alem-hub/progression-engine/config"
	"github.com/alem-hub/progression-engine/internal/application/command"
	"github.com/alem-hub/progression-engine/internal/infrastructure/scheduler"
	httpapi "github.com/alem-hub/progression-engine/internal/interface/http"
	"github.com/alem-hub/progression-engine/pkg/logger"
)

// HTTPServerHandle wraps the ops server. Server is nil when disabled.
type HTTPServerHandle struct {
	Server *httpapi.Server
}

// Shutdown implements do.Shutdownable.
func (h *HTTPServerHandle) Shutdown() error {
	if h.Server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Server.Shutdown(ctx)
}

// ProvideHTTPServer provides the started ops server with health checks for
// every backing service in use.
func ProvideHTTPServer(i do.Injector) (*HTTPServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*slog.Logger](i).With(logger.Component("http"))

	if !cfg.HTTP.Enabled {
		log.Info("HTTP ops server disabled")
		return &HTTPServerHandle{}, nil
	}

	coordinator := do.MustInvoke[*command.Coordinator](i)
	db := do.MustInvoke[*DatabaseHandle](i)
	rh := do.MustInvoke[*RedisHandle](i)
	exec := do.MustInvoke[*ExecutorHandle](i)
	reconciliation := do.MustInvoke[*scheduler.ReconciliationScheduler](i)
	sched := do.MustInvoke[*scheduler.Scheduler](i)

	health := httpapi.NewHealthChecker(cfg.App.Version)
	if db.Conn != nil {
		health.AddCheck("postgres", httpapi.PingCheck(db.Conn))
	}
	if rh.Cache != nil {
		health.AddCheck("redis", httpapi.PingCheck(rh.Cache))
	}

	metrics := func() map[string]any {
		rs := reconciliation.Stats()
		es := exec.Stats()
		js := sched.GetMetrics().Snapshot()
		out := map[string]any{
			"reconciliation": map[string]any{
				"processed": rs.Processed,
				"failed":    rs.Failed,
				"evicted":   rs.Evicted,
				"queued":    rs.QueueLength,
			},
			"executor": map[string]any{
				"submitted": es.Submitted,
				"completed": es.Completed,
				"failed":    es.Failed,
				"dropped":   es.Dropped,
				"rejected":  es.Rejected,
				"queued":    es.Queued,
			},
			"jobs": map[string]any{
				"executions":   js.TotalExecutions,
				"failures":     js.TotalFailures,
				"success_rate": js.SuccessRate,
				"avg_duration": js.AverageDuration.String(),
			},
		}
		if db.Conn != nil {
			out["postgres"] = db.Conn.Stats()
		}
		return out
	}

	srvCfg := httpapi.DefaultConfig()
	srvCfg.Host = cfg.HTTP.Host
	srvCfg.Port = cfg.HTTP.Port
	srvCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	srvCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	srvCfg.IdleTimeout = cfg.HTTP.IdleTimeout
	srvCfg.Version = cfg.App.Version

	srv := httpapi.NewServer(srvCfg, httpapi.Dependencies{
		Reader:  coordinator,
		Health:  health,
		Metrics: metrics,
		Logger:  log,
	})

	// Start in background
	errCh := srv.StartAsync()
	go func() {
		if err := <-errCh; err != nil {
			log.Error("HTTP server error", logger.Err(err))
		}
	}()

	return &HTTPServerHandle{Server: srv}, nil
}
