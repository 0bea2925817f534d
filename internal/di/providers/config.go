// Package providers contains dependency injection providers for the progression engine.
package providers

import (
	"log/slog"
	"time"

	"github.com/samber/do/v2"

	"github.com/alem-hub/progression-engine/config"
	"github.com/alem-hub/progression-engine/pkg/logger"
	"github.com/alem-hub/progression-engine/pkg/timeutil"
)

const (
	// shutdownTimeout is the maximum time to wait for graceful shutdown of services.
	shutdownTimeout = 30 * time.Second

	// startupTimeout bounds connecting, migrating and syncing the catalog.
	startupTimeout = 30 * time.Second
)

// ProvideConfig provides the application configuration.
func ProvideConfig(i do.Injector) (*config.Config, error) {
	return config.Load()
}

// ProvideLogger provides the structured logger.
func ProvideLogger(i do.Injector) (*slog.Logger, error) {
	cfg := do.MustInvoke[*config.Config](i)

	log := logger.New(logger.Options{
		Level:     logger.ParseLevel(cfg.App.LogLevel),
		Format:    logger.Format(cfg.App.LogFormat),
		AddSource: cfg.IsDevelopment(),
		Service:   cfg.App.Name,
	})

	log.Info("starting progression engine",
		"environment", cfg.App.Environment,
		"version", cfg.App.Version,
		"log_level", cfg.App.LogLevel,
		"timezone", cfg.App.Timezone,
	)

	return log, nil
}

// ProvideClock provides the engine clock in the configured timezone.
func ProvideClock(i do.Injector) (timeutil.Clock, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return timeutil.NewSystemClock(cfg.App.Location), nil
}
