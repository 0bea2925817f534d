// Package di wires the progression engine together with samber/do.
package di

import (
	"github.com/samber/do/v2"

	"github.com/alem-hub/progression-engine/internal/application/command"
	"github.com/alem-hub/progression-engine/internal/di/providers"
	"github.com/alem-hub/progression-engine/internal/infrastructure/scheduler"
)

// NewContainer creates and configures the DI container with all providers.
// Nothing is constructed until something is invoked.
func NewContainer() *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideClock)

	// Storage layer
	do.Provide(injector, providers.ProvideDatabase)
	do.Provide(injector, providers.ProvideStorage)
	do.Provide(injector, providers.ProvideRedis)
	do.Provide(injector, providers.ProvideLocker)
	do.Provide(injector, providers.ProvideRankIndex)

	// Messaging
	do.Provide(injector, providers.ProvideExecutor)
	do.Provide(injector, providers.ProvideNotifications)

	// Application
	do.Provide(injector, providers.ProvideReconciliationQueue)
	do.Provide(injector, providers.ProvideCoordinator)

	// Workers
	do.Provide(injector, providers.ProvideReconciliation)
	do.Provide(injector, providers.ProvideScheduler)

	// Ops endpoint
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// Coordinator resolves the coordinator and everything it needs.
func Coordinator(injector do.Injector) (*command.Coordinator, error) {
	return do.Invoke[*command.Coordinator](injector)
}

// StartWorker resolves and starts the background scheduler.
func StartWorker(injector do.Injector) (*scheduler.Scheduler, error) {
	return do.Invoke[*scheduler.Scheduler](injector)
}

// StartOpsServer resolves and starts the HTTP ops endpoint.
func StartOpsServer(injector do.Injector) (*providers.HTTPServerHandle, error) {
	return do.Invoke[*providers.HTTPServerHandle](injector)
}

// Database resolves the raw PostgreSQL connection for maintenance tasks.
func Database(injector do.Injector) (*providers.DatabaseHandle, error) {
	return do.Invoke[*providers.DatabaseHandle](injector)
}
