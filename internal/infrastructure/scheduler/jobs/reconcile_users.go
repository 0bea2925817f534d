package jobs

import (
	"context"
	"errors"

	"github.com/alem-hub/progression-engine/internal/domain/shared"
)

// Ticker processes one reconciliation batch.
type Ticker interface {
	Tick(ctx context.Context) (int, error)
}

// ReconcileUsersJob drives the reconciliation loop from the job scheduler.
type ReconcileUsersJob struct {
	ticker Ticker
}

// NewReconcileUsersJob creates a new reconcile job.
func NewReconcileUsersJob(ticker Ticker) *ReconcileUsersJob {
	return &ReconcileUsersJob{ticker: ticker}
}

// Name returns the job name.
func (j *ReconcileUsersJob) Name() string {
	return "reconcile_users"
}

// Description returns a human-readable description.
func (j *ReconcileUsersJob) Description() string {
	return "Repairs derived state for users flagged as possibly stale"
}

// Run processes one batch. A stopped reconciler is not a job failure.
func (j *ReconcileUsersJob) Run(ctx context.Context) error {
	_, err := j.ticker.Tick(ctx)
	if errors.Is(err, shared.ErrSchedulerStopped) {
		return nil
	}
	return err
}
