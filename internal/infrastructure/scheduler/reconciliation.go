package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alem-hub/progression-engine/internal/domain/shared"
	"github.com/alem-hub/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILIATION QUEUE
// ══════════════════════════════════════════════════════════════════════════════

// QueueEntry is a user waiting for reconciliation.
type QueueEntry struct {
	UserID       string
	Reason       string
	EnqueuedAt   time.Time
	AttemptCount int

	inFlight bool
	requeued bool
}

// ReconciliationQueue holds users flagged as possibly stale, keyed by user ID.
// The lock only guards insert and drain; reconciliation itself runs outside it.
type ReconciliationQueue struct {
	mu      sync.Mutex
	entries map[string]*QueueEntry
	closed  bool
	clock   timeutil.Clock
}

// NewReconciliationQueue creates an empty queue.
func NewReconciliationQueue(clock timeutil.Clock) *ReconciliationQueue {
	if clock == nil {
		clock = timeutil.NewSystemClock(nil)
	}
	return &ReconciliationQueue{
		entries: make(map[string]*QueueEntry),
		clock:   clock,
	}
}

// Enqueue flags a user. Re-enqueuing an already queued user coalesces into
// the existing entry and bumps its attempt count.
func (q *ReconciliationQueue) Enqueue(userID, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return shared.ErrSchedulerStopped
	}

	if e, ok := q.entries[userID]; ok {
		e.AttemptCount++
		e.Reason = reason
		if e.inFlight {
			e.requeued = true
		}
		return nil
	}

	q.entries[userID] = &QueueEntry{
		UserID:     userID,
		Reason:     reason,
		EnqueuedAt: q.clock.Now(),
	}
	return nil
}

// Len returns the number of queued users, including in-flight ones.
func (q *ReconciliationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Get returns a copy of the entry for userID.
func (q *ReconciliationQueue) Get(userID string) (QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[userID]
	if !ok {
		return QueueEntry{}, false
	}
	return *e, true
}

// Close stops accepting new entries. Queued entries are kept so an in-flight
// batch can still finish them.
func (q *ReconciliationQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// evict removes idle entries that are too old or have failed too often.
func (q *ReconciliationQueue) evict(maxAge time.Duration, maxAttempts int) []QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	var evicted []QueueEntry
	for id, e := range q.entries {
		if e.inFlight {
			continue
		}
		if now.Sub(e.EnqueuedAt) > maxAge || e.AttemptCount > maxAttempts {
			evicted = append(evicted, *e)
			delete(q.entries, id)
		}
	}
	return evicted
}

// drain marks up to n idle entries in flight, oldest first.
func (q *ReconciliationQueue) drain(n int) []QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	idle := make([]*QueueEntry, 0, len(q.entries))
	for _, e := range q.entries {
		if !e.inFlight {
			idle = append(idle, e)
		}
	}
	sort.Slice(idle, func(i, j int) bool {
		if idle[i].EnqueuedAt.Equal(idle[j].EnqueuedAt) {
			return idle[i].UserID < idle[j].UserID
		}
		return idle[i].EnqueuedAt.Before(idle[j].EnqueuedAt)
	})
	if len(idle) > n {
		idle = idle[:n]
	}

	batch := make([]QueueEntry, 0, len(idle))
	for _, e := range idle {
		e.inFlight = true
		e.requeued = false
		batch = append(batch, *e)
	}
	return batch
}

// complete settles an in-flight entry. A success removes it unless the user
// was flagged again while in flight; a failure keeps it for the next tick.
func (q *ReconciliationQueue) complete(userID string, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[userID]
	if !ok {
		return
	}
	e.inFlight = false
	if err == nil && !e.requeued {
		delete(q.entries, userID)
		return
	}
	if err != nil {
		e.AttemptCount++
	}
	e.requeued = false
}

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILIATION SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// Reconciler repairs derived state for one user.
type Reconciler interface {
	Reconcile(ctx context.Context, userID string) error
}

// ReconciliationConfig contains configuration for ReconciliationScheduler.
type ReconciliationConfig struct {
	// PollInterval is how often Tick runs when driven by the job scheduler.
	PollInterval time.Duration

	// BatchSize bounds the number of users reconciled per tick.
	BatchSize int

	// MaxAge evicts entries queued for longer than this.
	MaxAge time.Duration

	// MaxAttempts evicts entries whose attempt count exceeds this.
	MaxAttempts int
}

// DefaultReconciliationConfig returns sensible defaults.
func DefaultReconciliationConfig() ReconciliationConfig {
	return ReconciliationConfig{
		PollInterval: 5 * time.Second,
		BatchSize:    10,
		MaxAge:       time.Hour,
		MaxAttempts:  5,
	}
}

// ReconciliationStats is a point-in-time snapshot of reconciliation counters.
type ReconciliationStats struct {
	Processed   int64
	Failed      int64
	Evicted     int64
	QueueLength int
}

// ReconciliationScheduler drains the queue in bounded batches. Ticks never
// overlap, so there is a single writer per batch.
type ReconciliationScheduler struct {
	queue      *ReconciliationQueue
	reconciler Reconciler
	config     ReconciliationConfig
	logger     *slog.Logger

	tickMu  sync.Mutex
	stopped atomic.Bool

	processed atomic.Int64
	failed    atomic.Int64
	evicted   atomic.Int64
}

// NewReconciliationScheduler wires the queue to a reconciler.
func NewReconciliationScheduler(
	queue *ReconciliationQueue,
	reconciler Reconciler,
	config ReconciliationConfig,
	logger *slog.Logger,
) *ReconciliationScheduler {
	defaults := DefaultReconciliationConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxAge <= 0 {
		config.MaxAge = defaults.MaxAge
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &ReconciliationScheduler{
		queue:      queue,
		reconciler: reconciler,
		config:     config,
		logger:     logger.With("component", "reconciliation"),
	}
}

// Config returns the effective configuration.
func (r *ReconciliationScheduler) Config() ReconciliationConfig {
	return r.config
}

// Tick evicts expired entries and reconciles one batch. It returns the
// number of users reconciled successfully.
func (r *ReconciliationScheduler) Tick(ctx context.Context) (int, error) {
	r.tickMu.Lock()
	defer r.tickMu.Unlock()

	if r.stopped.Load() {
		return 0, shared.ErrSchedulerStopped
	}

	for _, e := range r.queue.evict(r.config.MaxAge, r.config.MaxAttempts) {
		r.evicted.Add(1)
		r.logger.Warn("reconciliation entry evicted",
			"user_id", e.UserID,
			"reason", e.Reason,
			"attempts", e.AttemptCount,
			"enqueued_at", e.EnqueuedAt,
		)
	}

	batch := r.queue.drain(r.config.BatchSize)
	ok := 0
	for _, e := range batch {
		if ctx.Err() != nil {
			r.queue.complete(e.UserID, ctx.Err())
			continue
		}

		err := r.reconciler.Reconcile(ctx, e.UserID)
		r.queue.complete(e.UserID, err)
		if err != nil {
			r.failed.Add(1)
			r.logger.Warn("reconciliation failed",
				"user_id", e.UserID,
				"reason", e.Reason,
				"attempts", e.AttemptCount+1,
				"error", err,
			)
			continue
		}
		r.processed.Add(1)
		ok++
	}

	if len(batch) > 0 {
		r.logger.Debug("reconciliation tick",
			"batch", len(batch),
			"succeeded", ok,
			"queue_length", r.queue.Len(),
		)
	}
	return ok, ctx.Err()
}

// Stop closes the queue to new insertions and waits for the in-flight batch.
// Later ticks return shared.ErrSchedulerStopped.
func (r *ReconciliationScheduler) Stop(ctx context.Context) error {
	r.queue.Close()

	done := make(chan struct{})
	go func() {
		r.tickMu.Lock()
		r.stopped.Store(true)
		r.tickMu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("reconciliation stopped", "pending", r.queue.Len())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops the scheduler with a bounded wait.
func (r *ReconciliationScheduler) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return r.Stop(ctx)
}

// Stats returns current counters.
func (r *ReconciliationScheduler) Stats() ReconciliationStats {
	return ReconciliationStats{
		Processed:   r.processed.Load(),
		Failed:      r.failed.Load(),
		Evicted:     r.evicted.Load(),
		QueueLength: r.queue.Len(),
	}
}
