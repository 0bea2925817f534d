package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// BOUNDED TASK EXECUTOR
// ══════════════════════════════════════════════════════════════════════════════

// OverflowPolicy decides what happens when the executor queue is full.
type OverflowPolicy string

const (
	// PolicyDropOldest evicts the oldest queued task to make room.
	PolicyDropOldest OverflowPolicy = "drop-oldest"

	// PolicyReject refuses the new task with ErrQueueFull.
	PolicyReject OverflowPolicy = "reject"
)

// IsValid checks the policy name.
func (p OverflowPolicy) IsValid() bool {
	return p == PolicyDropOldest || p == PolicyReject
}

var (
	// ErrQueueFull is returned by Submit under PolicyReject.
	ErrQueueFull = errors.New("executor queue is full")

	// ErrExecutorClosed is returned by Submit after Close.
	ErrExecutorClosed = errors.New("executor is closed")
)

// Task is a unit of background work.
type Task struct {
	// Name identifies the task in logs.
	Name string

	// Run does the work. The context is cancelled on hard shutdown.
	Run func(ctx context.Context) error
}

// ExecutorConfig contains configuration for Executor.
type ExecutorConfig struct {
	// QueueSize bounds the number of waiting tasks.
	QueueSize int

	// Workers is the number of concurrent workers.
	Workers int

	// Policy selects the overflow behaviour.
	Policy OverflowPolicy

	// TaskTimeout bounds a single task run. Zero disables it.
	TaskTimeout time.Duration

	// Logger for structured logging
	Logger *slog.Logger
}

// DefaultExecutorConfig returns sensible defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		QueueSize:   1024,
		Workers:     4,
		Policy:      PolicyDropOldest,
		TaskTimeout: 10 * time.Second,
	}
}

// ExecutorStats is a point-in-time snapshot of executor counters.
type ExecutorStats struct {
	Submitted int64
	Completed int64
	Failed    int64
	Dropped   int64
	Rejected  int64
	Queued    int
}

// Executor runs submitted tasks on a fixed worker pool with a bounded queue.
type Executor struct {
	config ExecutorConfig
	logger *slog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Task
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	rejected  atomic.Int64
}

// NewExecutor creates an executor and starts its workers.
func NewExecutor(config ExecutorConfig) *Executor {
	defaults := DefaultExecutorConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if !config.Policy.IsValid() {
		config.Policy = defaults.Policy
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{
		config: config,
		logger: config.Logger,
		queue:  make([]Task, 0, config.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	e.cond = sync.NewCond(&e.mu)

	for i := 0; i < config.Workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

// Submit enqueues a task without blocking.
func (e *Executor) Submit(task Task) error {
	if task.Run == nil {
		return errors.New("task run function cannot be nil")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrExecutorClosed
	}

	if len(e.queue) >= e.config.QueueSize {
		if e.config.Policy == PolicyReject {
			e.rejected.Add(1)
			return ErrQueueFull
		}
		evicted := e.queue[0]
		e.queue[0] = Task{}
		e.queue = e.queue[1:]
		e.dropped.Add(1)
		e.logger.Warn("executor queue full, dropped oldest task",
			"dropped_task", evicted.Name,
			"new_task", task.Name,
		)
	}

	e.queue = append(e.queue, task)
	e.submitted.Add(1)
	e.cond.Signal()
	return nil
}

func (e *Executor) worker() {
	defer e.wg.Done()

	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.closed {
			e.cond.Wait()
		}
		if len(e.queue) == 0 {
			e.mu.Unlock()
			return
		}
		task := e.queue[0]
		e.queue[0] = Task{}
		e.queue = e.queue[1:]
		e.mu.Unlock()

		e.run(task)
	}
}

func (e *Executor) run(task Task) {
	ctx := e.ctx
	if e.config.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.TaskTimeout)
		defer cancel()
	}

	start := time.Now()
	err := safeRun(ctx, task)
	duration := time.Since(start)

	if err != nil {
		e.failed.Add(1)
		e.logger.Error("background task failed",
			"task", task.Name,
			"duration", duration,
			"error", err,
		)
		return
	}
	e.completed.Add(1)
}

func safeRun(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in task %s: %v", task.Name, r)
		}
	}()
	return task.Run(ctx)
}

// Close stops accepting tasks and drains the queue. If ctx expires before
// the queue is drained, in-flight tasks are cancelled and Close returns
// ctx.Err() once workers exit.
func (e *Executor) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.cond.Broadcast()
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		<-done
		return ctx.Err()
	}
}

// Stats returns current counters.
func (e *Executor) Stats() ExecutorStats {
	e.mu.Lock()
	queued := len(e.queue)
	e.mu.Unlock()

	return ExecutorStats{
		Submitted: e.submitted.Load(),
		Completed: e.completed.Load(),
		Failed:    e.failed.Load(),
		Dropped:   e.dropped.Load(),
		Rejected:  e.rejected.Load(),
		Queued:    queued,
	}
}

// Go submits fn as a named task.
func (e *Executor) Go(name string, fn func(ctx context.Context) error) error {
	return e.Submit(Task{Name: name, Run: fn})
}
