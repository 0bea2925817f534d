// Package command contains write operations of the progression engine.
// Every state-changing entry point goes through the Coordinator, which
// serializes work per user and derives events from state snapshots.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/alem-hub/progression-engine/internal/domain/progression"
	"github.com/alem-hub/progression-engine/internal/domain/shared"
	"github.com/alem-hub/progression-engine/pkg/retry"
	"github.com/alem-hub/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION COORDINATOR
// Loaded -> XPApplied -> StreakApplied -> Persisted -> EventsEmitted
//        -> AchievementsEvaluated -> Persisted -> EventsEmitted
//        -> (ReconciliationQueued | Done)
// ══════════════════════════════════════════════════════════════════════════════

// AsyncRunner runs background work with bounded backpressure.
type AsyncRunner interface {
	Go(name string, fn func(ctx context.Context) error) error
}

// ReconciliationQueue accepts users whose derived state needs repair.
type ReconciliationQueue interface {
	Enqueue(userID, reason string) error
}

// Dependencies are the collaborators of the Coordinator.
type Dependencies struct {
	Store        progression.Store
	Ledger       progression.Ledger
	Achievements progression.AchievementCatalog
	Challenges   progression.ChallengeCatalog
	Locker       progression.UserLocker
	Ranks        *progression.RankIndex
	Evaluator    *progression.Evaluator

	// Events receives domain events. Optional.
	Events shared.EventPublisher

	// Reconciler receives users left in a degraded state. Optional.
	Reconciler ReconciliationQueue

	// Async runs staleness-triggered rank recomputes. Optional.
	Async AsyncRunner

	Clock  timeutil.Clock
	Logger *slog.Logger
}

// Config contains tunables for the Coordinator.
type Config struct {
	// ChallengeBaseReward is used when a challenge has no reward of its own.
	ChallengeBaseReward int

	// PerformanceFloor is the minimum share of a challenge reward.
	PerformanceFloor float64

	// StreakBonuses are the milestone bonus amounts.
	StreakBonuses progression.StreakBonuses

	// RankMetrics are refreshed after every operation. The first one is
	// reported in ProgressionResult.
	RankMetrics []shared.Metric

	// StalenessBudget is how old the last full recompute may get before an
	// operation triggers a new one. Zero disables the trigger.
	StalenessBudget time.Duration

	// RecomputeInterval bounds how often the trigger may fire.
	RecomputeInterval time.Duration
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		ChallengeBaseReward: 100,
		PerformanceFloor:    progression.PerformanceFloor,
		StreakBonuses:       progression.DefaultStreakBonuses(),
		RankMetrics:         []shared.Metric{shared.MetricXP},
		StalenessBudget:     5 * time.Minute,
		RecomputeInterval:   time.Minute,
	}
}

// Coordinator runs progression operations.
type Coordinator struct {
	store        progression.Store
	ledger       progression.Ledger
	achievements progression.AchievementCatalog
	challenges   progression.ChallengeCatalog
	locker       progression.UserLocker
	ranks        *progression.RankIndex
	evaluator    *progression.Evaluator
	events       shared.EventPublisher
	reconciler   ReconciliationQueue
	async        AsyncRunner
	clock        timeutil.Clock
	logger       *slog.Logger

	config    Config
	validator *Validator
	retrier   *retry.Retrier

	recompute     singleflight.Group
	limiter       *rate.Limiter
	mu            sync.Mutex
	lastRecompute map[shared.Metric]time.Time
}

// NewCoordinator creates a new Coordinator.
func NewCoordinator(deps Dependencies, config Config) (*Coordinator, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("coordinator: store is required")
	case deps.Achievements == nil:
		return nil, errors.New("coordinator: achievement catalog is required")
	case deps.Locker == nil:
		return nil, errors.New("coordinator: user locker is required")
	case deps.Ranks == nil:
		return nil, errors.New("coordinator: rank index is required")
	case deps.Evaluator == nil:
		return nil, errors.New("coordinator: evaluator is required")
	}

	defaults := DefaultConfig()
	if config.ChallengeBaseReward <= 0 {
		config.ChallengeBaseReward = defaults.ChallengeBaseReward
	}
	if config.PerformanceFloor <= 0 {
		config.PerformanceFloor = defaults.PerformanceFloor
	}
	if config.StreakBonuses == (progression.StreakBonuses{}) {
		config.StreakBonuses = defaults.StreakBonuses
	}
	if len(config.RankMetrics) == 0 {
		config.RankMetrics = defaults.RankMetrics
	}
	if config.RecomputeInterval <= 0 {
		config.RecomputeInterval = defaults.RecomputeInterval
	}

	if deps.Clock == nil {
		deps.Clock = timeutil.NewSystemClock(timeutil.AlmatyTZ)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	logger := deps.Logger.With("component", "coordinator")
	onConflict := func(attempt int, err error, delay time.Duration) {
		logger.Debug("save conflict, retrying", "attempt", attempt, "delay", delay, "error", err)
	}

	return &Coordinator{
		store:         deps.Store,
		ledger:        deps.Ledger,
		achievements:  deps.Achievements,
		challenges:    deps.Challenges,
		locker:        deps.Locker,
		ranks:         deps.Ranks,
		evaluator:     deps.Evaluator,
		events:        deps.Events,
		reconciler:    deps.Reconciler,
		async:         deps.Async,
		clock:         deps.Clock,
		logger:        logger,
		config:        config,
		validator:     NewValidator(),
		retrier:       retry.ConflictRetrier(shared.IsConflict, retry.WithOnRetry(onConflict)),
		limiter:       rate.NewLimiter(rate.Every(config.RecomputeInterval), 1),
		lastRecompute: make(map[shared.Metric]time.Time),
	}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Operation pipeline
// ─────────────────────────────────────────────────────────────────────────────

// xpGrant is one XP credit made during an operation.
type xpGrant struct {
	amount int
	source string
}

// opState carries one operation through the first stage.
type opState struct {
	user   *progression.User
	now    time.Time
	today  string
	grants []xpGrant
	ledger []progression.LedgerRecord
	streak progression.StreakResult

	// primaryXP is the XP the caller asked for, without bonuses.
	primaryXP int

	noop     bool
	replayed bool
}

func (s *opState) grant(amount int, source string) error {
	if _, err := s.user.GrantXP(amount); err != nil {
		return err
	}
	s.grants = append(s.grants, xpGrant{amount: amount, source: source})
	return nil
}

type operation struct {
	name   string
	userID string

	// key makes the operation idempotent when set.
	key string

	// evaluate runs achievements and rank refresh after the first persist.
	evaluate bool

	mutate func(s *opState) error
}

type outcome struct {
	pre     *progression.User
	user    *progression.User
	state   *opState
	unlocks []progression.Unlock
}

// run executes an operation under the per-user lock.
func (c *Coordinator) run(ctx context.Context, op operation) (*outcome, error) {
	unlock, err := c.locker.Lock(ctx, op.userID)
	if err != nil {
		return nil, shared.WrapError("coordinator", op.name, shared.ErrUnavailable, "failed to lock user", err)
	}
	defer unlock()

	var out *outcome
	err = c.retrier.Do(ctx, func(ctx context.Context) error {
		o, err := c.apply(ctx, op)
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.state.noop {
		return out, nil
	}

	c.publish(op.name, diffEvents(out.pre, out.user, out.state.grants, nil, out.state.now))

	if op.evaluate {
		c.evaluate(ctx, op, out)
		c.maybeRecompute()
	}
	return out, nil
}

// apply loads the user, mutates it and persists the primary effect.
// It is re-run from scratch on a version conflict.
func (c *Coordinator) apply(ctx context.Context, op operation) (*outcome, error) {
	user, err := c.store.GetUser(ctx, op.userID)
	if err != nil {
		return nil, err
	}

	now := c.clock.Now()
	s := &opState{
		user:  user,
		now:   now,
		today: timeutil.DateKey(now, c.clock.Location()),
	}
	out := &outcome{pre: user.Clone(), user: user, state: s}

	if op.key != "" && user.HasApplied(op.key) {
		s.noop = true
		s.replayed = true
		return out, nil
	}

	if err := op.mutate(s); err != nil {
		return nil, err
	}
	if s.noop {
		return out, nil
	}

	if op.key != "" {
		user.MarkApplied(op.key)
	}
	user.UpdatedAt = now

	if err := c.store.SaveUser(ctx, user, s.ledger...); err != nil {
		return nil, err
	}
	return out, nil
}

// evaluate runs the second stage. Failures here never fail the operation:
// the primary effect is already persisted.
func (c *Coordinator) evaluate(ctx context.Context, op operation, out *outcome) {
	user := out.user
	mid := user.Clone()
	now := out.state.now
	degraded := false

	var (
		unlocks []progression.Unlock
		grants  []xpGrant
	)

	defs, err := c.achievements.ListActive(ctx)
	if err != nil {
		c.degraded(op.name, user.ID, "list achievements", err)
		degraded = true
	} else {
		unlocks, err = c.evaluator.EvaluateAll(ctx, user, defs, now)
		if err != nil {
			c.degraded(op.name, user.ID, "evaluate achievements", err)
			degraded = true
		}
	}

	for _, u := range unlocks {
		if u.Definition.RewardXP > 0 {
			grants = append(grants, xpGrant{amount: u.Definition.RewardXP, source: "achievement:" + u.Definition.ID})
			user.CreditActivity(out.state.today, u.Definition.RewardXP, SourceAchievement)
		}
	}

	// Refreshed ranks are saved together with the unlocks, so this stays under the user lock.
	ranksChanged := false
	for _, metric := range c.config.RankMetrics {
		rank, err := c.ranks.RankOf(ctx, user, metric)
		if err != nil {
			c.degraded(op.name, user.ID, "rank "+string(metric), err)
			continue
		}
		if user.RankFor(metric) != rank {
			user.SetRank(metric, rank)
			ranksChanged = true
		}
	}

	if len(unlocks) > 0 || ranksChanged {
		user.UpdatedAt = now
		if err := c.store.SaveUser(ctx, user); err != nil {
			c.degraded(op.name, user.ID, "persist evaluation", err)
			out.user = mid
			c.enqueue(op.name, mid.ID)
			return
		}
	}
	out.unlocks = unlocks

	for _, u := range unlocks {
		if err := c.achievements.IncrementUnlocked(ctx, u.Definition.ID); err != nil {
			c.logger.Warn("failed to increment unlock counter",
				"op", op.name,
				"achievement_id", u.Definition.ID,
				"error", err,
			)
		}
	}

	c.publish(op.name, diffEvents(mid, user, grants, unlocks, now))

	if degraded {
		c.enqueue(op.name, user.ID)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Side effects
// ─────────────────────────────────────────────────────────────────────────────

func (c *Coordinator) publish(op string, events []shared.Event) {
	if c.events == nil {
		return
	}
	for _, event := range events {
		if err := c.events.Publish(event); err != nil {
			c.degraded(op, event.AggregateID(), "emit "+string(event.EventType()), err)
		}
	}
}

func (c *Coordinator) enqueue(op, userID string) {
	if c.reconciler == nil {
		return
	}
	if err := c.reconciler.Enqueue(userID, op); err != nil {
		c.degraded(op, userID, "enqueue reconciliation", err)
	}
}

func (c *Coordinator) degraded(op, userID, step string, err error) {
	c.logger.Warn("operation degraded",
		"op", op,
		"user_id", userID,
		"step", step,
		"error", fmt.Errorf("%w: %w", shared.ErrPartialDegradation, err),
	)
}

// ─────────────────────────────────────────────────────────────────────────────
// Shared steps
// ─────────────────────────────────────────────────────────────────────────────

// recordActivity updates the streak and today's bucket. The streak is
// computed before the bucket is written so today's own activity never counts
// as "already active today".
func (c *Coordinator) recordActivity(s *opState, xp int, tag string) error {
	res := progression.UpdateStreak(s.user.CurrentStreak, s.user.LongestStreak, s.user.DailyActivity, s.now)
	s.user.UpsertActivity(s.today, xp, tag)

	if !res.Changed() {
		return nil
	}
	s.user.ApplyStreak(res)
	s.streak = res

	if !res.Increased {
		return nil
	}
	if bonus := c.config.StreakBonuses.MilestoneBonus(res.NewStreak); bonus > 0 {
		if err := s.grant(bonus, progression.SourceStreakBonus); err != nil {
			return err
		}
		s.user.CreditActivity(s.today, bonus, progression.SourceStreakBonus)
	}
	return nil
}

func (c *Coordinator) primaryMetric() shared.Metric {
	return c.config.RankMetrics[0]
}

func requireUserID(op, userID string) error {
	if userID == "" {
		return shared.NewDomainError("command", op, shared.ErrInvalidInput, "user_id is required")
	}
	return nil
}
