package progression

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/alem-hub/progression-engine/internal/domain/shared"
	"github.com/alem-hub/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT EVALUATOR
// ══════════════════════════════════════════════════════════════════════════════

// CustomCriterion - правило для достижений с типом custom.
type CustomCriterion func(user *User, def AchievementDefinition) bool

// Evaluator определяет, какие ещё не открытые достижения теперь выполнены.
// Не хранит состояния между вызовами.
type Evaluator struct {
	ledger Ledger
	custom map[string]CustomCriterion
	logger *slog.Logger
}

// NewEvaluator создаёт оценщик достижений.
func NewEvaluator(ledger Ledger, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		ledger: ledger,
		custom: make(map[string]CustomCriterion),
		logger: logger,
	}
}

// RegisterCustom регистрирует правило для custom_key.
// Регистрация выполняется при старте, до первой оценки.
func (e *Evaluator) RegisterCustom(key string, fn CustomCriterion) {
	e.custom[key] = fn
}

// Evaluate возвращает последовательность впервые выполненных достижений.
//
// Достижения проверяются в порядке каталога. Каждое выданное достижение уже
// применено к user: награда XP начислена, заморозки добавлены. Поэтому награда
// раннего достижения может выполнить total-xp условие более позднего в том же
// проходе. Ошибка журнала для одного достижения пропускает только его.
func (e *Evaluator) Evaluate(ctx context.Context, user *User, catalog []AchievementDefinition, now time.Time) iter.Seq[Unlock] {
	return func(yield func(Unlock) bool) {
		e.evaluate(ctx, user, catalog, now, yield, nil)
	}
}

// EvaluateAll выполняет полный проход и собирает открытые достижения.
// Ошибки отдельных достижений объединяются в возвращаемую ошибку,
// уже открытые достижения при этом остаются применены.
func (e *Evaluator) EvaluateAll(ctx context.Context, user *User, catalog []AchievementDefinition, now time.Time) ([]Unlock, error) {
	var (
		unlocks []Unlock
		errs    []error
	)
	e.evaluate(ctx, user, catalog, now,
		func(u Unlock) bool {
			unlocks = append(unlocks, u)
			return true
		},
		func(def AchievementDefinition, err error) {
			errs = append(errs, fmt.Errorf("achievement %s: %w", def.ID, err))
		},
	)
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return unlocks, errors.Join(errs...)
}

func (e *Evaluator) evaluate(
	ctx context.Context,
	user *User,
	catalog []AchievementDefinition,
	now time.Time,
	yield func(Unlock) bool,
	onSkip func(AchievementDefinition, error),
) {
	for _, def := range catalog {
		if ctx.Err() != nil {
			return
		}
		if !def.IsActive || user.HasUnlocked(def.ID) {
			continue
		}

		ok, err := e.satisfied(ctx, user, def, now)
		if err != nil {
			e.logger.Warn("achievement evaluation skipped",
				"user_id", user.ID,
				"achievement_id", def.ID,
				"error", err,
			)
			if onSkip != nil {
				onSkip(def, err)
			}
			continue
		}
		if !ok {
			continue
		}

		unlock := e.apply(user, def, now)
		if !yield(unlock) {
			return
		}
	}
}

func (e *Evaluator) apply(user *User, def AchievementDefinition, now time.Time) Unlock {
	user.unlock(def.ID)

	xp := XPResult{NewXP: user.TotalXP, NewLevel: user.Level}
	if def.RewardXP > 0 {
		// RewardXP > 0, поэтому ApplyXP не может вернуть ошибку.
		xp, _ = user.GrantXP(def.RewardXP)
	}
	if def.RewardStreakFreezes > 0 {
		user.StreakFreezes += def.RewardStreakFreezes
	}

	return Unlock{Definition: def, UnlockedAt: now, XP: xp}
}

func (e *Evaluator) satisfied(ctx context.Context, user *User, def AchievementDefinition, now time.Time) (bool, error) {
	switch def.CriteriaType {
	case CriteriaStreakDays:
		return user.CurrentStreak >= def.Target, nil
	case CriteriaTotalXP:
		return int(user.TotalXP) >= def.Target, nil
	case CriteriaChallengesCompleted, CriteriaPerfectScores, CriteriaLoginDays:
		n, err := e.count(ctx, user.ID, def.CriteriaType, def.Timeframe.Window(now), now.Location())
		if err != nil {
			return false, err
		}
		return n >= def.Target, nil
	case CriteriaCustom:
		fn, ok := e.custom[def.CustomKey]
		if !ok {
			return false, nil
		}
		return fn(user, def), nil
	default:
		return false, shared.NewDomainError("achievement", "Evaluate", shared.ErrInvalidInput,
			fmt.Sprintf("unknown criteria type %q", def.CriteriaType))
	}
}

// count считает countable-условие по журналу в окне.
func (e *Evaluator) count(ctx context.Context, userID string, criteria CriteriaType, window shared.TimeRange, loc *time.Location) (int, error) {
	if e.ledger == nil {
		return 0, shared.NewDomainError("achievement", "Evaluate", shared.ErrUnavailable, "ledger is not configured")
	}

	filter := LedgerFilter{Range: window}
	switch criteria {
	case CriteriaChallengesCompleted:
		filter.Kind = LedgerChallengeCompleted
	case CriteriaPerfectScores:
		filter.Kind = LedgerChallengeCompleted
		filter.MinScore = PerfectScore
	case CriteriaLoginDays:
		filter.Kind = LedgerLogin
	}

	records, err := e.ledger.QueryLedger(ctx, userID, filter)
	if err != nil {
		return 0, err
	}

	if criteria != CriteriaLoginDays {
		return len(records), nil
	}

	days := make(map[string]struct{}, len(records))
	for _, r := range records {
		days[timeutil.DateKey(r.OccurredAt, loc)] = struct{}{}
	}
	return len(days), nil
}
