package progression

import (
	"fmt"
	"time"

	"github.com/alem-hub/progression-engine/internal/domain/shared"
	"github.com/alem-hub/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT DEFINITIONS
// ══════════════════════════════════════════════════════════════════════════════

// CriteriaType - тип условия достижения.
type CriteriaType string

const (
	CriteriaStreakDays          CriteriaType = "streak-days"
	CriteriaTotalXP             CriteriaType = "total-xp"
	CriteriaChallengesCompleted CriteriaType = "challenges-completed"
	CriteriaPerfectScores       CriteriaType = "perfect-scores"
	CriteriaLoginDays           CriteriaType = "login-days"
	CriteriaCustom              CriteriaType = "custom"
)

// IsValid проверяет тип условия.
func (c CriteriaType) IsValid() bool {
	switch c {
	case CriteriaStreakDays, CriteriaTotalXP, CriteriaChallengesCompleted,
		CriteriaPerfectScores, CriteriaLoginDays, CriteriaCustom:
		return true
	}
	return false
}

// IsCountable сообщает, требует ли условие запроса к журналу активности.
func (c CriteriaType) IsCountable() bool {
	return c == CriteriaChallengesCompleted || c == CriteriaPerfectScores || c == CriteriaLoginDays
}

// Timeframe - окно, в котором считаются countable-условия.
type Timeframe string

const (
	TimeframeAllTime Timeframe = "all_time"
	TimeframeDaily   Timeframe = "daily"
	TimeframeWeekly  Timeframe = "weekly"
	TimeframeMonthly Timeframe = "monthly"
)

// IsValid проверяет окно.
func (t Timeframe) IsValid() bool {
	switch t {
	case TimeframeAllTime, TimeframeDaily, TimeframeWeekly, TimeframeMonthly:
		return true
	}
	return false
}

// Window возвращает диапазон [начало окна, now]. Для all_time нижней границы нет.
func (t Timeframe) Window(now time.Time) shared.TimeRange {
	switch t {
	case TimeframeDaily:
		return shared.TimeRange{From: timeutil.StartOfDay(now), To: now}
	case TimeframeWeekly:
		return shared.TimeRange{From: timeutil.StartOfWeek(now), To: now}
	case TimeframeMonthly:
		return shared.TimeRange{From: timeutil.StartOfMonth(now), To: now}
	default:
		return shared.TimeRange{To: now}
	}
}

// AchievementDefinition - описание достижения из каталога.
// Движок меняет только счётчик TotalUnlocked.
type AchievementDefinition struct {
	ID                  string       `yaml:"id"`
	Name                string       `yaml:"name"`
	Description         string       `yaml:"description"`
	CriteriaType        CriteriaType `yaml:"criteria_type"`
	Target              int          `yaml:"target"`
	Timeframe           Timeframe    `yaml:"timeframe"`
	RewardXP            int          `yaml:"reward_xp"`
	RewardStreakFreezes int          `yaml:"reward_streak_freezes"`
	IsActive            bool         `yaml:"is_active"`
	CustomKey           string       `yaml:"custom_key,omitempty"`
	TotalUnlocked       int64        `yaml:"-"`
}

// Validate проверяет определение.
func (d AchievementDefinition) Validate() error {
	switch {
	case d.ID == "":
		return shared.NewDomainError("achievement", "Validate", shared.ErrInvalidInput, "id is required")
	case !d.CriteriaType.IsValid():
		return shared.NewDomainError("achievement", "Validate", shared.ErrInvalidInput,
			fmt.Sprintf("%s: unknown criteria type %q", d.ID, d.CriteriaType))
	case !d.Timeframe.IsValid():
		return shared.NewDomainError("achievement", "Validate", shared.ErrInvalidInput,
			fmt.Sprintf("%s: unknown timeframe %q", d.ID, d.Timeframe))
	case d.Target < 0 || d.RewardXP < 0 || d.RewardStreakFreezes < 0:
		return shared.NewDomainError("achievement", "Validate", shared.ErrNegativeValue,
			fmt.Sprintf("%s: target and rewards must be non-negative", d.ID))
	case d.CriteriaType == CriteriaCustom && d.CustomKey == "":
		return shared.NewDomainError("achievement", "Validate", shared.ErrInvalidInput,
			fmt.Sprintf("%s: custom criteria requires custom_key", d.ID))
	}
	return nil
}

// Unlock - открытое в ходе оценки достижение.
type Unlock struct {
	Definition AchievementDefinition
	UnlockedAt time.Time
	XP         XPResult
}
