package progression

import (
	"time"

	"github.com/alem-hub/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STREAK TRACKER
// ══════════════════════════════════════════════════════════════════════════════

// SourceStreakBonus - источник XP за вехи серии.
const SourceStreakBonus = "streak_bonus"

// SourceStreakFreeze - тег дня, закрытого заморозкой серии.
const SourceStreakFreeze = "streak_freeze"

// SourceLogin - тег дня, в который пользователь отметился без начисления XP.
const SourceLogin = "login"

// StreakResult - результат обновления серии.
type StreakResult struct {
	Increased   bool
	Reset       bool
	OldStreak   int
	NewStreak   int
	NewLongest  int
	IsNewRecord bool
}

// Changed сообщает, изменился ли счётчик серии.
func (r StreakResult) Changed() bool {
	return r.Increased || r.Reset
}

// UpdateStreak вычисляет новое состояние серии. Чистая функция.
//
// День определяется часовым поясом now (канонические часы движка):
//   - сегодня уже есть активность - серия не меняется (не более одного шага в день);
//   - вчера была активность или серия равна 0 - серия растёт;
//   - сегодня закрыто заморозкой - серия сохраняется без сброса;
//   - вчера активности не было, а серия > 0 - серия сбрасывается до 1.
//
// День, закрытый только заморозкой, не считается активным сегодня:
// первое настоящее действие за такой день всё ещё продлевает серию.
//
// Вызывать до того, как запись сегодняшнего дня добавлена в activity.
func UpdateStreak(currentStreak, longestStreak int, activity []DailyActivity, now time.Time) StreakResult {
	res := StreakResult{
		OldStreak:  currentStreak,
		NewStreak:  currentStreak,
		NewLongest: longestStreak,
	}

	today := timeutil.DateKey(now, now.Location())
	yesterday := timeutil.DateKey(now.AddDate(0, 0, -1), now.Location())

	day, seenToday := activityOn(activity, today)
	if seenToday && !day.FreezeOnly() {
		return res
	}
	_, seenYesterday := activityOn(activity, yesterday)

	switch {
	case currentStreak == 0 || seenYesterday:
		res.Increased = true
		res.NewStreak = currentStreak + 1
	case seenToday:
		return res
	default:
		res.Reset = true
		res.NewStreak = 1
	}

	if res.NewStreak > longestStreak {
		res.NewLongest = res.NewStreak
		res.IsNewRecord = true
	}
	return res
}

func activityOn(activity []DailyActivity, date string) (DailyActivity, bool) {
	for i := len(activity) - 1; i >= 0; i-- {
		if activity[i].Date == date {
			return activity[i], true
		}
		if activity[i].Date < date {
			break
		}
	}
	return DailyActivity{}, false
}

// ApplyStreak записывает результат в пользователя.
func (u *User) ApplyStreak(res StreakResult) {
	u.CurrentStreak = res.NewStreak
	u.LongestStreak = res.NewLongest
}

// ──────────────────────────────────────────────────────────────────────────────
// Milestone bonuses
// ──────────────────────────────────────────────────────────────────────────────

// StreakBonuses - бонусы за вехи серии.
type StreakBonuses struct {
	EveryThirdDay int
	Weekly        int
	Monthly       int
}

// DefaultStreakBonuses возвращает бонусы по умолчанию: +10 / +25 / +100.
func DefaultStreakBonuses() StreakBonuses {
	return StreakBonuses{
		EveryThirdDay: 10,
		Weekly:        25,
		Monthly:       100,
	}
}

// MilestoneBonus возвращает бонус за день серии с номером day.
// Если день кратен нескольким порогам, выдаётся только самый крупный:
// месяц > неделя > каждые 3 дня.
func (b StreakBonuses) MilestoneBonus(day int) int {
	switch {
	case day <= 0:
		return 0
	case day%30 == 0:
		return b.Monthly
	case day%7 == 0:
		return b.Weekly
	case day%3 == 0:
		return b.EveryThirdDay
	default:
		return 0
	}
}
