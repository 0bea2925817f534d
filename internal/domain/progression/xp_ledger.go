package progression

import (
	"math"

	"github.com/alem-hub/progression-engine/internal/domain/shared"
)

// XPResult - результат начисления опыта.
type XPResult struct {
	NewXP        shared.XP
	NewLevel     shared.Level
	LeveledUp    bool
	LevelsGained int
}

// ApplyXP начисляет delta опыта. Чистая функция без побочных эффектов.
// Уровень всегда пересчитывается из суммарного XP, а не увеличивается отдельно,
// поэтому повторный вызов с тем же входом даёт тот же результат.
// Возвращает ошибку с видом ErrInvalidAmount, если delta <= 0
// или сумма не помещается в int.
func ApplyXP(currentXP shared.XP, currentLevel shared.Level, delta int) (XPResult, error) {
	if delta <= 0 {
		return XPResult{}, shared.ErrNonPositiveXP
	}
	if delta > math.MaxInt-int(currentXP) {
		return XPResult{}, shared.ErrXPOverflow
	}

	newXP := currentXP + shared.XP(delta)
	newLevel := newXP.Level()

	res := XPResult{
		NewXP:    newXP,
		NewLevel: newLevel,
	}
	if newLevel > currentLevel {
		res.LeveledUp = true
		res.LevelsGained = int(newLevel - currentLevel)
	}
	return res, nil
}

// GrantXP применяет ApplyXP к пользователю в памяти.
func (u *User) GrantXP(delta int) (XPResult, error) {
	res, err := ApplyXP(u.TotalXP, u.Level, delta)
	if err != nil {
		return XPResult{}, err
	}
	u.TotalXP = res.NewXP
	u.Level = res.NewLevel
	return res, nil
}

// RederiveLevel восстанавливает уровень из суммарного XP.
// Возвращает true, если уровень был исправлен.
func (u *User) RederiveLevel() bool {
	want := u.TotalXP.Level()
	if u.Level == want {
		return false
	}
	u.Level = want
	return true
}
