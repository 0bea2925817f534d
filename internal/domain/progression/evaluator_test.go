package progression

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/progression-engine/internal/domain/shared"
)

type fakeLedger struct {
	records []LedgerRecord
	failFor LedgerKind
	queries int
}

func (l *fakeLedger) QueryLedger(_ context.Context, userID string, filter LedgerFilter) ([]LedgerRecord, error) {
	l.queries++
	if l.failFor != "" && filter.Kind == l.failFor {
		return nil, shared.NewDomainError("ledger", "Query", shared.ErrUnavailable, "ledger timeout")
	}
	var out []LedgerRecord
	for _, r := range l.records {
		if r.UserID == userID && filter.Matches(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

var evalNow = time.Date(2025, 3, 12, 15, 0, 0, 0, time.UTC) // Wednesday

func def(id string, c CriteriaType, target int) AchievementDefinition {
	return AchievementDefinition{
		ID:           id,
		Name:         id,
		CriteriaType: c,
		Target:       target,
		Timeframe:    TimeframeAllTime,
		IsActive:     true,
	}
}

func TestEvaluator_RewardCascadesWithinPass(t *testing.T) {
	first := def("first-streak", CriteriaStreakDays, 1)
	first.RewardXP = 50
	second := def("xp-1000", CriteriaTotalXP, 1000)

	user := &User{ID: "u1", TotalXP: 960, Level: 1, CurrentStreak: 1, LongestStreak: 1}
	ev := NewEvaluator(&fakeLedger{}, nil)

	unlocks, err := ev.EvaluateAll(context.Background(), user, []AchievementDefinition{first, second}, evalNow)
	require.NoError(t, err)

	require.Len(t, unlocks, 2)
	assert.Equal(t, "first-streak", unlocks[0].Definition.ID)
	assert.Equal(t, "xp-1000", unlocks[1].Definition.ID)
	assert.Equal(t, shared.XP(1010), user.TotalXP)
	assert.Equal(t, shared.Level(2), user.Level)
	assert.True(t, unlocks[0].XP.LeveledUp)
}

func TestEvaluator_CatalogOrderMatters(t *testing.T) {
	first := def("first-streak", CriteriaStreakDays, 1)
	first.RewardXP = 50
	second := def("xp-1000", CriteriaTotalXP, 1000)

	user := &User{ID: "u1", TotalXP: 960, Level: 1, CurrentStreak: 1, LongestStreak: 1}
	ev := NewEvaluator(&fakeLedger{}, nil)

	unlocks, err := ev.EvaluateAll(context.Background(), user, []AchievementDefinition{second, first}, evalNow)
	require.NoError(t, err)
	require.Len(t, unlocks, 1)
	assert.Equal(t, "first-streak", unlocks[0].Definition.ID)
	assert.False(t, user.HasUnlocked("xp-1000"))
}

func TestEvaluator_SkipsUnlockedAndInactive(t *testing.T) {
	a := def("a", CriteriaTotalXP, 10)
	b := def("b", CriteriaTotalXP, 10)
	b.IsActive = false

	user := &User{ID: "u1", TotalXP: 100, Level: 1, UnlockedAchievements: []string{"a"}}
	ev := NewEvaluator(&fakeLedger{}, nil)

	unlocks, err := ev.EvaluateAll(context.Background(), user, []AchievementDefinition{a, b}, evalNow)
	require.NoError(t, err)
	assert.Empty(t, unlocks)
	assert.Equal(t, []string{"a"}, user.UnlockedAchievements)
}

func TestEvaluator_GrantsStreakFreezes(t *testing.T) {
	a := def("weekly-warrior", CriteriaStreakDays, 7)
	a.RewardStreakFreezes = 2

	user := &User{ID: "u1", CurrentStreak: 7, LongestStreak: 7, Level: 1}
	ev := NewEvaluator(&fakeLedger{}, nil)

	unlocks, err := ev.EvaluateAll(context.Background(), user, []AchievementDefinition{a}, evalNow)
	require.NoError(t, err)
	require.Len(t, unlocks, 1)
	assert.Equal(t, 2, user.StreakFreezes)
	assert.Equal(t, shared.XP(0), user.TotalXP)
}

func TestEvaluator_CountableCriteriaUseTimeframe(t *testing.T) {
	ledger := &fakeLedger{records: []LedgerRecord{
		{UserID: "u1", Kind: LedgerChallengeCompleted, Score: 100, OccurredAt: evalNow.Add(-time.Hour)},
		{UserID: "u1", Kind: LedgerChallengeCompleted, Score: 40, OccurredAt: evalNow.AddDate(0, 0, -1)},
		{UserID: "u1", Kind: LedgerChallengeCompleted, Score: 100, OccurredAt: evalNow.AddDate(0, 0, -20)},
		{UserID: "u1", Kind: LedgerLogin, OccurredAt: evalNow.Add(-2 * time.Hour)},
		{UserID: "u1", Kind: LedgerLogin, OccurredAt: evalNow.Add(-time.Hour)},
		{UserID: "u1", Kind: LedgerLogin, OccurredAt: evalNow.AddDate(0, 0, -1)},
		{UserID: "u2", Kind: LedgerChallengeCompleted, Score: 100, OccurredAt: evalNow},
	}}

	dailyDone := def("daily-2", CriteriaChallengesCompleted, 2)
	dailyDone.Timeframe = TimeframeDaily
	weeklyDone := def("weekly-2", CriteriaChallengesCompleted, 2)
	weeklyDone.Timeframe = TimeframeWeekly
	perfectAll := def("perfect-2", CriteriaPerfectScores, 2)
	loginDays := def("login-2", CriteriaLoginDays, 2)
	loginDays.Timeframe = TimeframeWeekly
	loginDaysThree := def("login-3", CriteriaLoginDays, 3)

	user := &User{ID: "u1", Level: 1}
	ev := NewEvaluator(ledger, nil)

	unlocks, err := ev.EvaluateAll(context.Background(), user,
		[]AchievementDefinition{dailyDone, weeklyDone, perfectAll, loginDays, loginDaysThree}, evalNow)
	require.NoError(t, err)

	var ids []string
	for _, u := range unlocks {
		ids = append(ids, u.Definition.ID)
	}
	assert.Equal(t, []string{"weekly-2", "perfect-2", "login-2"}, ids)
}

func TestEvaluator_LedgerFailureSkipsOnlyThatAchievement(t *testing.T) {
	ledger := &fakeLedger{failFor: LedgerChallengeCompleted}

	broken := def("ten-challenges", CriteriaChallengesCompleted, 1)
	healthy := def("xp-100", CriteriaTotalXP, 100)

	user := &User{ID: "u1", TotalXP: 150, Level: 1}
	ev := NewEvaluator(ledger, nil)

	unlocks, err := ev.EvaluateAll(context.Background(), user, []AchievementDefinition{broken, healthy}, evalNow)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrUnavailable))

	require.Len(t, unlocks, 1)
	assert.Equal(t, "xp-100", unlocks[0].Definition.ID)
	assert.False(t, user.HasUnlocked("ten-challenges"))
}

func TestEvaluator_CustomCriteria(t *testing.T) {
	night := def("night-owl", CriteriaCustom, 0)
	night.CustomKey = "has_bio"
	unknown := def("mystery", CriteriaCustom, 0)
	unknown.CustomKey = "unregistered"

	ev := NewEvaluator(&fakeLedger{}, nil)
	ev.RegisterCustom("has_bio", func(u *User, _ AchievementDefinition) bool {
		return u.Profile.Bio != ""
	})

	user := &User{ID: "u1", Level: 1, Profile: Profile{Bio: "hello"}}
	unlocks, err := ev.EvaluateAll(context.Background(), user, []AchievementDefinition{night, unknown}, evalNow)
	require.NoError(t, err)
	require.Len(t, unlocks, 1)
	assert.Equal(t, "night-owl", unlocks[0].Definition.ID)
}

func TestEvaluator_SequenceStopsEarly(t *testing.T) {
	a := def("a", CriteriaTotalXP, 0)
	b := def("b", CriteriaTotalXP, 0)

	user := &User{ID: "u1", Level: 1}
	ev := NewEvaluator(&fakeLedger{}, nil)

	for unlock := range ev.Evaluate(context.Background(), user, []AchievementDefinition{a, b}, evalNow) {
		assert.Equal(t, "a", unlock.Definition.ID)
		break
	}
	assert.True(t, user.HasUnlocked("a"))
	assert.False(t, user.HasUnlocked("b"))
}

func TestTimeframe_Window(t *testing.T) {
	assert.True(t, TimeframeAllTime.Window(evalNow).IsUnbounded())
	assert.Equal(t, time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC), TimeframeDaily.Window(evalNow).From)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), TimeframeWeekly.Window(evalNow).From)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), TimeframeMonthly.Window(evalNow).From)
}

func TestAchievementDefinition_Validate(t *testing.T) {
	ok := def("a", CriteriaTotalXP, 10)
	assert.NoError(t, ok.Validate())

	bad := ok
	bad.CriteriaType = "karma"
	assert.True(t, shared.IsValidation(bad.Validate()))

	bad = ok
	bad.RewardXP = -1
	assert.True(t, shared.IsValidation(bad.Validate()))

	bad = def("c", CriteriaCustom, 0)
	assert.Error(t, bad.Validate())
}
