package command

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/progression-engine/internal/domain/progression"
	"github.com/alem-hub/progression-engine/internal/domain/shared"
	"github.com/alem-hub/progression-engine/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/progression-engine/pkg/timeutil"
)

// ─────────────────────────────────────────────────────────────────────────────
// Fixtures
// ─────────────────────────────────────────────────────────────────────────────

type recordingBus struct {
	mu     sync.Mutex
	events []shared.Event
}

func (b *recordingBus) Publish(e shared.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
	return nil
}

func (b *recordingBus) types() []shared.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]shared.EventType, len(b.events))
	for i, e := range b.events {
		out[i] = e.EventType()
	}
	return out
}

func (b *recordingBus) ofType(t shared.EventType) []shared.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []shared.Event
	for _, e := range b.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

type recordingQueue struct {
	mu    sync.Mutex
	users []string
}

func (q *recordingQueue) Enqueue(userID, _ string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.users = append(q.users, userID)
	return nil
}

type recordingRunner struct {
	mu    sync.Mutex
	names []string
}

func (r *recordingRunner) Go(name string, _ func(context.Context) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
	return nil
}

type fixture struct {
	store   *memory.Store
	catalog *memory.Catalog
	clock   *timeutil.FixedClock
	bus     *recordingBus
	queue   *recordingQueue
	coord   *Coordinator
}

// 2025-03-10 12:00 in Almaty.
var baseTime = time.Date(2025, 3, 10, 12, 0, 0, 0, timeutil.AlmatyTZ)

func newFixture(t *testing.T, defs ...progression.AchievementDefinition) *fixture {
	return newFixtureWith(t, DefaultConfig(), nil, defs...)
}

func newFixtureWith(t *testing.T, cfg Config, async AsyncRunner, defs ...progression.AchievementDefinition) *fixture {
	t.Helper()

	f := &fixture{
		store:   memory.NewStore(),
		catalog: memory.NewCatalog(defs...),
		clock:   timeutil.NewFixedClock(baseTime),
		bus:     &recordingBus{},
		queue:   &recordingQueue{},
	}
	f.catalog.AddChallenge(progression.Challenge{ID: "ch-1", Title: "Warmup", BaseReward: 100, IsActive: true})

	coord, err := NewCoordinator(Dependencies{
		Store:        f.store,
		Ledger:       f.store,
		Achievements: f.catalog,
		Challenges:   f.catalog,
		Locker:       memory.NewLocker(),
		Ranks:        progression.NewRankIndex(f.store, nil, nil),
		Evaluator:    progression.NewEvaluator(f.store, nil),
		Events:       f.bus,
		Reconciler:   f.queue,
		Async:        async,
		Clock:        f.clock,
	}, cfg)
	require.NoError(t, err)
	f.coord = coord
	return f
}

func (f *fixture) addUser(t *testing.T, id string, mutate func(u *progression.User)) {
	t.Helper()
	u := progression.NewUser(id, id, baseTime.Add(-24*time.Hour))
	if mutate != nil {
		mutate(u)
	}
	require.NoError(t, f.store.CreateUser(context.Background(), u))
}

func (f *fixture) user(t *testing.T, id string) *progression.User {
	t.Helper()
	u, err := f.store.GetUser(context.Background(), id)
	require.NoError(t, err)
	return u
}

func dayKey(offset int) string {
	return timeutil.DateKey(baseTime.AddDate(0, 0, offset), timeutil.AlmatyTZ)
}

func totalXPDef(id string, target, reward int) progression.AchievementDefinition {
	return progression.AchievementDefinition{
		ID:           id,
		Name:         id,
		CriteriaType: progression.CriteriaTotalXP,
		Target:       target,
		Timeframe:    progression.TimeframeAllTime,
		RewardXP:     reward,
		IsActive:     true,
	}
}

func assertInvariants(t *testing.T, u *progression.User) {
	t.Helper()
	assert.Equal(t, u.TotalXP.Level(), u.Level, "level must follow total xp")
	assert.GreaterOrEqual(t, u.LongestStreak, u.CurrentStreak)
	assert.GreaterOrEqual(t, u.CurrentStreak, 0)
}

// ─────────────────────────────────────────────────────────────────────────────
// grantXP
// ─────────────────────────────────────────────────────────────────────────────

func TestGrantXP_CrossesLevelBoundary(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", func(u *progression.User) {
		u.TotalXP = 950
		u.Level = 1
	})

	res, err := f.coord.GrantXP(context.Background(), GrantXPCommand{UserID: "u1", Amount: 100, Source: "manual"})
	require.NoError(t, err)

	assert.Equal(t, 100, res.XPGained)
	assert.Equal(t, 1050, res.TotalXP)
	assert.Equal(t, 1, res.OldLevel)
	assert.Equal(t, 2, res.NewLevel)
	assert.True(t, res.LeveledUp)
	assert.Equal(t, 1, res.Rank)
	assert.True(t, res.RankChanged)

	u := f.user(t, "u1")
	assertInvariants(t, u)
	day, ok := u.ActivityOn(dayKey(0))
	require.True(t, ok)
	assert.Equal(t, 100, day.XPGained)

	assert.Equal(t, []shared.EventType{
		shared.EventXPGranted,
		shared.EventLevelUp,
		shared.EventStreakChanged,
		shared.EventRankChanged,
	}, f.bus.types())

	granted := f.bus.ofType(shared.EventXPGranted)[0].(shared.XPGrantedEvent)
	assert.Equal(t, 100, granted.Amount)
	assert.Equal(t, 1050, granted.NewTotal)
}

func TestGrantXP_Validation(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", nil)
	ctx := context.Background()

	_, err := f.coord.GrantXP(ctx, GrantXPCommand{UserID: "u1", Amount: 0, Source: "manual"})
	assert.ErrorIs(t, err, shared.ErrInvalidAmount)

	_, err = f.coord.GrantXP(ctx, GrantXPCommand{UserID: "u1", Amount: -5, Source: "manual"})
	assert.ErrorIs(t, err, shared.ErrInvalidAmount)

	_, err = f.coord.GrantXP(ctx, GrantXPCommand{Amount: 5, Source: "manual"})
	assert.True(t, shared.IsValidation(err))

	_, err = f.coord.GrantXP(ctx, GrantXPCommand{UserID: "ghost", Amount: 5, Source: "manual"})
	assert.True(t, shared.IsNotFound(err))

	assert.Equal(t, int64(1), f.user(t, "u1").Version)
	assert.Empty(t, f.bus.types())
}

func TestGrantXP_RejectsOverflow(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", func(u *progression.User) { u.TotalXP = 10 })

	_, err := f.coord.GrantXP(context.Background(), GrantXPCommand{UserID: "u1", Amount: math.MaxInt, Source: "manual"})
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))

	u := f.user(t, "u1")
	assert.Equal(t, shared.XP(10), u.TotalXP)
	assert.NoError(t, u.Validate())
	assert.Empty(t, f.bus.events)
}

func TestGrantXP_IdempotentReplay(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", nil)
	ctx := context.Background()
	cmd := GrantXPCommand{UserID: "u1", Amount: 40, Source: "manual", IdempotencyKey: "req-1"}

	first, err := f.coord.GrantXP(ctx, cmd)
	require.NoError(t, err)
	eventsAfterFirst := len(f.bus.types())
	stateAfterFirst := f.user(t, "u1")

	second, err := f.coord.GrantXP(ctx, cmd)
	require.NoError(t, err)

	assert.False(t, first.Replayed)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.TotalXP, second.TotalXP)
	assert.Len(t, f.bus.types(), eventsAfterFirst)

	stateAfterSecond := f.user(t, "u1")
	assert.Equal(t, stateAfterFirst.TotalXP, stateAfterSecond.TotalXP)
	assert.Equal(t, stateAfterFirst.Version, stateAfterSecond.Version)
	assert.Equal(t, stateAfterFirst.DailyActivity, stateAfterSecond.DailyActivity)
}

func TestGrantXP_SerializesSameUser(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", nil)
	f.addUser(t, "u2", nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		for _, id := range []string{"u1", "u2"} {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_, err := f.coord.GrantXP(context.Background(), GrantXPCommand{UserID: id, Amount: 10, Source: "manual"})
				assert.NoError(t, err)
			}(id)
		}
	}
	wg.Wait()

	for _, id := range []string{"u1", "u2"} {
		u := f.user(t, id)
		assert.Equal(t, shared.XP(200), u.TotalXP)
		assert.Equal(t, 1, u.CurrentStreak)
		day, ok := u.ActivityOn(dayKey(0))
		require.True(t, ok)
		assert.Equal(t, 20, day.ActivityCount)
		assertInvariants(t, u)
	}
}

func TestGrantXP_RankPersistedWithTheGrant(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "lead", func(u *progression.User) { u.TotalXP = 500; u.Level = u.TotalXP.Level() })
	f.addUser(t, "chaser", nil)
	ctx := context.Background()

	res, err := f.coord.GrantXP(ctx, GrantXPCommand{UserID: "chaser", Amount: 100, Source: "manual"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rank)

	u := f.user(t, "chaser")
	assert.Equal(t, shared.Rank(2), u.RankFor(shared.MetricXP))

	res, err = f.coord.GrantXP(ctx, GrantXPCommand{UserID: "chaser", Amount: 500, Source: "manual"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rank)
	assert.True(t, res.RankChanged)

	u = f.user(t, "chaser")
	assert.Equal(t, shared.XP(600), u.TotalXP)
	assert.Equal(t, shared.Rank(1), u.RankFor(shared.MetricXP))
}

func TestGrantXP_AchievementRewardsCascade(t *testing.T) {
	f := newFixture(t,
		totalXPDef("first-thousand", 1000, 50),
		totalXPDef("over-achiever", 1050, 0),
		totalXPDef("unreachable", 5000, 0),
	)
	f.addUser(t, "u1", func(u *progression.User) { u.TotalXP = 950 })

	res, err := f.coord.GrantXP(context.Background(), GrantXPCommand{UserID: "u1", Amount: 60, Source: "manual"})
	require.NoError(t, err)

	assert.Equal(t, []string{"first-thousand", "over-achiever"}, res.UnlockedAchievements)
	assert.Equal(t, 1060, res.TotalXP)
	assert.Equal(t, 60, res.XPGained)
	assert.Equal(t, 50, res.BonusXP)

	u := f.user(t, "u1")
	assert.Equal(t, []string{"first-thousand", "over-achiever"}, u.UnlockedAchievements)
	assertInvariants(t, u)

	assert.Len(t, f.bus.ofType(shared.EventAchievementUnlocked), 2)
	granted := f.bus.ofType(shared.EventXPGranted)
	require.Len(t, granted, 2)
	reward := granted[1].(shared.XPGrantedEvent)
	assert.Equal(t, "achievement:first-thousand", reward.Source)
	assert.Equal(t, 1060, reward.NewTotal)

	assert.Equal(t, int64(1), f.catalog.TotalUnlocked("first-thousand"))
	assert.Equal(t, int64(0), f.catalog.TotalUnlocked("unreachable"))
}

func TestGrantXP_LedgerFailureDegradesGracefully(t *testing.T) {
	f := newFixture(t, progression.AchievementDefinition{
		ID:           "solver",
		Name:         "Solver",
		CriteriaType: progression.CriteriaChallengesCompleted,
		Target:       1,
		Timeframe:    progression.TimeframeAllTime,
		IsActive:     true,
	})
	f.addUser(t, "u1", nil)
	f.store.FailNext("QueryLedger", shared.NewDomainError("ledger", "Query", shared.ErrUnavailable, "timeout"))

	res, err := f.coord.GrantXP(context.Background(), GrantXPCommand{UserID: "u1", Amount: 30, Source: "manual"})
	require.NoError(t, err)

	assert.Equal(t, 30, res.TotalXP)
	assert.Equal(t, shared.XP(30), f.user(t, "u1").TotalXP)
	assert.Equal(t, []string{"u1"}, f.queue.users)
}

// ─────────────────────────────────────────────────────────────────────────────
// recordChallengeCompletion
// ─────────────────────────────────────────────────────────────────────────────

func TestRecordChallengeCompletion_PerformanceFloor(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", nil)

	res, err := f.coord.RecordChallengeCompletion(context.Background(), RecordChallengeCompletionCommand{
		UserID:      "u1",
		ChallengeID: "ch-1",
		Score:       0,
		TimeSpent:   10 * time.Minute,
	})
	require.NoError(t, err)

	assert.Equal(t, 10, res.XPGained)
	u := f.user(t, "u1")
	assert.Equal(t, 1, u.ChallengesCompleted)
	assert.Equal(t, 0, u.PerfectScores)

	records, err := f.store.QueryLedger(context.Background(), "u1", progression.LedgerFilter{Kind: progression.LedgerChallengeCompleted})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ch-1", records[0].ReferenceID)
	assert.Equal(t, 10, records[0].XP)
}

func TestRecordChallengeCompletion_PerfectScoreUnlocksCountable(t *testing.T) {
	f := newFixture(t, progression.AchievementDefinition{
		ID:                  "flawless",
		Name:                "Flawless",
		CriteriaType:        progression.CriteriaPerfectScores,
		Target:              1,
		Timeframe:           progression.TimeframeDaily,
		RewardStreakFreezes: 1,
		IsActive:            true,
	})
	f.addUser(t, "u1", nil)

	res, err := f.coord.RecordChallengeCompletion(context.Background(), RecordChallengeCompletionCommand{
		UserID: "u1", ChallengeID: "ch-1", Score: 100,
	})
	require.NoError(t, err)

	assert.Equal(t, 100, res.XPGained)
	assert.Equal(t, []string{"flawless"}, res.UnlockedAchievements)

	u := f.user(t, "u1")
	assert.Equal(t, 1, u.PerfectScores)
	assert.Equal(t, 1, u.StreakFreezes)
}

func TestRecordChallengeCompletion_MissingChallengeWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", nil)

	_, err := f.coord.RecordChallengeCompletion(context.Background(), RecordChallengeCompletionCommand{
		UserID: "u1", ChallengeID: "nope", Score: 50,
	})
	assert.True(t, shared.IsNotFound(err))

	u := f.user(t, "u1")
	assert.Equal(t, int64(1), u.Version)
	assert.Equal(t, shared.XP(0), u.TotalXP)
	assert.Empty(t, f.bus.types())

	_, err = f.coord.RecordChallengeCompletion(context.Background(), RecordChallengeCompletionCommand{
		UserID: "u1", ChallengeID: "ch-1", Score: 101,
	})
	assert.True(t, shared.IsValidation(err))
}

// ─────────────────────────────────────────────────────────────────────────────
// recordDailyPing / useStreakFreeze
// ─────────────────────────────────────────────────────────────────────────────

func TestRecordDailyPing_SameDayIsNoOp(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", func(u *progression.User) {
		u.CurrentStreak = 2
		u.LongestStreak = 2
		u.UpsertActivity(dayKey(-1), 20, "manual")
		u.UpsertActivity(dayKey(0), 20, "manual")
	})
	ctx := context.Background()

	first, err := f.coord.RecordDailyPing(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, first.CurrentStreak)
	assert.False(t, first.Increased)

	second, err := f.coord.RecordDailyPing(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, second.CurrentStreak)

	u := f.user(t, "u1")
	assert.Equal(t, 2, u.CurrentStreak)
	assert.Empty(t, f.bus.ofType(shared.EventStreakChanged))

	logins, err := f.store.QueryLedger(ctx, "u1", progression.LedgerFilter{Kind: progression.LedgerLogin})
	require.NoError(t, err)
	assert.Len(t, logins, 1)
}

func TestRecordDailyPing_WeeklyBonusOnly(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", func(u *progression.User) {
		u.CurrentStreak = 6
		u.LongestStreak = 6
		u.UpsertActivity(dayKey(-1), 10, "manual")
	})

	res, err := f.coord.RecordDailyPing(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, 7, res.CurrentStreak)
	assert.True(t, res.Increased)
	assert.True(t, res.IsNewRecord)
	assert.Equal(t, 25, res.BonusXP)
	assert.Equal(t, 25, res.TotalXP)

	granted := f.bus.ofType(shared.EventXPGranted)
	require.Len(t, granted, 1)
	assert.Equal(t, progression.SourceStreakBonus, granted[0].(shared.XPGrantedEvent).Source)

	day, ok := f.user(t, "u1").ActivityOn(dayKey(0))
	require.True(t, ok)
	assert.Equal(t, 25, day.XPGained)
	assert.Equal(t, 1, day.ActivityCount)
}

func TestRecordDailyPing_GapResetsStreak(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", func(u *progression.User) {
		u.CurrentStreak = 4
		u.LongestStreak = 9
		u.UpsertActivity(dayKey(-3), 10, "manual")
	})

	res, err := f.coord.RecordDailyPing(context.Background(), "u1")
	require.NoError(t, err)

	assert.True(t, res.Reset)
	assert.Equal(t, 1, res.CurrentStreak)
	assert.Equal(t, 9, res.LongestStreak)

	changed := f.bus.ofType(shared.EventStreakChanged)
	require.Len(t, changed, 1)
	assert.True(t, changed[0].(shared.StreakChangedEvent).WasReset)
}

func TestUseStreakFreeze(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "broke", nil)
	f.addUser(t, "u1", func(u *progression.User) {
		u.CurrentStreak = 3
		u.LongestStreak = 3
		u.StreakFreezes = 1
		u.UpsertActivity(dayKey(-1), 10, "manual")
	})
	ctx := context.Background()

	_, err := f.coord.UseStreakFreeze(ctx, "broke")
	assert.ErrorIs(t, err, shared.ErrInsufficientResource)

	left, err := f.coord.UseStreakFreeze(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, left)

	day, ok := f.user(t, "u1").ActivityOn(dayKey(0))
	require.True(t, ok)
	assert.True(t, day.HasTag(progression.SourceStreakFreeze))

	f.clock.Advance(24 * time.Hour)
	res, err := f.coord.RecordDailyPing(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 4, res.CurrentStreak)
}

func TestUseStreakFreeze_SameDayActivityStillExtendsStreak(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", func(u *progression.User) {
		u.CurrentStreak = 5
		u.LongestStreak = 5
		u.StreakFreezes = 1
		u.UpsertActivity(dayKey(-1), 10, "manual")
	})
	ctx := context.Background()

	_, err := f.coord.UseStreakFreeze(ctx, "u1")
	require.NoError(t, err)

	_, err = f.coord.GrantXP(ctx, GrantXPCommand{UserID: "u1", Amount: 50, Source: "lesson"})
	require.NoError(t, err)

	u := f.user(t, "u1")
	assert.Equal(t, 6, u.CurrentStreak)
	assert.Equal(t, 6, u.LongestStreak)
}

func TestUseStreakFreeze_NotSpentOnActiveDay(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", func(u *progression.User) {
		u.CurrentStreak = 2
		u.LongestStreak = 2
		u.StreakFreezes = 2
		u.UpsertActivity(dayKey(-1), 10, "manual")
	})
	ctx := context.Background()

	_, err := f.coord.RecordDailyPing(ctx, "u1")
	require.NoError(t, err)

	left, err := f.coord.UseStreakFreeze(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, left)

	left, err = f.coord.UseStreakFreeze(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, left)
	assert.Equal(t, 3, f.user(t, "u1").CurrentStreak)
}

// ─────────────────────────────────────────────────────────────────────────────
// Profile, corrections, ranks, reconciliation
// ─────────────────────────────────────────────────────────────────────────────

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", nil)
	ctx := context.Background()

	name, theme := "Aigerim", "dark"
	off := false
	profile, err := f.coord.UpdateProfile(ctx, UpdateProfileCommand{
		UserID: "u1",
		Patch: progression.ProfilePatch{
			DisplayName: &name,
			Preferences: &progression.PreferencesPatch{Theme: &theme, Notifications: &off},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Aigerim", profile.DisplayName)
	assert.Equal(t, "dark", profile.Preferences.Theme)
	assert.False(t, profile.Preferences.Notifications)
	assert.True(t, profile.Preferences.PublicProfile)

	bad := "neon"
	_, err = f.coord.UpdateProfile(ctx, UpdateProfileCommand{
		UserID: "u1",
		Patch:  progression.ProfilePatch{Preferences: &progression.PreferencesPatch{Theme: &bad}},
	})
	assert.True(t, shared.IsValidation(err))

	tz := "Mars/Olympus"
	_, err = f.coord.UpdateProfile(ctx, UpdateProfileCommand{UserID: "u1", Patch: progression.ProfilePatch{Timezone: &tz}})
	assert.True(t, shared.IsValidation(err))

	assert.Equal(t, "Aigerim", f.user(t, "u1").Profile.DisplayName)
}

func TestCorrectXP(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", func(u *progression.User) {
		u.TotalXP = 2500
		u.Level = 3
	})
	ctx := context.Background()

	res, err := f.coord.CorrectXP(ctx, CorrectXPCommand{UserID: "u1", NewTotal: 500, Reason: "duplicate import"})
	require.NoError(t, err)
	assert.Equal(t, 500, res.TotalXP)
	assert.Equal(t, 1, res.NewLevel)
	assert.Empty(t, f.bus.ofType(shared.EventXPGranted))
	assert.Empty(t, f.bus.ofType(shared.EventLevelUp))

	_, err = f.coord.CorrectXP(ctx, CorrectXPCommand{UserID: "u1", NewTotal: 1200, Reason: "restore"})
	require.NoError(t, err)

	granted := f.bus.ofType(shared.EventXPGranted)
	require.Len(t, granted, 1)
	assert.Equal(t, 700, granted[0].(shared.XPGrantedEvent).Amount)
	assert.Len(t, f.bus.ofType(shared.EventLevelUp), 1)
	assertInvariants(t, f.user(t, "u1"))
}

func TestRanks_RecomputeAndQuery(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "low", func(u *progression.User) { u.TotalXP = 100 })
	f.addUser(t, "high", func(u *progression.User) { u.TotalXP = 900 })
	f.addUser(t, "mid", func(u *progression.User) { u.TotalXP = 500 })
	f.addUser(t, "gone", func(u *progression.User) {
		u.TotalXP = 5000
		u.IsActive = false
	})
	ctx := context.Background()

	n, err := f.coord.RecomputeAllRanks(ctx, shared.MetricXP)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Equal(t, shared.Rank(1), f.user(t, "high").RankFor(shared.MetricXP))
	assert.Equal(t, shared.Rank(2), f.user(t, "mid").RankFor(shared.MetricXP))
	assert.Equal(t, shared.Rank(3), f.user(t, "low").RankFor(shared.MetricXP))

	rank, err := f.coord.GetRank(ctx, "mid", shared.MetricXP)
	require.NoError(t, err)
	assert.Equal(t, shared.Rank(2), rank)

	top, err := f.coord.TopN(ctx, shared.MetricXP, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "high", top[0].UserID)
	assert.Equal(t, "mid", top[1].UserID)

	_, ok := f.coord.LastRecompute(shared.MetricXP)
	assert.True(t, ok)

	_, err = f.coord.RecomputeAllRanks(ctx, shared.Metric("karma"))
	assert.True(t, shared.IsValidation(err))
	_, err = f.coord.TopN(ctx, shared.MetricXP, 0)
	assert.True(t, shared.IsValidation(err))
}

func TestGrantXP_StaleRanksTriggerBoundedRecompute(t *testing.T) {
	runner := &recordingRunner{}
	cfg := DefaultConfig()
	cfg.StalenessBudget = time.Minute
	cfg.RecomputeInterval = time.Minute
	f := newFixtureWith(t, cfg, runner)
	f.addUser(t, "u1", nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.coord.GrantXP(ctx, GrantXPCommand{UserID: "u1", Amount: 5, Source: "manual"})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"recompute_ranks:xp"}, runner.names)

	f.clock.Advance(2 * time.Minute)
	_, err := f.coord.GrantXP(ctx, GrantXPCommand{UserID: "u1", Amount: 5, Source: "manual"})
	require.NoError(t, err)
	assert.Len(t, runner.names, 2)
}

func TestReconcile_RepairsDrift(t *testing.T) {
	f := newFixture(t, progression.AchievementDefinition{
		ID:           "two-down",
		Name:         "Two Down",
		CriteriaType: progression.CriteriaChallengesCompleted,
		Target:       2,
		Timeframe:    progression.TimeframeAllTime,
		RewardXP:     10,
		IsActive:     true,
	})
	f.addUser(t, "u1", nil)
	ctx := context.Background()

	drifted := f.user(t, "u1")
	drifted.TotalXP = 100
	drifted.Level = 5
	f.store.PutUser(drifted)
	for i := 0; i < 2; i++ {
		f.store.AppendLedger(ctx, progression.LedgerRecord{
			UserID:     "u1",
			Kind:       progression.LedgerChallengeCompleted,
			Score:      100,
			OccurredAt: baseTime.Add(-time.Hour),
		})
	}

	require.NoError(t, f.coord.Reconcile(ctx, "u1"))

	u := f.user(t, "u1")
	assert.Equal(t, shared.Level(1), u.Level)
	assert.Equal(t, 2, u.ChallengesCompleted)
	assert.Equal(t, 2, u.PerfectScores)
	assert.Equal(t, []string{"two-down"}, u.UnlockedAchievements)
	assert.Equal(t, shared.XP(110), u.TotalXP)
	assertInvariants(t, u)

	assert.NoError(t, f.coord.Reconcile(ctx, "ghost"))
}

func TestReconcile_LedgerFailureKeepsUserQueued(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", nil)
	f.store.FailNext("QueryLedger", errors.New("ledger timeout"))

	assert.Error(t, f.coord.Reconcile(context.Background(), "u1"))
}

func TestRegisterUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.coord.RegisterUser(ctx, RegisterUserCommand{UserID: "u1", Timezone: "Asia/Almaty"})
	require.NoError(t, err)
	assert.Equal(t, "u1", u.Profile.DisplayName)
	assert.Equal(t, shared.Level(1), u.Level)

	stored := f.user(t, "u1")
	assert.Equal(t, "Asia/Almaty", stored.Profile.Timezone)
	assert.True(t, stored.IsActive)

	_, err = f.coord.RegisterUser(ctx, RegisterUserCommand{UserID: "u1"})
	assert.ErrorIs(t, err, shared.ErrAlreadyExists)

	_, err = f.coord.RegisterUser(ctx, RegisterUserCommand{UserID: "u2", Timezone: "Mars/Olympus"})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	_, err = f.coord.RegisterUser(ctx, RegisterUserCommand{})
	assert.True(t, shared.IsValidation(err))

	got, err := f.coord.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)

	_, err = f.coord.GetUser(ctx, "ghost")
	assert.True(t, shared.IsNotFound(err))
}
