package progression

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/progression-engine/internal/domain/shared"
)

func TestApplyXP(t *testing.T) {
	tests := []struct {
		name        string
		xp          shared.XP
		level       shared.Level
		delta       int
		wantXP      shared.XP
		wantLevel   shared.Level
		wantLeveled bool
		wantGained  int
	}{
		{"within band", 100, 1, 50, 150, 1, false, 0},
		{"crosses boundary", 950, 1, 100, 1050, 2, true, 1},
		{"exact boundary", 999, 1, 1, 1000, 2, true, 1},
		{"multiple levels", 500, 1, 2600, 3100, 4, true, 3},
		{"stale level is repaired", 2500, 1, 10, 2510, 3, true, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ApplyXP(tt.xp, tt.level, tt.delta)
			require.NoError(t, err)
			assert.Equal(t, tt.wantXP, res.NewXP)
			assert.Equal(t, tt.wantLevel, res.NewLevel)
			assert.Equal(t, tt.wantLeveled, res.LeveledUp)
			assert.Equal(t, tt.wantGained, res.LevelsGained)
		})
	}
}

func TestApplyXP_RejectsNonPositiveDelta(t *testing.T) {
	for _, delta := range []int{0, -1, -1000} {
		_, err := ApplyXP(100, 1, delta)
		require.Error(t, err)
		assert.ErrorIs(t, err, shared.ErrInvalidAmount)
		assert.True(t, shared.IsValidation(err))
	}
}

func TestApplyXP_RejectsOverflow(t *testing.T) {
	_, err := ApplyXP(10, 1, math.MaxInt)
	assert.ErrorIs(t, err, shared.ErrInvalidAmount)

	_, err = ApplyXP(shared.XP(math.MaxInt-5), 1, 6)
	assert.ErrorIs(t, err, shared.ErrXPOverflow)

	res, err := ApplyXP(shared.XP(math.MaxInt-5), 1, 5)
	require.NoError(t, err)
	assert.Equal(t, shared.XP(math.MaxInt), res.NewXP)
}

func TestApplyXP_IsDeterministic(t *testing.T) {
	a, errA := ApplyXP(950, 1, 100)
	b, errB := ApplyXP(950, 1, 100)
	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, a, b)
}

func TestUser_RederiveLevel(t *testing.T) {
	u := &User{TotalXP: 4200, Level: 2}
	assert.True(t, u.LevelDrifted())
	assert.True(t, u.RederiveLevel())
	assert.Equal(t, shared.Level(5), u.Level)
	assert.False(t, u.RederiveLevel())
	assert.NoError(t, u.Validate())
}

func TestChallengeXP(t *testing.T) {
	assert.Equal(t, 10, ChallengeXP(100, 0, PerformanceFloor))
	assert.Equal(t, 10, ChallengeXP(100, 5, PerformanceFloor))
	assert.Equal(t, 55, ChallengeXP(100, 55, PerformanceFloor))
	assert.Equal(t, 100, ChallengeXP(100, 100, PerformanceFloor))
	assert.Equal(t, 38, ChallengeXP(75, 50, PerformanceFloor))
	assert.True(t, IsPerfect(100))
	assert.False(t, IsPerfect(99))
}
