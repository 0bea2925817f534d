package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/progression-engine/internal/domain/progression"
	"github.com/alem-hub/progression-engine/internal/domain/shared"
)

var (
	_ progression.Store  = (*Store)(nil)
	_ progression.Ledger = (*Store)(nil)
)

func TestStore_CreateUser(t *testing.T) {
	ctx := context.Background()
	var store progression.Store = NewStore()

	require.NoError(t, store.CreateUser(ctx, progression.NewUser("u1", "one", time.Now())))

	err := store.CreateUser(ctx, progression.NewUser("u1", "again", time.Now()))
	assert.ErrorIs(t, err, shared.ErrAlreadyExists)

	got, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "one", got.Profile.DisplayName)
	assert.Equal(t, int64(1), got.Version)
}

func TestStore_SaveUserDetectsConflict(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.CreateUser(ctx, progression.NewUser("u1", "one", time.Now())))

	a, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	b, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)

	a.TotalXP = 10
	require.NoError(t, s.SaveUser(ctx, a))
	assert.Equal(t, int64(2), a.Version)

	b.TotalXP = 20
	err = s.SaveUser(ctx, b)
	assert.True(t, shared.IsConflict(err))

	got, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, shared.XP(10), got.TotalXP)
}

func TestStore_GetUserNotFound(t *testing.T) {
	_, err := NewStore().GetUser(context.Background(), "ghost")
	assert.True(t, shared.IsNotFound(err))
}

func TestStore_SaveUserAppendsLedger(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.CreateUser(ctx, progression.NewUser("u1", "one", time.Now())))

	u, _ := s.GetUser(ctx, "u1")
	require.NoError(t, s.SaveUser(ctx, u, progression.LedgerRecord{
		Kind:       progression.LedgerChallengeCompleted,
		Score:      100,
		OccurredAt: time.Now(),
	}))

	recs, err := s.QueryLedger(ctx, "u1", progression.LedgerFilter{Kind: progression.LedgerChallengeCompleted})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.NotEmpty(t, recs[0].ID)
	assert.Equal(t, "u1", recs[0].UserID)
}

func TestStore_FindAllActiveUsersSortedBy(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, xp := range []int{100, 300, 300} {
		u := progression.NewUser(string(rune('a'+i)), "", t0.Add(time.Duration(i)*time.Minute))
		u.TotalXP = shared.XP(xp)
		u.Level = u.TotalXP.Level()
		require.NoError(t, s.CreateUser(ctx, u))
	}

	entries, err := s.FindAllActiveUsersSortedBy(ctx, shared.MetricXP)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "b", entries[0].UserID)
	assert.Equal(t, "c", entries[1].UserID)
	assert.Equal(t, "a", entries[2].UserID)
}

func TestLocker_SerializesSameUser(t *testing.T) {
	l := NewLocker()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "u1")
			require.NoError(t, err)
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Empty(t, l.locks)
}

func TestLocker_RespectsContext(t *testing.T) {
	l := NewLocker()
	unlock, err := l.Lock(context.Background(), "u1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "u1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlockOther, err := l.Lock(context.Background(), "u2")
	require.NoError(t, err)
	unlockOther()
}
