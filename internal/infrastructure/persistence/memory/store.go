// Package memory provides in-process implementations of the progression
// storage contracts. Used by tests and by the worker in development mode.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/alem-hub/progression-engine/internal/domain/progression"
	"github.com/alem-hub/progression-engine/internal/domain/shared"
)

// Store implements progression.Store and progression.Ledger.
// All reads return deep copies so callers never share state with the store.
type Store struct {
	mu     sync.RWMutex
	users  map[string]*progression.User
	ledger map[string][]progression.LedgerRecord

	// failNext, when set, is returned once by the next call that consults it.
	failNext map[string]error
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		users:    make(map[string]*progression.User),
		ledger:   make(map[string][]progression.LedgerRecord),
		failNext: make(map[string]error),
	}
}

// CreateUser inserts a new user. Returns ErrAlreadyExists on duplicate ID.
func (s *Store) CreateUser(_ context.Context, user *progression.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; ok {
		return shared.NewDomainError("progression", "CreateUser", shared.ErrAlreadyExists, "user already exists")
	}
	if user.Ranks == nil {
		user.Ranks = make(map[shared.Metric]shared.Rank)
	}
	user.Version = 1
	s.users[user.ID] = user.Clone()
	return nil
}

// GetUser implements progression.Store.
func (s *Store) GetUser(_ context.Context, id string) (*progression.User, error) {
	if err := s.takeFailure("GetUser"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, shared.ErrUserNotFound
	}
	return u.Clone(), nil
}

// SaveUser implements progression.Store with optimistic versioning.
func (s *Store) SaveUser(_ context.Context, user *progression.User, entries ...progression.LedgerRecord) error {
	if err := s.takeFailure("SaveUser"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.users[user.ID]
	if !ok {
		return shared.ErrUserNotFound
	}
	if current.Version != user.Version {
		return shared.ErrVersionConflict
	}

	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.UserID == "" {
			e.UserID = user.ID
		}
		s.ledger[user.ID] = append(s.ledger[user.ID], e)
	}

	user.Version++
	s.users[user.ID] = user.Clone()
	return nil
}

// UpdateRank implements progression.Store.
func (s *Store) UpdateRank(_ context.Context, userID string, metric shared.Metric, rank shared.Rank) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return shared.ErrUserNotFound
	}
	u.SetRank(metric, rank)
	return nil
}

// CountUsersWhere implements progression.Store.
func (s *Store) CountUsersWhere(_ context.Context, predicate progression.UserPredicate) (int64, error) {
	if err := s.takeFailure("CountUsersWhere"); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, u := range s.users {
		if predicate.Matches(u) {
			n++
		}
	}
	return n, nil
}

// FindAllActiveUsersSortedBy implements progression.Store.
func (s *Store) FindAllActiveUsersSortedBy(_ context.Context, metric shared.Metric) ([]progression.RankEntry, error) {
	if !metric.IsValid() {
		return nil, shared.ErrUnknownMetric
	}

	s.mu.RLock()
	entries := make([]progression.RankEntry, 0, len(s.users))
	for _, u := range s.users {
		if !u.IsActive {
			continue
		}
		entries = append(entries, progression.RankEntry{
			UserID:    u.ID,
			Value:     u.MetricValue(metric),
			CreatedAt: u.CreatedAt,
		})
	}
	s.mu.RUnlock()

	ranked := progression.AssignDenseRanks(entries)
	out := make([]progression.RankEntry, len(ranked))
	for i, r := range ranked {
		out[i] = r.RankEntry
	}
	return out, nil
}

// ListUserIDs implements progression.Store.
func (s *Store) ListUserIDs(_ context.Context, offset, limit int) ([]string, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	if offset >= len(ids) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(ids) {
		end = len(ids)
	}
	return ids[offset:end], nil
}

// QueryLedger implements progression.Ledger.
func (s *Store) QueryLedger(_ context.Context, userID string, filter progression.LedgerFilter) ([]progression.LedgerRecord, error) {
	if err := s.takeFailure("QueryLedger"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []progression.LedgerRecord
	for _, r := range s.ledger[userID] {
		if filter.Matches(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// AppendLedger adds records outside of a user save. Used to seed fixtures
// and to simulate drift between the ledger and denormalized counters.
func (s *Store) AppendLedger(_ context.Context, records ...progression.LedgerRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		s.ledger[r.UserID] = append(s.ledger[r.UserID], r)
	}
}

// PutUser overwrites a user record verbatim, bypassing versioning.
// Used to inject drifted state.
func (s *Store) PutUser(user *progression.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user.Clone()
}

// FailNext makes the next call to op return err.
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[op] = err
}

func (s *Store) takeFailure(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err, ok := s.failNext[op]
	if !ok {
		return nil
	}
	delete(s.failNext, op)
	return err
}
