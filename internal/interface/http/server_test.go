package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/progression-engine/internal/domain/progression"
	"github.com/alem-hub/progression-engine/internal/domain/shared"
	"github.com/alem-hub/progression-engine/pkg/logger"
)

type fakeReader struct {
	users map[string]*progression.User
	top   []progression.RankedEntry
	err   error
}

func (f *fakeReader) GetUser(_ context.Context, id string) (*progression.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, shared.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeReader) GetRank(ctx context.Context, id string, _ shared.Metric) (shared.Rank, error) {
	if _, err := f.GetUser(ctx, id); err != nil {
		return shared.Unranked, err
	}
	return 3, nil
}

func (f *fakeReader) TopN(_ context.Context, _ shared.Metric, limit int) ([]progression.RankedEntry, error) {
	if limit > 100 {
		return nil, shared.NewDomainError("command", "TopN", shared.ErrInvalidInput, "limit too large")
	}
	if limit < len(f.top) {
		return f.top[:limit], nil
	}
	return f.top, nil
}

func (f *fakeReader) LastRecompute(m shared.Metric) (time.Time, bool) {
	if m == shared.MetricXP {
		return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), true
	}
	return time.Time{}, false
}

func newTestServer(reader ProgressionReader, health *HealthChecker) *Server {
	return NewServer(DefaultConfig(), Dependencies{
		Reader: reader,
		Health: health,
		Metrics: func() map[string]any {
			return map[string]any{"reconcile_queue": 2}
		},
		Logger: logger.Discard(),
	})
}

func do(t *testing.T, s *Server, path string) (int, JSONResponse) {
	t.Helper()

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var resp JSONResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func sampleReader() *fakeReader {
	public := progression.NewUser("alice", "Alice", time.Now())
	public.TotalXP = 2500
	public.Level = 3

	private := progression.NewUser("bob", "Bob", time.Now())
	private.Profile.Preferences.PublicProfile = false

	return &fakeReader{
		users: map[string]*progression.User{"alice": public, "bob": private},
		top: []progression.RankedEntry{
			{RankEntry: progression.RankEntry{UserID: "alice", Value: 2500}, Rank: 1},
			{RankEntry: progression.RankEntry{UserID: "carol", Value: 900}, Rank: 2},
		},
	}
}

func TestHealthEndpoints(t *testing.T) {
	health := NewHealthChecker("test")
	health.AddCheck("postgres", func(context.Context) error { return nil })
	s := newTestServer(sampleReader(), health)

	code, resp := do(t, s, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)

	code, _ = do(t, s, "/ready")
	assert.Equal(t, http.StatusOK, code)

	code, _ = do(t, s, "/live")
	assert.Equal(t, http.StatusOK, code)

	health.AddCheck("redis", func(context.Context) error { return errors.New("connection refused") })

	code, resp = do(t, s, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.False(t, resp.Success)

	code, _ = do(t, s, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestHealthChecker_ReportsFailingChecks(t *testing.T) {
	h := NewHealthChecker("1.0")
	h.SetTimeout(50 * time.Millisecond)
	h.AddCheck("ok", func(context.Context) error { return nil })
	h.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	h.AddCheck("broken", func(context.Context) error { return errors.New("down") })

	status := h.Check(context.Background())
	assert.False(t, status.Healthy)
	assert.False(t, status.Ready)
	assert.Equal(t, "Some checks failed: broken, slow", status.Message)
	assert.True(t, status.Checks["ok"].Healthy)
	assert.Equal(t, "down", status.Checks["broken"].Message)
}

func TestHealthChecker_NoChecks(t *testing.T) {
	status := NewHealthChecker("1.0").Check(context.Background())
	assert.True(t, status.Healthy)
	assert.Equal(t, "No health checks registered", status.Message)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(sampleReader(), nil)

	code, resp := do(t, s, "/metrics")
	require.Equal(t, http.StatusOK, code)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 2, data["reconcile_queue"])

	recomputed, ok := data["ranks_recomputed_at"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "2024-03-01T12:00:00Z", recomputed["xp"])
	assert.NotContains(t, recomputed, "streak")
}

func TestGetUser(t *testing.T) {
	s := newTestServer(sampleReader(), nil)

	code, resp := do(t, s, "/api/v1/users/alice")
	require.Equal(t, http.StatusOK, code)
	data := resp.Data.(map[string]any)
	assert.Equal(t, "alice", data["id"])
	assert.EqualValues(t, 2500, data["total_xp"])
	assert.EqualValues(t, 3, data["level"])
	assert.EqualValues(t, 50, data["level_progress_percent"])

	// Private profiles look like missing users.
	code, resp = do(t, s, "/api/v1/users/bob")
	assert.Equal(t, http.StatusNotFound, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "not_found", resp.Error.Code)

	code, _ = do(t, s, "/api/v1/users/ghost")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestGetUserRank(t *testing.T) {
	s := newTestServer(sampleReader(), nil)

	code, resp := do(t, s, "/api/v1/users/alice/rank?metric=streak")
	require.Equal(t, http.StatusOK, code)
	data := resp.Data.(map[string]any)
	assert.Equal(t, "streak", data["metric"])
	assert.EqualValues(t, 3, data["rank"])

	code, resp = do(t, s, "/api/v1/users/alice/rank?metric=karma")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_request", resp.Error.Code)
}

func TestGetLeaderboard(t *testing.T) {
	s := newTestServer(sampleReader(), nil)

	code, resp := do(t, s, "/api/v1/leaderboard/xp?limit=1")
	require.Equal(t, http.StatusOK, code)
	data := resp.Data.(map[string]any)
	entries := data["entries"].([]any)
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].(map[string]any)["user_id"])

	code, _ = do(t, s, "/api/v1/leaderboard/xp?limit=1000")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestStorageOutageMapsTo503(t *testing.T) {
	reader := sampleReader()
	reader.err = shared.WrapError("postgres", "GetUser", shared.ErrUnavailable, "pool exhausted", errors.New("timeout"))
	s := newTestServer(reader, nil)

	code, resp := do(t, s, "/api/v1/users/alice")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unavailable", resp.Error.Code)
}

func TestRequestIDIsEchoed(t *testing.T) {
	s := newTestServer(nil, nil)

	_, resp := do(t, s, "/live")
	assert.NotEmpty(t, resp.RequestID)
}
