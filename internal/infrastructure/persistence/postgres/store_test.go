package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/progression-engine/internal/domain/progression"
	"github.com/alem-hub/progression-engine/internal/domain/shared"
)

var (
	_ progression.Store  = (*Store)(nil)
	_ progression.Ledger = (*Store)(nil)
)

func TestBuildLedgerQuery(t *testing.T) {
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		filter    progression.LedgerFilter
		wantWhere string
		wantArgs  int
	}{
		{
			name:      "user only",
			filter:    progression.LedgerFilter{},
			wantWhere: "WHERE user_id = $1\n",
			wantArgs:  1,
		},
		{
			name:      "kind and score",
			filter:    progression.LedgerFilter{Kind: progression.LedgerChallengeCompleted, MinScore: 100},
			wantWhere: "WHERE user_id = $1 AND kind = $2 AND score >= $3\n",
			wantArgs:  3,
		},
		{
			name: "full window",
			filter: progression.LedgerFilter{
				Kind:  progression.LedgerLogin,
				Range: shared.TimeRange{From: from, To: to},
			},
			wantWhere: "WHERE user_id = $1 AND kind = $2 AND occurred_at >= $3 AND occurred_at <= $4\n",
			wantArgs:  4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := buildLedgerQuery("u1", tt.filter)
			assert.Contains(t, query, tt.wantWhere)
			assert.Len(t, args, tt.wantArgs)
			assert.Equal(t, "u1", args[0])
		})
	}
}

func TestMetricColumn(t *testing.T) {
	col, err := metricColumn(shared.MetricStreak)
	require.NoError(t, err)
	assert.Equal(t, "current_streak", col)

	_, err = metricColumn(shared.Metric("karma"))
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestMapError(t *testing.T) {
	assert.NoError(t, mapError("progression", "GetUser", nil))
	assert.True(t, shared.IsNotFound(mapError("progression", "GetUser", pgx.ErrNoRows)))
	assert.ErrorIs(t, mapError("progression", "CreateUser", &pgconn.PgError{Code: "23505"}), shared.ErrAlreadyExists)
	assert.ErrorIs(t, mapError("progression", "SaveUser", context.DeadlineExceeded), shared.ErrUnavailable)
	assert.ErrorIs(t, mapError("progression", "SaveUser", ErrConnectionClosed), shared.ErrUnavailable)

	other := errors.New("syntax error")
	err := mapError("progression", "SaveUser", other)
	assert.ErrorIs(t, err, other)
	assert.False(t, shared.IsRetryable(err))
}

func TestMigrationsAreOrdered(t *testing.T) {
	require.NotEmpty(t, migrations)
	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.UpSQL)
		assert.NotEmpty(t, m.DownSQL)
	}
}

func TestConfigPoolOverrides(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConns = 40
	cfg.MinConns = 0

	pc, err := cfg.poolConfig()
	require.NoError(t, err)
	assert.Equal(t, int32(40), pc.MaxConns)
	assert.Equal(t, "progression", pc.ConnConfig.Database)
	assert.Equal(t, time.Hour, pc.MaxConnLifetime)

	_, err = Config{URL: "postgres://%zz"}.poolConfig()
	assert.Error(t, err)
}

func TestClosedConnection(t *testing.T) {
	c := &Connection{}
	c.closed.Store(true)

	assert.ErrorIs(t, c.Ping(context.Background()), ErrConnectionClosed)
	assert.Equal(t, PoolStats{}, c.Stats())

	err := c.WriteTx(context.Background(), func(pgx.Tx) error { return nil })
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.ErrorIs(t, mapError("progression", "SaveUser", err), shared.ErrUnavailable)
}
