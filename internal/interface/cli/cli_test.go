package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/samber/do/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/progression-engine/internal/application/command"
	"github.com/alem-hub/progression-engine/internal/di"
	"github.com/alem-hub/progression-engine/internal/domain/shared"
)

func execute(t *testing.T, injector do.Injector, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCommand(injector)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}

// memoryEngine builds a container backed by the in-memory store and the
// test catalog.
func memoryEngine(t *testing.T) *do.RootScope {
	t.Helper()

	t.Setenv("APP_ENV", "development")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "")
	t.Setenv("REDIS_DISABLED", "true")
	t.Setenv("CATALOG_PATH", "../../../config/testdata/catalog.yaml")

	injector := di.NewContainer()
	t.Cleanup(func() {
		_ = injector.Shutdown()
	})
	return injector
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand(do.New())
	require.NotNil(t, cmd)
	assert.Equal(t, "progressctl", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand(do.New())
	commands := [][]string{
		{"user", "create"},
		{"user", "show"},
		{"user", "profile"},
		{"grant-xp"},
		{"challenge"},
		{"correct-xp"},
		{"ping"},
		{"freeze"},
		{"rank"},
		{"recompute-ranks"},
		{"reconcile"},
		{"migrate", "up"},
		{"migrate", "down"},
		{"migrate", "status"},
	}

	for _, path := range commands {
		name := path[len(path)-1]
		t.Run(name, func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err)
			require.NotNil(t, subCmd)
			assert.Equal(t, name, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand(do.New())

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	timeoutFlag := cmd.PersistentFlags().Lookup("timeout")
	require.NotNil(t, timeoutFlag)
	assert.Equal(t, "30s", timeoutFlag.DefValue)
}

func TestInvalidInputExitCodes(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "unknown format", args: []string{"rank", "--top", "3", "--format", "yaml"}},
		{name: "non-numeric amount", args: []string{"grant-xp", "alice", "lots"}},
		{name: "unknown metric", args: []string{"rank", "alice", "--metric", "karma"}},
		{name: "rank without target", args: []string{"rank"}},
		{name: "recompute unknown metric", args: []string{"recompute-ranks", "--metric", "karma"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Nothing is registered: these must fail before touching services.
			_, err := execute(t, do.New(), tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitInvalidInput, ExitCode(err))
		})
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, ExitCode(nil))
	assert.Equal(t, ExitNotFound, ExitCode(shared.ErrUserNotFound))
	assert.Equal(t, ExitInvalidInput, ExitCode(shared.ErrUnknownMetric))
	assert.Equal(t, ExitUnavailable, ExitCode(shared.ErrUnavailable))
	assert.Equal(t, ExitFailure, ExitCode(errors.New("boom")))
	assert.Equal(t, ExitUnavailable, ExitCode(WrapExitError(ExitUnavailable, "wrapped", shared.ErrUserNotFound)))
}

func TestEndToEnd_MemoryStore(t *testing.T) {
	injector := memoryEngine(t)

	out, err := execute(t, injector, "user", "create", "alice", "--name", "Alice", "--format", "json")
	require.NoError(t, err)

	var user userView
	require.NoError(t, json.Unmarshal([]byte(out), &user))
	assert.Equal(t, "alice", user.ID)
	assert.Equal(t, "Alice", user.DisplayName)
	assert.Equal(t, 1, user.Level)
	assert.Zero(t, user.TotalXP)

	_, err = execute(t, injector, "user", "create", "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrAlreadyExists)

	out, err = execute(t, injector, "grant-xp", "alice", "150", "--source", "lesson", "--key", "lesson-1", "--format", "json")
	require.NoError(t, err)

	var res command.ProgressionResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 150, res.XPGained)
	assert.Equal(t, 50, res.BonusXP)
	assert.Equal(t, 200, res.TotalXP)
	assert.Contains(t, res.UnlockedAchievements, "first_steps")
	assert.False(t, res.Replayed)

	// Same idempotency key: nothing changes.
	out, err = execute(t, injector, "grant-xp", "alice", "150", "--source", "lesson", "--key", "lesson-1", "--format", "json")
	require.NoError(t, err)
	res = command.ProgressionResult{}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Replayed)
	assert.Equal(t, 200, res.TotalXP)

	out, err = execute(t, injector, "user", "show", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "first_steps")

	out, err = execute(t, injector, "rank", "alice", "--format", "json")
	require.NoError(t, err)
	var rank struct {
		Rank int `json:"rank"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rank))
	assert.Equal(t, 1, rank.Rank)

	_, err = execute(t, injector, "freeze", "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrInsufficientResource)
	assert.Equal(t, ExitFailure, ExitCode(err))

	_, err = execute(t, injector, "grant-xp", "ghost", "10")
	require.Error(t, err)
	assert.Equal(t, ExitNotFound, ExitCode(err))

	_, err = execute(t, injector, "reconcile", "alice")
	require.NoError(t, err)

	_, err = execute(t, injector, "migrate", "status")
	require.Error(t, err)
	assert.Equal(t, ExitInvalidInput, ExitCode(err))
}
