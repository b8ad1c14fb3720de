package run

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSQLiteStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "runs.db")
	s, err := NewSQLiteStore(dsn)
	require.NoError(t, err)
	defer s.Close()

	r := Record{RunID: "run-1", Task: "draft a release plan", Role: "planner", Providers: []string{"anthropic", "openai"}}
	require.NoError(t, s.Create(ctx, r))

	loaded, err := s.Load(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, StatusRunning, loaded.Status)
	require.Equal(t, []string{"anthropic", "openai"}, loaded.Providers)

	require.NoError(t, s.Touch(ctx, "run-1", "critique", 500*time.Millisecond))
	loaded, err = s.Load(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, 500*time.Millisecond, loaded.Timings["critique"])

	require.NoError(t, s.Transition(ctx, "run-1", StatusTimedOut, "deadline exceeded"))
	loaded, err = s.Load(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, StatusTimedOut, loaded.Status)
	require.Equal(t, "deadline exceeded", loaded.FailureReason)
}

func TestSQLiteStoreListRunning(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "runs.db")
	s, err := NewSQLiteStore(dsn)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Create(ctx, Record{RunID: "run-1", Task: "a"}))
	require.NoError(t, s.Create(ctx, Record{RunID: "run-2", Task: "b"}))
	require.NoError(t, s.Transition(ctx, "run-2", StatusComplete, ""))

	running, err := s.ListRunning(ctx)
	require.NoError(t, err)
	require.Len(t, running, 1)
	require.Equal(t, "run-1", running[0].RunID)
}
