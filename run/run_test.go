package run

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	r := Record{RunID: "run-1", Task: "draft a release plan", Role: "planner", Providers: []string{"anthropic", "openai"}}
	require.NoError(t, s.Create(ctx, r))

	loaded, err := s.Load(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, StatusRunning, loaded.Status)
	require.False(t, loaded.Status.Terminal())

	require.NoError(t, s.Touch(ctx, "run-1", "drafts", 2*time.Second))
	loaded, err = s.Load(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, 2*time.Second, loaded.Timings["drafts"])

	require.NoError(t, s.Transition(ctx, "run-1", StatusComplete, ""))
	loaded, err = s.Load(ctx, "run-1")
	require.NoError(t, err)
	require.True(t, loaded.Status.Terminal())
}

func TestMemoryStoreListRunning(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, Record{RunID: "run-1", Task: "a"}))
	require.NoError(t, s.Create(ctx, Record{RunID: "run-2", Task: "b"}))
	require.NoError(t, s.Transition(ctx, "run-2", StatusFailed, "draft phase exhausted"))

	running, err := s.ListRunning(ctx)
	require.NoError(t, err)
	require.Len(t, running, 1)
	require.Equal(t, "run-1", running[0].RunID)
}

func TestMemoryStoreLoadMissing(t *testing.T) {
	_, err := NewMemoryStore().Load(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}
