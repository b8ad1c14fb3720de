package artifact

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStorePutDedup(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	a1, err := m.Put(ctx, "run-1", PhaseDraft, "anthropic", []byte("draft text"))
	require.NoError(t, err)

	a2, err := m.Put(ctx, "run-1", PhaseDraft, "anthropic", []byte("draft text"))
	require.NoError(t, err)
	require.Equal(t, a1.ContentHash, a2.ContentHash)

	_, err = m.Put(ctx, "run-1", PhaseDraft, "anthropic", []byte("different text"))
	require.ErrorIs(t, err, ErrHashMismatch)
}

func TestMemoryStoreSummaryTiers(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	payload := "First sentence here. Second sentence follows.\n\n- do thing one\n- do thing two\n\nMore rationale text follows in a third paragraph."

	_, err := m.Put(ctx, "run-1", PhaseSynthesis, "synthesis", []byte(payload))
	require.NoError(t, err)

	gist, err := m.Summary(ctx, "run-1", PhaseSynthesis, "synthesis", TierGist)
	require.NoError(t, err)
	require.Contains(t, gist, "First sentence")

	actions, err := m.Summary(ctx, "run-1", PhaseSynthesis, "synthesis", TierActions)
	require.NoError(t, err)
	require.Contains(t, actions, "do thing one")

	audit, err := m.Summary(ctx, "run-1", PhaseSynthesis, "synthesis", TierAudit)
	require.NoError(t, err)
	require.Equal(t, payload, audit)
}

func TestMemoryStoreList(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	_, err := m.Put(ctx, "run-1", PhaseDraft, "anthropic", []byte("a"))
	require.NoError(t, err)
	_, err = m.Put(ctx, "run-1", PhaseDraft, "openai", []byte("b"))
	require.NoError(t, err)
	_, err = m.Put(ctx, "run-1", PhaseCritique, "gemini", []byte("c"))
	require.NoError(t, err)

	list, err := m.List(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, PhaseDraft, list[0].Phase)
	require.Equal(t, PhaseCritique, list[2].Phase)
}

func TestMemoryStoreSweep(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	nowFn = func() time.Time { return time.Now().Add(-time.Hour) }
	_, err := m.Put(ctx, "run-stale", PhaseDraft, "anthropic", []byte("a"))
	require.NoError(t, err)

	_, err = m.Put(ctx, "run-stale", PhaseDraft, "anthropic", []byte("a"))
	require.NoError(t, err)
	nowFn = time.Now

	var marked []string
	swept, err := m.Sweep(ctx, 30*time.Minute, func(_ context.Context, runID string) error {
		marked = append(marked, runID)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"run-stale"}, swept)
	require.Equal(t, []string{"run-stale"}, marked)

	_, _, err = m.Get(ctx, "run-stale", PhaseSynthesis, "sweep")
	require.NoError(t, err)
}

func TestSQLiteStorePutAndGet(t *testing.T) {
	dir := t.TempDir()
	store, err := NewSQLiteStore(filepath.Join(dir, "artifacts"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	art, err := store.Put(ctx, "run-1", PhaseDraft, "anthropic", []byte("hello world"))
	require.NoError(t, err)
	require.NotEmpty(t, art.ContentHash)

	got, payload, err := store.Get(ctx, "run-1", PhaseDraft, "anthropic")
	require.NoError(t, err)
	require.Equal(t, "hello world", string(payload))
	require.Equal(t, art.ContentHash, got.ContentHash)

	_, err = store.Put(ctx, "run-1", PhaseDraft, "anthropic", []byte("other"))
	require.ErrorIs(t, err, ErrHashMismatch)
}

func TestSQLiteStoreSummaryCaching(t *testing.T) {
	dir := t.TempDir()
	store, err := NewSQLiteStore(filepath.Join(dir, "artifacts"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	_, err = store.Put(ctx, "run-1", PhaseSynthesis, "synthesis", []byte("Gist sentence. Rest of it."))
	require.NoError(t, err)

	first, err := store.Summary(ctx, "run-1", PhaseSynthesis, "synthesis", TierGist)
	require.NoError(t, err)
	second, err := store.Summary(ctx, "run-1", PhaseSynthesis, "synthesis", TierGist)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestSQLiteStoreBlobPathRejectsEscape(t *testing.T) {
	dir := t.TempDir()
	store, err := NewSQLiteStore(filepath.Join(dir, "artifacts"))
	require.NoError(t, err)
	defer store.Close()

	_, err = store.blobPath("../../etc/passwd")
	require.Error(t, err)
}
