package artifact

import (
	"context"
	"sync"
	"time"
)

type key struct {
	runID    string
	phase    Phase
	producer string
}

type row struct {
	artifact  Artifact
	payload   []byte
	summaries map[Tier]string
	summuMu   sync.Mutex
}

type runMeta struct {
	lastUpdate time.Time
	open       bool
}

// MemoryStore is a mutex-guarded in-process Store, for tests and
// single-process deployments. Rows are keyed by (run, phase, producer);
// payloads are shared by content hash so identical bytes are stored once.
type MemoryStore struct {
	mu       sync.Mutex
	rows     map[key]*row
	order    map[string][]key // run -> write-order keys
	payloads map[string][]byte
	runs     map[string]*runMeta
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:     make(map[key]*row),
		order:    make(map[string][]key),
		payloads: make(map[string][]byte),
		runs:     make(map[string]*runMeta),
	}
}

func (m *MemoryStore) Put(_ context.Context, runID string, phase Phase, producer string, payload []byte) (Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hash := Hash(payload)
	k := key{runID: runID, phase: phase, producer: producer}
	if existing, ok := m.rows[k]; ok {
		if existing.artifact.ContentHash != hash {
			return Artifact{}, ErrHashMismatch
		}
		return existing.artifact, nil
	}

	if _, ok := m.payloads[hash]; !ok {
		m.payloads[hash] = append([]byte(nil), payload...)
	}
	art := Artifact{RunID: runID, Phase: phase, Producer: producer, ContentHash: hash, CreatedAt: now()}
	m.rows[k] = &row{artifact: art, payload: m.payloads[hash], summaries: make(map[Tier]string)}
	m.order[runID] = append(m.order[runID], k)

	meta, ok := m.runs[runID]
	if !ok {
		meta = &runMeta{open: true}
		m.runs[runID] = meta
	}
	meta.lastUpdate = art.CreatedAt
	return art, nil
}

func (m *MemoryStore) Get(_ context.Context, runID string, phase Phase, producer string) (Artifact, []byte, error) {
	m.mu.Lock()
	r, ok := m.rows[key{runID: runID, phase: phase, producer: producer}]
	m.mu.Unlock()
	if !ok {
		return Artifact{}, nil, ErrNotFound
	}
	return r.artifact, append([]byte(nil), r.payload...), nil
}

func (m *MemoryStore) Summary(_ context.Context, runID string, phase Phase, producer string, tier Tier) (string, error) {
	m.mu.Lock()
	r, ok := m.rows[key{runID: runID, phase: phase, producer: producer}]
	m.mu.Unlock()
	if !ok {
		return "", ErrNotFound
	}
	r.summuMu.Lock()
	defer r.summuMu.Unlock()
	if cached, ok := r.summaries[tier]; ok {
		return cached, nil
	}
	text := summarize(string(r.payload), tier)
	r.summaries[tier] = text
	return text, nil
}

func (m *MemoryStore) List(_ context.Context, runID string) ([]Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := m.order[runID]
	out := make([]Artifact, 0, len(keys))
	for _, k := range keys {
		out = append(out, m.rows[k].artifact)
	}
	return out, nil
}

func (m *MemoryStore) Sweep(ctx context.Context, olderThan time.Duration, markTimedOut func(context.Context, string) error) ([]string, error) {
	m.mu.Lock()
	cutoff := now().Add(-olderThan)
	var stale []string
	for runID, meta := range m.runs {
		if meta.open && meta.lastUpdate.Before(cutoff) {
			stale = append(stale, runID)
			meta.open = false
		}
	}
	m.mu.Unlock()

	for _, runID := range stale {
		if markTimedOut != nil {
			if err := markTimedOut(ctx, runID); err != nil {
				return stale, err
			}
		}
		if _, err := m.Put(ctx, runID, PhaseSynthesis, "sweep", []byte("run timed out: no terminal transition before stale threshold")); err != nil {
			return stale, err
		}
	}
	return stale, nil
}

func (m *MemoryStore) Close() error { return nil }

// MarkRunUpdated records run activity so Sweep's staleness clock resets,
// for callers whose activity on a run does not go through Put.
func (m *MemoryStore) MarkRunUpdated(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.runs[runID]
	if !ok {
		meta = &runMeta{open: true}
		m.runs[runID] = meta
	}
	meta.lastUpdate = now()
}

// MarkRunClosed records that a run reached a terminal state so Sweep skips
// it.
func (m *MemoryStore) MarkRunClosed(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if meta, ok := m.runs[runID]; ok {
		meta.open = false
	}
}

var nowFn = time.Now

func now() time.Time { return nowFn() }
