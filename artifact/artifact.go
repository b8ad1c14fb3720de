// Package artifact is the durable record of every council phase's raw
// output: content-addressed dedup, multi-tier summaries, atomic phase
// append, and a stale-run sweep, per spec §4.5.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// Phase identifies which stage of a run produced an artifact.
type Phase string

const (
	PhaseDraft     Phase = "draft"
	PhaseCritique  Phase = "critique"
	PhaseSynthesis Phase = "synthesis"
)

// Tier names one of the five increasing-detail summary levels. The
// orchestrator requests a tier when composing follow-up prompts; Audit is
// the full raw payload verbatim.
type Tier string

const (
	TierGist      Tier = "GIST"
	TierFindings  Tier = "FINDINGS"
	TierActions   Tier = "ACTIONS"
	TierRationale Tier = "RATIONALE"
	TierAudit     Tier = "AUDIT"
)

// allTiers lists every tier below Audit in increasing order of detail, for
// callers that want to precompute every tier at write time.
var allTiers = []Tier{TierGist, TierFindings, TierActions, TierRationale}

// Artifact is the index record for one stored payload. The payload bytes
// themselves are immutable once stored; only Summaries may be regenerated.
type Artifact struct {
	RunID       string
	Phase       Phase
	Producer    string
	ContentHash string
	CreatedAt   time.Time
}

// ErrNotFound indicates no artifact matches the requested (run, phase,
// producer) key.
var ErrNotFound = errors.New("artifact: not found")

// Store is the durable record behind one council run's phase outputs.
// Implementations must serialize writes per run (a run-scoped lock) while
// letting content-addressed payload writes race safely, per spec §5.
type Store interface {
	// Put records a phase's raw output. If an artifact already exists at
	// (runID, phase, producer) with the same content hash, Put is a no-op
	// that returns the existing record (idempotent append). A different
	// hash at the same key is an error: spec §3 forbids two artifacts
	// sharing (run, phase, producer) unless their hash also matches.
	Put(ctx context.Context, runID string, phase Phase, producer string, payload []byte) (Artifact, error)

	// Get returns the artifact index record and its raw payload.
	Get(ctx context.Context, runID string, phase Phase, producer string) (Artifact, []byte, error)

	// Summary returns the requested tier's text, generating and caching it
	// on first request. Requesting TierAudit always returns the raw
	// payload as text.
	Summary(ctx context.Context, runID string, phase Phase, producer string, tier Tier) (string, error)

	// List returns every artifact recorded for a run, in write order.
	List(ctx context.Context, runID string) ([]Artifact, error)

	// Sweep transitions any run whose last-update predecessors olderThan
	// and is still open into a caller-supplied terminal state, recording a
	// failure artifact for each. It returns the run ids it swept.
	Sweep(ctx context.Context, olderThan time.Duration, markTimedOut func(ctx context.Context, runID string) error) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}

// Hash computes the content address for a payload.
func Hash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// ErrHashMismatch is returned by Put when a different payload is written to
// an existing (run, phase, producer) key.
var ErrHashMismatch = errors.New("artifact: content hash mismatch for existing (run, phase, producer)")
