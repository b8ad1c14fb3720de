// Package run defines the record of a single council deliberation and the
// store that persists it, adapted from the teacher's agent-run tracking to
// the three-phase draft/critique/synthesis lifecycle of spec §3 and §4.6.
package run

import (
	"context"
	"errors"
	"time"
)

type (
	// Status is the coarse-grained lifecycle state of a run. A run is
	// terminal when Status != StatusRunning.
	Status string

	// Timings records wall-clock duration per phase, keyed by phase name
	// ("drafts", "critique", "synthesis"), for the result's timings map
	// and for OpenTelemetry span duration cross-checks.
	Timings map[string]time.Duration

	// Record is the durable metadata for one council run: task text,
	// resolved role, mode, provider set, per-phase timing, status, and
	// creation timestamp, per spec §3.
	Record struct {
		// RunID uniquely identifies this deliberation.
		RunID string

		// Task is the user-supplied task text submitted to the council.
		Task string

		// Role is the resolved canonical role name (post alias resolution).
		Role string

		// Mode is the requested mode, empty when none was supplied.
		Mode string

		// Providers lists the resolved provider names that were asked for
		// drafts, in the order they were dispatched.
		Providers []string

		// Status is the current lifecycle state.
		Status Status

		// Timings accumulates per-phase duration as each phase completes.
		Timings Timings

		// CreatedAt records when the run was created.
		CreatedAt time.Time

		// UpdatedAt records the last time the record changed.
		UpdatedAt time.Time

		// FailureReason carries a short description when Status is
		// StatusFailed or StatusTimedOut.
		FailureReason string
	}

	// Store persists run records for lookup, lifecycle transition, and
	// the stale-run sweep. Implementations must serialize writes to the
	// same run id (spec §5: "the artifact store is the only shared
	// mutable resource; its writes are serialized per run").
	Store interface {
		// Create inserts a new run record with StatusRunning.
		Create(ctx context.Context, r Record) error

		// Load retrieves the run record for runID.
		Load(ctx context.Context, runID string) (Record, error)

		// Touch updates UpdatedAt and merges the given phase timing into
		// the stored record, used as each phase completes.
		Touch(ctx context.Context, runID string, phase string, elapsed time.Duration) error

		// Transition moves a run to a terminal status, optionally
		// recording a failure reason.
		Transition(ctx context.Context, runID string, status Status, failureReason string) error

		// ListRunning returns every run currently in StatusRunning, for
		// the artifact store's stale-run sweep.
		ListRunning(ctx context.Context) ([]Record, error)
	}
)

const (
	StatusRunning  Status = "running"
	StatusComplete Status = "completed"
	StatusFailed   Status = "failed"
	StatusTimedOut Status = "timed_out"
)

// ErrNotFound indicates no run record exists for the given identifier.
var ErrNotFound = errors.New("run: not found")

// Terminal reports whether status is a terminal (non-running) state.
func (s Status) Terminal() bool {
	return s != StatusRunning
}
