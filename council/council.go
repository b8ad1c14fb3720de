// Package council implements the facade entry point: Council.Run resolves a
// subagent role then delegates to the orchestrator's three-phase
// deliberation, and Council.Doctor fans out a health probe across every
// registered provider, per spec §4.7.
package council

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"goa.design/council/artifact"
	"goa.design/council/orchestrator"
	"goa.design/council/provider"
	"goa.design/council/roles"
	"goa.design/council/run"
	"goa.design/council/telemetry"
)

const defaultDoctorTimeout = 10 * time.Second

// Config wires the collaborators a Council needs: the role registry, model
// pack, provider registry, artifact/run stores, and telemetry backends.
// Built once at process start; the facade holds its own config rather than
// reaching for process-level singletons.
type Config struct {
	Roles     *roles.Registry
	ModelPack *roles.ModelPack
	Registry  *provider.Registry
	Artifacts artifact.Store
	Runs      run.Store

	Logger  telemetry.Logger
	Tracer  telemetry.Tracer
	Metrics telemetry.Metrics

	CallDeadline   time.Duration
	GlobalDeadline time.Duration
	MaxRetries     int
	Strict         bool
	Degradation    bool
	StoreArtifacts bool
	SchemaDir      string

	// DoctorTimeout bounds each adapter's health probe within Doctor.
	// Zero defaults to 10s.
	DoctorTimeout time.Duration
}

// Result is the outcome of one Run, matching the CouncilResult shape in
// spec §4.7.
type Result = orchestrator.Result

// RunOptions carries the per-call overrides a caller may supply to Run:
// provider list, per-provider model overrides, timeouts, max retries, and
// artifact-storage/degradation toggles, per spec §4.7.
type RunOptions = orchestrator.RunOptions

// Council is the public entry point: one run method and one doctor method
// over a fixed set of collaborators.
type Council struct {
	cfg  Config
	orch *orchestrator.Orchestrator
}

// New builds a Council, validating that a role registry and provider
// registry were supplied and constructing the underlying orchestrator.
func New(cfg Config) (*Council, error) {
	if cfg.Roles == nil {
		return nil, &orchestrator.ConfigError{Reason: "role registry is required"}
	}
	if cfg.Registry == nil {
		return nil, &orchestrator.ConfigError{Reason: "provider registry is required"}
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NewNoopLogger()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = telemetry.NewNoopTracer()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NewNoopMetrics()
	}
	if cfg.DoctorTimeout <= 0 {
		cfg.DoctorTimeout = defaultDoctorTimeout
	}
	if cfg.Artifacts == nil {
		cfg.Artifacts = artifact.NewMemoryStore()
	}
	if cfg.Runs == nil {
		cfg.Runs = run.NewMemoryStore()
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Registry:       cfg.Registry,
		Artifacts:      cfg.Artifacts,
		Runs:           cfg.Runs,
		Logger:         cfg.Logger,
		Tracer:         cfg.Tracer,
		Metrics:        cfg.Metrics,
		CallDeadline:   cfg.CallDeadline,
		GlobalDeadline: cfg.GlobalDeadline,
		MaxRetries:     cfg.MaxRetries,
		Strict:         cfg.Strict,
		Degradation:    cfg.Degradation,
		StoreArtifacts: cfg.StoreArtifacts,
		SchemaDir:      cfg.SchemaDir,
	})
	if err != nil {
		return nil, err
	}
	return &Council{cfg: cfg, orch: orch}, nil
}

// generateRunID returns a globally unique run identifier, prefixed with a
// normalized subagent name to improve observability in logs, metrics, and
// traces without sacrificing uniqueness.
func generateRunID(subagent string) string {
	prefix := strings.ReplaceAll(subagent, ".", "-")
	if prefix == "" {
		prefix = "run"
	}
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

// Run resolves subagent (and optional mode, honoring deprecated aliases)
// to a Role, then executes the three-phase deliberation for task.
func (c *Council) Run(ctx context.Context, task, subagent, mode string, opts RunOptions) (*Result, error) {
	role, effMode, err := c.cfg.Roles.Resolve(ctx, subagent, mode)
	if err != nil {
		return nil, err
	}
	runID := generateRunID(subagent)
	return c.orch.Run(ctx, runID, task, role, effMode, c.cfg.ModelPack, opts)
}

// Doctor fans out a bounded-timeout health probe across every registered
// provider concurrently, grounded on the teacher's health-prober fan-out
// pattern (registry.HealthTracker). A provider whose Doctor call errors or
// times out is reported unhealthy rather than dropped from the map.
func (c *Council) Doctor(ctx context.Context) map[string]provider.DoctorReport {
	names := c.cfg.Registry.Names()
	results := make(map[string]provider.DoctorReport, len(names))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name
		g.Go(func() error {
			a, ok := c.cfg.Registry.Get(name)
			if !ok {
				return nil
			}
			probeCtx, cancel := context.WithTimeout(gctx, c.cfg.DoctorTimeout)
			defer cancel()
			report, err := a.Doctor(probeCtx)
			if err != nil {
				report = provider.DoctorReport{OK: false, Message: err.Error()}
			}
			mu.Lock()
			results[name] = report
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}
