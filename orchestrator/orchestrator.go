// Package orchestrator implements the three-phase council deliberation
// engine: parallel drafts, single-provider adversarial critique, and
// schema-validated synthesis with retry, per spec §4.6.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"goa.design/council/artifact"
	"goa.design/council/provider"
	"goa.design/council/roles"
	"goa.design/council/run"
	"goa.design/council/schema"
	"goa.design/council/telemetry"
)

const (
	defaultCallDeadline   = 120 * time.Second
	maxCallDeadline       = 900 * time.Second
	defaultGlobalDeadline = 10 * time.Minute
	defaultMaxRetries     = 3
)

// Config wires the collaborators an Orchestrator needs: the provider
// registry, artifact store, run store, and telemetry backends. Built once
// at process start alongside the provider registry.
type Config struct {
	Registry  *provider.Registry
	Artifacts artifact.Store
	Runs      run.Store

	Logger  telemetry.Logger
	Tracer  telemetry.Tracer
	Metrics telemetry.Metrics

	// CallDeadline bounds a single provider call. Values above
	// maxCallDeadline are capped to it; zero defaults to defaultCallDeadline.
	CallDeadline time.Duration

	// GlobalDeadline bounds the whole run, across all three phases and
	// every synthesis retry. Zero defaults to defaultGlobalDeadline.
	GlobalDeadline time.Duration

	// MaxRetries bounds synthesis retry attempts. Zero defaults to
	// defaultMaxRetries.
	MaxRetries int

	// Strict fails provider resolution on any unresolved provider name
	// rather than skipping it, per spec §4.2 rule 3.
	Strict bool

	// Degradation allows the run to continue past phase 1 when at least
	// one draft succeeded, per spec §4.6 phase 1 completion semantics.
	Degradation bool

	// StoreArtifacts enables artifact persistence. New applies no default,
	// so the zero value stores nothing; RunOptions.StoreArtifacts overrides
	// it per call.
	StoreArtifacts bool

	// SchemaDir is the directory holding canonical JSON Schema files,
	// indexed by role name, per spec §6's "schema files" surface. A
	// role's SchemaRef is resolved as filepath.Join(SchemaDir, ref+".json").
	SchemaDir string
}

// RunOptions carries the per-call overrides a caller may supply to Run,
// mirroring the Council Facade's overrides in spec §4.7.
type RunOptions struct {
	Providers      []string
	ModelOverrides map[string]string
	CallDeadline   time.Duration
	GlobalDeadline time.Duration

	// MaxRetries overrides Config.MaxRetries for this call. A pointer so an
	// explicit 0 ("run exactly one synthesis attempt, no retries") can be
	// told apart from "not set" — a plain int can't distinguish the two.
	MaxRetries *int

	// Temperature overrides sampling for every call this run makes. Must be
	// in [0.0, 2.0]; out of range is rejected as a ConfigError before any
	// provider is called.
	Temperature float64

	Strict         *bool
	Degradation    *bool
	StoreArtifacts *bool
}

// Orchestrator runs the three-phase deliberation for a single council
// invocation.
type Orchestrator struct {
	cfg Config
}

// New builds an Orchestrator from cfg, applying defaults for zero-valued
// timeouts and retry counts.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Registry == nil {
		return nil, &ConfigError{Reason: "provider registry is required"}
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
	if cfg.CallDeadline <= 0 {
		cfg.CallDeadline = defaultCallDeadline
	}
	if cfg.CallDeadline > maxCallDeadline {
		cfg.CallDeadline = maxCallDeadline
	}
	if cfg.GlobalDeadline <= 0 {
		cfg.GlobalDeadline = defaultGlobalDeadline
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	return &Orchestrator{cfg: cfg}, nil
}

// draftResult is one provider's phase-1 outcome.
type draftResult struct {
	provider string
	text     string
	usage    provider.Usage
	err      error
}

// Result is the outcome of one council Run, matching the Council Facade
// result shape in spec §4.7.
type Result struct {
	Success bool

	// ResolvedRole and Mode record the role name and effective mode the
	// run resolved to, per spec §8's result-shape scenarios.
	ResolvedRole string
	Mode         string

	Output           map[string]any
	Drafts           map[string]string
	Critique         string
	Timings          run.Timings
	Usage            map[string]provider.Usage
	EstimatedCostUSD float64
	ValidationErrors []schema.ValidationError
	FinishReason     provider.FinishReason
	ArtifactHashes   map[string]string
	Degradations     []*DegradationEvent

	// RetryCount is the number of synthesis retries consumed before
	// success (0 on a first-attempt success).
	RetryCount int

	Err error
}

// Run executes the three phases for one invocation: parallel drafts,
// critique, and synthesis-with-retry, recording artifacts and run timings
// as it goes.
func (o *Orchestrator) Run(ctx context.Context, runID, task string, role *roles.Role, mode string, pack *roles.ModelPack, opts RunOptions) (*Result, error) {
	if role == nil {
		return nil, &ConfigError{Reason: "role is required"}
	}
	if opts.Temperature < 0.0 || opts.Temperature > 2.0 {
		return nil, &ConfigError{Reason: "temperature must be in [0.0, 2.0]"}
	}

	globalDeadline := o.cfg.GlobalDeadline
	if opts.GlobalDeadline > 0 {
		globalDeadline = opts.GlobalDeadline
	}
	ctx, cancel := context.WithTimeout(ctx, globalDeadline)
	defer cancel()

	strict := o.cfg.Strict
	if opts.Strict != nil {
		strict = *opts.Strict
	}
	degrade := o.cfg.Degradation
	if opts.Degradation != nil {
		degrade = *opts.Degradation
	}
	storeArtifacts := o.cfg.StoreArtifacts
	if opts.StoreArtifacts != nil {
		storeArtifacts = *opts.StoreArtifacts
	}
	callDeadline := o.cfg.CallDeadline
	if opts.CallDeadline > 0 {
		if opts.CallDeadline > maxCallDeadline {
			callDeadline = maxCallDeadline
		} else {
			callDeadline = opts.CallDeadline
		}
	}
	maxRetries := o.cfg.MaxRetries
	if opts.MaxRetries != nil {
		maxRetries = *opts.MaxRetries
		if maxRetries < 0 {
			maxRetries = 0
		}
	}

	systemPrompt, err := role.ComposeSystemPrompt(mode)
	if err != nil {
		return nil, err
	}

	adapters, err := o.cfg.Registry.Resolve(opts.Providers, provider.Preference{
		Preferred: role.Providers.Preferred,
		Fallback:  role.Providers.Fallback,
		Exclude:   role.Providers.Exclude,
	}, strict)
	if err != nil {
		return nil, err
	}
	if len(adapters) == 0 {
		return nil, &ConfigError{Reason: "no providers resolved for role " + role.Name}
	}

	providerNames := make([]string, 0, len(adapters))
	for _, a := range adapters {
		providerNames = append(providerNames, a.Name())
	}
	if err := o.cfg.Runs.Create(ctx, run.Record{
		RunID: runID, Task: task, Role: role.Name, Mode: mode, Providers: providerNames,
	}); err != nil {
		return nil, fmt.Errorf("council: create run record: %w", err)
	}

	result := &Result{
		ResolvedRole:   role.Name,
		Mode:           mode,
		Drafts:         make(map[string]string),
		Usage:          make(map[string]provider.Usage),
		ArtifactHashes: make(map[string]string),
		Timings:        make(run.Timings),
	}

	// Per-provider model overrides: per-call overrides win over the role's.
	modelOverrides := make(map[string]string, len(role.Models)+len(opts.ModelOverrides))
	for name, model := range role.Models {
		modelOverrides[name] = model
	}
	for name, model := range opts.ModelOverrides {
		modelOverrides[name] = model
	}

	// Phase 1 — parallel drafts.
	phaseCtx, phaseSpan := o.cfg.Tracer.Start(ctx, "council.drafts")
	start := time.Now()
	drafts, degradations := o.runDrafts(phaseCtx, adapters, systemPrompt, task, modelOverrides, opts.Temperature, callDeadline)
	o.recordTiming(ctx, runID, "drafts", time.Since(start), result)
	phaseSpan.End()
	result.Degradations = degradations

	succeeded := make(map[string]string, len(drafts))
	for _, d := range drafts {
		if d.err != nil {
			continue
		}
		succeeded[d.provider] = d.text
		result.Drafts[d.provider] = d.text
		result.Usage[d.provider] = d.usage
		if storeArtifacts {
			if art, err := o.cfg.Artifacts.Put(ctx, runID, artifact.PhaseDraft, d.provider, []byte(d.text)); err == nil {
				result.ArtifactHashes["draft:"+d.provider] = art.ContentHash
			}
		}
	}
	if len(succeeded) == 0 {
		return o.fail(ctx, runID, result, &FatalError{Reason: "all drafts failed", Cause: timeoutCauseIfExpired(ctx, "drafts")})
	}
	if len(succeeded) < len(adapters) && !degrade {
		return o.fail(ctx, runID, result, &FatalError{Reason: "one or more drafts failed and degradation is disabled", Cause: timeoutCauseIfExpired(ctx, "drafts")})
	}

	liveAdapters := make([]provider.Adapter, 0, len(succeeded))
	for _, a := range adapters {
		if _, ok := succeeded[a.Name()]; ok {
			liveAdapters = append(liveAdapters, a)
		}
	}

	// Phase 2 — adversarial critique.
	phaseCtx, phaseSpan = o.cfg.Tracer.Start(ctx, "council.critique")
	start = time.Now()
	critic, criticModel := resolveCriticAdapter(liveAdapters, pack)
	if m := modelOverrides[critic.Name()]; m != "" {
		criticModel = m
	}
	critiquePrompt := composeCritiquePrompt(task, succeeded)
	critiqueCtx, critiqueCancel := context.WithTimeout(phaseCtx, callDeadline)
	critiqueReq := provider.Request{
		Model:       criticModel,
		Temperature: opts.Temperature,
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: systemPrompt},
			{Role: provider.RoleUser, Content: critiquePrompt},
		},
	}
	critiqueResp, critErr := critic.Generate(critiqueCtx, critiqueReq)
	critiqueCancel()
	o.recordTiming(ctx, runID, "critique", time.Since(start), result)
	phaseSpan.End()
	if critErr != nil {
		cause := timeoutCauseIfExpired(ctx, "critique")
		if cause == nil {
			cause = critErr
		}
		return o.fail(ctx, runID, result, &FatalError{Reason: "critique phase failed", Cause: cause})
	}
	if critiqueResp.Text != nil {
		result.Critique = *critiqueResp.Text
	}
	if storeArtifacts && result.Critique != "" {
		if art, err := o.cfg.Artifacts.Put(ctx, runID, artifact.PhaseCritique, critic.Name(), []byte(result.Critique)); err == nil {
			result.ArtifactHashes["critique"] = art.ContentHash
		}
	}

	// Phase 3 — synthesis with retry.
	phaseCtx, phaseSpan = o.cfg.Tracer.Start(ctx, "council.synthesis")
	start = time.Now()
	synthesizer, synthModel := resolveSynthesisAdapter(liveAdapters, pack, role)
	if m := modelOverrides[synthesizer.Name()]; m != "" {
		synthModel = m
	}
	synthErr := o.runSynthesis(phaseCtx, synthesizer, synthModel, runID, role, systemPrompt, task, succeeded, result, maxRetries, opts.Temperature, callDeadline, storeArtifacts)
	o.recordTiming(ctx, runID, "synthesis", time.Since(start), result)
	phaseSpan.End()
	if synthErr != nil {
		return o.fail(ctx, runID, result, synthErr)
	}

	result.Success = true
	result.EstimatedCostUSD = estimateCost(result.Usage, role.CostPer1K)
	if err := o.cfg.Runs.Transition(ctx, runID, run.StatusComplete, ""); err != nil {
		o.cfg.Logger.Warn(ctx, "council: failed to transition run to completed", "run_id", runID, "error", err)
	}
	return result, nil
}

func (o *Orchestrator) fail(ctx context.Context, runID string, result *Result, cause error) (*Result, error) {
	result.Success = false
	result.Err = cause
	status := run.StatusFailed
	var timeoutErr *TimeoutError
	if errors.As(cause, &timeoutErr) {
		status = run.StatusTimedOut
	}
	if err := o.cfg.Runs.Transition(ctx, runID, status, cause.Error()); err != nil {
		o.cfg.Logger.Warn(ctx, "council: failed to transition run", "run_id", runID, "error", err)
	}
	return result, cause
}

// timeoutCauseIfExpired reports a *TimeoutError for phase when ctx's global
// deadline has already expired, so a draft or critique failure caused by a
// hung run is classified as StatusTimedOut rather than StatusFailed. Returns
// nil when the phase failed for an unrelated reason.
func timeoutCauseIfExpired(ctx context.Context, phase string) error {
	if ctx.Err() == context.DeadlineExceeded {
		return &TimeoutError{Scope: "global", Phase: phase}
	}
	return nil
}

func (o *Orchestrator) recordTiming(ctx context.Context, runID, phase string, elapsed time.Duration, result *Result) {
	result.Timings[phase] = elapsed
	o.cfg.Metrics.RecordTimer("council."+phase, elapsed)
	if err := o.cfg.Runs.Touch(ctx, runID, phase, elapsed); err != nil {
		o.cfg.Logger.Warn(ctx, "council: failed to record phase timing", "run_id", runID, "phase", phase, "error", err)
	}
}

// runDrafts submits the role's composed prompt to every resolved provider
// concurrently with a per-call deadline, collecting successes into a map
// and failures into degradation events.
func (o *Orchestrator) runDrafts(ctx context.Context, adapters []provider.Adapter, systemPrompt, task string, modelOverrides map[string]string, temperature float64, callDeadline time.Duration) ([]draftResult, []*DegradationEvent) {
	results := make([]draftResult, len(adapters))
	g, gctx := errgroup.WithContext(ctx)
	for i, a := range adapters {
		i, a := i, a
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, callDeadline)
			defer cancel()
			model := modelOverrides[a.Name()]
			resp, err := a.Generate(callCtx, provider.Request{
				Model:       model,
				Temperature: temperature,
				Messages: []provider.Message{
					{Role: provider.RoleSystem, Content: systemPrompt},
					{Role: provider.RoleUser, Content: task},
				},
			})
			if err != nil {
				results[i] = draftResult{provider: a.Name(), err: err}
				return nil
			}
			text := ""
			if resp.Text != nil {
				text = *resp.Text
			}
			results[i] = draftResult{provider: a.Name(), text: text, usage: resp.Usage}
			return nil
		})
	}
	_ = g.Wait()

	var degradations []*DegradationEvent
	for _, r := range results {
		if r.err != nil {
			degradations = append(degradations, &DegradationEvent{Provider: r.provider, Cause: r.err})
		}
	}
	return results, degradations
}

func composeCritiquePrompt(task string, drafts map[string]string) string {
	prompt := "Task:\n" + task + "\n\nDrafts under review:\n"
	for name, text := range drafts {
		prompt += "\n--- " + name + " ---\n" + text + "\n"
	}
	prompt += "\nCritique these drafts. Attack ideas, never sources. If a draft has nothing worth challenging, say PASS rather than manufacture a disagreement."
	return prompt
}

// runSynthesis submits the synthesis prompt, validates the result against
// the role's canonical schema, and retries up to maxRetries times on parse
// or validation failure (maxRetries+1 total attempts, so maxRetries=0 runs
// exactly one attempt), embedding a concise error summary in each retry
// prompt per spec §4.6 phase 3.
func (o *Orchestrator) runSynthesis(
	ctx context.Context,
	synthesizer provider.Adapter,
	synthModel string,
	runID string,
	role *roles.Role,
	systemPrompt, task string,
	drafts map[string]string,
	result *Result,
	maxRetries int,
	temperature float64,
	callDeadline time.Duration,
	storeArtifacts bool,
) error {
	canonicalSchema, err := schemaForRole(o.cfg.SchemaDir, role)
	if err != nil {
		return &ConfigError{Reason: err.Error()}
	}

	var lastRaw []byte
	var lastErr error
	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		prompt := composeSynthesisPrompt(task, drafts, result.Critique, lastErr, attempt)
		callCtx, cancel := context.WithTimeout(ctx, callDeadline)
		resp, err := synthesizer.Generate(callCtx, provider.Request{
			Model:       synthModel,
			Temperature: temperature,
			Messages: []provider.Message{
				{Role: provider.RoleSystem, Content: systemPrompt},
				{Role: provider.RoleUser, Content: prompt},
			},
			Structured: &provider.StructuredOutput{
				Schema: canonicalSchema,
				Name:   role.SchemaRef,
				Strict: true,
			},
		})
		cancel()
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return &TimeoutError{Scope: "global", Phase: "synthesis"}
			}
			lastErr = err
			continue
		}

		raw := []byte(resp.Raw)
		if resp.Text != nil {
			raw = []byte(*resp.Text)
		}
		if len(resp.ToolCalls) > 0 && resp.ToolCalls[0].Arguments != "" {
			raw = []byte(resp.ToolCalls[0].Arguments)
		}
		lastRaw = raw

		if storeArtifacts {
			// One artifact per attempt: retries get their own producer key so
			// a differing payload is not rejected as a hash mismatch.
			producer := "synthesis"
			if attempt > 1 {
				producer = fmt.Sprintf("synthesis-attempt-%d", attempt)
			}
			if art, err := o.cfg.Artifacts.Put(ctx, runID, artifact.PhaseSynthesis, producer, raw); err == nil {
				result.ArtifactHashes["synthesis"] = art.ContentHash
			}
		}

		valid, errs, parseErr := schema.Validate(canonicalSchema, raw)
		if parseErr != nil {
			lastErr = &ParseError{Attempt: attempt, Cause: parseErr}
			continue
		}
		if !valid {
			result.ValidationErrors = errs
			lastErr = &ValidationError{Attempt: attempt, Summary: schema.SummarizeErrors(errs)}
			continue
		}

		var parsed map[string]any
		if err := json.Unmarshal(raw, &parsed); err != nil {
			lastErr = &ParseError{Attempt: attempt, Cause: err}
			continue
		}
		result.Output = parsed
		result.ValidationErrors = nil
		result.FinishReason = resp.FinishReason
		result.RetryCount = attempt - 1
		return nil
	}

	if lastRaw != nil {
		o.cfg.Logger.Warn(ctx, "council: synthesis exhausted retries, last attempt preserved", "run_id", runID)
	}
	return &FatalError{Reason: "synthesis exhausted retries", Cause: lastErr}
}

func composeSynthesisPrompt(task string, drafts map[string]string, critique string, lastErr error, attempt int) string {
	prompt := "Task:\n" + task + "\n\nDrafts (summarized):\n"
	for name, text := range drafts {
		prompt += "\n--- " + name + " ---\n" + findingsTier(text) + "\n"
	}
	prompt += "\nCritique:\n" + critique + "\n"
	if lastErr != nil {
		prompt += fmt.Sprintf("\nAttempt %d: the previous response was rejected:\n%v\nEmit corrected structured output only.\n", attempt, lastErr)
	}
	return prompt
}

// findingsTier summarizes draft text to the FINDINGS tier inline (a short
// paragraph excerpt), matching the synthesis prompt composition in spec
// §4.6 phase 3 without a round trip through the artifact store.
func findingsTier(text string) string {
	const maxLen = 1200
	paras := strings.SplitN(strings.TrimSpace(text), "\n\n", 3)
	if len(paras) > 2 {
		paras = paras[:2]
	}
	text = strings.Join(paras, "\n\n")
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "…"
}

// resolveAdapterForTag finds the adapter among candidates that serves the
// model pack's resolved model identifier for tag, returning that adapter and
// the model id to request. Falls back to fallback with no model pin when the
// pack has no entry for tag or no candidate claims to serve it.
func resolveAdapterForTag(adapters []provider.Adapter, pack *roles.ModelPack, tag roles.Tag, fallback provider.Adapter) (provider.Adapter, string) {
	if pack != nil {
		if modelID := pack.Resolve(tag); modelID != "" {
			for _, a := range adapters {
				if a.SupportsModel(modelID) {
					return a, modelID
				}
			}
		}
	}
	return fallback, ""
}

func resolveCriticAdapter(adapters []provider.Adapter, pack *roles.ModelPack) (provider.Adapter, string) {
	return resolveAdapterForTag(adapters, pack, roles.TagCritic, adapters[len(adapters)-1])
}

// resolveSynthesisAdapter picks the role's reasoning-biased model unless the
// role is tagged "fast" (a simple role, e.g. a router), per spec §4.6 phase
// 3's provider selection rule.
func resolveSynthesisAdapter(adapters []provider.Adapter, pack *roles.ModelPack, role *roles.Role) (provider.Adapter, string) {
	tag := roles.TagReasoning
	if role.ModelPack == string(roles.TagFast) {
		tag = roles.TagFast
	}
	return resolveAdapterForTag(adapters, pack, tag, adapters[0])
}

func schemaForRole(schemaDir string, role *roles.Role) (map[string]any, error) {
	if role.SchemaRef == "" {
		return nil, fmt.Errorf("role %q has no schema reference", role.Name)
	}
	path := filepath.Join(schemaDir, role.SchemaRef+".json")
	schemaDoc, err := roles.LoadSchema(path)
	if err != nil {
		return nil, err
	}
	return schemaDoc, nil
}

func estimateCost(usage map[string]provider.Usage, weights roles.CostWeights) float64 {
	var total float64
	for _, u := range usage {
		total += float64(u.InputTokens) / 1000 * weights.InputUSD
		total += float64(u.OutputTokens) / 1000 * weights.OutputUSD
	}
	return total
}
