package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/council/artifact"
	"goa.design/council/provider"
	"goa.design/council/roles"
	"goa.design/council/run"
)

func intPtr(v int) *int { return &v }

type fakeAdapter struct {
	name         string
	text         string
	structured   string
	failGenerate error
	delay        time.Duration
	calls        int
}

func (f *fakeAdapter) Name() string { return f.name }
func (f *fakeAdapter) Capabilities() provider.CapabilityDescriptor {
	return provider.CapabilityDescriptor{Streaming: true, StructuredOutput: true}
}
func (f *fakeAdapter) Supports(string) bool      { return true }
func (f *fakeAdapter) SupportsModel(string) bool { return true }
func (f *fakeAdapter) Doctor(context.Context) (provider.DoctorReport, error) {
	return provider.DoctorReport{OK: true}, nil
}
func (f *fakeAdapter) Generate(ctx context.Context, req provider.Request) (*provider.Response, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.failGenerate != nil {
		return nil, f.failGenerate
	}
	if req.Structured != nil {
		text := f.structured
		return &provider.Response{Text: &text, FinishReason: provider.FinishStop}, nil
	}
	text := f.text
	return &provider.Response{Text: &text, FinishReason: provider.FinishStop, Usage: provider.Usage{InputTokens: 10, OutputTokens: 20}}, nil
}
func (f *fakeAdapter) Stream(context.Context, provider.Request) (provider.Streamer, error) {
	return nil, provider.ErrStreamingUnsupported
}

func writeSchema(t *testing.T, dir, name string) {
	t.Helper()
	schemaDoc := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"summary": map[string]any{"type": "string"},
		},
		"required": []string{"summary"},
	}
	data, err := json.Marshal(schemaDoc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".json"), data, 0o644))
}

func newTestOrchestrator(t *testing.T, adapters ...provider.Adapter) (*Orchestrator, *provider.Registry) {
	t.Helper()
	reg := provider.NewRegistry()
	for _, a := range adapters {
		reg.Register(a)
	}
	schemaDir := t.TempDir()
	writeSchema(t, schemaDir, "planner")
	o, err := New(Config{
		Registry:       reg,
		Artifacts:      artifact.NewMemoryStore(),
		Runs:           run.NewMemoryStore(),
		SchemaDir:      schemaDir,
		Degradation:    true,
		StoreArtifacts: true,
	})
	require.NoError(t, err)
	return o, reg
}

func testRole() *roles.Role {
	return &roles.Role{
		Name:         "planner",
		SystemPrompt: "You are the planner.",
		SchemaRef:    "planner",
		Providers:    roles.ProviderPreference{Preferred: []string{"anthropic", "openai"}},
	}
}

func TestOrchestratorRunSucceeds(t *testing.T) {
	a1 := &fakeAdapter{name: "anthropic", text: "draft one", structured: `{"summary":"final answer"}`}
	a2 := &fakeAdapter{name: "openai", text: "draft two"}
	o, _ := newTestOrchestrator(t, a1, a2)

	result, err := o.Run(context.Background(), "run-1", "plan the launch", testRole(), "", nil, RunOptions{})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "final answer", result.Output["summary"])
	require.Len(t, result.Drafts, 2)
	require.Contains(t, result.ArtifactHashes, "draft:anthropic")
	require.Contains(t, result.ArtifactHashes, "synthesis")
}

func TestOrchestratorDraftDegradation(t *testing.T) {
	a1 := &fakeAdapter{name: "anthropic", text: "draft one", structured: `{"summary":"ok"}`}
	a2 := &fakeAdapter{name: "openai", failGenerate: context.DeadlineExceeded}
	o, _ := newTestOrchestrator(t, a1, a2)

	result, err := o.Run(context.Background(), "run-2", "plan the launch", testRole(), "", nil, RunOptions{})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, result.Degradations, 1)
	require.Equal(t, "openai", result.Degradations[0].Provider)
}

func TestOrchestratorAllDraftsFail(t *testing.T) {
	a1 := &fakeAdapter{name: "anthropic", failGenerate: context.DeadlineExceeded}
	a2 := &fakeAdapter{name: "openai", failGenerate: context.DeadlineExceeded}
	o, _ := newTestOrchestrator(t, a1, a2)

	result, err := o.Run(context.Background(), "run-3", "plan the launch", testRole(), "", nil, RunOptions{})
	require.Error(t, err)
	require.False(t, result.Success)
	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
}

func TestOrchestratorSynthesisRetriesOnValidationFailure(t *testing.T) {
	a1 := &fakeAdapter{name: "anthropic", text: "draft one", structured: `{"wrong_field":"nope"}`}
	o, _ := newTestOrchestrator(t, a1)

	role := testRole()
	role.Providers.Preferred = []string{"anthropic"}

	result, err := o.Run(context.Background(), "run-4", "plan the launch", role, "", nil, RunOptions{MaxRetries: intPtr(2)})
	require.Error(t, err)
	require.False(t, result.Success)
	require.NotEmpty(t, result.ValidationErrors)
	require.Equal(t, 1+1+3, a1.calls) // 1 draft + 1 critique + 3 synthesis attempts (1 initial + 2 retries)
}

func TestOrchestratorSynthesisSucceedsOnRetry(t *testing.T) {
	attempt := 0
	// Fail schema validation on the first synthesis call, then succeed.
	failer := &sequencedAdapter{
		fakeAdapter: &fakeAdapter{name: "anthropic", text: "draft one"},
		onCall: func(n int) string {
			attempt = n
			if n == 1 {
				return `{"wrong_field":"nope"}`
			}
			return `{"summary":"ok"}`
		},
	}
	o, _ := newTestOrchestrator(t, failer)

	role := testRole()
	role.Providers.Preferred = []string{"anthropic"}

	result, err := o.Run(context.Background(), "run-4b", "plan the launch", role, "", nil, RunOptions{})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 1, result.RetryCount)
	require.Equal(t, 2, attempt)
}

func TestOrchestratorMaxRetriesZeroRunsOneSynthesisAttempt(t *testing.T) {
	a1 := &fakeAdapter{name: "anthropic", text: "draft one", structured: `{"wrong_field":"nope"}`}
	o, _ := newTestOrchestrator(t, a1)

	role := testRole()
	role.Providers.Preferred = []string{"anthropic"}

	result, err := o.Run(context.Background(), "run-4c", "plan the launch", role, "", nil, RunOptions{MaxRetries: intPtr(0)})
	require.Error(t, err)
	require.False(t, result.Success)
	require.Equal(t, 1+1+1, a1.calls) // 1 draft + 1 critique + exactly 1 synthesis attempt
}

func TestOrchestratorResultCarriesResolvedRoleAndMode(t *testing.T) {
	a1 := &fakeAdapter{name: "anthropic", text: "draft one", structured: `{"summary":"ok"}`}
	o, _ := newTestOrchestrator(t, a1)

	role := testRole()
	role.Providers.Preferred = []string{"anthropic"}
	role.Modes = map[string]string{"impl": "Focus on a concrete implementation."}

	result, err := o.Run(context.Background(), "run-4d", "plan the launch", role, "impl", nil, RunOptions{})
	require.NoError(t, err)
	require.Equal(t, "planner", result.ResolvedRole)
	require.Equal(t, "impl", result.Mode)
	require.Equal(t, 0, result.RetryCount)
}

func TestOrchestratorGlobalTimeoutDuringDraftsIsTimedOut(t *testing.T) {
	a1 := &fakeAdapter{name: "anthropic", delay: 50 * time.Millisecond}
	a2 := &fakeAdapter{name: "openai", delay: 50 * time.Millisecond}
	reg := provider.NewRegistry()
	reg.Register(a1)
	reg.Register(a2)
	schemaDir := t.TempDir()
	writeSchema(t, schemaDir, "planner")
	runs := run.NewMemoryStore()
	o, err := New(Config{
		Registry:       reg,
		Artifacts:      artifact.NewMemoryStore(),
		Runs:           runs,
		SchemaDir:      schemaDir,
		Degradation:    true,
		StoreArtifacts: true,
		GlobalDeadline: 5 * time.Millisecond,
		CallDeadline:   time.Second,
	})
	require.NoError(t, err)

	result, err := o.Run(context.Background(), "run-timeout-drafts", "plan the launch", testRole(), "", nil, RunOptions{})
	require.Error(t, err)
	require.False(t, result.Success)
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.Equal(t, "drafts", timeoutErr.Phase)

	rec, loadErr := runs.Load(context.Background(), "run-timeout-drafts")
	require.NoError(t, loadErr)
	require.Equal(t, run.StatusTimedOut, rec.Status)
}

func TestOrchestratorTemperatureOutOfRangeIsConfigError(t *testing.T) {
	a1 := &fakeAdapter{name: "anthropic", text: "draft one", structured: `{"summary":"ok"}`}
	o, _ := newTestOrchestrator(t, a1)

	_, err := o.Run(context.Background(), "run-temp", "plan the launch", testRole(), "", nil, RunOptions{Temperature: 2.5})
	require.Error(t, err)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

// sequencedAdapter wraps a fakeAdapter to vary the structured payload
// returned across successive synthesis calls, for exercising the synthesis
// retry success path.
type sequencedAdapter struct {
	*fakeAdapter
	structuredCalls int
	onCall          func(call int) string
}

func (s *sequencedAdapter) Generate(ctx context.Context, req provider.Request) (*provider.Response, error) {
	s.calls++
	if req.Structured == nil {
		text := s.text
		return &provider.Response{Text: &text, FinishReason: provider.FinishStop, Usage: provider.Usage{InputTokens: 10, OutputTokens: 20}}, nil
	}
	s.structuredCalls++
	text := s.onCall(s.structuredCalls)
	return &provider.Response{Text: &text, FinishReason: provider.FinishStop}, nil
}
