package council

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/council/provider"
	"goa.design/council/roles"
)

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

type fakeAdapter struct {
	name        string
	structured  string
	doctorOK    bool
	doctorDelay time.Duration
}

func (f *fakeAdapter) Name() string { return f.name }
func (f *fakeAdapter) Capabilities() provider.CapabilityDescriptor {
	return provider.CapabilityDescriptor{Streaming: true, StructuredOutput: true}
}
func (f *fakeAdapter) Supports(string) bool      { return true }
func (f *fakeAdapter) SupportsModel(string) bool { return true }
func (f *fakeAdapter) Doctor(ctx context.Context) (provider.DoctorReport, error) {
	if f.doctorDelay > 0 {
		select {
		case <-time.After(f.doctorDelay):
		case <-ctx.Done():
			return provider.DoctorReport{}, ctx.Err()
		}
	}
	return provider.DoctorReport{OK: f.doctorOK}, nil
}
func (f *fakeAdapter) Generate(_ context.Context, req provider.Request) (*provider.Response, error) {
	text := f.structured
	if req.Structured == nil {
		text = "draft text"
	}
	return &provider.Response{Text: &text, FinishReason: provider.FinishStop, Usage: provider.Usage{InputTokens: 5, OutputTokens: 5}}, nil
}
func (f *fakeAdapter) Stream(context.Context, provider.Request) (provider.Streamer, error) {
	return nil, provider.ErrStreamingUnsupported
}

func testRoleRegistry() *roles.Registry {
	reg := roles.NewRegistry(nil)
	reg.AddRole(&roles.Role{
		Name:         "planner",
		SystemPrompt: "You are the planner.",
		SchemaRef:    "planner",
		Providers:    roles.ProviderPreference{Preferred: []string{"anthropic"}},
	})
	reg.AddAlias("legacy-planner", roles.Alias{Canonical: "planner", Mode: ""})
	return reg
}

func TestCouncilRunResolvesRole(t *testing.T) {
	reg := provider.NewRegistry()
	reg.Register(&fakeAdapter{name: "anthropic", structured: `{"summary":"ok"}`, doctorOK: true})

	schemaDir := t.TempDir()
	writeSchema(t, schemaDir, "planner")

	c, err := New(Config{
		Roles:     testRoleRegistry(),
		Registry:  reg,
		SchemaDir: schemaDir,
	})
	require.NoError(t, err)

	result, err := c.Run(context.Background(), "plan the launch", "planner", "", RunOptions{})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "ok", result.Output["summary"])
}

func TestCouncilRunUnknownRole(t *testing.T) {
	reg := provider.NewRegistry()
	reg.Register(&fakeAdapter{name: "anthropic", doctorOK: true})
	c, err := New(Config{Roles: testRoleRegistry(), Registry: reg})
	require.NoError(t, err)

	_, err = c.Run(context.Background(), "task", "no-such-role", "", RunOptions{})
	require.Error(t, err)
}

func TestCouncilDoctorFansOutAcrossProviders(t *testing.T) {
	reg := provider.NewRegistry()
	reg.Register(&fakeAdapter{name: "anthropic", doctorOK: true})
	reg.Register(&fakeAdapter{name: "openai", doctorOK: false})
	c, err := New(Config{Roles: testRoleRegistry(), Registry: reg, DoctorTimeout: time.Second})
	require.NoError(t, err)

	reports := c.Doctor(context.Background())
	require.Len(t, reports, 2)
	require.True(t, reports["anthropic"].OK)
	require.False(t, reports["openai"].OK)
}

func TestCouncilDoctorTimesOutSlowProvider(t *testing.T) {
	reg := provider.NewRegistry()
	reg.Register(&fakeAdapter{name: "slow", doctorDelay: 50 * time.Millisecond})
	c, err := New(Config{Roles: testRoleRegistry(), Registry: reg, DoctorTimeout: 5 * time.Millisecond})
	require.NoError(t, err)

	reports := c.Doctor(context.Background())
	require.False(t, reports["slow"].OK)
}
