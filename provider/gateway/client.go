// Package gateway adapts a generic OpenAI-compatible HTTP endpoint (a local
// gateway, Ollama, or any self-hosted chat-completions-shaped server) to
// provider.Adapter. It reuses the openai-go SDK's wire format by pointing it
// at a custom base URL, the same approach the pack's adapters use for
// Azure/Ollama-style OpenAI-compatible backends.
package gateway

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"goa.design/council/provider"
	provopenai "goa.design/council/provider/openai"
)

// Options configures the gateway adapter.
type Options struct {
	// BaseURL is the gateway's OpenAI-compatible endpoint, for example
	// "http://localhost:11434/v1" for Ollama.
	BaseURL string

	// APIKey is sent as a bearer token. Many local gateways accept any
	// non-empty value.
	APIKey string

	DefaultModel string
	MaxTokens    int
	Temperature  float64
}

// Adapter wraps the OpenAI-wire adapter for a generic OpenAI-compatible
// endpoint. Structured output and reasoning are not assumed to be
// implemented by an arbitrary gateway, so Capabilities reports neither even
// though the underlying wire format supports both fields.
type Adapter struct {
	inner *provopenai.Adapter
}

// New builds a gateway Adapter.
func New(opts Options, models provider.ModelSet) (*Adapter, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("gateway: base url is required")
	}
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = "gateway"
	}
	cl := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(opts.BaseURL),
	)
	inner, err := provopenai.New(&cl, provopenai.Options{
		DefaultModel: opts.DefaultModel,
		MaxTokens:    opts.MaxTokens,
		Temperature:  opts.Temperature,
	}, models)
	if err != nil {
		return nil, err
	}
	return &Adapter{inner: inner}, nil
}

func (a *Adapter) Name() string { return "gateway" }

func (a *Adapter) Capabilities() provider.CapabilityDescriptor {
	caps := a.inner.Capabilities()
	caps.StructuredOutput = false
	return caps
}

func (a *Adapter) Supports(capability string) bool {
	switch capability {
	case "structured_output", "multimodal":
		return false
	default:
		return a.inner.Supports(capability)
	}
}

func (a *Adapter) SupportsModel(modelID string) bool {
	return a.inner.SupportsModel(modelID)
}

func (a *Adapter) Doctor(ctx context.Context) (provider.DoctorReport, error) {
	return a.inner.Doctor(ctx)
}

func (a *Adapter) Generate(ctx context.Context, req provider.Request) (*provider.Response, error) {
	req.Structured = nil
	req.Reasoning = nil
	return a.inner.Generate(ctx, req)
}

func (a *Adapter) Stream(ctx context.Context, req provider.Request) (provider.Streamer, error) {
	req.Structured = nil
	req.Reasoning = nil
	return a.inner.Stream(ctx, req)
}
