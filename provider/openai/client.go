// Package openai adapts the OpenAI Chat Completions API to provider.Adapter,
// using github.com/openai/openai-go v1.
package openai

import (
	"context"
	"errors"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"goa.design/council/provider"
)

// ChatClient captures the subset of the OpenAI SDK used by the adapter,
// satisfied by *openai.ChatCompletionService so tests can substitute a mock.
type ChatClient interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
	NewStreaming(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk]
}

// Options configures adapter defaults.
type Options struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float64
}

// Adapter implements provider.Adapter on top of OpenAI Chat Completions.
type Adapter struct {
	client ChatClient
	opts   Options
	models provider.ModelSet
}

// New builds an Adapter from a configured OpenAI client.
func New(client *openai.Client, opts Options, models provider.ModelSet) (*Adapter, error) {
	if client == nil {
		return nil, errors.New("openai: client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("openai: default model identifier is required")
	}
	return &Adapter{client: &client.Chat.Completions, opts: opts, models: models}, nil
}

// NewFromAPIKey builds an Adapter from OPENAI_API_KEY and an optional
// gateway base URL (empty string selects the default OpenAI endpoint).
func NewFromAPIKey(apiKey, baseURL string, opts Options, models provider.ModelSet) (*Adapter, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	cl := openai.NewClient(reqOpts...)
	return New(&cl, opts, models)
}

func (a *Adapter) Name() string { return "openai" }

func (a *Adapter) Capabilities() provider.CapabilityDescriptor {
	return provider.CapabilityDescriptor{
		Streaming:        true,
		ToolUse:          true,
		StructuredOutput: true,
		Multimodal:       false,
		MaxOutputTokens:  a.opts.MaxTokens,
	}
}

func (a *Adapter) Supports(capability string) bool {
	switch capability {
	case "streaming", "tool_use", "structured_output":
		return true
	default:
		return false
	}
}

func (a *Adapter) SupportsModel(modelID string) bool {
	if a.models.Empty() {
		return true
	}
	return a.models.Contains(modelID)
}

func (a *Adapter) Doctor(ctx context.Context) (provider.DoctorReport, error) {
	start := time.Now()
	_, err := a.client.New(ctx, openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(a.resolveModel("")),
		MaxTokens: openai.Int(1),
		Messages:  []openai.ChatCompletionMessageParamUnion{openai.UserMessage("ping")},
	})
	latency := time.Since(start)
	if err != nil {
		return provider.DoctorReport{OK: false, Message: err.Error(), LatencyMS: latency.Milliseconds()}, nil
	}
	return provider.DoctorReport{OK: true, Message: "ok", LatencyMS: latency.Milliseconds()}, nil
}

func (a *Adapter) Generate(ctx context.Context, req provider.Request) (*provider.Response, error) {
	params, err := a.prepareParams(req)
	if err != nil {
		return nil, err
	}
	completion, err := a.client.New(ctx, *params)
	if err != nil {
		return nil, a.classify(err)
	}
	return translateResponse(completion), nil
}

func (a *Adapter) Stream(ctx context.Context, req provider.Request) (provider.Streamer, error) {
	params, err := a.prepareParams(req)
	if err != nil {
		return nil, err
	}
	stream := a.client.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, a.classify(err)
	}
	return newStreamer(ctx, stream), nil
}

func (a *Adapter) resolveModel(requested string) string {
	if requested != "" {
		return requested
	}
	return a.opts.DefaultModel
}

func (a *Adapter) prepareParams(req provider.Request) (*openai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(a.resolveModel(req.Model)),
		Messages: encodeMessages(req.Messages),
	}
	if maxTokens := req.MaxOutputTokens; maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	} else if a.opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(a.opts.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	} else if a.opts.Temperature > 0 {
		params.Temperature = openai.Float(a.opts.Temperature)
	}
	if req.Reasoning != nil && req.Reasoning.Enabled && req.Reasoning.Effort != "" {
		params.ReasoningEffort = shared.ReasoningEffort(req.Reasoning.Effort)
	}
	if req.Structured != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   req.Structured.Name,
					Schema: req.Structured.Schema,
					Strict: openai.Bool(req.Structured.Strict),
				},
			},
		}
	}
	return &params, nil
}

func encodeMessages(msgs []provider.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		if m.Content == "" {
			continue
		}
		switch m.Role {
		case provider.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case provider.RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case provider.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		}
	}
	return out
}

func translateResponse(completion *openai.ChatCompletion) *provider.Response {
	resp := &provider.Response{Model: completion.Model}
	if len(completion.Choices) == 0 {
		return resp
	}
	choice := completion.Choices[0]
	if choice.Message.Content != "" {
		text := choice.Message.Content
		resp.Text = &text
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, provider.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	resp.Usage = provider.Usage{
		InputTokens:  int(completion.Usage.PromptTokens),
		OutputTokens: int(completion.Usage.CompletionTokens),
		TotalTokens:  int(completion.Usage.TotalTokens),
	}
	resp.FinishReason = translateFinishReason(string(choice.FinishReason))
	return resp
}

func translateFinishReason(reason string) provider.FinishReason {
	switch reason {
	case "stop":
		return provider.FinishStop
	case "length":
		return provider.FinishLength
	case "content_filter":
		return provider.FinishContentFilter
	case "tool_calls":
		return provider.FinishToolCalls
	default:
		return provider.FinishStop
	}
}

func (a *Adapter) classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		kind, retryable := provider.ClassifyHTTPStatus(apiErr.StatusCode)
		return provider.NewTransportError(a.Name(), "chat.completions.new", apiErr.StatusCode, kind, "", apiErr.Error(), "", retryable, err)
	}
	return provider.NewTransportError(a.Name(), "chat.completions.new", 0, provider.ErrorKindUnknown, "", err.Error(), "", false, err)
}
