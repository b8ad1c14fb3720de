// Package anthropic adapts the Anthropic Claude Messages API to
// provider.Adapter, using github.com/anthropics/anthropic-sdk-go.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"goa.design/council/provider"
)

// MessagesClient captures the subset of the Anthropic SDK used by the
// adapter, satisfied by *sdk.MessageService so tests can substitute a mock.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Options configures adapter defaults.
type Options struct {
	DefaultModel   string
	MaxTokens      int
	Temperature    float64
	ThinkingBudget int64
}

// Adapter implements provider.Adapter on top of Anthropic Messages.
type Adapter struct {
	msg    MessagesClient
	opts   Options
	models provider.ModelSet
}

// New builds an Adapter from an explicit Messages client.
func New(msg MessagesClient, opts Options, models provider.ModelSet) (*Adapter, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("anthropic: default model identifier is required")
	}
	return &Adapter{msg: msg, opts: opts, models: models}, nil
}

// NewFromAPIKey builds an Adapter from ANTHROPIC_API_KEY via the SDK's
// default HTTP client.
func NewFromAPIKey(apiKey string, opts Options, models provider.ModelSet) (*Adapter, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	cl := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&cl.Messages, opts, models)
}

func (a *Adapter) Name() string { return "anthropic" }

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
	case "streaming":
		return true
	case "tool_use":
		return true
	case "structured_output":
		return true
	case "multimodal":
		return false
	default:
		return false
	}
}

// SupportsModel reports whether modelID is within this adapter's configured
// model family, by exact match or prefix match. An adapter with no
// configured ModelSet accepts any model identifier.
func (a *Adapter) SupportsModel(modelID string) bool {
	if a.models.Empty() {
		return true
	}
	return a.models.Contains(modelID)
}

func (a *Adapter) Doctor(ctx context.Context) (provider.DoctorReport, error) {
	start := time.Now()
	_, err := a.msg.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(a.resolveModel("")),
		MaxTokens: 1,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock("ping")),
		},
	})
	latency := time.Since(start)
	if err != nil {
		return provider.DoctorReport{OK: false, Message: err.Error(), LatencyMS: latency.Milliseconds()}, nil
	}
	return provider.DoctorReport{OK: true, Message: "ok", LatencyMS: latency.Milliseconds()}, nil
}

func (a *Adapter) Generate(ctx context.Context, req provider.Request) (*provider.Response, error) {
	params, err := a.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	msg, err := a.msg.New(ctx, *params)
	if err != nil {
		return nil, a.classify(err)
	}
	return translateResponse(msg), nil
}

func (a *Adapter) Stream(ctx context.Context, req provider.Request) (provider.Streamer, error) {
	params, err := a.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	stream := a.msg.NewStreaming(ctx, *params)
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

func (a *Adapter) prepareRequest(req provider.Request) (*sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anthropic: messages are required")
	}
	modelID := a.resolveModel(req.Model)
	maxTokens := req.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = a.opts.MaxTokens
	}
	if maxTokens <= 0 {
		return nil, errors.New("anthropic: max output tokens must be positive")
	}

	msgs, system := encodeMessages(req.Messages)
	if len(msgs) == 0 {
		return nil, errors.New("anthropic: at least one user/assistant message is required")
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(float64(req.Temperature))
	} else if a.opts.Temperature > 0 {
		params.Temperature = sdk.Float(a.opts.Temperature)
	}

	if req.Reasoning != nil && req.Reasoning.Enabled {
		budget := req.Reasoning.BudgetTokens
		if budget <= 0 {
			budget = int(a.opts.ThinkingBudget)
		}
		if budget < 1024 {
			return nil, fmt.Errorf("anthropic: thinking budget %d must be >= 1024", budget)
		}
		if int64(budget) >= int64(maxTokens) {
			return nil, fmt.Errorf("anthropic: thinking budget %d must be less than max_output_tokens %d", budget, maxTokens)
		}
		params.Thinking = sdk.ThinkingConfigParamOfEnabled(int64(budget))
	}

	// Structured output is sent as a forced single tool-call whose schema is
	// the requested output schema; the output_format field and its beta
	// header are not used.
	if req.Structured != nil {
		tool, err := structuredOutputTool(*req.Structured)
		if err != nil {
			return nil, err
		}
		params.Tools = []sdk.ToolUnionParam{tool}
		params.ToolChoice = sdk.ToolChoiceParamOfTool(req.Structured.Name)
	}

	return &params, nil
}

func structuredOutputTool(so provider.StructuredOutput) (sdk.ToolUnionParam, error) {
	if so.Name == "" {
		return sdk.ToolUnionParam{}, errors.New("anthropic: structured output name is required")
	}
	u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: so.Schema}, so.Name)
	if u.OfTool != nil {
		u.OfTool.Description = sdk.String("Emit the final structured result for this request.")
	}
	return u, nil
}

func encodeMessages(msgs []provider.Message) ([]sdk.MessageParam, []sdk.TextBlockParam) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	system := make([]sdk.TextBlockParam, 0, len(msgs))
	for _, m := range msgs {
		if m.Content == "" {
			continue
		}
		switch m.Role {
		case provider.RoleSystem:
			system = append(system, sdk.TextBlockParam{Text: m.Content})
		case provider.RoleUser:
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case provider.RoleAssistant:
			conversation = append(conversation, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		}
	}
	return conversation, system
}

func translateResponse(msg *sdk.Message) *provider.Response {
	resp := &provider.Response{Model: string(msg.Model)}
	var text string
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text += block.Text
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, provider.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: string(block.Input),
			})
		}
	}
	if text != "" {
		resp.Text = &text
	}
	if u := msg.Usage; u.InputTokens != 0 || u.OutputTokens != 0 {
		resp.Usage = provider.Usage{
			InputTokens:  int(u.InputTokens),
			OutputTokens: int(u.OutputTokens),
			TotalTokens:  int(u.InputTokens + u.OutputTokens),
		}
	}
	resp.FinishReason = translateStopReason(string(msg.StopReason))
	return resp
}

func translateStopReason(reason string) provider.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return provider.FinishStop
	case "max_tokens":
		return provider.FinishLength
	case "tool_use":
		return provider.FinishToolCalls
	default:
		return provider.FinishStop
	}
}

func (a *Adapter) classify(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		kind, retryable := provider.ClassifyHTTPStatus(apiErr.StatusCode)
		return provider.NewTransportError(a.Name(), "messages.new", apiErr.StatusCode, kind, "", apiErr.Error(), "", retryable, err)
	}
	return provider.NewTransportError(a.Name(), "messages.new", 0, provider.ErrorKindUnknown, "", err.Error(), "", false, err)
}
