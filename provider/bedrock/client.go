// Package bedrock adapts the AWS Bedrock Converse API to provider.Adapter,
// using github.com/aws/aws-sdk-go-v2/service/bedrockruntime.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"goa.design/council/provider"
)

const defaultThinkingBudget = 16384

// RuntimeClient captures the subset of the AWS Bedrock runtime client used
// by the adapter, satisfied by *bedrockruntime.Client so tests can
// substitute a mock.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Options configures adapter defaults.
type Options struct {
	DefaultModel   string
	MaxTokens      int
	Temperature    float32
	ThinkingBudget int
}

// Adapter implements provider.Adapter on top of AWS Bedrock Converse.
type Adapter struct {
	runtime RuntimeClient
	opts    Options
	models  provider.ModelSet
}

// New builds an Adapter from a configured Bedrock runtime client.
func New(runtime RuntimeClient, opts Options, models provider.ModelSet) (*Adapter, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("bedrock: default model identifier is required")
	}
	if opts.ThinkingBudget <= 0 {
		opts.ThinkingBudget = defaultThinkingBudget
	}
	return &Adapter{runtime: runtime, opts: opts, models: models}, nil
}

func (a *Adapter) Name() string { return "bedrock" }

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
	_, err := a.runtime.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(a.opts.DefaultModel),
		Messages: []brtypes.Message{
			{Role: brtypes.ConversationRoleUser, Content: []brtypes.ContentBlock{
				&brtypes.ContentBlockMemberText{Value: "ping"},
			}},
		},
		InferenceConfig: &brtypes.InferenceConfiguration{MaxTokens: aws.Int32(1)},
	})
	latency := time.Since(start)
	if err != nil {
		return provider.DoctorReport{OK: false, Message: err.Error(), LatencyMS: latency.Milliseconds()}, nil
	}
	return provider.DoctorReport{OK: true, Message: "ok", LatencyMS: latency.Milliseconds()}, nil
}

func (a *Adapter) Generate(ctx context.Context, req provider.Request) (*provider.Response, error) {
	input, err := a.prepareInput(req)
	if err != nil {
		return nil, err
	}
	output, err := a.runtime.Converse(ctx, input)
	if err != nil {
		return nil, a.classify(err)
	}
	return translateResponse(output), nil
}

func (a *Adapter) Stream(ctx context.Context, req provider.Request) (provider.Streamer, error) {
	input, err := a.prepareInput(req)
	if err != nil {
		return nil, err
	}
	streamInput := &bedrockruntime.ConverseStreamInput{
		ModelId:         input.ModelId,
		Messages:        input.Messages,
		System:          input.System,
		ToolConfig:      input.ToolConfig,
		InferenceConfig: input.InferenceConfig,
	}
	if req.Reasoning != nil && req.Reasoning.Enabled {
		budget := req.Reasoning.BudgetTokens
		if budget <= 0 {
			budget = a.opts.ThinkingBudget
		}
		fields := map[string]any{"thinking": map[string]any{"type": "enabled", "budget_tokens": budget}}
		streamInput.AdditionalModelRequestFields = document.NewLazyDocument(&fields)
	}
	out, err := a.runtime.ConverseStream(ctx, streamInput)
	if err != nil {
		return nil, a.classify(err)
	}
	stream := out.GetStream()
	if stream == nil {
		return nil, errors.New("bedrock: stream output missing event stream")
	}
	return newStreamer(ctx, stream), nil
}

func (a *Adapter) prepareInput(req provider.Request) (*bedrockruntime.ConverseInput, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("bedrock: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = a.opts.DefaultModel
	}
	msgs, system := encodeMessages(req.Messages)
	if len(msgs) == 0 {
		return nil, errors.New("bedrock: at least one user/assistant message is required")
	}
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(modelID),
		Messages: msgs,
	}
	if len(system) > 0 {
		input.System = system
	}
	if req.Structured != nil {
		toolConfig, err := structuredOutputToolConfig(*req.Structured)
		if err != nil {
			return nil, err
		}
		input.ToolConfig = toolConfig
	}
	cfg := brtypes.InferenceConfiguration{}
	maxTokens := req.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = a.opts.MaxTokens
	}
	if maxTokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(maxTokens))
	}
	temp := req.Temperature
	if temp <= 0 {
		temp = float64(a.opts.Temperature)
	}
	if temp > 0 {
		cfg.Temperature = aws.Float32(float32(temp))
	}
	if cfg.MaxTokens != nil || cfg.Temperature != nil {
		input.InferenceConfig = &cfg
	}
	return input, nil
}

func structuredOutputToolConfig(so provider.StructuredOutput) (*brtypes.ToolConfiguration, error) {
	if so.Name == "" {
		return nil, errors.New("bedrock: structured output name is required")
	}
	tool := brtypes.ToolMemberToolSpec{
		Value: brtypes.ToolSpecification{
			Name:        aws.String(so.Name),
			Description: aws.String("Emit the final structured result for this request."),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{
				Value: lazyDocument(so.Schema),
			},
		},
	}
	return &brtypes.ToolConfiguration{
		Tools:      []brtypes.Tool{&tool},
		ToolChoice: &brtypes.ToolChoiceMemberTool{Value: brtypes.SpecificToolChoice{Name: aws.String(so.Name)}},
	}, nil
}

func encodeMessages(msgs []provider.Message) ([]brtypes.Message, []brtypes.SystemContentBlock) {
	conversation := make([]brtypes.Message, 0, len(msgs))
	system := make([]brtypes.SystemContentBlock, 0, len(msgs))
	for _, m := range msgs {
		if m.Content == "" {
			continue
		}
		switch m.Role {
		case provider.RoleSystem:
			system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Content})
		case provider.RoleUser:
			conversation = append(conversation, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
			})
		case provider.RoleAssistant:
			conversation = append(conversation, brtypes.Message{
				Role:    brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
			})
		}
	}
	return conversation, system
}

func translateResponse(output *bedrockruntime.ConverseOutput) *provider.Response {
	resp := &provider.Response{}
	var text string
	if msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			switch v := block.(type) {
			case *brtypes.ContentBlockMemberText:
				text += v.Value
			case *brtypes.ContentBlockMemberToolUse:
				name := ""
				if v.Value.Name != nil {
					name = *v.Value.Name
				}
				id := ""
				if v.Value.ToolUseId != nil {
					id = *v.Value.ToolUseId
				}
				resp.ToolCalls = append(resp.ToolCalls, provider.ToolCall{
					ID:        id,
					Name:      name,
					Arguments: string(decodeDocument(v.Value.Input)),
				})
			}
		}
	}
	if text != "" {
		resp.Text = &text
	}
	if usage := output.Usage; usage != nil {
		resp.Usage = provider.Usage{
			InputTokens:  int(ptrValue(usage.InputTokens)),
			OutputTokens: int(ptrValue(usage.OutputTokens)),
			TotalTokens:  int(ptrValue(usage.TotalTokens)),
		}
	}
	resp.FinishReason = translateStopReason(string(output.StopReason))
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
	case "content_filtered":
		return provider.FinishContentFilter
	default:
		return provider.FinishStop
	}
}

func decodeDocument(doc document.Interface) json.RawMessage {
	if doc == nil {
		return nil
	}
	var raw json.RawMessage
	if err := doc.UnmarshalSmithyDocument(&raw); err != nil {
		return nil
	}
	return raw
}

func lazyDocument(v any) document.Interface {
	return document.NewLazyDocument(&v)
}

func ptrValue[T ~int32 | ~int64](ptr *T) T {
	if ptr == nil {
		var zero T
		return zero
	}
	return *ptr
}

func (a *Adapter) classify(err error) error {
	if isRateLimited(err) {
		return provider.NewTransportError(a.Name(), "converse", 429, provider.ErrorKindRateLimited, "", err.Error(), "", true, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return provider.NewTransportError(a.Name(), "converse", 0, provider.ErrorKindUnavailable, apiErr.ErrorCode(), apiErr.ErrorMessage(), "", true, err)
	}
	return provider.NewTransportError(a.Name(), "converse", 0, provider.ErrorKindUnknown, "", err.Error(), "", false, err)
}

func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 429 {
		return true
	}
	return false
}
