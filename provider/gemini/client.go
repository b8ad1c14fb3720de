// Package gemini adapts the Google Gemini API to provider.Adapter, using
// google.golang.org/genai.
package gemini

import (
	"context"
	"errors"
	"time"

	"google.golang.org/genai"

	"goa.design/council/provider"
)

// Options configures adapter defaults.
type Options struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float32
}

// Adapter implements provider.Adapter on top of the Gemini GenerateContent
// API.
type Adapter struct {
	client *genai.Client
	opts   Options
	models provider.ModelSet
}

// New builds an Adapter from a configured genai.Client.
func New(client *genai.Client, opts Options, models provider.ModelSet) (*Adapter, error) {
	if client == nil {
		return nil, errors.New("gemini: client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("gemini: default model identifier is required")
	}
	return &Adapter{client: client, opts: opts, models: models}, nil
}

// NewFromAPIKey builds an Adapter from GEMINI_API_KEY or GOOGLE_API_KEY.
func NewFromAPIKey(ctx context.Context, apiKey string, opts Options, models provider.ModelSet) (*Adapter, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, err
	}
	return New(client, opts, models)
}

func (a *Adapter) Name() string { return "gemini" }

func (a *Adapter) Capabilities() provider.CapabilityDescriptor {
	return provider.CapabilityDescriptor{
		Streaming:        true,
		ToolUse:          true,
		StructuredOutput: true,
		Multimodal:       true,
		MaxOutputTokens:  a.opts.MaxTokens,
	}
}

func (a *Adapter) Supports(capability string) bool {
	switch capability {
	case "streaming", "tool_use", "structured_output", "multimodal":
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
	temp := float32(0)
	_, err := a.client.Models.GenerateContent(ctx, a.resolveModel(""),
		[]*genai.Content{genai.NewContentFromText("ping", genai.RoleUser)},
		&genai.GenerateContentConfig{Temperature: &temp, MaxOutputTokens: 1},
	)
	latency := time.Since(start)
	if err != nil {
		return provider.DoctorReport{OK: false, Message: err.Error(), LatencyMS: latency.Milliseconds()}, nil
	}
	return provider.DoctorReport{OK: true, Message: "ok", LatencyMS: latency.Milliseconds()}, nil
}

func (a *Adapter) Generate(ctx context.Context, req provider.Request) (*provider.Response, error) {
	contents, config, err := a.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Models.GenerateContent(ctx, a.resolveModel(req.Model), contents, config)
	if err != nil {
		return nil, a.classify(err)
	}
	return translateResponse(resp), nil
}

func (a *Adapter) Stream(ctx context.Context, req provider.Request) (provider.Streamer, error) {
	contents, config, err := a.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	seq := a.client.Models.GenerateContentStream(ctx, a.resolveModel(req.Model), contents, config)
	return newStreamer(ctx, seq), nil
}

func (a *Adapter) resolveModel(requested string) string {
	if requested != "" {
		return requested
	}
	return a.opts.DefaultModel
}

func (a *Adapter) prepareRequest(req provider.Request) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	if len(req.Messages) == 0 {
		return nil, nil, errors.New("gemini: messages are required")
	}
	contents, systemText := encodeMessages(req.Messages)
	if len(contents) == 0 {
		return nil, nil, errors.New("gemini: at least one user/model message is required")
	}

	config := &genai.GenerateContentConfig{}
	if systemText != "" {
		config.SystemInstruction = genai.NewContentFromText(systemText, genai.RoleUser)
	}
	if maxTokens := req.MaxOutputTokens; maxTokens > 0 {
		config.MaxOutputTokens = int32(maxTokens)
	} else if a.opts.MaxTokens > 0 {
		config.MaxOutputTokens = int32(a.opts.MaxTokens)
	}
	temp := float32(req.Temperature)
	if temp <= 0 {
		temp = a.opts.Temperature
	}
	if temp > 0 {
		config.Temperature = &temp
	}
	if req.Reasoning != nil && req.Reasoning.Enabled && req.Reasoning.ThinkingLevel != "" {
		config.ThinkingConfig = &genai.ThinkingConfig{
			ThinkingLevel: genai.ThinkingLevel(req.Reasoning.ThinkingLevel),
		}
	}
	if req.Structured != nil {
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = schemaFromMap(req.Structured.Schema)
	}
	return contents, config, nil
}

func encodeMessages(msgs []provider.Message) ([]*genai.Content, string) {
	var system string
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		if m.Content == "" {
			continue
		}
		switch m.Role {
		case provider.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case provider.RoleUser:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		case provider.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		}
	}
	return contents, system
}

// schemaFromMap translates a canonical JSON Schema into a *genai.Schema.
// Only the subset Gemini documents (type/properties/items/required/
// description/enum) is copied; every other key is dropped.
func schemaFromMap(m map[string]any) *genai.Schema {
	if m == nil {
		return nil
	}
	s := &genai.Schema{}
	if t, ok := m["type"].(string); ok {
		s.Type = geminiType(t)
	}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, v := range props {
			if pm, ok := v.(map[string]any); ok {
				s.Properties[name] = schemaFromMap(pm)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		s.Items = schemaFromMap(items)
	}
	if req, ok := m["required"].([]any); ok {
		for _, r := range req {
			if name, ok := r.(string); ok {
				s.Required = append(s.Required, name)
			}
		}
	}
	if enumVals, ok := m["enum"].([]any); ok {
		for _, v := range enumVals {
			if str, ok := v.(string); ok {
				s.Enum = append(s.Enum, str)
			}
		}
	}
	return s
}

func geminiType(t string) genai.Type {
	switch t {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}

func translateResponse(resp *genai.GenerateContentResponse) *provider.Response {
	out := &provider.Response{}
	if len(resp.Candidates) == 0 {
		return out
	}
	candidate := resp.Candidates[0]
	var text string
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				text += part.Text
			}
			if part.FunctionCall != nil {
				out.ToolCalls = append(out.ToolCalls, provider.ToolCall{
					Name: part.FunctionCall.Name,
				})
			}
		}
	}
	if text != "" {
		out.Text = &text
	}
	if resp.UsageMetadata != nil {
		out.Usage = provider.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	out.FinishReason = translateFinishReason(string(candidate.FinishReason))
	return out
}

func translateFinishReason(reason string) provider.FinishReason {
	switch reason {
	case "STOP":
		return provider.FinishStop
	case "MAX_TOKENS":
		return provider.FinishLength
	case "SAFETY", "RECITATION":
		return provider.FinishContentFilter
	default:
		return provider.FinishStop
	}
}

func (a *Adapter) classify(err error) error {
	return provider.NewTransportError(a.Name(), "models.generateContent", 0, provider.ErrorKindUnknown, "", err.Error(), "", false, err)
}
