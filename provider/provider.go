// Package provider defines the uniform contract over heterogeneous LLM
// backends (HTTP-REST APIs, vendor SDKs). Concrete adapters under
// provider/anthropic, provider/openai, provider/bedrock, provider/gemini,
// and provider/gateway translate this canonical Request/Response shape into
// their backend's native call and translate results back.
package provider

import (
	"context"
	"errors"
)

type (
	// Role identifies the speaker for a message in a Request transcript.
	Role string

	// Message is a single chat message in a Request transcript.
	Message struct {
		// Role identifies the speaker.
		Role Role

		// Content is the message text.
		Content string
	}

	// EffortLevel selects a reasoning effort tier for effort-style backends
	// (for example OpenAI's reasoning.effort).
	EffortLevel string

	// ThinkingLevel selects a reasoning depth tier for thinking-level-style
	// backends (for example Gemini's thinking_level).
	ThinkingLevel string

	// ReasoningConfig requests provider reasoning/thinking behavior. Exactly
	// one of Effort, BudgetTokens, or ThinkingLevel is meaningful to a given
	// adapter; adapters translate whichever field matches their backend and
	// ignore the rest.
	ReasoningConfig struct {
		// Enabled turns reasoning on when the backend supports it.
		Enabled bool

		// Effort selects an effort tier for effort-style backends.
		Effort EffortLevel

		// BudgetTokens caps thinking tokens for token-budget-style backends.
		// It is not clamped: the Anthropic adapter rejects a budget below
		// 1024 or not below the output-token cap with an error, and the
		// Bedrock adapter forwards it unchanged on streaming calls only.
		BudgetTokens int

		// ThinkingLevel selects a depth tier for thinking-level-style
		// backends.
		ThinkingLevel ThinkingLevel
	}

	// StructuredOutput requests that the response body validate against a
	// canonical JSON Schema. Adapters place Schema into their backend's
	// structured-output field as given; schema.Transform is not applied on
	// this path.
	StructuredOutput struct {
		// Schema is the canonical JSON Schema, sent to the backend as given.
		Schema map[string]any

		// Name identifies the output shape to the backend (OpenAI-family
		// APIs require a name alongside the schema).
		Name string

		// Strict requests schema-enforced structured output. Only the OpenAI
		// adapter reads it, as the json_schema strict flag; the other
		// adapters ignore it, and no adapter falls back to a JSON-mode
		// request when it is false.
		Strict bool
	}

	// ToolCall is a parsed tool invocation emitted by the model, present
	// only for backends/models that support tool use and when the request
	// elicited one.
	ToolCall struct {
		ID        string
		Name      string
		Arguments string
	}

	// Request captures the inputs to a single model invocation.
	Request struct {
		// Messages is the ordered transcript provided to the model.
		Messages []Message

		// Model is the provider-specific model identifier. The orchestrator
		// fills it from per-call overrides, then the role's override for this
		// provider; when it is still empty the adapter uses its default.
		Model string

		// MaxOutputTokens caps the number of output tokens when supported.
		MaxOutputTokens int

		// Temperature controls sampling. Must be in [0.0, 2.0]; values
		// outside that range are a configuration error raised by the
		// caller before the adapter is invoked.
		Temperature float64

		// Stream requests streaming responses when true and supported.
		Stream bool

		// Structured optionally requests schema-validated structured
		// output.
		Structured *StructuredOutput

		// Reasoning optionally configures reasoning/thinking behavior.
		Reasoning *ReasoningConfig

		// ResponseFormat carries a legacy opaque response-format value for
		// callers that bypass StructuredOutput. No adapter reads it; it is
		// not sent to any backend.
		ResponseFormat any
	}

	// FinishReason records why generation stopped.
	FinishReason string

	// Usage tracks token counts for a single call.
	Usage struct {
		InputTokens  int
		OutputTokens int
		TotalTokens  int
	}

	// Response is the result of a non-streaming invocation.
	Response struct {
		// Text is the response text, nil when the response is purely
		// structured/tool-call content.
		Text *string

		// Raw is the raw response content as returned by the backend
		// (may equal *Text for simple text backends).
		Raw string

		// ToolCalls holds any parsed tool invocations requested by the
		// model.
		ToolCalls []ToolCall

		// Usage reports token consumption for the request.
		Usage Usage

		// Model records the model identifier that actually served the
		// request.
		Model string

		// FinishReason records why generation stopped.
		FinishReason FinishReason

		// RawPayload carries the raw provider payload for audit.
		RawPayload any
	}

	// StreamChunk is a single streaming event from the model.
	StreamChunk struct {
		// TextDelta carries incremental text for this chunk.
		TextDelta string

		// FinishReason is set on the terminal chunk.
		FinishReason FinishReason
	}

	// Streamer delivers incremental model output. Callers must drain Recv
	// until io.EOF (or another terminal error) and then call Close.
	Streamer interface {
		Recv() (StreamChunk, error)
		Close() error
	}

	// CapabilityDescriptor reports the static capabilities of an adapter.
	CapabilityDescriptor struct {
		Streaming        bool
		ToolUse          bool
		StructuredOutput bool
		Multimodal       bool
		MaxOutputTokens  int
	}

	// DoctorReport is the result of a health probe.
	DoctorReport struct {
		OK        bool
		Message   string
		LatencyMS int64
		Details   map[string]any
	}

	// Adapter is the uniform contract every provider family implements.
	Adapter interface {
		// Name returns a stable provider identifier (for example
		// "anthropic").
		Name() string

		// Capabilities reports static capabilities for this adapter.
		Capabilities() CapabilityDescriptor

		// Generate performs a non-streaming model invocation.
		Generate(ctx context.Context, req Request) (*Response, error)

		// Stream performs a streaming model invocation when supported. It
		// returns ErrStreamingUnsupported when the adapter cannot stream.
		Stream(ctx context.Context, req Request) (Streamer, error)

		// Supports reports whether the named capability is available.
		// Recognized names: "streaming", "tool_use", "structured_output",
		// "multimodal".
		Supports(capability string) bool

		// SupportsModel reports whether modelID is one this adapter can
		// serve, by exact id or family prefix match. An adapter with no
		// configured model allowlist accepts any model identifier.
		SupportsModel(modelID string) bool

		// Doctor performs a bounded-timeout health probe. It is
		// side-effect-free modulo network.
		Doctor(ctx context.Context) (DoctorReport, error)
	}
)

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const (
	EffortLow    EffortLevel = "low"
	EffortMedium EffortLevel = "medium"
	EffortHigh   EffortLevel = "high"
)

const (
	ThinkingMinimal ThinkingLevel = "minimal"
	ThinkingLow     ThinkingLevel = "low"
	ThinkingMedium  ThinkingLevel = "medium"
	ThinkingHigh    ThinkingLevel = "high"
)

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishError         FinishReason = "error"
)

// ErrStreamingUnsupported indicates the adapter does not support streaming.
var ErrStreamingUnsupported = errors.New("provider: streaming not supported")

// ErrRateLimited indicates the provider rejected the request due to rate
// limiting. Callers must not retry in a tight loop; the orchestrator treats
// this as a per-provider draft failure.
var ErrRateLimited = errors.New("provider: rate limited")
