// Package roles loads role definitions (system prompt, mode variants,
// schema reference, provider/model/reasoning preferences) and resolves
// deprecated aliases to canonical roles with modes, per spec §4.4.
package roles

import (
	"fmt"

	"goa.design/council/provider"
)

// councilProtocol is appended to every role's composed system prompt. It
// establishes the ground rules every subagent operates under regardless of
// mode: equal standing among drafts, constructive dissent during critique,
// PASS when a critic has nothing to add, collaborative rivalry rather than
// point-scoring, and a requirement that claims be backed by evidence from
// the task or the drafts under review.
const councilProtocol = `
You are one voice in a council of independent collaborators working the same
task. No draft or participant outranks another by default; synthesis weighs
arguments, not authorship. When asked to critique, find genuine flaws in
ideas, never in who proposed them; if a draft has nothing worth challenging,
say PASS rather than manufacture a disagreement. Treat the other
participants as rivals you are trying to out-reason, not opponents to
dismiss. Every claim you make must be traceable to the task description or
to something actually present in the drafts under discussion.`

// ProviderPreference captures a role's preferred/fallback/exclude provider
// lists, consumed by provider.Registry.Resolve.
type ProviderPreference struct {
	Preferred []string `yaml:"preferred"`
	Fallback  []string `yaml:"fallback"`
	Exclude   []string `yaml:"exclude"`
}

// Reasoning captures a role's reasoning-budget preferences. Enabled gates
// whether reasoning is requested at all; at most one of Effort,
// BudgetTokens, or ThinkingLevel is meaningful for a given resolved
// provider, mirroring provider.ReasoningConfig.
type Reasoning struct {
	Enabled       bool                   `yaml:"enabled"`
	Effort        provider.EffortLevel   `yaml:"effort"`
	BudgetTokens  int                    `yaml:"budget_tokens"`
	ThinkingLevel provider.ThinkingLevel `yaml:"thinking_level"`
}

// Role is a named configuration selecting prompt, schema, and provider
// behavior for a council invocation.
type Role struct {
	// Name is the canonical role identifier.
	Name string `yaml:"name"`

	// ModelPack tags the role with a model-pack role-tag (fast, reasoning,
	// code, critic) used to resolve a default model when no per-provider
	// override applies.
	ModelPack string `yaml:"model_pack"`

	// Providers lists the role's provider preferences.
	Providers ProviderPreference `yaml:"providers"`

	// Models maps provider name to a per-role model override.
	Models map[string]string `yaml:"models"`

	// Reasoning configures the role's default reasoning budget.
	Reasoning Reasoning `yaml:"reasoning"`

	// SystemPrompt is the base system prompt text for this role.
	SystemPrompt string `yaml:"system_prompt"`

	// Modes maps a mode name to the prompt fragment appended to
	// SystemPrompt when that mode is requested.
	Modes map[string]string `yaml:"modes"`

	// SchemaRef names the schema file (without extension) that this
	// role's synthesis output must validate against.
	SchemaRef string `yaml:"schema"`

	// CostPer1K weights input/output token costs for this role's result
	// cost estimate, per spec §4.6 ("sum per-call input+output tokens
	// times the role's cost-per-1k weights").
	CostPer1K CostWeights `yaml:"cost_per_1k"`
}

// CostWeights prices one thousand input or output tokens in USD for a
// role's cost estimate. Zero weights (the default) make estimated cost
// zero rather than fail the run.
type CostWeights struct {
	InputUSD  float64 `yaml:"input_usd"`
	OutputUSD float64 `yaml:"output_usd"`
}

// Alias maps a deprecated legacy role name to a canonical role and the mode
// baked into that alias.
type Alias struct {
	Canonical string `yaml:"canonical"`
	Mode      string `yaml:"mode"`
}

// UnknownModeError reports that a mode was requested that the target role
// does not recognize.
type UnknownModeError struct {
	Role string
	Mode string
}

func (e *UnknownModeError) Error() string {
	return fmt.Sprintf("roles: role %q has no mode %q", e.Role, e.Mode)
}

// UnknownRoleError reports that neither a canonical role nor an alias
// matched the requested name.
type UnknownRoleError struct {
	Name string
}

func (e *UnknownRoleError) Error() string {
	return fmt.Sprintf("roles: unknown role %q", e.Name)
}

// ComposeSystemPrompt concatenates the role's base prompt, the mode-specific
// fragment (when mode is non-empty), and the council protocol text, per
// spec §4.4: "Mode composes the system prompt ... by string concatenation
// of a base plus a fragment, not by overriding behavior."
func (r *Role) ComposeSystemPrompt(mode string) (string, error) {
	prompt := r.SystemPrompt
	if mode != "" {
		fragment, ok := r.Modes[mode]
		if !ok {
			return "", &UnknownModeError{Role: r.Name, Mode: mode}
		}
		prompt = prompt + "\n\n" + fragment
	}
	return prompt + "\n" + councilProtocol, nil
}
