package roles

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	reg := NewRegistry(nil)
	reg.AddRole(&Role{
		Name:         "drafter",
		SystemPrompt: "You draft implementation plans.",
		Modes: map[string]string{
			"impl": "Focus on a concrete implementation.",
			"arch": "Focus on architecture tradeoffs.",
		},
	})
	reg.AddAlias("implementer", Alias{Canonical: "drafter", Mode: "impl"})
	return reg
}

func TestResolveCanonicalRole(t *testing.T) {
	reg := newTestRegistry()
	role, mode, err := reg.Resolve(context.Background(), "drafter", "arch")
	require.NoError(t, err)
	require.Equal(t, "drafter", role.Name)
	require.Equal(t, "arch", mode)
}

func TestResolveUnknownMode(t *testing.T) {
	reg := newTestRegistry()
	_, _, err := reg.Resolve(context.Background(), "drafter", "nonexistent")
	require.Error(t, err)
	var ume *UnknownModeError
	require.ErrorAs(t, err, &ume)
}

func TestResolveAliasMatchesCanonicalWithMode(t *testing.T) {
	reg := newTestRegistry()

	aliasRole, aliasMode, err := reg.Resolve(context.Background(), "implementer", "")
	require.NoError(t, err)

	canonicalRole, canonicalMode, err := reg.Resolve(context.Background(), "drafter", "impl")
	require.NoError(t, err)

	require.Equal(t, canonicalRole.Name, aliasRole.Name)
	require.Equal(t, canonicalMode, aliasMode)
}

func TestResolveUnknownRole(t *testing.T) {
	reg := newTestRegistry()
	_, _, err := reg.Resolve(context.Background(), "nonexistent", "")
	require.Error(t, err)
	var ure *UnknownRoleError
	require.ErrorAs(t, err, &ure)
}

func TestComposeSystemPromptConcatenatesBaseFragmentAndProtocol(t *testing.T) {
	reg := newTestRegistry()
	role, _, err := reg.Resolve(context.Background(), "drafter", "impl")
	require.NoError(t, err)

	prompt, err := role.ComposeSystemPrompt("impl")
	require.NoError(t, err)
	require.Contains(t, prompt, "You draft implementation plans.")
	require.Contains(t, prompt, "Focus on a concrete implementation.")
	require.Contains(t, prompt, "council of independent collaborators")
}

func TestComposeSystemPromptRejectsUnknownMode(t *testing.T) {
	reg := newTestRegistry()
	role, _, err := reg.Resolve(context.Background(), "drafter", "")
	require.NoError(t, err)

	_, err = role.ComposeSystemPrompt("missing")
	require.Error(t, err)
}
