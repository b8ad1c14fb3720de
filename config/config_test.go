package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.True(t, cfg.Degradation)
	require.True(t, cfg.StoreArtifacts)
	require.Empty(t, cfg.Models)
}

func TestLoadYAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "council.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
roles_dir: /etc/council/roles
schema_dir: /etc/council/schemas
max_retries: 5
models:
  fast: gpt-4o-mini
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/etc/council/roles", cfg.RolesDir)
	require.Equal(t, 5, cfg.MaxRetries)
	require.Equal(t, "gpt-4o-mini", cfg.Models["fast"])
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "council.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_retries: 2\n"), 0o644))

	t.Setenv("COUNCIL_MAX_RETRIES", "7")
	t.Setenv("COUNCIL_MODEL_CRITIC", "claude-opus-4")
	t.Setenv("ANTHROPIC_API_KEY", "test-key")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 7, cfg.MaxRetries)
	require.Equal(t, "claude-opus-4", cfg.Models["critic"])
	require.Equal(t, "test-key", cfg.ProviderAPIKeys["anthropic"])
}

func TestLoadMissingFileIsNotError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.NotNil(t, cfg)
}

func TestModelPackDefaults(t *testing.T) {
	cfg := &Config{Models: map[string]string{"fast": "gpt-4o-mini"}}
	defaults := cfg.ModelPackDefaults()
	require.Equal(t, "gpt-4o-mini", defaults["fast"])
}

func TestEnvDurationParsing(t *testing.T) {
	t.Setenv("COUNCIL_CALL_DEADLINE", "45s")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 45*time.Second, cfg.CallDeadline)
}
