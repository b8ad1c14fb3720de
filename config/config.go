// Package config loads the typed Config consumed by council.New: provider
// API keys, per-tag model overrides, artifact store root, and deliberation
// timeouts, read from COUNCIL_* environment variables and an optional YAML
// overlay file, per spec §6.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"goa.design/council/roles"
)

// Config is the external configuration surface the core reads; it is not
// the CLI's configuration, only the seam a front-end would call into.
type Config struct {
	// RolesDir holds one YAML file per canonical role plus an optional
	// aliases.yaml, consumed by roles.LoadDir.
	RolesDir string `yaml:"roles_dir"`

	// SchemaDir holds canonical JSON Schema files indexed by role name.
	SchemaDir string `yaml:"schema_dir"`

	// ArtifactStoreRoot is the filesystem root for the SQLite-backed
	// artifact store (index.db plus a blobs/ directory). Empty selects
	// the in-memory store instead.
	ArtifactStoreRoot string `yaml:"artifact_store_root"`

	// RunStoreDSN is the SQLite DSN for the run ledger. Empty selects the
	// in-memory store instead.
	RunStoreDSN string `yaml:"run_store_dsn"`

	// Models carries the model-pack defaults, keyed by tag name (fast,
	// reasoning, code, critic).
	Models map[string]string `yaml:"models"`

	// ProviderAPIKeys maps provider name to its API key, populated from
	// <PROVIDER>_API_KEY environment variables (for example
	// ANTHROPIC_API_KEY, OPENAI_API_KEY).
	ProviderAPIKeys map[string]string `yaml:"-"`

	CallDeadline   time.Duration `yaml:"call_deadline"`
	GlobalDeadline time.Duration `yaml:"global_deadline"`
	MaxRetries     int           `yaml:"max_retries"`
	Strict         bool          `yaml:"strict"`
	Degradation    bool          `yaml:"degradation"`
	StoreArtifacts bool          `yaml:"store_artifacts"`
}

// knownProviders lists the provider names whose API key environment
// variable Load checks for, per spec §6's "provider API keys (*_API_KEY)".
var knownProviders = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"gemini":    "GEMINI_API_KEY",
	"bedrock":   "AWS_ACCESS_KEY_ID",
}

// Load builds a Config from defaults, an optional YAML file at path (when
// path is non-empty and the file exists), and finally COUNCIL_*
// environment variables, which take precedence over the file. A missing
// path is not an error; an unreadable or malformed existing file is.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Models:          make(map[string]string),
		ProviderAPIKeys: make(map[string]string),
		Degradation:     true,
		StoreArtifacts:  true,
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
			if cfg.Models == nil {
				cfg.Models = make(map[string]string)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: stat %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (cfg *Config) applyEnv() {
	cfg.RolesDir = envOr("COUNCIL_ROLES_DIR", cfg.RolesDir)
	cfg.SchemaDir = envOr("COUNCIL_SCHEMA_DIR", cfg.SchemaDir)
	cfg.ArtifactStoreRoot = envOr("COUNCIL_ARTIFACT_STORE_ROOT", cfg.ArtifactStoreRoot)
	cfg.RunStoreDSN = envOr("COUNCIL_RUN_STORE_DSN", cfg.RunStoreDSN)
	cfg.CallDeadline = envDurationOr("COUNCIL_CALL_DEADLINE", cfg.CallDeadline)
	cfg.GlobalDeadline = envDurationOr("COUNCIL_GLOBAL_DEADLINE", cfg.GlobalDeadline)
	cfg.MaxRetries = envIntOr("COUNCIL_MAX_RETRIES", cfg.MaxRetries)
	cfg.Strict = envBoolOr("COUNCIL_STRICT", cfg.Strict)
	cfg.Degradation = envBoolOr("COUNCIL_DEGRADATION", cfg.Degradation)
	cfg.StoreArtifacts = envBoolOr("COUNCIL_STORE_ARTIFACTS", cfg.StoreArtifacts)

	if all := os.Getenv("COUNCIL_MODELS"); all != "" {
		for _, tag := range []string{"fast", "reasoning", "code", "critic"} {
			cfg.Models[tag] = all
		}
	}
	for tag, envVar := range map[string]string{
		"fast":      "COUNCIL_MODEL_FAST",
		"reasoning": "COUNCIL_MODEL_REASONING",
		"code":      "COUNCIL_MODEL_CODE",
		"critic":    "COUNCIL_MODEL_CRITIC",
	} {
		if v := os.Getenv(envVar); v != "" {
			cfg.Models[tag] = v
		}
	}

	for name, envVar := range knownProviders {
		if v := os.Getenv(envVar); v != "" {
			cfg.ProviderAPIKeys[name] = v
		}
	}
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOr(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envDurationOr(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

// ModelPackDefaults converts Models into the map roles.NewModelPack expects.
// Unrecognized tag keys are passed through unchanged; ModelPack itself only
// resolves the four tags it knows about.
func (cfg *Config) ModelPackDefaults() map[roles.Tag]string {
	defaults := make(map[roles.Tag]string, len(cfg.Models))
	for tag, model := range cfg.Models {
		defaults[roles.Tag(tag)] = model
	}
	return defaults
}

func envBoolOr(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}
