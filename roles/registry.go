package roles

import (
	"context"
	"sync"

	"goa.design/council/telemetry"
)

// Registry holds loaded role definitions and the deprecated-alias table. It
// is built once at process start from explicit AddRole/AddAlias calls (or
// LoadDir) and is safe for concurrent reads thereafter.
type Registry struct {
	mu      sync.RWMutex
	roles   map[string]*Role
	aliases map[string]Alias

	warnedMu sync.Mutex
	warned   map[string]bool

	logger telemetry.Logger
}

// NewRegistry constructs an empty Registry. A nil logger defaults to a
// no-op logger.
func NewRegistry(logger telemetry.Logger) *Registry {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Registry{
		roles:   make(map[string]*Role),
		aliases: make(map[string]Alias),
		warned:  make(map[string]bool),
		logger:  logger,
	}
}

// AddRole registers a canonical role definition.
func (r *Registry) AddRole(role *Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles[role.Name] = role
}

// AddAlias registers a deprecated legacy name resolving to (canonical, mode).
func (r *Registry) AddAlias(legacyName string, alias Alias) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[legacyName] = alias
}

// Resolve implements the three-step lookup from spec §4.4:
//  1. If name is canonical, return it (mode must be empty or recognized).
//  2. If name is a deprecated alias, emit a one-time deprecation notice and
//     return the canonical role with the alias's mode baked in.
//  3. If mode was supplied but the role does not recognize it, fail.
//
// The returned mode is the effective mode to compose the prompt with:
// either the mode explicitly requested, or the alias's baked-in mode.
func (r *Registry) Resolve(ctx context.Context, name, mode string) (*Role, string, error) {
	r.mu.RLock()
	role, ok := r.roles[name]
	alias, isAlias := r.aliases[name]
	r.mu.RUnlock()

	if ok {
		if mode != "" {
			if _, known := role.Modes[mode]; !known {
				return nil, "", &UnknownModeError{Role: role.Name, Mode: mode}
			}
		}
		return role, mode, nil
	}

	if isAlias {
		r.warnDeprecated(ctx, name, alias)
		r.mu.RLock()
		canonical, ok := r.roles[alias.Canonical]
		r.mu.RUnlock()
		if !ok {
			return nil, "", &UnknownRoleError{Name: alias.Canonical}
		}
		effectiveMode := alias.Mode
		if mode != "" {
			effectiveMode = mode
		}
		if effectiveMode != "" {
			if _, known := canonical.Modes[effectiveMode]; !known {
				return nil, "", &UnknownModeError{Role: canonical.Name, Mode: effectiveMode}
			}
		}
		return canonical, effectiveMode, nil
	}

	return nil, "", &UnknownRoleError{Name: name}
}

// warnDeprecated logs the alias deprecation notice exactly once per process,
// per spec §8's round-trip property ("Deprecation warning for alias α fires
// at most once per process").
func (r *Registry) warnDeprecated(ctx context.Context, legacyName string, alias Alias) {
	r.warnedMu.Lock()
	defer r.warnedMu.Unlock()
	if r.warned[legacyName] {
		return
	}
	r.warned[legacyName] = true
	r.logger.Warn(ctx, "subagent name is deprecated",
		"alias", legacyName, "canonical_role", alias.Canonical, "mode", alias.Mode)
}
