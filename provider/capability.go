package provider

import "strings"

// ModelSet classifies model identifiers into a capability tier using both
// exact membership and prefix matching, so dated model ids (for example
// "claude-opus-4-20250514") resolve against a family prefix
// ("claude-opus-4") without an exhaustive exact list.
type ModelSet struct {
	exact    map[string]bool
	prefixes []string
}

// NewModelSet builds a ModelSet from explicit model ids and family prefixes.
func NewModelSet(exact []string, prefixes []string) ModelSet {
	m := make(map[string]bool, len(exact))
	for _, id := range exact {
		m[id] = true
	}
	return ModelSet{exact: m, prefixes: prefixes}
}

// Contains reports whether modelID belongs to the set, by exact match first
// and then by a match against any family prefix.
func (s ModelSet) Contains(modelID string) bool {
	if s.exact[modelID] {
		return true
	}
	for _, p := range s.prefixes {
		if strings.HasPrefix(modelID, p) {
			return true
		}
	}
	return false
}

// Empty reports whether the set has no exact ids and no prefixes, meaning
// the adapter was not configured with a model allowlist and should accept
// any model identifier.
func (s ModelSet) Empty() bool {
	return len(s.exact) == 0 && len(s.prefixes) == 0
}
