package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidationError is one concise, machine-attributable schema violation.
// Synthesis retry prompts embed a list of these rather than the compiler's
// verbose nested error tree.
type ValidationError struct {
	// InstanceLocation is the JSON Pointer into the validated document.
	// Validate leaves it empty; the location appears within Message.
	InstanceLocation string

	// Message describes the violation in a single line.
	Message string
}

// Validate parses raw as JSON and validates it against the canonical
// (untransformed) schema. It never mutates canonical. A response that is
// not JSON, or a canonical schema that does not compile, is reported through
// parseErr with a nil errs slice, so callers can distinguish "not JSON" from
// "schema mismatch" by which return value is set.
func Validate(canonical map[string]any, raw []byte) (valid bool, errs []ValidationError, parseErr error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false, nil, fmt.Errorf("schema: response is not valid JSON: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("council://schema.json", canonical); err != nil {
		return false, nil, fmt.Errorf("schema: invalid canonical schema: %w", err)
	}
	compiled, err := compiler.Compile("council://schema.json")
	if err != nil {
		return false, nil, fmt.Errorf("schema: compile canonical schema: %w", err)
	}

	if err := compiled.Validate(doc); err != nil {
		return false, flattenValidationError(err), nil
	}
	return true, nil, nil
}

// flattenValidationError converts the compiler's validation error into a
// concise, flat list suitable for embedding in a retry prompt. The v6
// compiler's *jsonschema.ValidationError.Error() already renders a
// newline-separated, leaf-first list of violations; this just carries each
// line as its own entry so callers can count or cap them independently of
// exact string formatting.
func flattenValidationError(err error) []ValidationError {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []ValidationError{{Message: err.Error()}}
	}
	lines := strings.Split(strings.TrimSpace(ve.Error()), "\n")
	out := make([]ValidationError, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, ValidationError{Message: line})
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error()})
	}
	return out
}

// SummarizeErrors renders errs as a concise bullet list for a synthesis
// retry prompt.
func SummarizeErrors(errs []ValidationError) string {
	out := ""
	for _, e := range errs {
		loc := e.InstanceLocation
		if loc == "" {
			loc = "(root)"
		}
		out += fmt.Sprintf("- %s: %s\n", loc, e.Message)
	}
	return out
}
