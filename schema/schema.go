// Package schema converts a canonical JSON Schema into each provider
// family's structured-output dialect and validates responses against the
// canonical form. Transformation is a pure function of (canonical schema,
// target variant); it has no I/O so it is exhaustively unit-testable
// separately from the adapters.
package schema

// Variant identifies a provider family's structured-output schema dialect.
type Variant string

const (
	// VariantOpenAI is the strict-mode dialect used by OpenAI-compatible
	// structured-output APIs (response_format.json_schema).
	VariantOpenAI Variant = "openai"

	// VariantClaude is the dialect used by Claude-family structured
	// output (output_format.schema).
	VariantClaude Variant = "claude"

	// VariantGemini is the dialect used by Gemini-family structured
	// output (generation_config.response_schema).
	VariantGemini Variant = "gemini"
)

// openAIAllowedFormats lists the "format" values passed through unchanged by
// the OpenAI strict-mode transform; all others are stripped.
var openAIAllowedFormats = map[string]bool{
	"date-time": true,
	"time":      true,
	"date":      true,
	"duration":  true,
	"email":     true,
	"hostname":  true,
	"ipv4":      true,
	"ipv6":      true,
	"uuid":      true,
}

// geminiStrippedKeys lists the meta fields removed recursively by the Gemini
// transform. "title" is handled separately because it must survive when it
// names a property rather than annotating a schema node.
var geminiStrippedKeys = []string{
	"additionalProperties", "default", "examples",
	"minLength", "maxLength", "minimum", "maximum", "pattern", "format",
	"minItems", "maxItems", "uniqueItems", "$schema",
}

// Transform converts canonical into the dialect for the given provider
// family. canonical is never mutated; Transform returns a fresh deep copy.
func Transform(canonical map[string]any, variant Variant) map[string]any {
	cp := deepCopyObject(canonical)
	switch variant {
	case VariantOpenAI:
		transformOpenAI(cp)
	case VariantClaude:
		transformClaude(cp)
	case VariantGemini:
		transformGemini(cp, true)
	}
	return cp
}

// transformOpenAI applies the OpenAI strict-mode variant in place:
// additionalProperties: false and "all properties required" on every object
// schema, recursively through nested objects and arrays of objects, plus
// format stripping.
func transformOpenAI(node map[string]any) {
	stripUnsupportedFormat(node, openAIAllowedFormats)

	if typ, _ := node["type"].(string); typ == "object" || node["properties"] != nil {
		node["additionalProperties"] = false
		if props, ok := node["properties"].(map[string]any); ok {
			required := make([]string, 0, len(props))
			for name := range props {
				required = append(required, name)
			}
			sortStrings(required)
			node["required"] = toAnySlice(required)
			for _, v := range props {
				if child, ok := v.(map[string]any); ok {
					transformOpenAI(child)
				}
			}
		}
	}
	if items, ok := node["items"].(map[string]any); ok {
		transformOpenAI(items)
	}
	for _, key := range []string{"anyOf", "oneOf", "allOf"} {
		if list, ok := node[key].([]any); ok {
			for _, entry := range list {
				if child, ok := entry.(map[string]any); ok {
					transformOpenAI(child)
				}
			}
		}
	}
}

func stripUnsupportedFormat(node map[string]any, allowed map[string]bool) {
	if f, ok := node["format"].(string); ok && !allowed[f] {
		delete(node, "format")
	}
}

// transformClaude strips the $schema meta field; the caller is responsible
// for wrapping the result under output_format.schema with the beta header.
func transformClaude(node map[string]any) {
	delete(node, "$schema")
	walkObjects(node, func(n map[string]any) {
		delete(n, "$schema")
	})
}

// transformGemini strips the meta fields Gemini's structured-output API
// rejects, recursively. atSchemaLevel distinguishes a schema node's own
// "title" annotation (stripped) from a property literally named "title"
// (kept, since it is a key inside "properties", not a top-level annotation).
func transformGemini(node map[string]any, atSchemaLevel bool) {
	if atSchemaLevel {
		delete(node, "title")
	}
	for _, key := range geminiStrippedKeys {
		delete(node, key)
	}
	if props, ok := node["properties"].(map[string]any); ok {
		for _, v := range props {
			if child, ok := v.(map[string]any); ok {
				transformGemini(child, true)
			}
		}
	}
	if items, ok := node["items"].(map[string]any); ok {
		transformGemini(items, true)
	}
	for _, key := range []string{"anyOf", "oneOf", "allOf"} {
		if list, ok := node[key].([]any); ok {
			for _, entry := range list {
				if child, ok := entry.(map[string]any); ok {
					transformGemini(child, true)
				}
			}
		}
	}
}

func walkObjects(node map[string]any, fn func(map[string]any)) {
	fn(node)
	if props, ok := node["properties"].(map[string]any); ok {
		for _, v := range props {
			if child, ok := v.(map[string]any); ok {
				walkObjects(child, fn)
			}
		}
	}
	if items, ok := node["items"].(map[string]any); ok {
		walkObjects(items, fn)
	}
}

func deepCopyObject(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = deepCopyValue(v)
	}
	return dst
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyObject(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}

func toAnySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
