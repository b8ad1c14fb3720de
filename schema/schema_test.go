package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleSchema() map[string]any {
	return map[string]any{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type":    "object",
		"title":   "Result",
		"properties": map[string]any{
			"summary": map[string]any{"type": "string", "format": "uuid"},
			"score":   map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			"title":   map[string]any{"type": "string"},
			"tags": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string", "format": "ipv4"},
			},
		},
	}
}

func TestTransformOpenAIStrictMode(t *testing.T) {
	out := Transform(sampleSchema(), VariantOpenAI)

	require.Equal(t, false, out["additionalProperties"])
	required, ok := out["required"].([]any)
	require.True(t, ok)
	require.ElementsMatch(t, []any{"summary", "score", "title", "tags"}, required)

	props := out["properties"].(map[string]any)
	summary := props["summary"].(map[string]any)
	require.Equal(t, "uuid", summary["format"], "uuid is an allowed format and must survive")

	score := props["score"].(map[string]any)
	_, hasMinimum := score["minimum"]
	require.True(t, hasMinimum, "openai transform does not strip numeric bounds")

	tags := props["tags"].(map[string]any)
	items := tags["items"].(map[string]any)
	require.Equal(t, "ipv4", items["format"], "ipv4 is an allowed format and must survive")
}

func TestTransformOpenAIStripsUnsupportedFormat(t *testing.T) {
	s := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id": map[string]any{"type": "string", "format": "bespoke-thing"},
		},
	}
	out := Transform(s, VariantOpenAI)
	props := out["properties"].(map[string]any)
	id := props["id"].(map[string]any)
	_, hasFormat := id["format"]
	require.False(t, hasFormat)
}

func TestTransformClaudeStripsSchemaMeta(t *testing.T) {
	out := Transform(sampleSchema(), VariantClaude)
	_, hasSchema := out["$schema"]
	require.False(t, hasSchema)
	require.Equal(t, "Result", out["title"], "claude variant keeps title")
}

func TestTransformGeminiStripsMetaButKeepsTitleProperty(t *testing.T) {
	out := Transform(sampleSchema(), VariantGemini)
	_, hasTitle := out["title"]
	require.False(t, hasTitle, "schema-level title is stripped")
	_, hasSchema := out["$schema"]
	require.False(t, hasSchema)

	props := out["properties"].(map[string]any)
	_, hasTitleProp := props["title"]
	require.True(t, hasTitleProp, "a property literally named title must survive")

	score := props["score"].(map[string]any)
	_, hasMinimum := score["minimum"]
	require.False(t, hasMinimum)
}

func TestTransformIsDeterministic(t *testing.T) {
	canonical := sampleSchema()
	a := Transform(canonical, VariantOpenAI)
	b := Transform(canonical, VariantOpenAI)
	aBytes, err := json.Marshal(a)
	require.NoError(t, err)
	bBytes, err := json.Marshal(b)
	require.NoError(t, err)
	require.Equal(t, string(aBytes), string(bBytes))
}

func TestTransformDoesNotMutateInput(t *testing.T) {
	canonical := sampleSchema()
	_ = Transform(canonical, VariantGemini)
	_, stillHasSchema := canonical["$schema"]
	require.True(t, stillHasSchema, "Transform must not mutate its input")
}

func TestValidateRejectsMalformedJSON(t *testing.T) {
	valid, _, err := Validate(sampleSchema(), []byte("{not json"))
	require.Error(t, err)
	require.False(t, valid)
}

func TestValidateReportsConciseErrors(t *testing.T) {
	s := map[string]any{
		"type":                 "object",
		"required":             []any{"summary"},
		"additionalProperties": false,
		"properties": map[string]any{
			"summary": map[string]any{"type": "string"},
		},
	}
	valid, errs, err := Validate(s, []byte(`{"other": 1}`))
	require.NoError(t, err)
	require.False(t, valid)
	require.NotEmpty(t, errs)
}

func TestValidateAcceptsConformingDocument(t *testing.T) {
	s := map[string]any{
		"type":     "object",
		"required": []any{"summary"},
		"properties": map[string]any{
			"summary": map[string]any{"type": "string"},
		},
	}
	valid, errs, err := Validate(s, []byte(`{"summary": "ok"}`))
	require.NoError(t, err)
	require.True(t, valid)
	require.Empty(t, errs)
}
