package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestParseIdentifier(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		vendor     *string
		model      string
		preference *string
		query      map[string]string
	}{
		{
			name:       "vendor model preference and query",
			raw:        "openrouter/z-ai/glm-4.5:fireworks?think=2000",
			vendor:     strPtr("openrouter"),
			model:      "z-ai/glm-4.5",
			preference: strPtr("fireworks"),
			query:      map[string]string{"think": "2000"},
		},
		{
			name:  "bare model",
			raw:   "claude-3-5-sonnet",
			model: "claude-3-5-sonnet",
		},
		{
			name:   "vendor and model",
			raw:    "anthropic/claude-3-5-sonnet",
			vendor: strPtr("anthropic"),
			model:  "claude-3-5-sonnet",
		},
		{
			name:       "empty preference is not absent",
			raw:        "gpt-4o:",
			model:      "gpt-4o",
			preference: strPtr(""),
		},
		{
			name:       "last colon wins",
			raw:        "meta/llama:3:70b",
			vendor:     strPtr("meta"),
			model:      "llama:3",
			preference: strPtr("70b"),
		},
		{
			name:  "flag without value",
			raw:   "gpt-4o?stream&temperature=0.2",
			model: "gpt-4o",
			query: map[string]string{"stream": "true", "temperature": "0.2"},
		},
		{
			name:  "empty query",
			raw:   "gpt-4o?",
			model: "gpt-4o",
		},
		{
			name:   "consecutive slashes",
			raw:    "openrouter//model",
			vendor: strPtr("openrouter"),
			model:  "/model",
		},
		{
			name:  "value keeps later equals signs",
			raw:   "gpt-4o?note=a=b",
			model: "gpt-4o",
			query: map[string]string{"note": "a=b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := ParseIdentifier(tt.raw)
			assert.Equal(t, tt.vendor, id.Vendor)
			assert.Equal(t, tt.model, id.Model)
			assert.Equal(t, tt.preference, id.Preference)
			assert.Equal(t, tt.query, id.Query)
		})
	}
}

func TestIdentifierRoundTrip(t *testing.T) {
	raws := []string{
		"claude-3-5-sonnet",
		"anthropic/claude-3-5-sonnet",
		"openrouter/z-ai/glm-4.5:fireworks",
		"gpt-4o:",
		"openrouter/z-ai/glm-4.5:fireworks?think=2000",
		"gemini-2.5-pro?temperature=0.3&top_p=0.9",
	}

	for _, raw := range raws {
		t.Run(raw, func(t *testing.T) {
			id := ParseIdentifier(raw)
			assert.Equal(t, raw, id.String())
			assert.Equal(t, id, ParseIdentifier(id.String()))
		})
	}
}

func TestIdentifierFullModel(t *testing.T) {
	id := ParseIdentifier("z-ai/glm-4.5:fireworks")
	require.True(t, id.HasVendor())
	assert.Equal(t, "z-ai", id.VendorName())
	assert.Equal(t, "z-ai/glm-4.5", id.FullModel())

	bare := ParseIdentifier("gpt-4o")
	assert.False(t, bare.HasVendor())
	assert.Equal(t, "", bare.VendorName())
	assert.Equal(t, "gpt-4o", bare.FullModel())
}
