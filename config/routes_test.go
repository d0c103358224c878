package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoutes(t *testing.T) {
	routes, err := ParseRoutes([]byte(`
default_vendor: openrouter
enable_fallback: false
vendor_aliases:
  claude: anthropic
aliases:
  smart: anthropic/claude-sonnet-4
  fast:
    - openai/gpt-4o-mini
    - gemini/gemini-2.0-flash
patterns:
  mistral-: openrouter
`))
	require.NoError(t, err)

	assert.Equal(t, "openrouter", routes.DefaultVendor)
	assert.Nil(t, routes.MinConfidence)
	require.NotNil(t, routes.EnableFallback)
	assert.False(t, *routes.EnableFallback)
	assert.Equal(t, map[string]string{"claude": "anthropic"}, routes.VendorAliases)
	assert.Equal(t, map[string]string{"mistral-": "openrouter"}, routes.Patterns)

	assert.Equal(t, AliasTargets{Targets: []string{"anthropic/claude-sonnet-4"}}, routes.Aliases["smart"])
	assert.Equal(t, AliasTargets{
		Targets:  []string{"openai/gpt-4o-mini", "gemini/gemini-2.0-flash"},
		Multiple: true,
	}, routes.Aliases["fast"])
}

func TestParseRoutes_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"malformed", "aliases: [unclosed"},
		{"empty list", "aliases:\n  fast: []\n"},
		{"empty string", "aliases:\n  fast: \"\"\n"},
		{"mapping value", "aliases:\n  fast:\n    a: b\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRoutes([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}
