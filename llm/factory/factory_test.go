package factory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agenttree/llm"
)

// =============================================================================
// Factory Tests
// =============================================================================

func TestNewCompleterFromConfig_AllProviders(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name         string
		providerName string
		cfg          ProviderConfig
		wantName     string
	}{
		{
			name:         "openai",
			providerName: "openai",
			cfg:          ProviderConfig{APIKey: "sk-test", Extra: map[string]any{"organization": "org"}},
			wantName:     "openai",
		},
		{
			name:         "anthropic",
			providerName: "anthropic",
			cfg:          ProviderConfig{APIKey: "sk-test"},
			wantName:     "anthropic",
		},
		{
			name:         "claude alias",
			providerName: "claude",
			cfg:          ProviderConfig{APIKey: "sk-test", Model: "claude-test"},
			wantName:     "anthropic",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewCompleterFromConfig(tt.providerName, tt.cfg, logger)
			require.NoError(t, err)
			require.NotNil(t, c)
			assert.Equal(t, tt.wantName, c.Name())
			var _ llm.Completer = c
		})
	}
}

func TestNewCompleterFromConfig_Unknown(t *testing.T) {
	c, err := NewCompleterFromConfig("gemini", ProviderConfig{}, nil)
	assert.Nil(t, c)
	assert.ErrorContains(t, err, "unknown provider")
}

func TestSupportedProviders(t *testing.T) {
	for _, name := range SupportedProviders() {
		_, err := NewCompleterFromConfig(name, ProviderConfig{APIKey: "k"}, nil)
		assert.NoError(t, err, name)
	}
}
