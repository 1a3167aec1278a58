// Package factory provides a centralized factory for creating LLM completers
// by name. It imports the provider sub-packages and maps string names to
// their constructors, breaking the import cycle that would occur if this
// logic lived in the llm package directly.
package factory

import (
	"fmt"
	"time"

	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	openaiopt "github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/BaSui01/agenttree/internal/tlsutil"
	"github.com/BaSui01/agenttree/llm"
	"github.com/BaSui01/agenttree/llm/providers"
	claude "github.com/BaSui01/agenttree/llm/providers/anthropic"
	"github.com/BaSui01/agenttree/llm/providers/openai"
)

// ProviderConfig is the generic configuration accepted by the factory function.
// It uses a flat structure with an Extra map for provider-specific fields.
type ProviderConfig struct {
	APIKey     string         `json:"api_key" yaml:"api_key"`
	BaseURL    string         `json:"base_url" yaml:"base_url"`
	Model      string         `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout    time.Duration  `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	MaxRetries int            `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	Extra      map[string]any `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// NewCompleterFromConfig creates a Completer based on the provider name.
//
// Supported names: openai, anthropic, claude.
func NewCompleterFromConfig(name string, cfg ProviderConfig, logger *zap.Logger) (llm.Completer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	base := providers.BaseProviderConfig{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
	}

	httpClient := tlsutil.StreamingClient()

	switch name {
	case "openai":
		oc := providers.OpenAIConfig{BaseProviderConfig: base}
		if v, ok := cfg.Extra["organization"].(string); ok {
			oc.Organization = v
		}
		return openai.NewOpenAIProvider(oc, logger, openaiopt.WithHTTPClient(httpClient)), nil

	case "anthropic", "claude":
		return claude.NewClaudeProvider(providers.ClaudeConfig{BaseProviderConfig: base}, logger,
			anthropicopt.WithHTTPClient(httpClient)), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// SupportedProviders returns the provider names accepted by NewCompleterFromConfig.
func SupportedProviders() []string {
	return []string{"openai", "anthropic", "claude"}
}
