package ai

import (
	"fmt"
	"strings"
)

// NewClient constructs the collaborator client for the named provider.
func NewClient(provider, apiKey, baseURL, model string) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "anthropic", "claude":
		return NewAnthropicClient(AnthropicConfig{APIKey: apiKey, BaseURL: baseURL, Model: model})
	case "xai", "grok":
		return NewXAIClient(XAIConfig{APIKey: apiKey, BaseURL: baseURL, Model: model})
	default:
		return nil, fmt.Errorf("unknown ai provider %q (supported: anthropic, xai)", provider)
	}
}
