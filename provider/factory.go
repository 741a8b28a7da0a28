package provider

import (
	"fmt"
	"strings"

	"receiptly/model"
)

// NewProvider creates a provider based on configuration.
//
// A missing API key is not an error here: the adapter is still returned,
// reports IsConfigured() == false, and fails with model.ErrNotConfigured on
// first use. Only an unknown type or a malformed base URL fails construction.
func NewProvider(cfg Config) (model.Provider, error) {
	switch cfg.Type {
	case ProviderTypeOllama:
		// Return a nil interface, not a typed nil, when construction fails.
		p, err := NewOllamaProvider(cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	case ProviderTypeOpenRouter:
		return NewOpenRouterProvider(cfg), nil
	case ProviderTypeOpenAI:
		return NewOpenAIProvider(cfg), nil
	case ProviderTypeAnthropic:
		return NewAnthropicProvider(cfg), nil
	case ProviderTypeGoogle:
		return NewGoogleProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}
}

// ParseProviderType maps a user-facing provider id onto a ProviderType.
// Matching is case-insensitive and accepts a few common aliases.
func ParseProviderType(id string) (ProviderType, error) {
	switch strings.ToLower(strings.TrimSpace(id)) {
	case "anthropic", "claude":
		return ProviderTypeAnthropic, nil
	case "openai", "gpt":
		return ProviderTypeOpenAI, nil
	case "openrouter":
		return ProviderTypeOpenRouter, nil
	case "google", "gemini":
		return ProviderTypeGoogle, nil
	case "ollama", "local":
		return ProviderTypeOllama, nil
	}
	return "", fmt.Errorf("unknown provider %q", id)
}
