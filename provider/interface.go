// Package provider implements model.Provider for each supported LLM vendor.
//
// The orchestrator only sees model.Message, model.ContentBlock and
// model.LLMResponse. Everything vendor-shaped (SDK params, stop reasons, tool
// schema formats) is translated inside this package, so adding a vendor means
// writing one adapter and one factory case.
//
// # Adapters
//
//   - AnthropicProvider: Anthropic Messages API (anthropic-sdk-go)
//   - OpenAIProvider: OpenAI Chat Completions (openai-go)
//   - OpenRouterProvider: OpenAI-compatible endpoint at openrouter.ai
//   - OllamaProvider: local Ollama server
//   - GoogleProvider: placeholder that fails with model.ErrNotImplemented
//
// # Usage
//
//	p, err := provider.NewProvider(provider.Config{
//	    Type:   provider.ProviderTypeAnthropic,
//	    APIKey: os.Getenv("ANTHROPIC_API_KEY"),
//	})
//	if err != nil {
//	    // handle error
//	}
//	resp, err := p.Chat(ctx, messages, model.ChatOptions{SystemPrompt: "..."})
package provider

import "net/http"

// Note: The Provider interface is defined in the model package
// (model/provider.go) to avoid import cycles. This package implements model.Provider.

// ProviderType identifies the provider implementation.
type ProviderType string

const (
	ProviderTypeOllama     ProviderType = "ollama"
	ProviderTypeOpenRouter ProviderType = "openrouter"
	ProviderTypeOpenAI     ProviderType = "openai"
	ProviderTypeAnthropic  ProviderType = "anthropic"
	ProviderTypeGoogle     ProviderType = "google"
)

// AllProviderTypes lists every type the factory knows, in registry order.
var AllProviderTypes = []ProviderType{
	ProviderTypeAnthropic,
	ProviderTypeOpenAI,
	ProviderTypeOpenRouter,
	ProviderTypeGoogle,
	ProviderTypeOllama,
}

// Config holds provider-specific configuration.
type Config struct {
	Type    ProviderType
	BaseURL string
	Model   string
	APIKey  string // unused for Ollama

	// HTTPClient overrides the transport; tests point it at httptest servers.
	HTTPClient *http.Client
}

// envVarFor names the environment variable that carries a provider's key.
func envVarFor(t ProviderType) string {
	switch t {
	case ProviderTypeAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderTypeOpenAI:
		return "OPENAI_API_KEY"
	case ProviderTypeOpenRouter:
		return "OPENROUTER_API_KEY"
	case ProviderTypeGoogle:
		return "GOOGLE_API_KEY"
	case ProviderTypeOllama:
		return "OLLAMA_HOST"
	}
	return ""
}
