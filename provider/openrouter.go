package provider

import (
	"context"
	"strings"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"github.com/openai/openai-go/v3/option"

	"receiptly/mcp"
	"receiptly/model"
)

const (
	defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	defaultOpenRouterModel   = "anthropic/claude-sonnet-4.5"
)

// OpenRouterProvider implements model.Provider using OpenAI's official Go SDK.
// It connects to OpenRouter's API which is OpenAI-compatible.
type OpenRouterProvider struct {
	chatCompletions
}

// NewOpenRouterProvider creates a new OpenRouter provider instance.
func NewOpenRouterProvider(cfg Config) *OpenRouterProvider {
	c := newChatCompletions(cfg, ProviderTypeOpenRouter, defaultOpenRouterBaseURL, defaultOpenRouterModel,
		option.WithHeader("X-Title", "Receiptly"),
	)
	c.encodeName = toOpenRouterToolName
	c.decodeName = fromOpenRouterToolName
	return &OpenRouterProvider{chatCompletions: c}
}

// toOpenRouterToolName converts a tool name from dotted notation to underscore notation.
// OpenRouter requires tool names matching ^[a-zA-Z0-9_-]{1,64}$ (no dots allowed).
// Example: "purchases.search" → "purchases__search"
func toOpenRouterToolName(name string) string {
	return strings.ReplaceAll(name, ".", "__")
}

// fromOpenRouterToolName reverses toOpenRouterToolName.
func fromOpenRouterToolName(name string) string {
	return strings.ReplaceAll(name, "__", ".")
}

func (p *OpenRouterProvider) Name() string {
	return string(ProviderTypeOpenRouter)
}

func (p *OpenRouterProvider) GetModel() string {
	return p.model
}

func (p *OpenRouterProvider) IsConfigured() bool {
	return p.apiKey != ""
}

func (p *OpenRouterProvider) ConvertTools(tools []mcptypes.Tool) any {
	return mcp.ToOpenAI(tools, toOpenRouterToolName)
}

func (p *OpenRouterProvider) Chat(ctx context.Context, messages []model.Message, opts model.ChatOptions) (*model.LLMResponse, error) {
	return p.chat(ctx, messages, opts)
}

func (p *OpenRouterProvider) Vision(ctx context.Context, imageData, mediaType, prompt string, opts *model.ChatOptions) (string, error) {
	return p.vision(ctx, imageData, mediaType, prompt, opts)
}
