package provider

import (
	"context"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"receiptly/mcp"
	"receiptly/model"
)

const googleDependency = "google.golang.org/genai"

// GoogleProvider reserves the "google" id. Every call fails with a
// *model.NotImplementedError until the Gemini SDK is wired in.
type GoogleProvider struct {
	model  string
	apiKey string
}

func NewGoogleProvider(cfg Config) *GoogleProvider {
	modelName := cfg.Model
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}
	return &GoogleProvider{model: modelName, apiKey: cfg.APIKey}
}

func (p *GoogleProvider) Name() string {
	return string(ProviderTypeGoogle)
}

func (p *GoogleProvider) GetModel() string {
	return p.model
}

func (p *GoogleProvider) IsConfigured() bool {
	return p.apiKey != ""
}

// ConvertTools returns the OpenAI function shape, which matches Gemini's
// function declarations closely enough for inspection.
func (p *GoogleProvider) ConvertTools(tools []mcptypes.Tool) any {
	return mcp.ToOpenAI(tools, nil)
}

func (p *GoogleProvider) Chat(ctx context.Context, messages []model.Message, opts model.ChatOptions) (*model.LLMResponse, error) {
	return nil, p.notImplemented()
}

func (p *GoogleProvider) Vision(ctx context.Context, imageData, mediaType, prompt string, opts *model.ChatOptions) (string, error) {
	return "", p.notImplemented()
}

func (p *GoogleProvider) notImplemented() error {
	return &model.NotImplementedError{Provider: p.Name(), Dependency: googleDependency}
}
