package provider

import (
	"context"
	"fmt"
	"log/slog"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"receiptly/config"
	"receiptly/mcp"
	"receiptly/model"
	"receiptly/ollama"
)

// OllamaProvider wraps ollama.Client to implement model.Provider.
//
// Ollama needs no key. The provider counts as configured once a host has been
// set explicitly; an empty BaseURL still works against the default local host
// but IsConfigured reports false so the registry does not select it silently.
type OllamaProvider struct {
	client     *ollama.Client
	configured bool
}

// NewOllamaProvider fails only when cfg.BaseURL cannot be parsed.
func NewOllamaProvider(cfg Config) (*OllamaProvider, error) {
	client, err := ollama.NewClient(cfg.BaseURL, cfg.Model, cfg.HTTPClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create Ollama client: %w", err)
	}
	return &OllamaProvider{client: client, configured: cfg.BaseURL != ""}, nil
}

func (p *OllamaProvider) Name() string {
	return string(ProviderTypeOllama)
}

func (p *OllamaProvider) GetModel() string {
	return p.client.GetModel()
}

func (p *OllamaProvider) IsConfigured() bool {
	return p.configured
}

func (p *OllamaProvider) ConvertTools(tools []mcptypes.Tool) any {
	return mcp.ToOllama(tools)
}

// Chat converts the transcript, runs one non-streaming chat and maps the reply.
// Tools are dropped by the client for models without tool support.
func (p *OllamaProvider) Chat(ctx context.Context, messages []model.Message, opts model.ChatOptions) (*model.LLMResponse, error) {
	if !p.configured {
		return nil, model.NotConfigured(p.Name(), envVarFor(ProviderTypeOllama))
	}

	system, rest := splitSystem(messages, opts.SystemPrompt)
	converted, err := ConvertToOllamaMessages(rest)
	if err != nil {
		return nil, err
	}
	if system != "" {
		converted = append(ollamaSystem(system), converted...)
	}

	options := map[string]any{"num_predict": opts.MaxTokensOrDefault()}
	if opts.Temperature != nil {
		options["temperature"] = *opts.Temperature
	}

	req := ollama.ChatRequest{
		Model:    opts.Model,
		Messages: converted,
		Tools:    mcp.ToOllama(opts.Tools),
		Options:  options,
	}
	if config.Debug {
		slog.Debug("[Provider] ollama request", "host", p.client.BaseURL(), "model", p.GetModel(), "messages", len(req.Messages), "tools", len(req.Tools))
	}

	resp, err := p.client.Chat(ctx, req)
	if err != nil {
		return nil, err
	}

	calls := ConvertFromOllamaToolCalls(resp.Message.ToolCalls)
	reason := model.StopEndTurn
	if resp.DoneReason == "length" {
		reason = model.StopMaxTokens
	}

	return &model.LLMResponse{
		Content:    resp.Message.Content,
		ToolCalls:  calls,
		StopReason: settleStopReason(reason, calls),
		Usage: model.Usage{
			InputTokens:  int64(resp.PromptEvalCount),
			OutputTokens: int64(resp.EvalCount),
		},
	}, nil
}

func (p *OllamaProvider) Vision(ctx context.Context, imageData, mediaType, prompt string, opts *model.ChatOptions) (string, error) {
	var o model.ChatOptions
	if opts != nil {
		o = *opts
	}
	o.Tools = nil

	msg := model.Message{
		Role: model.RoleUser,
		Content: model.BlockContent(
			model.TextBlock{Text: prompt},
			model.ImageBlock{MediaType: mediaType, Data: imageData},
		),
	}
	resp, err := p.Chat(ctx, []model.Message{msg}, o)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// Ping checks the server is reachable.
func (p *OllamaProvider) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}
