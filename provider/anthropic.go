package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"receiptly/config"
	"receiptly/mcp"
	"receiptly/model"
)

const defaultAnthropicBaseURL = "https://api.anthropic.com"

// AnthropicProvider implements model.Provider using Anthropic's official API.
type AnthropicProvider struct {
	client  anthropic.Client
	model   anthropic.Model
	baseURL string
	apiKey  string
}

// NewAnthropicProvider creates a new Anthropic provider instance.
// An empty model selects Claude Sonnet 4.5; an empty key leaves the provider
// unconfigured.
func NewAnthropicProvider(cfg Config) *AnthropicProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}

	anthropicModel := anthropic.ModelClaudeSonnet4_5_20250929
	if cfg.Model != "" {
		anthropicModel = anthropic.Model(cfg.Model)
	}

	opts := []option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &AnthropicProvider{
		client:  anthropic.NewClient(opts...),
		model:   anthropicModel,
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
	}
}

func (p *AnthropicProvider) Name() string {
	return string(ProviderTypeAnthropic)
}

func (p *AnthropicProvider) GetModel() string {
	return string(p.model)
}

func (p *AnthropicProvider) IsConfigured() bool {
	return p.apiKey != ""
}

func (p *AnthropicProvider) ConvertTools(tools []mcptypes.Tool) any {
	return mcp.ToAnthropic(tools)
}

// Chat implements model.Provider.Chat with a single non-streaming request.
func (p *AnthropicProvider) Chat(ctx context.Context, messages []model.Message, opts model.ChatOptions) (*model.LLMResponse, error) {
	if !p.IsConfigured() {
		return nil, model.NotConfigured(p.Name(), envVarFor(ProviderTypeAnthropic))
	}

	system, rest := splitSystem(messages, opts.SystemPrompt)
	params := anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: opts.MaxTokensOrDefault(),
		Messages:  convertToAnthropicMessages(rest),
		Tools:     mcp.ToAnthropic(opts.Tools),
	}
	if opts.Model != "" {
		params.Model = anthropic.Model(opts.Model)
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if opts.Temperature != nil {
		params.Temperature = anthropic.Float(*opts.Temperature)
	}

	if config.Debug {
		slog.Debug("[Provider] anthropic request", "model", params.Model, "messages", len(params.Messages), "tools", len(params.Tools))
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages: %w", err)
	}

	return convertFromAnthropicMessage(msg), nil
}

// Vision asks a single question about one image.
func (p *AnthropicProvider) Vision(ctx context.Context, imageData, mediaType, prompt string, opts *model.ChatOptions) (string, error) {
	var o model.ChatOptions
	if opts != nil {
		o = *opts
	}
	o.Tools = nil

	msg := model.Message{
		Role: model.RoleUser,
		Content: model.BlockContent(
			model.ImageBlock{MediaType: mediaType, Data: imageData},
			model.TextBlock{Text: prompt},
		),
	}
	resp, err := p.Chat(ctx, []model.Message{msg}, o)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// convertToAnthropicMessages maps user/assistant messages onto MessageParams.
// Empty text blocks are dropped because the API rejects them.
func convertToAnthropicMessages(messages []model.Message) []anthropic.MessageParam {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		var blocks []anthropic.ContentBlockParamUnion
		for _, block := range msg.Content.AsBlocks() {
			switch b := block.(type) {
			case model.TextBlock:
				if strings.TrimSpace(b.Text) == "" {
					continue
				}
				blocks = append(blocks, anthropic.NewTextBlock(b.Text))
			case model.ImageBlock:
				blocks = append(blocks, anthropic.NewImageBlockBase64(b.MediaType, b.Data))
			case model.ToolUseBlock:
				input := b.Input
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(b.ID, input, b.Name))
			case model.ToolResultBlock:
				blocks = append(blocks, anthropic.NewToolResultBlock(b.ToolUseID, b.Content, b.IsError))
			}
		}
		if len(blocks) == 0 {
			continue
		}

		if msg.Role == model.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(blocks...))
		} else {
			result = append(result, anthropic.NewUserMessage(blocks...))
		}
	}
	return result
}

func convertFromAnthropicMessage(msg *anthropic.Message) *model.LLMResponse {
	var text []string
	var calls []model.ToolCall
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				text = append(text, block.Text)
			}
		case "tool_use":
			input := make(map[string]any)
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &input); err != nil {
					slog.Warn("[Provider] anthropic tool input is not an object", "tool", block.Name, "error", err)
				}
			}
			calls = append(calls, model.ToolCall{ID: block.ID, Name: block.Name, Input: input})
		}
	}

	return &model.LLMResponse{
		Content:    strings.Join(text, "\n\n"),
		ToolCalls:  calls,
		StopReason: settleStopReason(mapAnthropicStopReason(msg.StopReason), calls),
		Usage: model.Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}
}

func mapAnthropicStopReason(reason anthropic.StopReason) model.StopReason {
	switch reason {
	case anthropic.StopReasonToolUse:
		return model.StopToolUse
	case anthropic.StopReasonMaxTokens:
		return model.StopMaxTokens
	default:
		return model.StopEndTurn
	}
}
