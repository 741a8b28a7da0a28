package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"receiptly/config"
	"receiptly/mcp"
	"receiptly/model"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// chatCompletions is the Chat Completions client shared by every
// OpenAI-compatible provider. encodeName/decodeName translate tool names for
// endpoints with stricter naming rules and may be nil.
type chatCompletions struct {
	client     openai.Client
	model      string
	apiKey     string
	kind       ProviderType
	encodeName mcp.NameFunc
	decodeName mcp.NameFunc
}

func newChatCompletions(cfg Config, kind ProviderType, defaultBaseURL, defaultModel string, extra ...option.RequestOption) chatCompletions {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultModel
	}

	opts := []option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	opts = append(opts, extra...)

	return chatCompletions{
		client: openai.NewClient(opts...),
		model:  modelName,
		apiKey: cfg.APIKey,
		kind:   kind,
	}
}

func (c *chatCompletions) name(n string) string {
	if c.encodeName == nil {
		return n
	}
	return c.encodeName(n)
}

func (c *chatCompletions) chat(ctx context.Context, messages []model.Message, opts model.ChatOptions) (*model.LLMResponse, error) {
	if c.apiKey == "" {
		return nil, model.NotConfigured(string(c.kind), envVarFor(c.kind))
	}

	system, rest := splitSystem(messages, opts.SystemPrompt)
	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(c.model),
		Messages:            c.convertMessages(system, rest),
		Tools:               mcp.ToOpenAI(opts.Tools, c.encodeName),
		MaxCompletionTokens: openai.Int(opts.MaxTokensOrDefault()),
	}
	if opts.Model != "" {
		params.Model = openai.ChatModel(opts.Model)
	}
	if opts.Temperature != nil {
		params.Temperature = openai.Float(*opts.Temperature)
	}

	if config.Debug {
		slog.Debug("[Provider] chat completion request", "provider", c.kind, "model", params.Model, "messages", len(params.Messages), "tools", len(params.Tools))
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%s chat completion: %w", c.kind, err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("%s chat completion: response has no choices", c.kind)
	}

	choice := completion.Choices[0]
	var calls []model.ToolCall
	for _, tc := range choice.Message.ToolCalls {
		name := tc.Function.Name
		if c.decodeName != nil {
			name = c.decodeName(name)
		}
		calls = append(calls, model.ToolCall{
			ID:    tc.ID,
			Name:  name,
			Input: ParseToolArguments(tc.Function.Arguments),
		})
	}

	return &model.LLMResponse{
		Content:    choice.Message.Content,
		ToolCalls:  calls,
		StopReason: settleStopReason(mapFinishReason(choice.FinishReason), calls),
		Usage: model.Usage{
			InputTokens:  completion.Usage.PromptTokens,
			OutputTokens: completion.Usage.CompletionTokens,
		},
	}, nil
}

func (c *chatCompletions) vision(ctx context.Context, imageData, mediaType, prompt string, opts *model.ChatOptions) (string, error) {
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
	resp, err := c.chat(ctx, []model.Message{msg}, o)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// convertMessages maps the transcript onto Chat Completions messages.
// tool_result blocks become "tool" messages placed before any other part of
// the same user message, so they directly follow the assistant's tool_calls.
func (c *chatCompletions) convertMessages(system string, messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.SystemMessage(system))
	}

	for _, msg := range messages {
		if msg.Content.IsText() {
			if msg.Role == model.RoleAssistant {
				result = append(result, openai.AssistantMessage(msg.Content.Text))
			} else {
				result = append(result, openai.UserMessage(msg.Content.Text))
			}
			continue
		}

		if msg.Role == model.RoleAssistant {
			result = append(result, c.assistantMessage(msg.Content.Blocks))
			continue
		}

		var parts []openai.ChatCompletionContentPartUnionParam
		for _, block := range msg.Content.Blocks {
			switch b := block.(type) {
			case model.ToolResultBlock:
				content := b.Content
				if b.IsError {
					content = "Error: " + content
				}
				result = append(result, openai.ToolMessage(content, b.ToolUseID))
			case model.TextBlock:
				if b.Text != "" {
					parts = append(parts, openai.TextContentPart(b.Text))
				}
			case model.ImageBlock:
				parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: dataURL(b.MediaType, b.Data),
				}))
			}
		}
		if len(parts) > 0 {
			result = append(result, openai.UserMessage(parts))
		}
	}
	return result
}

func (c *chatCompletions) assistantMessage(blocks []model.ContentBlock) openai.ChatCompletionMessageParamUnion {
	var text []string
	var asst openai.ChatCompletionAssistantMessageParam
	for _, block := range blocks {
		switch b := block.(type) {
		case model.TextBlock:
			if b.Text != "" {
				text = append(text, b.Text)
			}
		case model.ToolUseBlock:
			asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
				OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
					ID: b.ID,
					Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
						Name:      c.name(b.Name),
						Arguments: encodeToolInput(b.Input),
					},
				},
			})
		}
	}
	if len(text) > 0 {
		asst.Content.OfString = openai.String(strings.Join(text, "\n\n"))
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &asst}
}

func mapFinishReason(reason string) model.StopReason {
	switch reason {
	case "tool_calls", "function_call":
		return model.StopToolUse
	case "length":
		return model.StopMaxTokens
	default:
		return model.StopEndTurn
	}
}

// OpenAIProvider implements model.Provider against the OpenAI API.
type OpenAIProvider struct {
	chatCompletions
}

func NewOpenAIProvider(cfg Config) *OpenAIProvider {
	return &OpenAIProvider{
		chatCompletions: newChatCompletions(cfg, ProviderTypeOpenAI, defaultOpenAIBaseURL, string(openai.ChatModelGPT4oMini)),
	}
}

func (p *OpenAIProvider) Name() string {
	return string(ProviderTypeOpenAI)
}

func (p *OpenAIProvider) GetModel() string {
	return p.model
}

func (p *OpenAIProvider) IsConfigured() bool {
	return p.apiKey != ""
}

func (p *OpenAIProvider) ConvertTools(tools []mcptypes.Tool) any {
	return mcp.ToOpenAI(tools, nil)
}

func (p *OpenAIProvider) Chat(ctx context.Context, messages []model.Message, opts model.ChatOptions) (*model.LLMResponse, error) {
	return p.chat(ctx, messages, opts)
}

func (p *OpenAIProvider) Vision(ctx context.Context, imageData, mediaType, prompt string, opts *model.ChatOptions) (string, error) {
	return p.vision(ctx, imageData, mediaType, prompt, opts)
}
