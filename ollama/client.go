package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

const (
	DefaultHost  = "http://localhost:11434"
	DefaultModel = "llama3.1:latest"
)

// Client is a thin wrapper over the Ollama API client that collects a chat
// into a single response.
type Client struct {
	client  *api.Client
	model   string
	baseURL string
}

func NewClient(baseURL, model string, httpClient *http.Client) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultHost
	}
	if model == "" {
		model = DefaultModel
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama URL: %w", err)
	}

	return &Client{
		client:  api.NewClient(parsedURL, httpClient),
		model:   model,
		baseURL: baseURL,
	}, nil
}

// ChatRequest is one non-streaming chat call.
type ChatRequest struct {
	Model    string
	Messages []api.Message
	Tools    []api.Tool
	Options  map[string]any
}

// Chat sends req and returns the final response. Ollama may deliver the reply
// in several chunks even with streaming off; content and tool calls are merged.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (api.ChatResponse, error) {
	modelName := req.Model
	if modelName == "" {
		modelName = c.model
	}

	tools := req.Tools
	if len(tools) > 0 && !ModelSupportsToolCalling(modelName) {
		tools = nil
	}

	stream := false
	chatReq := &api.ChatRequest{
		Model:    modelName,
		Messages: req.Messages,
		Tools:    tools,
		Options:  req.Options,
		Stream:   &stream,
	}

	var final api.ChatResponse
	var content strings.Builder
	var toolCalls []api.ToolCall
	err := c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		toolCalls = append(toolCalls, resp.Message.ToolCalls...)
		if resp.Done {
			final = resp
		}
		return nil
	})
	if err != nil {
		return api.ChatResponse{}, fmt.Errorf("ollama chat: %w", err)
	}

	final.Message.Role = "assistant"
	final.Message.Content = content.String()
	final.Message.ToolCalls = toolCalls
	return final, nil
}

func (c *Client) GetModel() string {
	return c.model
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := c.client.List(ctx)
	return err
}

// toolCallingModels tracks which model families support tool calling.
var toolCallingModels = map[string]bool{
	"qwen":      true,
	"llama3.1":  true,
	"llama3.2":  true,
	"llama3.3":  true,
	"mistral":   true,
	"command-r": true,
	"granite3":  true,

	"llama3":    false,
	"llava":     false,
	"phi":       false,
	"gemma":     false,
	"codellama": false,
}

// orderedPrefixes lists the most specific prefixes first so "llama3.2" is
// not matched as generic "llama3".
var orderedPrefixes = []string{
	"llama3.3", "llama3.2", "llama3.1",
	"command-r", "qwen", "mistral", "granite3",
	"codellama", "llava",
	"llama3", "phi", "gemma",
}

// ModelSupportsToolCalling reports whether a model is known to accept tool
// definitions. Unknown models are assumed not to.
func ModelSupportsToolCalling(modelName string) bool {
	modelName = strings.ToLower(modelName)
	for _, prefix := range orderedPrefixes {
		if strings.HasPrefix(modelName, prefix) {
			return toolCallingModels[prefix]
		}
	}
	return false
}
