package testutil

import (
	"context"
	"sync"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"receiptly/mcp"
	"receiptly/model"
)

// ChatCall records the arguments of one Chat invocation.
type ChatCall struct {
	Messages []model.Message
	Options  model.ChatOptions
}

// MockProvider implements model.Provider for testing.
type MockProvider struct {
	// Configurable responses
	ChatFunc   func(ctx context.Context, messages []model.Message, opts model.ChatOptions) (*model.LLMResponse, error)
	VisionFunc func(ctx context.Context, imageData, mediaType, prompt string, opts *model.ChatOptions) (string, error)

	ProviderName string
	Configured   bool

	mu    sync.Mutex
	model string
	calls []ChatCall
}

// NewMockProvider creates a configured mock that answers "Mock response".
func NewMockProvider(modelName string) *MockProvider {
	m := &MockProvider{ProviderName: "mock", Configured: true, model: modelName}
	m.ChatFunc = func(ctx context.Context, messages []model.Message, opts model.ChatOptions) (*model.LLMResponse, error) {
		return TextResponse("Mock response"), nil
	}
	m.VisionFunc = func(ctx context.Context, imageData, mediaType, prompt string, opts *model.ChatOptions) (string, error) {
		return "Mock vision response", nil
	}
	return m
}

// NewScriptedProvider returns a mock that replays responses in order and
// repeats the last one once the script runs out.
func NewScriptedProvider(responses ...*model.LLMResponse) *MockProvider {
	m := NewMockProvider("scripted")
	var i int
	var mu sync.Mutex
	m.ChatFunc = func(ctx context.Context, messages []model.Message, opts model.ChatOptions) (*model.LLMResponse, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(responses) == 0 {
			return TextResponse(""), nil
		}
		resp := responses[min(i, len(responses)-1)]
		i++
		return resp, nil
	}
	return m
}

func (m *MockProvider) Name() string {
	return m.ProviderName
}

func (m *MockProvider) GetModel() string {
	return m.model
}

func (m *MockProvider) IsConfigured() bool {
	return m.Configured
}

func (m *MockProvider) ConvertTools(tools []mcptypes.Tool) any {
	return mcp.ToAnthropic(tools)
}

func (m *MockProvider) Chat(ctx context.Context, messages []model.Message, opts model.ChatOptions) (*model.LLMResponse, error) {
	m.mu.Lock()
	copied := make([]model.Message, len(messages))
	copy(copied, messages)
	m.calls = append(m.calls, ChatCall{Messages: copied, Options: opts})
	m.mu.Unlock()
	return m.ChatFunc(ctx, messages, opts)
}

func (m *MockProvider) Vision(ctx context.Context, imageData, mediaType, prompt string, opts *model.ChatOptions) (string, error) {
	return m.VisionFunc(ctx, imageData, mediaType, prompt, opts)
}

// Calls returns every Chat invocation so far.
func (m *MockProvider) Calls() []ChatCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ChatCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of Chat invocations.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
