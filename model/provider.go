package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

// Provider abstracts one LLM vendor behind provider-agnostic types.
//
// This interface is defined in the model package (not provider package) to avoid
// import cycles: the orchestrator depends on model only and never sees a vendor
// SDK type, while provider implementations import model.
type Provider interface {
	// Name returns the provider id ("anthropic", "openai", ...).
	Name() string

	// GetModel returns the default model used when ChatOptions.Model is empty.
	GetModel() string

	// Chat sends a full transcript and returns a single complete response.
	Chat(ctx context.Context, messages []Message, opts ChatOptions) (*LLMResponse, error)

	// Vision asks a one-shot question about a single base64 image.
	Vision(ctx context.Context, imageData, mediaType, prompt string, opts *ChatOptions) (string, error)

	// ConvertTools returns the vendor-native tool schema for tools.
	ConvertTools(tools []mcptypes.Tool) any

	// IsConfigured reports whether the credentials needed to call the vendor are present.
	IsConfigured() bool
}

// ChatOptions tune a single Chat call. Zero values select provider defaults.
type ChatOptions struct {
	Model        string
	MaxTokens    int64
	Temperature  *float64
	SystemPrompt string
	Tools        []mcptypes.Tool
}

// DefaultMaxTokens is used when ChatOptions.MaxTokens is zero.
const DefaultMaxTokens int64 = 4096

// MaxTokensOrDefault returns o.MaxTokens or DefaultMaxTokens.
func (o ChatOptions) MaxTokensOrDefault() int64 {
	if o.MaxTokens > 0 {
		return o.MaxTokens
	}
	return DefaultMaxTokens
}

type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// LLMResponse is one complete model reply.
type LLMResponse struct {
	Content    string
	ToolCalls  []ToolCall
	StopReason StopReason
	Usage      Usage
}

// ToolCall is a vendor-issued request to run a tool. ID is opaque and unique
// within one response.
type ToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ToolCallRecord is the audit entry for one executed tool call.
type ToolCallRecord struct {
	Name    string          `json:"name"`
	Success bool            `json:"success"`
	Output  json.RawMessage `json:"output,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ErrNotConfigured is returned when a provider is called without credentials.
var ErrNotConfigured = errors.New("provider is not configured")

// ErrNotImplemented is matched by every *NotImplementedError.
var ErrNotImplemented = errors.New("provider is not implemented")

// NotImplementedError names the vendor SDK a stub adapter is waiting on.
type NotImplementedError struct {
	Provider   string
	Dependency string
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("%s provider is not implemented: requires %s", e.Provider, e.Dependency)
}

func (e *NotImplementedError) Is(target error) bool {
	return target == ErrNotImplemented
}

// NotConfigured wraps ErrNotConfigured with the provider and the variable
// that should hold its key.
func NotConfigured(provider, envVar string) error {
	return fmt.Errorf("%s: missing API key (set %s): %w", provider, envVar, ErrNotConfigured)
}
