package provider

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ollama/ollama/api"

	"receiptly/model"
)

// splitSystem removes system-role messages from the transcript and joins their
// text, after the explicit system prompt, into one system string. Every vendor
// carries the system prompt outside the message list.
func splitSystem(messages []model.Message, systemPrompt string) (string, []model.Message) {
	var parts []string
	if strings.TrimSpace(systemPrompt) != "" {
		parts = append(parts, systemPrompt)
	}

	rest := make([]model.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == model.RoleSystem {
			if text := msg.Content.PlainText(); strings.TrimSpace(text) != "" {
				parts = append(parts, text)
			}
			continue
		}
		rest = append(rest, msg)
	}
	return strings.Join(parts, "\n\n"), rest
}

// ParseToolArguments parses JSON arguments string into a map.
// Used by OpenAI and OpenRouter providers for tool call parsing. Invalid or
// empty JSON yields an empty map so the tool layer reports missing inputs.
func ParseToolArguments(argsJSON string) map[string]any {
	args := make(map[string]any)
	if strings.TrimSpace(argsJSON) == "" {
		return args
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil || args == nil {
		return make(map[string]any)
	}
	return args
}

// encodeToolInput is the inverse of ParseToolArguments.
func encodeToolInput(input map[string]any) string {
	if input == nil {
		return "{}"
	}
	data, err := json.Marshal(input)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// settleStopReason forces tool_use whenever the vendor returned tool calls,
// since several vendors report "stop" alongside them.
func settleStopReason(reason model.StopReason, calls []model.ToolCall) model.StopReason {
	if len(calls) > 0 {
		return model.StopToolUse
	}
	if reason == model.StopToolUse {
		return model.StopEndTurn
	}
	return reason
}

// dataURL renders an image block as a data: URL for OpenAI-style APIs.
func dataURL(mediaType, data string) string {
	return "data:" + mediaType + ";base64," + data
}

// ConvertToOllamaMessages converts model messages to Ollama api.Message.
//
// Block content is flattened: text blocks are joined, images become raw bytes
// in Images, tool_use blocks become ToolCalls and each tool_result becomes its
// own "tool" role message, which is how Ollama expects tool output.
func ConvertToOllamaMessages(messages []model.Message) ([]api.Message, error) {
	result := make([]api.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Content.IsText() {
			result = append(result, api.Message{Role: string(msg.Role), Content: msg.Content.Text})
			continue
		}

		out := api.Message{Role: string(msg.Role)}
		var texts []string
		var toolResults []api.Message
		for _, block := range msg.Content.Blocks {
			switch b := block.(type) {
			case model.TextBlock:
				texts = append(texts, b.Text)
			case model.ImageBlock:
				raw, err := base64.StdEncoding.DecodeString(b.Data)
				if err != nil {
					return nil, fmt.Errorf("decode image block: %w", err)
				}
				out.Images = append(out.Images, api.ImageData(raw))
			case model.ToolUseBlock:
				out.ToolCalls = append(out.ToolCalls, api.ToolCall{
					Function: api.ToolCallFunction{
						Name:      b.Name,
						Arguments: api.ToolCallFunctionArguments(b.Input),
					},
				})
			case model.ToolResultBlock:
				content := b.Content
				if b.IsError {
					content = "Error: " + content
				}
				toolResults = append(toolResults, api.Message{Role: "tool", Content: content})
			}
		}
		out.Content = strings.Join(texts, "\n\n")

		if out.Content != "" || len(out.Images) > 0 || len(out.ToolCalls) > 0 {
			result = append(result, out)
		}
		result = append(result, toolResults...)
	}
	return result, nil
}

// ConvertFromOllamaToolCalls converts Ollama tool calls to model.ToolCall.
// Ollama does not issue call ids, so stable per-response ids are generated.
func ConvertFromOllamaToolCalls(calls []api.ToolCall) []model.ToolCall {
	if len(calls) == 0 {
		return nil
	}

	prefix := uuid.NewString()[:8]
	result := make([]model.ToolCall, len(calls))
	for i, call := range calls {
		input := map[string]any(call.Function.Arguments)
		if input == nil {
			input = make(map[string]any)
		}
		result[i] = model.ToolCall{
			ID:    fmt.Sprintf("call_%s_%d", prefix, i),
			Name:  call.Function.Name,
			Input: input,
		}
	}
	return result
}

func ollamaSystem(system string) []api.Message {
	return []api.Message{{Role: "system", Content: system}}
}
