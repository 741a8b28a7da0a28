package testutil

import (
	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"receiptly/model"
)

// TestMessages returns a sample conversation for testing
func TestMessages() []model.Message {
	return []model.Message{
		model.UserText("Hello, how are you?"),
		model.AssistantText("I'm doing well, thank you!"),
		model.UserText("Can you help me with a receipt?"),
	}
}

// SingleUserMessage returns a single user message for simple tests
func SingleUserMessage(content string) []model.Message {
	return []model.Message{model.UserText(content)}
}

// TextResponse is a plain end_turn reply.
func TextResponse(text string) *model.LLMResponse {
	return &model.LLMResponse{Content: text, StopReason: model.StopEndTurn}
}

// ToolUseResponse asks for the given calls.
func ToolUseResponse(text string, calls ...model.ToolCall) *model.LLMResponse {
	return &model.LLMResponse{Content: text, ToolCalls: calls, StopReason: model.StopToolUse}
}

// TestTools returns sample MCP tools for testing
func TestTools() []mcptypes.Tool {
	return []mcptypes.Tool{
		mcptypes.NewTool("search_purchases",
			mcptypes.WithDescription("Search the user's purchases"),
			mcptypes.WithString("query", mcptypes.Required(), mcptypes.Description("Free-text query")),
			mcptypes.WithNumber("limit", mcptypes.Description("Maximum results")),
		),
		mcptypes.NewTool("create_case",
			mcptypes.WithDescription("Open a return or warranty case"),
			mcptypes.WithString("purchase_id", mcptypes.Required()),
			mcptypes.WithString("kind", mcptypes.Required(), mcptypes.Enum("return", "warranty", "refund", "complaint")),
		),
	}
}

// PNGBase64 is a 1x1 transparent PNG.
const PNGBase64 = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="
