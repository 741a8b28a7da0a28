package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"receiptly/model"
	"receiptly/provider/testutil"
)

// fakeServer answers every request with body and records the last request.
func fakeServer(t *testing.T, body string) (*httptest.Server, *map[string]any, *string) {
	t.Helper()
	var captured map[string]any
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		captured = nil
		_ = json.Unmarshal(raw, &captured)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &captured, &path
}

func TestAnthropicChatText(t *testing.T) {
	srv, req, path := fakeServer(t, `{
		"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
		"content": [{"type": "text", "text": "hello"}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 12, "output_tokens": 3}
	}`)

	p := NewAnthropicProvider(Config{BaseURL: srv.URL, APIKey: "test-key", Model: "claude-test", HTTPClient: srv.Client()})
	messages := []model.Message{
		{Role: model.RoleSystem, Content: model.TextContent("extra rules")},
		model.UserText("hi"),
	}
	resp, err := p.Chat(context.Background(), messages, model.ChatOptions{SystemPrompt: "You are helpful."})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	if *path != "/v1/messages" {
		t.Errorf("path = %q, want /v1/messages", *path)
	}
	if resp.Content != "hello" || resp.StopReason != model.StopEndTurn {
		t.Errorf("response = %+v", resp)
	}
	if resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 3 {
		t.Errorf("usage = %+v", resp.Usage)
	}

	system, _ := (*req)["system"].([]any)
	if len(system) != 1 {
		t.Fatalf("system = %v, want one block", (*req)["system"])
	}
	if text := system[0].(map[string]any)["text"]; text != "You are helpful.\n\nextra rules" {
		t.Errorf("system text = %q", text)
	}
	sent, _ := (*req)["messages"].([]any)
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1 (system relocated)", len(sent))
	}
	if role := sent[0].(map[string]any)["role"]; role != "user" {
		t.Errorf("role = %v, want user", role)
	}
}

func TestAnthropicChatToolUse(t *testing.T) {
	srv, req, _ := fakeServer(t, `{
		"id": "msg_2", "type": "message", "role": "assistant", "model": "claude-test",
		"content": [
			{"type": "text", "text": "Let me look."},
			{"type": "tool_use", "id": "toolu_1", "name": "search_purchases", "input": {"query": "tv"}}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 20, "output_tokens": 8}
	}`)

	p := NewAnthropicProvider(Config{BaseURL: srv.URL, APIKey: "test-key", HTTPClient: srv.Client()})
	resp, err := p.Chat(context.Background(), singleUser("find my tv"), model.ChatOptions{Tools: testutil.TestTools()})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	if resp.StopReason != model.StopToolUse {
		t.Errorf("StopReason = %q, want tool_use", resp.StopReason)
	}
	want := []model.ToolCall{{ID: "toolu_1", Name: "search_purchases", Input: map[string]any{"query": "tv"}}}
	if !reflect.DeepEqual(resp.ToolCalls, want) {
		t.Errorf("ToolCalls = %+v, want %+v", resp.ToolCalls, want)
	}
	tools, _ := (*req)["tools"].([]any)
	if len(tools) != 2 {
		t.Errorf("sent %d tools, want 2", len(tools))
	}
}

func TestAnthropicStopReasonMapping(t *testing.T) {
	tests := []struct {
		reason string
		want   model.StopReason
	}{
		{"end_turn", model.StopEndTurn},
		{"tool_use", model.StopToolUse},
		{"max_tokens", model.StopMaxTokens},
		{"stop_sequence", model.StopEndTurn},
		{"refusal", model.StopEndTurn},
	}
	for _, tt := range tests {
		if got := mapAnthropicStopReason(anthropic.StopReason(tt.reason)); got != tt.want {
			t.Errorf("mapAnthropicStopReason(%q) = %q, want %q", tt.reason, got, tt.want)
		}
	}
}

func TestAnthropicMessageRoundTrip(t *testing.T) {
	messages := []model.Message{
		{Role: model.RoleUser, Content: model.BlockContent(
			model.TextBlock{Text: "what is on this receipt?"},
			model.ImageBlock{MediaType: "image/png", Data: testutil.PNGBase64},
		)},
		{Role: model.RoleAssistant, Content: model.BlockContent(
			model.TextBlock{Text: "Checking."},
			model.ToolUseBlock{ID: "toolu_1", Name: "search_purchases", Input: map[string]any{"query": "tv"}},
		)},
		{Role: model.RoleUser, Content: model.BlockContent(
			model.ToolResultBlock{ToolUseID: "toolu_1", Content: `{"error":"not found"}`, IsError: true},
		)},
	}

	params := convertToAnthropicMessages(messages)
	if len(params) != len(messages) {
		t.Fatalf("converted %d messages, want %d", len(params), len(messages))
	}
	for i, param := range params {
		got := convertFromAnthropicParam(param)
		if !reflect.DeepEqual(got, messages[i]) {
			t.Errorf("message %d round trip:\n got %+v\nwant %+v", i, got, messages[i])
		}
	}
}

func TestAnthropicDropsEmptyText(t *testing.T) {
	params := convertToAnthropicMessages([]model.Message{
		model.AssistantText("   "),
		model.UserText("hi"),
	})
	if len(params) != 1 {
		t.Fatalf("got %d messages, want 1", len(params))
	}
}

// convertFromAnthropicParam maps a MessageParam back onto a model.Message.
// It is the inverse of convertToAnthropicMessages for the block kinds this
// package produces.
func convertFromAnthropicParam(param anthropic.MessageParam) model.Message {
	role := model.RoleUser
	if param.Role == anthropic.MessageParamRoleAssistant {
		role = model.RoleAssistant
	}

	var blocks []model.ContentBlock
	for _, u := range param.Content {
		switch {
		case u.OfText != nil:
			blocks = append(blocks, model.TextBlock{Text: u.OfText.Text})
		case u.OfImage != nil && u.OfImage.Source.OfBase64 != nil:
			src := u.OfImage.Source.OfBase64
			blocks = append(blocks, model.ImageBlock{MediaType: string(src.MediaType), Data: src.Data})
		case u.OfToolUse != nil:
			input, _ := u.OfToolUse.Input.(map[string]any)
			blocks = append(blocks, model.ToolUseBlock{ID: u.OfToolUse.ID, Name: u.OfToolUse.Name, Input: input})
		case u.OfToolResult != nil:
			var text []string
			for _, c := range u.OfToolResult.Content {
				if c.OfText != nil {
					text = append(text, c.OfText.Text)
				}
			}
			blocks = append(blocks, model.ToolResultBlock{
				ToolUseID: u.OfToolResult.ToolUseID,
				Content:   strings.Join(text, ""),
				IsError:   u.OfToolResult.IsError.Or(false),
			})
		}
	}
	return model.Message{Role: role, Content: model.BlockContent(blocks...)}
}
