package agent

import (
	"encoding/json"

	"receiptly/model"
)

// EventType names a stream event. The values are the "type" field on the wire.
type EventType string

const (
	EventConversationID EventType = "conversation_id"
	EventContent        EventType = "content"
	EventToolCall       EventType = "tool_call"
	EventToolResult     EventType = "tool_result"
	EventDone           EventType = "done"
	EventError          EventType = "error"
)

// Event is one step of turn progress as seen by the client.
type Event struct {
	Type           EventType              `json:"type"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	Content        string                 `json:"content,omitempty"`
	Tool           string                 `json:"tool,omitempty"`
	Success        *bool                  `json:"success,omitempty"`
	Output         json.RawMessage        `json:"output,omitempty"`
	Error          string                 `json:"error,omitempty"`
	MessageID      string                 `json:"message_id,omitempty"`
	ToolCalls      []model.ToolCallRecord `json:"tool_calls,omitempty"`
}

// Terminal reports whether e ends a turn.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

func conversationIDEvent(id string) Event {
	return Event{Type: EventConversationID, ConversationID: id}
}

func contentEvent(text string) Event {
	return Event{Type: EventContent, Content: text}
}

func toolCallEvent(name string) Event {
	return Event{Type: EventToolCall, Tool: name}
}

func toolResultEvent(rec model.ToolCallRecord) Event {
	ok := rec.Success
	return Event{Type: EventToolResult, Tool: rec.Name, Success: &ok, Output: rec.Output, Error: rec.Error}
}

func doneEvent(content, messageID string, calls []model.ToolCallRecord) Event {
	return Event{Type: EventDone, Content: content, MessageID: messageID, ToolCalls: calls}
}

// ErrorEvent builds a terminal error event with a client-safe message.
func ErrorEvent(message string) Event {
	return Event{Type: EventError, Error: message}
}

// Emitter receives the events of one turn. Emit reports false once the
// consumer is gone; the orchestrator then stops calling the model.
type Emitter interface {
	Emit(Event) bool
}
