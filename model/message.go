package model

import (
	"fmt"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation transcript.
type Message struct {
	Role    Role    `json:"role"`
	Content Content `json:"content"`
}

// UserText is shorthand for a plain-text user message.
func UserText(text string) Message {
	return Message{Role: RoleUser, Content: TextContent(text)}
}

// AssistantText is shorthand for a plain-text assistant message.
func AssistantText(text string) Message {
	return Message{Role: RoleAssistant, Content: TextContent(text)}
}

// StoredMessage is a persisted message row.
type StoredMessage struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	Role           Role             `json:"role"`
	Content        string           `json:"content"`
	ToolCalls      []ToolCallRecord `json:"tool_calls,omitempty"`
	Attachments    []UploadedFile   `json:"attachments,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// BuildMessages turns history rows plus the new user content into the
// message list sent to a provider. Leading assistant rows are dropped so the
// list always opens with a user turn; system rows never come from history.
// Consecutive rows of the same role, left behind by a failed turn, are merged
// so roles alternate.
func BuildMessages(history []StoredMessage, content Content) []Message {
	msgs := make([]Message, 0, len(history)+1)
	for _, row := range history {
		if row.Role != RoleUser && row.Role != RoleAssistant {
			continue
		}
		if len(msgs) == 0 && row.Role == RoleAssistant {
			continue
		}
		if row.Content == "" {
			continue
		}
		if last := len(msgs) - 1; last >= 0 && msgs[last].Role == row.Role {
			msgs[last].Content.Text += "\n\n" + row.Content
			continue
		}
		msgs = append(msgs, Message{Role: row.Role, Content: TextContent(row.Content)})
	}

	last := len(msgs) - 1
	if last < 0 || msgs[last].Role != RoleUser {
		return append(msgs, Message{Role: RoleUser, Content: content})
	}
	prev := msgs[last].Content.Text
	if content.IsText() {
		msgs[last].Content = TextContent(prev + "\n\n" + content.Text)
	} else {
		msgs[last].Content = BlockContent(append([]ContentBlock{TextBlock{Text: prev}}, content.Blocks...)...)
	}
	return msgs
}

// Transcript is an append-only sequence of messages. Values are immutable:
// Append always returns a new Transcript and never writes into a backing
// array another Transcript can see.
type Transcript struct {
	msgs []Message
}

// NewTranscript copies msgs into a fresh transcript.
func NewTranscript(msgs ...Message) Transcript {
	cp := make([]Message, len(msgs))
	copy(cp, msgs)
	return Transcript{msgs: cp}
}

// Append returns a new transcript with msgs added at the end.
func (t Transcript) Append(msgs ...Message) Transcript {
	next := make([]Message, len(t.msgs), len(t.msgs)+len(msgs))
	copy(next, t.msgs)
	return Transcript{msgs: append(next, msgs...)}
}

// Messages returns a copy of the messages.
func (t Transcript) Messages() []Message {
	cp := make([]Message, len(t.msgs))
	copy(cp, t.msgs)
	return cp
}

func (t Transcript) Len() int {
	return len(t.msgs)
}

// Validate checks that every assistant tool_use block is answered by a
// tool_result with the same id in the very next message, which must be a
// user message.
func (t Transcript) Validate() error {
	for i, m := range t.msgs {
		if m.Role != RoleAssistant {
			continue
		}
		var ids []string
		for _, b := range m.Content.Blocks {
			if use, ok := b.(ToolUseBlock); ok {
				ids = append(ids, use.ID)
			}
		}
		if len(ids) == 0 {
			continue
		}
		if i+1 >= len(t.msgs) || t.msgs[i+1].Role != RoleUser {
			return fmt.Errorf("message %d: tool_use without a following user tool_result", i)
		}
		answered := make(map[string]bool)
		for _, b := range t.msgs[i+1].Content.Blocks {
			if res, ok := b.(ToolResultBlock); ok {
				answered[res.ToolUseID] = true
			}
		}
		for _, id := range ids {
			if !answered[id] {
				return fmt.Errorf("message %d: tool_use %q has no tool_result", i, id)
			}
		}
	}
	return nil
}
