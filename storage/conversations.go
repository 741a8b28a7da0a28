package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"receiptly/model"
)

const conversationColumns = `id, user_id, title, started_page, context_type, context_id, last_message_at, created_at`

// CreateConversation inserts a conversation and returns its id.
func (d *DB) CreateConversation(ctx context.Context, meta model.ConversationMeta) (string, error) {
	id := uuid.NewString()
	now := toMillis(d.now())
	stmt := `INSERT INTO conversations (` + conversationColumns + `) VALUES (` + d.placeholders(1, 8) + `)`
	if _, err := d.db.ExecContext(ctx, stmt,
		id, meta.UserID, meta.Title, meta.StartedPage, meta.ContextType, meta.ContextID, now, now,
	); err != nil {
		return "", fmt.Errorf("failed to create conversation: %w", err)
	}
	return id, nil
}

// TouchConversation bumps last_message_at.
func (d *DB) TouchConversation(ctx context.Context, id string) error {
	stmt := `UPDATE conversations SET last_message_at = ` + d.placeholder(1) + ` WHERE id = ` + d.placeholder(2)
	res, err := d.db.ExecContext(ctx, stmt, toMillis(d.now()), id)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetConversation returns the conversation if it exists and belongs to userID.
func (d *DB) GetConversation(ctx context.Context, userID, id string) (*model.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = ` + d.placeholder(1) + ` AND user_id = ` + d.placeholder(2)
	c, err := scanConversation(d.db.QueryRowContext(ctx, query, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return c, nil
}

// ListConversations returns the user's conversations, most recent first.
func (d *DB) ListConversations(ctx context.Context, userID string, limit int) ([]model.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + conversationColumns + ` FROM conversations
		WHERE user_id = ` + d.placeholder(1) + `
		ORDER BY last_message_at DESC, id
		LIMIT ` + d.placeholder(2)
	rows, err := d.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	list := make([]model.Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		list = append(list, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}
	return list, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*model.Conversation, error) {
	var c model.Conversation
	var last, created int64
	if err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.StartedPage, &c.ContextType, &c.ContextID, &last, &created); err != nil {
		return nil, err
	}
	c.LastMessageAt = fromMillis(last)
	c.CreatedAt = fromMillis(created)
	return &c, nil
}

// AppendMessages inserts msgs after the conversation's existing messages in
// one transaction and returns them with ids and timestamps filled in.
func (d *DB) AppendMessages(ctx context.Context, conversationID string, msgs []model.StoredMessage) ([]model.StoredMessage, error) {
	if len(msgs) == 0 {
		return nil, nil
	}

	out := make([]model.StoredMessage, len(msgs))
	copy(out, msgs)
	now := d.now()

	err := d.withTx(ctx, func(tx *sql.Tx) error {
		var last int64
		query := `SELECT COALESCE(MAX(position), 0) FROM messages WHERE conversation_id = ` + d.placeholder(1)
		if err := tx.QueryRowContext(ctx, query, conversationID).Scan(&last); err != nil {
			return fmt.Errorf("failed to read message position: %w", err)
		}

		stmt := `INSERT INTO messages (id, conversation_id, position, role, content, tool_calls, attachments, created_at)
			VALUES (` + d.placeholders(1, 8) + `)`
		for i := range out {
			m := &out[i]
			if m.ID == "" {
				m.ID = uuid.NewString()
			}
			m.ConversationID = conversationID
			if m.CreatedAt.IsZero() {
				m.CreatedAt = now
			}
			toolCalls, err := marshalOptional(m.ToolCalls)
			if err != nil {
				return err
			}
			attachments, err := marshalOptional(m.Attachments)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, stmt,
				m.ID, conversationID, last+int64(i)+1, string(m.Role), m.Content, toolCalls, attachments, toMillis(m.CreatedAt),
			); err != nil {
				return fmt.Errorf("failed to insert message: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LoadRecentHistory returns up to limit of the newest messages, oldest first.
func (d *DB) LoadRecentHistory(ctx context.Context, conversationID string, limit int) ([]model.StoredMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := `SELECT id, conversation_id, role, content, tool_calls, attachments, created_at
		FROM messages WHERE conversation_id = ` + d.placeholder(1) + `
		ORDER BY position DESC
		LIMIT ` + d.placeholder(2)
	msgs, err := d.queryMessages(ctx, query, conversationID, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// ListMessages returns every message of a conversation owned by userID.
func (d *DB) ListMessages(ctx context.Context, userID, conversationID string) ([]model.StoredMessage, error) {
	if _, err := d.GetConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	query := `SELECT id, conversation_id, role, content, tool_calls, attachments, created_at
		FROM messages WHERE conversation_id = ` + d.placeholder(1) + `
		ORDER BY position`
	return d.queryMessages(ctx, query, conversationID)
}

func (d *DB) queryMessages(ctx context.Context, query string, args ...any) ([]model.StoredMessage, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	msgs := make([]model.StoredMessage, 0)
	for rows.Next() {
		var m model.StoredMessage
		var role, toolCalls, attachments string
		var created int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &toolCalls, &attachments, &created); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = model.Role(role)
		m.CreatedAt = fromMillis(created)
		if toolCalls != "" {
			if err := json.Unmarshal([]byte(toolCalls), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("failed to decode tool calls of message %s: %w", m.ID, err)
			}
		}
		if attachments != "" {
			if err := json.Unmarshal([]byte(attachments), &m.Attachments); err != nil {
				return nil, fmt.Errorf("failed to decode attachments of message %s: %w", m.ID, err)
			}
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return msgs, nil
}

func marshalOptional[T any](v []T) (string, error) {
	if len(v) == 0 {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode message metadata: %w", err)
	}
	return string(data), nil
}
