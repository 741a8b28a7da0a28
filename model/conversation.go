package model

import "time"

// PageContext says where in the app the user started chatting.
type PageContext struct {
	Page     string `json:"page"`
	ItemType string `json:"itemType,omitempty"`
	ItemID   string `json:"itemId,omitempty"`
}

// Conversation is a chat thread owned by one user.
type Conversation struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Title         string    `json:"title"`
	StartedPage   string    `json:"started_page"`
	ContextType   string    `json:"context_type,omitempty"`
	ContextID     string    `json:"context_id,omitempty"`
	LastMessageAt time.Time `json:"last_message_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// ConversationMeta is what a new conversation is created from.
type ConversationMeta struct {
	UserID      string
	Title       string
	StartedPage string
	ContextType string
	ContextID   string
}
