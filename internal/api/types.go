package api

import "time"

// Request/response types for the Legal Case Analyzer backend.

// ChatRequest is the body for both the streaming and single-shot chat calls.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// ChatResponse is the single-shot chat reply. Session-scoped calls fill
// SessionID; conversation-scoped calls fill ConversationID (and MessageID
// when the backend persists the assistant turn).
type ChatResponse struct {
	Response       string `json:"response"`
	SessionID      string `json:"session_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
}

// streamFrame is one decoded "data: <json>" payload from the event stream.
type streamFrame struct {
	Type      string `json:"type"` // "token", "tool", "tool_result", "done", "error"
	Content   string `json:"content,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Done      bool   `json:"done,omitempty"`
	Error     string `json:"error,omitempty"`
}

// StreamEvent represents a parsed event from the chat stream.
type StreamEvent struct {
	Type    string // "token", "tool", "tool_result", "done", "error"
	Content string // token text or tool display label
	Error   string // for "error" events
}

// HistoryMessage is one persisted turn as returned by the history endpoint.
type HistoryMessage struct {
	Role    string `json:"role"` // "user", "assistant", or "tool"
	Content string `json:"content"`
}

// ChatHistory is the full persisted transcript for a session.
type ChatHistory struct {
	SessionID string           `json:"session_id"`
	Messages  []HistoryMessage `json:"messages"`
}

// SessionList is the response of the sessions listing endpoint.
type SessionList struct {
	Sessions []string `json:"sessions"`
	Count    int      `json:"count"`
}

// Conversation is a persisted conversation record (authenticated API).
type Conversation struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	MessageCount int            `json:"message_count,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at,omitempty"`
}

// ConversationList is a page of conversations.
type ConversationList struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
	Page          int            `json:"page"`
	PageSize      int            `json:"page_size"`
}

// CreateConversationRequest is the body for creating a conversation.
type CreateConversationRequest struct {
	Title    string         `json:"title,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// UpdateConversationRequest is the body for renaming a conversation.
type UpdateConversationRequest struct {
	Title string `json:"title"`
}

// apiError is the backend's error envelope ({"detail": "..."}).
type apiError struct {
	Detail string `json:"detail"`
}
