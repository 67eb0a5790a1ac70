package session

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn in a conversation. IDs are generated locally until the
// backend persists the turn and issues its own.
type Message struct {
	ID          string    `json:"id"`
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
	IsStreaming bool      `json:"is_streaming"`
}

// Snapshot is an immutable view of the transcript, published to the
// subscriber on every mutation. The in-progress assistant message, when one
// exists, is always the last entry.
type Snapshot struct {
	SessionID string
	Messages  []Message
}

// accumulator holds the single in-progress assistant message. It is owned
// exclusively by the active send's state machine; at most one message with
// IsStreaming set exists at any time.
type accumulator struct {
	mu       sync.Mutex
	msg      *Message
	content  strings.Builder
	received bool // true once at least one token arrived
}

// start begins a fresh in-progress assistant message, replacing any
// previous one.
func (a *accumulator) start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.msg = &Message{
		ID:          uuid.NewString(),
		Role:        RoleAssistant,
		CreatedAt:   time.Now(),
		IsStreaming: true,
	}
	a.content.Reset()
	a.received = false
}

// append concatenates text to the in-progress content. Token text marks the
// response as received; tool markers do not.
func (a *accumulator) append(text string, isToken bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.msg == nil {
		return
	}
	a.content.WriteString(text)
	if isToken {
		a.received = true
	}
}

// contentReceived reports whether any token content arrived on the stream.
func (a *accumulator) contentReceived() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.received
}

// current returns a copy of the in-progress message, if one exists.
func (a *accumulator) current() (Message, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.msg == nil {
		return Message{}, false
	}
	msg := *a.msg
	msg.Content = a.content.String()
	return msg, true
}

// finalize ends the in-progress message and returns it with IsStreaming
// cleared. A non-empty replacement substitutes the accumulated content
// wholesale (the backend's authoritative text; intermediate tool markers are
// cosmetic). Returns false when there is nothing to finalize.
func (a *accumulator) finalize(replacement string) (Message, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.msg == nil {
		return Message{}, false
	}
	msg := *a.msg
	msg.Content = a.content.String()
	if replacement != "" {
		msg.Content = replacement
	}
	msg.IsStreaming = false
	a.msg = nil
	a.content.Reset()
	a.received = false
	return msg, true
}

// discard removes the in-progress message entirely (cancel, or failed
// stream headed for fallback).
func (a *accumulator) discard() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.msg = nil
	a.content.Reset()
	a.received = false
}

// truncateTitle shortens a first message into a summary title.
func truncateTitle(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes]) + "..."
}
