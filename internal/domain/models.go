// Package domain defines the core models shared across the bridge.
package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Role identifies the author of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Title returns the role with its first letter upper-cased, the form used
// when rendering a context block ("User: ...").
func (r Role) Title() string {
	s := string(r)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Session represents a stored conversation.
type Session struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionSummary is the list-view projection of a session.
type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Message is a single transcript entry. The log is append-only; messages
// are never edited in place.
type Message struct {
	MessageID string          `json:"message_id"`
	SessionID string          `json:"session_id"`
	Role      Role            `json:"role"`
	Content   string          `json:"content"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Recall is the payload served by the context-recall surface: the stored
// messages plus the rendered context block and per-role splits.
type Recall struct {
	SessionID         string    `json:"session_id"`
	Messages          []Message `json:"messages"`
	UserMessages      []string  `json:"user_messages"`
	AssistantMessages []string  `json:"assistant_messages"`
	ContextBlock      string    `json:"context_block"`
	MessageCount      int       `json:"message_count"`
	LimitApplied      int       `json:"limit_applied"`
}
