package chat

import (
	"time"

	"github.com/zhouzirui/mood-coach/backend/internal/model/mood"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleSystem is synthesized per upstream request and never stored.
	RoleSystem Role = "system"
)

// Message is a single stored turn. It is never mutated after being appended.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Mood      mood.Mood `json:"mood,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// IsUser reports whether the message was written by the user.
func (m Message) IsUser() bool {
	return m.Role == RoleUser
}
