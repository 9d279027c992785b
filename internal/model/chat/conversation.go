package chat

import (
	"errors"
	"time"
	"unicode/utf8"

	"github.com/zhouzirui/mood-coach/backend/internal/model/mood"
)

// ErrConversationNotFound distinguishes an unknown id from an empty conversation.
var ErrConversationNotFound = errors.New("conversation not found")

// titleLimit is measured in runes so CJK titles are not cut mid-character.
const titleLimit = 20

// Conversation captures the ordered history of one chat.
type Conversation struct {
	ID        string    `json:"id"`
	Messages  []Message `json:"messages"`
	Mood      mood.Mood `json:"mood"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

// New 创建会话，标题只在创建时根据首条消息生成一次。
func New(id string, m mood.Mood, firstMessage string, now time.Time) Conversation {
	return Conversation{
		ID:        id,
		Messages:  make([]Message, 0, 8),
		Mood:      mood.Normalize(string(m)),
		Title:     DeriveTitle(firstMessage),
		CreatedAt: now,
	}
}

// DeriveTitle truncates text to 20 characters and appends "..." only when it was longer.
func DeriveTitle(text string) string {
	if utf8.RuneCountInString(text) <= titleLimit {
		return text
	}
	runes := []rune(text)
	return string(runes[:titleLimit]) + "..."
}

// Clone returns a deep copy safe to hand out of the store.
func (c Conversation) Clone() Conversation {
	out := c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return out
}

// Last returns up to n trailing messages.
func (c Conversation) Last(n int) []Message {
	if n <= 0 || n >= len(c.Messages) {
		return c.Messages
	}
	return c.Messages[len(c.Messages)-n:]
}
