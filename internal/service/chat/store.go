package chat

import (
	"context"
	"errors"

	"github.com/zhouzirui/mood-coach/backend/internal/model/chat"
	"github.com/zhouzirui/mood-coach/backend/internal/model/mood"
)

var (
	ErrConversationIDRequired = errors.New("conversation id is required")
	ErrSystemMessage          = errors.New("system messages are not stored")
)

// Store abstracts conversation state. Implementations must be safe for concurrent use
// and must never reorder messages.
type Store interface {
	// Get returns chat.ErrConversationNotFound for unknown ids.
	Get(ctx context.Context, id string) (chat.Conversation, error)
	// GetOrCreate returns the existing conversation or creates it; created reports which.
	GetOrCreate(ctx context.Context, id string, m mood.Mood, firstMessage string) (conv chat.Conversation, created bool, err error)
	AppendMessage(ctx context.Context, id string, msg chat.Message) error
	SetMood(ctx context.Context, id string, m mood.Mood) error
	Delete(ctx context.Context, id string) error
	// List returns conversations ordered by creation time, newest first.
	List(ctx context.Context) ([]chat.Conversation, error)
	Len() int
}

// Persister snapshots the whole store. Save always receives the full state.
type Persister interface {
	Load(ctx context.Context) ([]chat.Conversation, error)
	Save(ctx context.Context, conversations []chat.Conversation) error
	Close() error
}
