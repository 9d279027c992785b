package chat

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/zhouzirui/mood-coach/backend/internal/model/chat"
	"github.com/zhouzirui/mood-coach/backend/internal/model/mood"
)

// MemoryStore keeps conversations in memory and optionally mirrors them to a Persister.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*chat.Conversation
	now           func() time.Time

	persister Persister
	dirty     chan struct{}
	stop      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// Option customizes a MemoryStore.
type Option func(*MemoryStore)

// WithPersister enables write-behind snapshots after every mutation.
func WithPersister(p Persister) Option {
	return func(s *MemoryStore) {
		s.persister = p
	}
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore bootstraps the store. When a persister is configured its snapshot is
// loaded first; load failures are logged and the store starts empty.
func NewMemoryStore(ctx context.Context, opts ...Option) *MemoryStore {
	s := &MemoryStore{
		conversations: make(map[string]*chat.Conversation),
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.persister == nil {
		return s
	}

	loaded, err := s.persister.Load(ctx)
	if err != nil {
		log.Printf("[store] failed to load snapshot, starting empty: %v", err)
	}
	for _, conv := range loaded {
		if conv.ID == "" {
			continue
		}
		c := conv.Clone()
		s.conversations[c.ID] = &c
	}
	if len(loaded) > 0 {
		log.Printf("[store] loaded %d conversations", len(s.conversations))
	}

	s.dirty = make(chan struct{}, 1)
	s.stop = make(chan struct{})
	s.stopped = make(chan struct{})
	go s.persistLoop()
	return s
}

// Get retrieves a conversation by identifier.
func (s *MemoryStore) Get(_ context.Context, id string) (chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return chat.Conversation{}, chat.ErrConversationNotFound
	}
	return conv.Clone(), nil
}

// GetOrCreate provisions the conversation lazily on its first message.
func (s *MemoryStore) GetOrCreate(_ context.Context, id string, m mood.Mood, firstMessage string) (chat.Conversation, bool, error) {
	if id == "" {
		return chat.Conversation{}, false, ErrConversationIDRequired
	}

	s.mu.Lock()
	if conv, ok := s.conversations[id]; ok {
		out := conv.Clone()
		s.mu.Unlock()
		return out, false, nil
	}

	conv := chat.New(id, m, firstMessage, s.now())
	s.conversations[id] = &conv
	out := conv.Clone()
	s.mu.Unlock()

	s.markDirty()
	return out, true, nil
}

// AppendMessage appends a message to the conversation history.
func (s *MemoryStore) AppendMessage(_ context.Context, id string, msg chat.Message) error {
	if msg.Role == chat.RoleSystem {
		return ErrSystemMessage
	}

	s.mu.Lock()
	conv, ok := s.conversations[id]
	if !ok {
		s.mu.Unlock()
		return chat.ErrConversationNotFound
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	conv.Messages = append(conv.Messages, msg)
	s.mu.Unlock()

	s.markDirty()
	return nil
}

// SetMood updates the conversation mood.
func (s *MemoryStore) SetMood(_ context.Context, id string, m mood.Mood) error {
	s.mu.Lock()
	conv, ok := s.conversations[id]
	if !ok {
		s.mu.Unlock()
		return chat.ErrConversationNotFound
	}
	next := mood.Normalize(string(m))
	changed := conv.Mood != next
	conv.Mood = next
	s.mu.Unlock()

	if changed {
		s.markDirty()
	}
	return nil
}

// Delete removes a conversation.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	if _, ok := s.conversations[id]; !ok {
		s.mu.Unlock()
		return chat.ErrConversationNotFound
	}
	delete(s.conversations, id)
	s.mu.Unlock()

	s.markDirty()
	return nil
}

// List returns every conversation, newest first.
func (s *MemoryStore) List(_ context.Context) ([]chat.Conversation, error) {
	return s.snapshot(), nil
}

// Len returns the number of stored conversations.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}

// Close flushes the last snapshot and stops the write-behind goroutine.
func (s *MemoryStore) Close(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}

	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		select {
		case <-s.stopped:
		case <-ctx.Done():
			// persistLoop may still be inside Save; the persister stays open under it.
			log.Printf("[store] write-behind save still running, skipping final flush: %v", ctx.Err())
			err = ctx.Err()
			return
		}
		if saveErr := s.persister.Save(ctx, s.snapshot()); saveErr != nil {
			err = saveErr
		}
		if closeErr := s.persister.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	})
	return err
}

func (s *MemoryStore) snapshot() []chat.Conversation {
	s.mu.RLock()
	out := make([]chat.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		out = append(out, conv.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// markDirty never blocks: pending saves coalesce into one.
func (s *MemoryStore) markDirty() {
	if s.dirty == nil {
		return
	}
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

func (s *MemoryStore) persistLoop() {
	defer close(s.stopped)
	for {
		select {
		case <-s.stop:
			return
		case <-s.dirty:
			if err := s.persister.Save(context.Background(), s.snapshot()); err != nil {
				log.Printf("[store] failed to save snapshot: %v", err)
			}
		}
	}
}
