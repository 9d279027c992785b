package chat_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	chatmodel "github.com/zhouzirui/mood-coach/backend/internal/model/chat"
	"github.com/zhouzirui/mood-coach/backend/internal/model/mood"
	chat "github.com/zhouzirui/mood-coach/backend/internal/service/chat"
)

func seedAndClose(t *testing.T, p chat.Persister) {
	t.Helper()
	ctx := context.Background()
	store := chat.NewMemoryStore(ctx, chat.WithPersister(p))

	if _, _, err := store.GetOrCreate(ctx, "c1", mood.Anxious, "I feel stressed"); err != nil {
		t.Fatalf("GetOrCreate err: %v", err)
	}
	if err := store.AppendMessage(ctx, "c1", chatmodel.Message{Role: chatmodel.RoleUser, Content: "I feel stressed", Mood: mood.Anxious}); err != nil {
		t.Fatalf("AppendMessage err: %v", err)
	}
	if err := store.AppendMessage(ctx, "c1", chatmodel.Message{Role: chatmodel.RoleAssistant, Content: "Take a breath."}); err != nil {
		t.Fatalf("AppendMessage err: %v", err)
	}
	if err := store.Close(ctx); err != nil {
		t.Fatalf("Close err: %v", err)
	}
}

func assertReloaded(t *testing.T, p chat.Persister) {
	t.Helper()
	ctx := context.Background()
	store := chat.NewMemoryStore(ctx, chat.WithPersister(p))
	defer store.Close(ctx)

	conv, err := store.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get after reload err: %v", err)
	}
	if conv.Mood != mood.Anxious || conv.Title != "I feel stressed" {
		t.Fatalf("unexpected conversation %+v", conv)
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(conv.Messages))
	}
	if conv.Messages[0].Role != chatmodel.RoleUser || conv.Messages[1].Content != "Take a breath." {
		t.Fatalf("unexpected messages %+v", conv.Messages)
	}
	if conv.Messages[0].Mood != mood.Anxious {
		t.Fatalf("message mood lost: %q", conv.Messages[0].Mood)
	}
}

func TestFilePersisterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversations.json")

	seedAndClose(t, chat.NewFilePersister(path))
	assertReloaded(t, chat.NewFilePersister(path))

	matches, _ := filepath.Glob(path + ".*.tmp")
	if len(matches) != 0 {
		t.Fatalf("temp files left behind: %v", matches)
	}
}

func TestFilePersisterCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversations.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("WriteFile err: %v", err)
	}

	ctx := context.Background()
	store := chat.NewMemoryStore(ctx, chat.WithPersister(chat.NewFilePersister(path)))
	defer store.Close(ctx)

	if store.Len() != 0 {
		t.Fatalf("expected empty store, got %d", store.Len())
	}
}

func TestFilePersisterMissingFile(t *testing.T) {
	p := chat.NewFilePersister(filepath.Join(t.TempDir(), "none.json"))
	convs, err := p.Load(context.Background())
	if err != nil || len(convs) != 0 {
		t.Fatalf("expected empty load, got %v, %v", convs, err)
	}
}

func TestSQLitePersisterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversations.db")
	ctx := context.Background()

	first, err := chat.OpenSQLitePersister(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLitePersister err: %v", err)
	}
	seedAndClose(t, first)

	second, err := chat.OpenSQLitePersister(ctx, path)
	if err != nil {
		t.Fatalf("reopen err: %v", err)
	}
	assertReloaded(t, second)
}

// slowPersister blocks in Save until released.
type slowPersister struct {
	entered     chan struct{}
	release     chan struct{}
	enteredOnce sync.Once

	mu     sync.Mutex
	saves  int
	closed bool
}

func (p *slowPersister) Load(context.Context) ([]chatmodel.Conversation, error) { return nil, nil }

func (p *slowPersister) Save(context.Context, []chatmodel.Conversation) error {
	p.mu.Lock()
	p.saves++
	p.mu.Unlock()
	p.enteredOnce.Do(func() { close(p.entered) })
	<-p.release
	return nil
}

func (p *slowPersister) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func TestCloseSkipsFlushWhileSaveInFlight(t *testing.T) {
	p := &slowPersister{entered: make(chan struct{}), release: make(chan struct{})}
	store := chat.NewMemoryStore(context.Background(), chat.WithPersister(p))
	defer close(p.release)

	if _, _, err := store.GetOrCreate(context.Background(), "c1", mood.Happy, "hi"); err != nil {
		t.Fatalf("GetOrCreate err: %v", err)
	}
	<-p.entered

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.Close(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.saves != 1 || p.closed {
		t.Fatalf("persister touched under a running save: saves=%d closed=%v", p.saves, p.closed)
	}
}
