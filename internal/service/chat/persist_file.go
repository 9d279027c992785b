package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/zhouzirui/mood-coach/backend/internal/model/chat"
)

// FilePersister mirrors the store into a single JSON object keyed by conversation id.
// Writes go to a temp file in the same directory and are renamed into place.
type FilePersister struct {
	path string
	mu   sync.Mutex
}

// NewFilePersister returns a persister writing to path.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

// Load reads the snapshot. A missing file yields an empty store.
func (p *FilePersister) Load(_ context.Context) ([]chat.Conversation, error) {
	raw, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p.path, err)
	}

	var byID map[string]chat.Conversation
	if err := json.Unmarshal(raw, &byID); err != nil {
		return nil, fmt.Errorf("decode %s: %w", p.path, err)
	}

	out := make([]chat.Conversation, 0, len(byID))
	for id, conv := range byID {
		if conv.ID == "" {
			conv.ID = id
		}
		out = append(out, conv)
	}
	return out, nil
}

// Save rewrites the whole file.
func (p *FilePersister) Save(_ context.Context, conversations []chat.Conversation) error {
	byID := make(map[string]chat.Conversation, len(conversations))
	for _, conv := range conversations {
		byID[conv.ID] = conv
	}

	data, err := json.MarshalIndent(byID, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(p.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		return fmt.Errorf("replace %s: %w", p.path, err)
	}
	return nil
}

// Close is a no-op; the file is not held open.
func (p *FilePersister) Close() error {
	return nil
}
