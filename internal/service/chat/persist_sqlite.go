package chat

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zhouzirui/mood-coach/backend/internal/model/chat"
	"github.com/zhouzirui/mood-coach/backend/internal/model/mood"

	_ "modernc.org/sqlite" // SQLite driver registration
)

const (
	sqliteSchemaVersion = 1
	sqliteBusyTimeoutMS = 5000
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id         TEXT PRIMARY KEY,
		mood       TEXT NOT NULL,
		title      TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		conversation_id TEXT    NOT NULL,
		seq             INTEGER NOT NULL,
		role            TEXT    NOT NULL,
		content         TEXT    NOT NULL DEFAULT '',
		mood            TEXT    NOT NULL DEFAULT '',
		created_at      TEXT    NOT NULL,
		PRIMARY KEY (conversation_id, seq)
	)`,
}

// SQLitePersister stores snapshots in a SQLite database.
type SQLitePersister struct {
	db *sql.DB
}

// OpenSQLitePersister opens (and migrates) the database at path.
func OpenSQLitePersister(ctx context.Context, path string) (*SQLitePersister, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", sqliteBusyTimeoutMS)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}
	if err := migrateSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLitePersister{db: db}, nil
}

func migrateSQLite(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("sqlite: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("sqlite: read schema version: %w", err)
	}
	if current >= sqliteSchemaVersion {
		return nil
	}

	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", sqliteSchemaVersion); err != nil {
		return fmt.Errorf("sqlite: record schema version: %w", err)
	}
	return nil
}

// Load reads every conversation with its messages in sequence order.
func (p *SQLitePersister) Load(ctx context.Context) ([]chat.Conversation, error) {
	rows, err := p.db.QueryContext(ctx, "SELECT id, mood, title, created_at FROM conversations")
	if err != nil {
		return nil, fmt.Errorf("sqlite: query conversations: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*chat.Conversation)
	var ids []string
	for rows.Next() {
		var (
			conv      chat.Conversation
			moodRaw   string
			createdAt string
		)
		if err := rows.Scan(&conv.ID, &moodRaw, &conv.Title, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan conversation: %w", err)
		}
		conv.Mood = mood.Normalize(moodRaw)
		conv.CreatedAt = parseSQLiteTime(createdAt)
		conv.Messages = []chat.Message{}
		byID[conv.ID] = &conv
		ids = append(ids, conv.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate conversations: %w", err)
	}

	msgRows, err := p.db.QueryContext(ctx, "SELECT conversation_id, role, content, mood, created_at FROM messages ORDER BY conversation_id, seq")
	if err != nil {
		return nil, fmt.Errorf("sqlite: query messages: %w", err)
	}
	defer msgRows.Close()

	for msgRows.Next() {
		var (
			convID, role, content, moodRaw, createdAt string
		)
		if err := msgRows.Scan(&convID, &role, &content, &moodRaw, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan message: %w", err)
		}
		conv, ok := byID[convID]
		if !ok {
			continue
		}
		msg := chat.Message{
			Role:      chat.Role(role),
			Content:   content,
			Timestamp: parseSQLiteTime(createdAt),
		}
		if m, ok := mood.Parse(moodRaw); ok {
			msg.Mood = m
		}
		conv.Messages = append(conv.Messages, msg)
	}
	if err := msgRows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate messages: %w", err)
	}

	out := make([]chat.Conversation, 0, len(ids))
	for _, id := range ids {
		out = append(out, *byID[id])
	}
	return out, nil
}

// Save replaces both tables inside one transaction.
func (p *SQLitePersister) Save(ctx context.Context, conversations []chat.Conversation) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages"); err != nil {
		return fmt.Errorf("sqlite: clear messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM conversations"); err != nil {
		return fmt.Errorf("sqlite: clear conversations: %w", err)
	}

	convStmt, err := tx.PrepareContext(ctx, "INSERT INTO conversations (id, mood, title, created_at) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("sqlite: prepare conversation insert: %w", err)
	}
	defer convStmt.Close()

	msgStmt, err := tx.PrepareContext(ctx, "INSERT INTO messages (conversation_id, seq, role, content, mood, created_at) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("sqlite: prepare message insert: %w", err)
	}
	defer msgStmt.Close()

	for _, conv := range conversations {
		if _, err := convStmt.ExecContext(ctx, conv.ID, string(conv.Mood), conv.Title, formatSQLiteTime(conv.CreatedAt)); err != nil {
			return fmt.Errorf("sqlite: insert conversation %s: %w", conv.ID, err)
		}
		for seq, msg := range conv.Messages {
			if _, err := msgStmt.ExecContext(ctx, conv.ID, seq, string(msg.Role), msg.Content, string(msg.Mood), formatSQLiteTime(msg.Timestamp)); err != nil {
				return fmt.Errorf("sqlite: insert message %s/%d: %w", conv.ID, seq, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (p *SQLitePersister) Close() error {
	return p.db.Close()
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseSQLiteTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
