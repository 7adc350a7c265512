// Package history persists conversations and their messages in SQLite.
// Deleting a conversation also purges its session vectors through the
// injected purger before any rows are removed, so the vector store can never
// hold chunks for a conversation that no longer exists.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/veridoc/ragd/internal/rag"
)

// HistoryWindow is how many recent messages are replayed into the
// generation prompt.
const HistoryWindow = 6

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Conversation is one chat thread.
type Conversation struct {
	ID        string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one turn in a conversation. Flagged marks an assistant message
// whose generation failed mid-stream, so clients can render the partial
// answer as incomplete. Attachment names the document uploaded with a user
// turn, empty otherwise.
type Message struct {
	ID             int64
	ConversationID string
	Role           Role
	Content        string
	Attachment     string
	Flagged        bool
	CreatedAt      time.Time
}

// SessionPurger removes a conversation's session vectors. Implemented by
// store.Store.DeleteScope.
type SessionPurger interface {
	DeleteScope(ctx context.Context, scope rag.Scope) error
}

// Store is the SQLite-backed conversation store.
type Store struct {
	db     *sql.DB
	purger SessionPurger
	logger *zap.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	attachment      TEXT NOT NULL DEFAULT '',
	flagged         INTEGER NOT NULL DEFAULT 0,
	created_at      TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation
	ON messages(conversation_id, id);
`

// Open creates or opens the conversation database at path, running the
// schema migration. The purger may be nil in tooling contexts that never
// delete conversations.
func Open(path string, purger SessionPurger, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	// WAL keeps readers unblocked while a chat turn is persisting.
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history schema: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, purger: purger, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// CreateConversation starts a new thread and returns it.
func (s *Store) CreateConversation(ctx context.Context, title string) (*Conversation, error) {
	conv := &Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	conv.UpdatedAt = conv.CreatedAt

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		conv.ID, conv.Title, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// GetConversation returns one conversation or rag.ErrNotFound.
func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at, updated_at FROM conversations WHERE id = ?`, id).
		Scan(&conv.ID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: conversation %s", rag.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &conv, nil
}

// ListConversations returns all threads, most recently active first.
func (s *Store) ListConversations(ctx context.Context) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at, updated_at FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []Conversation
	for rows.Next() {
		var conv Conversation
		if err := rows.Scan(&conv.ID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

// DeleteConversation removes a thread and everything attached to it. The
// session vector purge runs first and synchronously; if it fails, the rows
// stay so the deletion can be retried without orphaning vectors.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	if _, err := s.GetConversation(ctx, id); err != nil {
		return err
	}

	if s.purger != nil {
		if err := s.purger.DeleteScope(ctx, rag.Session(id)); err != nil {
			return fmt.Errorf("purge session vectors for %s: %w", id, err)
		}
	}

	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	s.logger.Info("deleted conversation", zap.String("conversation_id", id))
	return nil
}

// AppendMessage stores one turn and bumps the conversation's activity time.
// The caller fills ConversationID, Role, Content and optionally Attachment
// and Flagged; ID and CreatedAt are assigned here.
func (s *Store) AppendMessage(ctx context.Context, m Message) (*Message, error) {
	m.CreatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, role, content, attachment, flagged, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ConversationID, string(m.Role), m.Content, m.Attachment, m.Flagged, m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	m.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("append message id: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, m.CreatedAt, m.ConversationID); err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}
	return &m, nil
}

// RecentMessages returns the last limit messages in chronological order, for
// prompt replay. A non-positive limit uses HistoryWindow.
func (s *Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = HistoryWindow
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, attachment, flagged, created_at
		 FROM messages WHERE conversation_id = ?
		 ORDER BY id DESC LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	// Query walked backwards from the newest; replay order is oldest first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// ListMessages returns a conversation's full transcript, oldest first.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, attachment, flagged, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY id ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var messages []Message
	for rows.Next() {
		var (
			m    Message
			role string
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &m.Attachment, &m.Flagged, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = Role(role)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
