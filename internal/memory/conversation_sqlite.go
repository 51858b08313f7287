package memory

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteConversationStore persists conversations across restarts.
type SQLiteConversationStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteConversationStore opens (creating if needed) the
// conversation database at dbPath.
func NewSQLiteConversationStore(dbPath string, logger *slog.Logger) (*SQLiteConversationStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &SQLiteConversationStore{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteConversationStore) migrate() error {
	_, err := s.db.Exec(`
		PRAGMA journal_mode = WAL;

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL CHECK(role IN ('user', 'assistant')),
			content TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conv_id ON messages(conversation_id);
		CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at);
	`)
	return err
}

// Close closes the database connection.
func (s *SQLiteConversationStore) Close() error {
	return s.db.Close()
}

// StoreMessage inserts one turn and prunes the conversation down to
// its most recent messages in the same call.
func (s *SQLiteConversationStore) StoreMessage(conversationID, userID, role, content string) (string, error) {
	id := uuid.New().String()
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := s.db.Exec(`
		INSERT INTO messages (id, conversation_id, user_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, conversationID, userID, role, content, now)
	if err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}

	_, err = s.db.Exec(`
		DELETE FROM messages WHERE id IN (
			SELECT id FROM messages
			WHERE conversation_id = ?
			ORDER BY rowid DESC
			LIMIT -1 OFFSET ?
		)
	`, conversationID, conversationCap)
	if err != nil {
		return "", fmt.Errorf("prune conversation: %w", err)
	}

	return id, nil
}

// History returns up to limit most recent messages, oldest first. A
// limit of zero or less returns everything.
func (s *SQLiteConversationStore) History(conversationID string, limit int) ([]ConversationMessage, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT id, conversation_id, user_id, role, content, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY rowid DESC
		LIMIT ?
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var messages []ConversationMessage
	for rows.Next() {
		var m ConversationMessage
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.UserID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query returned newest first; flip to chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// ListConversations summarizes the conversations a user participates in.
func (s *SQLiteConversationStore) ListConversations(userID string) ([]ConversationSummary, error) {
	rows, err := s.db.Query(`
		SELECT m.conversation_id,
		       (SELECT content FROM messages
		        WHERE conversation_id = m.conversation_id
		        ORDER BY rowid DESC LIMIT 1),
		       MAX(m.created_at),
		       COUNT(*)
		FROM messages m
		WHERE m.conversation_id IN (
			SELECT DISTINCT conversation_id FROM messages WHERE user_id = ?
		)
		GROUP BY m.conversation_id
		ORDER BY MAX(m.created_at) DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var results []ConversationSummary
	for rows.Next() {
		var c ConversationSummary
		var lastAt string
		if err := rows.Scan(&c.ConversationID, &c.LastMessage, &lastAt, &c.MessageCount); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		c.LastMessageAt, _ = time.Parse(time.RFC3339, lastAt)
		results = append(results, c)
	}
	return results, rows.Err()
}

// DeleteConversation removes a conversation's messages.
func (s *SQLiteConversationStore) DeleteConversation(conversationID string) (int, error) {
	result, err := s.db.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return 0, fmt.Errorf("delete conversation: %w", err)
	}
	n, err := result.RowsAffected()
	return int(n), err
}

// KnownUsers returns every user ID seen in stored messages.
func (s *SQLiteConversationStore) KnownUsers() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT user_id FROM messages`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CleanupOld deletes conversations whose newest message predates the cutoff.
func (s *SQLiteConversationStore) CleanupOld(olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)

	result, err := s.db.Exec(`
		DELETE FROM messages WHERE conversation_id IN (
			SELECT conversation_id FROM messages
			GROUP BY conversation_id
			HAVING MAX(created_at) < ?
		)
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup conversations: %w", err)
	}
	n, err := result.RowsAffected()
	return int(n), err
}
