package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the embedded fact store. Facts are ranked by use
// count and recency; retrieval bumps both so frequently referenced
// facts stay near the top.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if needed) the fact database at dbPath.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		PRAGMA journal_mode = WAL;

		CREATE TABLE IF NOT EXISTS facts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			category TEXT NOT NULL,
			confidence REAL DEFAULT 0.8,
			created_at TEXT NOT NULL,
			last_used TEXT NOT NULL,
			use_count INTEGER DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_facts_user_id ON facts(user_id);
		CREATE INDEX IF NOT EXISTS idx_facts_category ON facts(user_id, category);
	`)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetFacts returns all facts for a user ordered by relevance.
func (s *SQLiteStore) GetFacts(ctx context.Context, userID string) ([]Fact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, content, category, confidence, created_at, last_used, use_count
		FROM facts
		WHERE user_id = ?
		ORDER BY use_count DESC, last_used DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	var facts []Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// GetFactsWithinTokenLimit returns the leading relevant facts that fit
// the token budget and bumps their usage counters in one statement.
func (s *SQLiteStore) GetFactsWithinTokenLimit(ctx context.Context, userID string, maxTokens int, _ string) ([]Fact, error) {
	facts, err := s.GetFacts(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := trimToTokenLimit(facts, maxTokens)
	if len(result) == 0 {
		return result, nil
	}

	placeholders := strings.Repeat("?,", len(result))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(result)+1)
	args = append(args, time.Now().UTC().Format(time.RFC3339))
	for _, f := range result {
		args = append(args, f.ID)
	}

	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE facts
		SET last_used = ?, use_count = use_count + 1
		WHERE id IN (%s)
	`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("bump fact usage: %w", err)
	}

	return result, nil
}

// AddFact stores one fact.
func (s *SQLiteStore) AddFact(ctx context.Context, userID, content string, category Category, confidence float64) (string, error) {
	id := uuid.New().String()
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO facts (id, user_id, content, category, confidence, created_at, last_used)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, userID, content, category, confidence, now, now)
	if err != nil {
		return "", fmt.Errorf("insert fact: %w", err)
	}
	return id, nil
}

// AddFacts stores a batch of extracted facts in one transaction.
func (s *SQLiteStore) AddFacts(ctx context.Context, userID string, facts []ExtractedFact) ([]string, error) {
	if len(facts) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO facts (id, user_id, content, category, confidence, created_at, last_used)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	ids := make([]string, 0, len(facts))
	for _, f := range facts {
		confidence := defaultConfidence
		if f.Confidence != nil {
			confidence = *f.Confidence
		}
		id := uuid.New().String()
		if _, err := stmt.ExecContext(ctx, id, userID, f.Content, f.Category, confidence, now, now); err != nil {
			return nil, fmt.Errorf("insert fact: %w", err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return ids, nil
}

// DeleteFact removes one fact, reporting whether it existed.
func (s *SQLiteStore) DeleteFact(ctx context.Context, _, factID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM facts WHERE id = ?`, factID)
	if err != nil {
		return false, fmt.Errorf("delete fact: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ClearUserFacts removes all facts for a user.
func (s *SQLiteStore) ClearUserFacts(ctx context.Context, userID string) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM facts WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("clear facts: %w", err)
	}
	n, err := result.RowsAffected()
	return int(n), err
}

// FactCount returns the number of stored facts for a user.
func (s *SQLiteStore) FactCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM facts WHERE user_id = ?`, userID).Scan(&count)
	return count, err
}

func scanFact(rows *sql.Rows) (Fact, error) {
	var f Fact
	var createdAt, lastUsed string
	if err := rows.Scan(&f.ID, &f.UserID, &f.Content, &f.Category, &f.Confidence,
		&createdAt, &lastUsed, &f.UseCount); err != nil {
		return Fact{}, fmt.Errorf("scan fact: %w", err)
	}
	f.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	f.LastUsed, _ = time.Parse(time.RFC3339, lastUsed)
	return f, nil
}
