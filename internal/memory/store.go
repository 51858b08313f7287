package memory

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/hoornet/home-mind/internal/config"
)

// FactStore is the long-term fact storage backend.
type FactStore interface {
	// GetFacts returns all facts for a user, most relevant first.
	GetFacts(ctx context.Context, userID string) ([]Fact, error)

	// GetFactsWithinTokenLimit returns the most relevant facts whose
	// combined token estimate stays within maxTokens, and marks them
	// as used. currentContext steers relevance on backends that
	// support it and may be empty.
	GetFactsWithinTokenLimit(ctx context.Context, userID string, maxTokens int, currentContext string) ([]Fact, error)

	// AddFact stores one fact and returns its ID.
	AddFact(ctx context.Context, userID, content string, category Category, confidence float64) (string, error)

	// AddFacts stores a batch of extracted facts and returns their IDs.
	AddFacts(ctx context.Context, userID string, facts []ExtractedFact) ([]string, error)

	// DeleteFact removes one fact, reporting whether it existed.
	DeleteFact(ctx context.Context, userID, factID string) (bool, error)

	// ClearUserFacts removes all facts for a user and returns how many.
	ClearUserFacts(ctx context.Context, userID string) (int, error)

	// FactCount returns the number of stored facts for a user.
	FactCount(ctx context.Context, userID string) (int, error)

	Close() error
}

// defaultConfidence is assigned when the extractor omits one.
const defaultConfidence = 0.8

// estimateTokens approximates token count as one token per 4 characters.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// trimToTokenLimit keeps the leading facts whose combined estimate
// fits within maxTokens, stopping before the first that would exceed it.
func trimToTokenLimit(facts []Fact, maxTokens int) []Fact {
	var out []Fact
	total := 0
	for _, f := range facts {
		t := estimateTokens(f.Content)
		if total+t > maxTokens {
			break
		}
		out = append(out, f)
		total += t
	}
	return out
}

// NewStore selects a fact store backend from configuration.
func NewStore(cfg config.MemoryConfig, dataDir string, logger *slog.Logger) (FactStore, error) {
	switch cfg.Backend {
	case "sqlite":
		return NewSQLiteStore(filepath.Join(dataDir, "memory.db"), logger)
	case "shodh":
		return NewShodhStore(ShodhConfig{
			BaseURL: cfg.ShodhURL,
			APIKey:  cfg.ShodhAPIKey,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown memory backend %q", cfg.Backend)
	}
}
