package memory

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hoornet/home-mind/internal/config"
)

// conversationCap is the number of messages kept per conversation.
const conversationCap = 20

// ConversationStore holds short-term conversation history.
type ConversationStore interface {
	// StoreMessage appends one turn and returns its ID. Conversations
	// are capped at their most recent messages.
	StoreMessage(conversationID, userID, role, content string) (string, error)

	// History returns up to limit most recent messages in
	// chronological order. A limit of zero or less returns everything.
	History(conversationID string, limit int) ([]ConversationMessage, error)

	// ListConversations summarizes a user's conversations, most
	// recently active first.
	ListConversations(userID string) ([]ConversationSummary, error)

	// DeleteConversation removes a conversation and returns how many
	// messages it held.
	DeleteConversation(conversationID string) (int, error)

	// KnownUsers returns every user ID seen in stored messages.
	KnownUsers() ([]string, error)

	// CleanupOld deletes conversations whose newest message is older
	// than the given age, returning the number of messages removed.
	CleanupOld(olderThan time.Duration) (int, error)

	Close() error
}

// NewConversationStore selects a conversation backend from configuration.
func NewConversationStore(cfg config.ConversationsConfig, dataDir string, logger *slog.Logger) (ConversationStore, error) {
	switch cfg.Storage {
	case "memory":
		return NewInMemoryConversationStore(), nil
	case "sqlite":
		return NewSQLiteConversationStore(filepath.Join(dataDir, "conversations.db"), logger)
	default:
		return nil, fmt.Errorf("unknown conversation storage %q", cfg.Storage)
	}
}

// InMemoryConversationStore keeps conversations in process memory.
// History is lost on restart.
type InMemoryConversationStore struct {
	mu            sync.Mutex
	conversations map[string][]ConversationMessage
	knownUsers    map[string]struct{}
}

// NewInMemoryConversationStore creates an empty in-memory store.
func NewInMemoryConversationStore() *InMemoryConversationStore {
	return &InMemoryConversationStore{
		conversations: make(map[string][]ConversationMessage),
		knownUsers:    make(map[string]struct{}),
	}
}

func (s *InMemoryConversationStore) StoreMessage(conversationID, userID, role, content string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.knownUsers[userID] = struct{}{}

	msg := ConversationMessage{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		UserID:         userID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}

	messages := append(s.conversations[conversationID], msg)
	if len(messages) > conversationCap {
		messages = messages[len(messages)-conversationCap:]
	}
	s.conversations[conversationID] = messages

	return msg.ID, nil
}

func (s *InMemoryConversationStore) History(conversationID string, limit int) ([]ConversationMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages := s.conversations[conversationID]
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	out := make([]ConversationMessage, len(messages))
	copy(out, messages)
	return out, nil
}

func (s *InMemoryConversationStore) ListConversations(userID string) ([]ConversationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var results []ConversationSummary
	for convID, messages := range s.conversations {
		var last *ConversationMessage
		for i := len(messages) - 1; i >= 0; i-- {
			if messages[i].UserID == userID {
				last = &messages[i]
				break
			}
		}
		if last == nil {
			continue
		}
		results = append(results, ConversationSummary{
			ConversationID: convID,
			LastMessage:    last.Content,
			LastMessageAt:  last.CreatedAt,
			MessageCount:   len(messages),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].LastMessageAt.After(results[j].LastMessageAt)
	})
	return results, nil
}

func (s *InMemoryConversationStore) DeleteConversation(conversationID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := len(s.conversations[conversationID])
	delete(s.conversations, conversationID)
	return count, nil
}

func (s *InMemoryConversationStore) KnownUsers() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make([]string, 0, len(s.knownUsers))
	for u := range s.knownUsers {
		users = append(users, u)
	}
	return users, nil
}

func (s *InMemoryConversationStore) CleanupOld(olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	deleted := 0
	for convID, messages := range s.conversations {
		if len(messages) == 0 {
			continue
		}
		if messages[len(messages)-1].CreatedAt.Before(cutoff) {
			deleted += len(messages)
			delete(s.conversations, convID)
		}
	}
	return deleted, nil
}

func (s *InMemoryConversationStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = make(map[string][]ConversationMessage)
	return nil
}
