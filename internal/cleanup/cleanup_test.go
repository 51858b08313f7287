package cleanup

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hoornet/home-mind/internal/memory"
)

// fakeConversations supplies known users and a canned cleanup count.
type fakeConversations struct {
	users      []string
	oldDeleted int
	cleanedAge time.Duration
}

func (f *fakeConversations) StoreMessage(conversationID, userID, role, content string) (string, error) {
	return "", nil
}
func (f *fakeConversations) History(conversationID string, limit int) ([]memory.ConversationMessage, error) {
	return nil, nil
}
func (f *fakeConversations) ListConversations(userID string) ([]memory.ConversationSummary, error) {
	return nil, nil
}
func (f *fakeConversations) DeleteConversation(conversationID string) (int, error) { return 0, nil }
func (f *fakeConversations) KnownUsers() ([]string, error)                         { return f.users, nil }
func (f *fakeConversations) CleanupOld(olderThan time.Duration) (int, error) {
	f.cleanedAge = olderThan
	return f.oldDeleted, nil
}
func (f *fakeConversations) Close() error { return nil }

func newTestFactStore(t *testing.T) *memory.SQLiteStore {
	t.Helper()
	s, err := memory.NewSQLiteStore(filepath.Join(t.TempDir(), "facts.db"), nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunOnce_DeletesGarbageFacts(t *testing.T) {
	facts := newTestFactStore(t)
	ctx := context.Background()

	// Five facts, three of them garbage.
	facts.AddFact(ctx, "jure", "User prefers 21°C in the bedroom", memory.CategoryPreference, 0.9)
	facts.AddFact(ctx, "jure", "The kitchen light is currently on", memory.CategoryBaseline, 0.8)
	facts.AddFact(ctx, "jure", "User's cat is named Max", memory.CategoryIdentity, 0.9)
	facts.AddFact(ctx, "jure", "Brightness was set to 80 percent", memory.CategoryDevice, 0.8)
	facts.AddFact(ctx, "jure", "User might possibly like warm light", memory.CategoryPreference, 0.3)

	conversations := &fakeConversations{users: []string{"jure"}, oldDeleted: 2}
	job := New(facts, conversations, time.Hour, nil)

	result, err := job.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if result.UsersProcessed != 1 {
		t.Errorf("users processed = %d", result.UsersProcessed)
	}
	if result.FactsAnalyzed != 5 {
		t.Errorf("facts analyzed = %d", result.FactsAnalyzed)
	}
	if result.FactsDeleted != 3 {
		t.Errorf("facts deleted = %d, want 3", result.FactsDeleted)
	}
	if result.ConversationsDeleted != 2 {
		t.Errorf("conversations deleted = %d", result.ConversationsDeleted)
	}
	if conversations.cleanedAge != maxConversationAge {
		t.Errorf("conversation cutoff = %v, want %v", conversations.cleanedAge, maxConversationAge)
	}

	remaining, _ := facts.GetFacts(ctx, "jure")
	if len(remaining) != 2 {
		t.Fatalf("expected 2 surviving facts, got %d", len(remaining))
	}
	for _, f := range remaining {
		if memory.GarbageReason(f.Content, &f.Confidence) != "" {
			t.Errorf("garbage fact survived: %q", f.Content)
		}
	}
}

func TestRunOnce_NoUsers(t *testing.T) {
	facts := newTestFactStore(t)
	conversations := &fakeConversations{}
	job := New(facts, conversations, time.Hour, nil)

	result, err := job.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if result.UsersProcessed != 0 || result.FactsDeleted != 0 {
		t.Errorf("result = %+v", result)
	}
}

func TestStart_DisabledWhenIntervalZero(t *testing.T) {
	facts := newTestFactStore(t)
	job := New(facts, &fakeConversations{}, 0, nil)

	job.Start()
	// Stop on a disabled job must not block or panic.
	job.Stop()
}
