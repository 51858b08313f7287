package memory

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "facts.db"), slog.Default())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_AddAndGet(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := s.AddFact(ctx, "jure", "User prefers 21°C", CategoryPreference, 0.9)
	if err != nil {
		t.Fatalf("AddFact: %v", err)
	}
	if id == "" {
		t.Fatal("AddFact returned empty id")
	}

	facts, err := s.GetFacts(ctx, "jure")
	if err != nil {
		t.Fatalf("GetFacts: %v", err)
	}
	if len(facts) != 1 {
		t.Fatalf("expected 1 fact, got %d", len(facts))
	}
	f := facts[0]
	if f.ID != id || f.Content != "User prefers 21°C" || f.Category != CategoryPreference || f.Confidence != 0.9 {
		t.Errorf("fact round trip: %+v", f)
	}
	if f.UseCount != 0 {
		t.Errorf("new fact should have zero use count, got %d", f.UseCount)
	}
}

func TestSQLiteStore_UserIsolation(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	s.AddFact(ctx, "jure", "fact for jure", CategoryIdentity, 0.8)
	s.AddFact(ctx, "ana", "fact for ana", CategoryIdentity, 0.8)

	facts, _ := s.GetFacts(ctx, "jure")
	if len(facts) != 1 || facts[0].Content != "fact for jure" {
		t.Errorf("user isolation broken: %v", facts)
	}
}

func TestSQLiteStore_TokenLimitBumpsUsage(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	// ~10 tokens each; budget 25 fits only two.
	for _, content := range []string{
		strings.Repeat("a", 40),
		strings.Repeat("b", 40),
		strings.Repeat("c", 40),
	} {
		if _, err := s.AddFact(ctx, "jure", content, CategoryBaseline, 0.8); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.GetFactsWithinTokenLimit(ctx, "jure", 25, "")
	if err != nil {
		t.Fatalf("GetFactsWithinTokenLimit: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 facts within budget, got %d", len(got))
	}

	// The two retrieved facts had their usage bumped and now rank first.
	all, _ := s.GetFacts(ctx, "jure")
	if all[0].UseCount != 1 || all[1].UseCount != 1 {
		t.Errorf("retrieved facts should have use_count 1: %d, %d", all[0].UseCount, all[1].UseCount)
	}
	if all[2].UseCount != 0 {
		t.Errorf("unretrieved fact should stay at use_count 0, got %d", all[2].UseCount)
	}
}

func TestSQLiteStore_RelevanceOrdering(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	s.AddFact(ctx, "jure", "rarely used fact", CategoryBaseline, 0.8)
	hotID, _ := s.AddFact(ctx, "jure", "hot fact", CategoryBaseline, 0.8)

	s.db.Exec(`UPDATE facts SET use_count = 5 WHERE id = ?`, hotID)

	facts, _ := s.GetFacts(ctx, "jure")
	if facts[0].ID != hotID {
		t.Errorf("most used fact should rank first, got %s", facts[0].Content)
	}
}

func TestSQLiteStore_DeleteFactIdempotence(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	id, _ := s.AddFact(ctx, "jure", "fact to delete", CategoryDevice, 0.8)

	ok, err := s.DeleteFact(ctx, "jure", id)
	if err != nil || !ok {
		t.Fatalf("first delete: ok=%v err=%v", ok, err)
	}
	ok, err = s.DeleteFact(ctx, "jure", id)
	if err != nil || ok {
		t.Fatalf("second delete should report false: ok=%v err=%v", ok, err)
	}
}

func TestSQLiteStore_AddFactsBatch(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	ids, err := s.AddFacts(ctx, "jure", []ExtractedFact{
		{Content: "User works from home", Category: CategoryIdentity, Confidence: floatPtr(0.9)},
		{Content: "User wakes at 7am usually", Category: CategoryPattern},
	})
	if err != nil {
		t.Fatalf("AddFacts: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %d", len(ids))
	}

	facts, _ := s.GetFacts(ctx, "jure")
	if len(facts) != 2 {
		t.Fatalf("expected 2 stored facts, got %d", len(facts))
	}
	for _, f := range facts {
		if f.Content == "User wakes at 7am usually" && f.Confidence != defaultConfidence {
			t.Errorf("omitted confidence should default to %g, got %g", defaultConfidence, f.Confidence)
		}
	}
}

func TestSQLiteStore_AddFactsEmpty(t *testing.T) {
	s := newTestSQLiteStore(t)
	ids, err := s.AddFacts(context.Background(), "jure", nil)
	if err != nil || ids != nil {
		t.Errorf("empty batch: ids=%v err=%v", ids, err)
	}
}

func TestSQLiteStore_ClearAndCount(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	s.AddFact(ctx, "jure", "first fact here", CategoryBaseline, 0.8)
	s.AddFact(ctx, "jure", "second fact here", CategoryBaseline, 0.8)
	s.AddFact(ctx, "ana", "other user fact", CategoryBaseline, 0.8)

	count, err := s.FactCount(ctx, "jure")
	if err != nil || count != 2 {
		t.Fatalf("FactCount = %d, %v", count, err)
	}

	deleted, err := s.ClearUserFacts(ctx, "jure")
	if err != nil || deleted != 2 {
		t.Fatalf("ClearUserFacts = %d, %v", deleted, err)
	}

	count, _ = s.FactCount(ctx, "ana")
	if count != 1 {
		t.Errorf("other user's facts should survive, count = %d", count)
	}
}
