package memory

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"github.com/hoornet/home-mind/internal/prompts"
)

// Completer produces one non-streaming completion for a prompt. The
// chat layer supplies it, bound to the extraction model and its token
// budget.
type Completer func(ctx context.Context, prompt string) (string, error)

// Extractor asks a small model to pull long-term facts out of a
// finished exchange. Extraction is best-effort end to end: any
// failure yields an empty result rather than an error.
type Extractor struct {
	complete Completer
	logger   *slog.Logger
}

// NewExtractor creates a fact extractor.
func NewExtractor(complete Completer, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{complete: complete, logger: logger.With("component", "extractor")}
}

// Models sometimes wrap the JSON array in markdown code fences.
var (
	fenceOpen  = regexp.MustCompile("(?i)^```(?:json)?\\s*\n?")
	fenceClose = regexp.MustCompile("(?i)\n?```\\s*$")
)

func stripCodeFence(s string) string {
	s = fenceOpen.ReplaceAllString(s, "")
	s = fenceClose.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// Extract analyzes one exchange and returns validated fact candidates.
// Existing facts are shown to the model so it can emit replacements
// instead of duplicates.
func (e *Extractor) Extract(ctx context.Context, userMessage, assistantResponse string, existing []Fact) []ExtractedFact {
	section := "No existing facts stored yet."
	if len(existing) > 0 {
		type promptFact struct {
			ID       string   `json:"id"`
			Content  string   `json:"content"`
			Category Category `json:"category"`
		}
		list := make([]promptFact, len(existing))
		for i, f := range existing {
			list[i] = promptFact{ID: f.ID, Content: f.Content, Category: f.Category}
		}
		b, err := json.MarshalIndent(list, "", "  ")
		if err == nil {
			section = "Existing facts (check if new facts should replace any of these):\n" + string(b)
		}
	}

	prompt := prompts.Extraction(section, userMessage, assistantResponse)

	text, err := e.complete(ctx, prompt)
	if err != nil {
		e.logger.Warn("fact extraction failed", "error", err)
		return nil
	}

	cleaned := stripCodeFence(text)

	var candidates []ExtractedFact
	if err := json.Unmarshal([]byte(cleaned), &candidates); err != nil {
		e.logger.Warn("fact extraction returned invalid JSON", "error", err)
		return nil
	}

	var valid []ExtractedFact
	for _, f := range candidates {
		if f.Content == "" || !ValidCategory(string(f.Category)) {
			continue
		}
		valid = append(valid, f)
	}
	return valid
}

// StoreExtracted filters garbage out of the candidates, deletes facts
// the survivors supersede, and stores the remainder in one batch.
// Returns the number stored.
func (e *Extractor) StoreExtracted(ctx context.Context, store FactStore, userID string, facts []ExtractedFact) int {
	kept, skipped := FilterFacts(facts)
	for _, s := range skipped {
		e.logger.Info("skipping garbage fact",
			"user_id", userID,
			"reason", s.Reason,
			"content", s.Fact.Content,
		)
	}
	if len(kept) == 0 {
		return 0
	}

	for _, f := range kept {
		for _, oldID := range f.Replaces {
			ok, err := store.DeleteFact(ctx, userID, oldID)
			if err != nil {
				e.logger.Warn("failed to delete replaced fact", "fact_id", oldID, "error", err)
				continue
			}
			if ok {
				e.logger.Info("replaced old fact", "user_id", userID, "fact_id", oldID)
			}
		}
	}

	ids, err := store.AddFacts(ctx, userID, kept)
	if err != nil {
		e.logger.Warn("failed to store extracted facts", "user_id", userID, "error", err)
		return 0
	}

	for i, f := range kept {
		if i < len(ids) {
			e.logger.Info("stored new fact", "user_id", userID, "fact_id", ids[i], "content", f.Content)
		}
	}
	return len(ids)
}
