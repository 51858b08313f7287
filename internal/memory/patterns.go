package memory

import (
	"fmt"
	"regexp"
)

// Garbage-detection patterns shared by extraction-time filtering and
// the periodic cleanup job.
var (
	// Transient state must not be stored as a long-term fact.
	transientPattern = regexp.MustCompile(`(?i)\b(currently|right now|at the moment|is showing|was just|is displaying|just turned|just set|is now)\b`)

	// Capability dumps: the model cataloging entity attributes instead
	// of extracting user facts.
	deviceSpecPattern = regexp.MustCompile(`(?i)\b(supports?\s+\d+|supports?\s+(rgbw|rgb|color_temp|xy|hs|brightness|on_off)|color.?mode|effect.?list|\d+\+?\s+effects?|firmware|protocol|supported.?features?|supported.?color)\b`)

	// Command echo: the assistant restating what it just did.
	commandEchoPattern = regexp.MustCompile(`(?i)\b(was set to|was changed to|was turned|has been set|has been turned|has been changed)\b`)
)

// GarbageReason reports why content should not be stored as a
// long-term fact, or "" when it is clean. A nil confidence is
// acceptable; only an explicit low value rejects.
func GarbageReason(content string, confidence *float64) string {
	if len(content) < 10 {
		return "too short (<10 chars)"
	}
	if transientPattern.MatchString(content) {
		return "transient state pattern"
	}
	if deviceSpecPattern.MatchString(content) {
		return "device spec/capability dump"
	}
	if commandEchoPattern.MatchString(content) {
		return "command echo (restating action)"
	}
	if confidence != nil && *confidence < 0.5 {
		return fmt.Sprintf("low confidence (%g)", *confidence)
	}
	return ""
}

// SkippedFact pairs a rejected fact with the reason it was rejected.
type SkippedFact struct {
	Fact   ExtractedFact
	Reason string
}

// FilterFacts splits candidates into clean facts and garbage.
func FilterFacts(facts []ExtractedFact) (kept []ExtractedFact, skipped []SkippedFact) {
	for _, f := range facts {
		if reason := GarbageReason(f.Content, f.Confidence); reason != "" {
			skipped = append(skipped, SkippedFact{Fact: f, Reason: reason})
		} else {
			kept = append(kept, f)
		}
	}
	return kept, skipped
}
