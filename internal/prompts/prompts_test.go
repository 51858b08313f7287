package prompts

import (
	"strings"
	"testing"
	"time"
)

var testNow = time.Date(2026, time.January, 15, 20, 30, 0, 0, time.UTC)

func TestBuild_TextMode(t *testing.T) {
	p := buildAt(testNow, []string{"User prefers 21°C", "Cat named Max"}, false, "")

	if !strings.HasPrefix(p.Static, defaultIdentity) {
		t.Error("static part should start with the default identity")
	}
	if !strings.Contains(p.Static, "## Your Capabilities:") {
		t.Error("text instructions missing from static part")
	}
	if !strings.Contains(p.Dynamic, "- User prefers 21°C") {
		t.Error("facts missing from dynamic part")
	}
	if !strings.Contains(p.Dynamic, "- Cat named Max") {
		t.Error("facts missing from dynamic part")
	}
	if strings.Contains(p.Static, "## Current Context:") {
		t.Error("dynamic context leaked into the static part")
	}
}

func TestBuild_VoiceMode(t *testing.T) {
	p := buildAt(testNow, nil, true, "")

	if !strings.HasPrefix(p.Static, defaultVoiceIdentity) {
		t.Error("voice mode should use the voice identity")
	}
	if !strings.Contains(p.Static, "Keep responses under 2-3 sentences") {
		t.Error("voice instructions missing")
	}
	if strings.Contains(p.Static, "## Your Capabilities:") {
		t.Error("voice mode should not include the full text instructions")
	}
}

func TestBuild_CustomPromptReplacesIdentity(t *testing.T) {
	p := buildAt(testNow, nil, false, "You are HAL 9000.")

	if !strings.HasPrefix(p.Static, "You are HAL 9000.") {
		t.Error("custom prompt should replace the identity")
	}
	if strings.Contains(p.Static, defaultIdentity) {
		t.Error("default identity should be replaced, not prepended")
	}
	if !strings.Contains(p.Static, "## REMEMBERING THINGS") {
		t.Error("instructions should survive a custom identity")
	}
}

func TestBuild_NoFacts(t *testing.T) {
	p := buildAt(testNow, nil, false, "")

	if !strings.Contains(p.Dynamic, "No memories yet.") {
		t.Errorf("empty facts should render placeholder, got: %s", p.Dynamic)
	}
}

func TestBuild_Timestamps(t *testing.T) {
	p := buildAt(testNow, nil, false, "")

	if !strings.Contains(p.Dynamic, "Thursday, January 15, 2026 at 8:30 PM UTC") {
		t.Errorf("readable date/time missing: %s", p.Dynamic)
	}
	if !strings.Contains(p.Dynamic, "2026-01-15T20:30:00Z") {
		t.Errorf("ISO timestamp missing: %s", p.Dynamic)
	}
}

func TestText_JoinsParts(t *testing.T) {
	p := buildAt(testNow, []string{"fact"}, false, "")
	text := p.Text()

	if !strings.HasPrefix(text, defaultIdentity) {
		t.Error("joined text should start with identity")
	}
	if !strings.Contains(text, "## Current Context:") {
		t.Error("joined text should include dynamic context")
	}
	// Static ends without a trailing newline; the join supplies the gap.
	if strings.Contains(text, "actions\n\n\n## Current Context:") {
		t.Error("unexpected extra blank lines at the join")
	}
}

func TestExtraction_Substitution(t *testing.T) {
	got := Extraction("No existing facts stored yet.", "remember I prefer 21C", "Got it!")

	for _, want := range []string{
		"No existing facts stored yet.",
		"User: remember I prefer 21C",
		"Assistant: Got it!",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(got, "{existing_facts_section}") ||
		strings.Contains(got, "{user_message}") ||
		strings.Contains(got, "{assistant_response}") {
		t.Error("unsubstituted placeholder left in prompt")
	}
}
