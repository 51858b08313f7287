// Package memory implements the fact memory pipeline: extraction of
// long-term facts from conversations, garbage filtering, and storage
// in either a local SQLite database or a remote Shodh cognitive
// memory service. Conversation history stores live here too.
package memory

import "time"

// Category groups facts by what kind of knowledge they capture.
type Category string

const (
	CategoryBaseline   Category = "baseline"   // Sensor normal values ("NOx 100ppm is normal")
	CategoryPreference Category = "preference" // User preferences ("prefers 22°C")
	CategoryIdentity   Category = "identity"   // User info ("name is Jure")
	CategoryDevice     Category = "device"     // Device nicknames ("main light = light.wled_kitchen")
	CategoryPattern    Category = "pattern"    // Routines ("usually home by 6pm")
	CategoryCorrection Category = "correction" // Corrections ("actually X, not Y")
)

// Categories lists every valid category.
var Categories = []Category{
	CategoryBaseline,
	CategoryPreference,
	CategoryIdentity,
	CategoryDevice,
	CategoryPattern,
	CategoryCorrection,
}

// ValidCategory reports whether s names a known category.
func ValidCategory(s string) bool {
	for _, c := range Categories {
		if s == string(c) {
			return true
		}
	}
	return false
}

// Fact is one stored piece of long-term memory about a user.
type Fact struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Content    string    `json:"content"`
	Category   Category  `json:"category"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"createdAt"`
	LastUsed   time.Time `json:"lastUsed"`
	UseCount   int       `json:"useCount"`
}

// ExtractedFact is a fact candidate produced by the extraction model,
// before garbage filtering. Confidence is a pointer because the model
// may omit it; an absent confidence is acceptable.
type ExtractedFact struct {
	Content    string   `json:"content"`
	Category   Category `json:"category"`
	Confidence *float64 `json:"confidence,omitempty"`
	Replaces   []string `json:"replaces,omitempty"`
}

// ConversationMessage is one stored turn of a conversation.
type ConversationMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ConversationSummary describes one conversation for listing.
type ConversationSummary struct {
	ConversationID string    `json:"conversationId"`
	LastMessage    string    `json:"lastMessage"`
	LastMessageAt  time.Time `json:"lastMessageAt"`
	MessageCount   int       `json:"messageCount"`
}
