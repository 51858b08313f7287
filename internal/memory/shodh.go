package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hoornet/home-mind/internal/httpkit"
)

// Shodh memory types our categories map onto when storing.
var categoryToShodhType = map[Category]string{
	CategoryBaseline:   "Observation",
	CategoryPreference: "Preference",
	CategoryIdentity:   "Context",
	CategoryDevice:     "Context",
	CategoryPattern:    "Observation",
	CategoryCorrection: "Learning",
}

// Reverse mapping for recall. Shodh has more types than we have
// categories, so several collapse onto the same one.
var shodhTypeToCategory = map[string]Category{
	"Observation": CategoryBaseline,
	"Preference":  CategoryPreference,
	"Context":     CategoryIdentity,
	"Learning":    CategoryCorrection,
	"Decision":    CategoryPreference,
	"Insight":     CategoryPattern,
	"Error":       CategoryCorrection,
	"Success":     CategoryPattern,
}

// ShodhConfig configures the Shodh memory service client.
type ShodhConfig struct {
	BaseURL string
	APIKey  string

	// Timeout bounds one attempt. Defaults to 60s, generous enough
	// to ride out a Shodh cold start.
	Timeout time.Duration
}

const (
	shodhRetries      = 3
	shodhRetryBase    = 500 * time.Millisecond
	shodhRetryMax     = 3 * time.Second
	shodhDefaultLimit = 50
)

// ShodhClient talks to the Shodh memory REST API.
type ShodhClient struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewShodhClient creates a Shodh API client.
func NewShodhClient(cfg ShodhConfig, logger *slog.Logger) *ShodhClient {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ShodhClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		timeout: timeout,
		// Retries wrap the whole request/decode cycle below, so the
		// client itself carries no retry transport.
		httpClient: httpkit.NewClient(httpkit.WithTimeout(0)),
		logger:     logger.With("component", "shodh"),
	}
}

// shodhExperience is the nested payload shape used by recall endpoints.
type shodhExperience struct {
	Content    string   `json:"content"`
	MemoryType string   `json:"memory_type"`
	Tags       []string `json:"tags"`
}

// shodhMemory covers both response shapes: recall endpoints nest the
// payload under experience, proactive_context returns it flat.
type shodhMemory struct {
	ID         string           `json:"id"`
	Experience *shodhExperience `json:"experience,omitempty"`

	Content    string   `json:"content,omitempty"`
	MemoryType string   `json:"memory_type,omitempty"`
	Tags       []string `json:"tags,omitempty"`

	Importance   float64 `json:"importance"`
	CreatedAt    string  `json:"created_at"`
	LastAccessed string  `json:"last_accessed,omitempty"`
	AccessCount  int     `json:"access_count,omitempty"`
}

type shodhRecallResponse struct {
	Memories []shodhMemory `json:"memories"`
	Count    int           `json:"count"`
}

type shodhRememberResponse struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
}

type shodhBatchRememberResponse struct {
	Created   int      `json:"created"`
	Failed    int      `json:"failed"`
	MemoryIDs []string `json:"memory_ids"`
	Errors    []string `json:"errors"`
}

// request performs one API call with retry. All failures retry with
// doubling backoff except context expiry, which aborts immediately:
// a timed-out attempt will not get faster by repeating.
func (c *ShodhClient) request(ctx context.Context, method, endpoint string, body, result any) error {
	var lastErr error

	for attempt := 0; attempt < shodhRetries; attempt++ {
		err := c.do(ctx, method, endpoint, body, result)
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return err
		}

		if attempt < shodhRetries-1 {
			delay := httpkit.Backoff(attempt+1, shodhRetryBase, shodhRetryMax)
			c.logger.Debug("request failed, retrying",
				"endpoint", endpoint,
				"attempt", attempt+1,
				"retries", shodhRetries,
				"delay", delay,
				"error", err,
			)

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	return lastErr
}

func (c *ShodhClient) do(ctx context.Context, method, endpoint string, body, result any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reqBody []byte
	if body != nil {
		var err error
		reqBody, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", endpoint, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody := httpkit.ReadErrorBody(resp.Body, 512)
		return fmt.Errorf("shodh API error %d: %s", resp.StatusCode, errBody)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// Healthy reports whether the Shodh service answers its health check.
func (c *ShodhClient) Healthy(ctx context.Context) bool {
	return c.request(ctx, http.MethodGet, "/health", nil, nil) == nil
}

// Remember stores one fact and returns the Shodh memory ID.
func (c *ShodhClient) Remember(ctx context.Context, userID, content string, category Category, confidence float64) (string, error) {
	var resp shodhRememberResponse
	err := c.request(ctx, http.MethodPost, "/api/remember", map[string]any{
		"user_id":     userID,
		"content":     content,
		"memory_type": categoryToShodhType[category],
		"importance":  confidence,
		"tags":        []string{string(category), "home-mind"},
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// RememberBatch stores several facts in one call.
func (c *ShodhClient) RememberBatch(ctx context.Context, userID string, facts []ExtractedFact) ([]string, error) {
	batch := make([]map[string]any, 0, len(facts))
	for _, f := range facts {
		confidence := defaultConfidence
		if f.Confidence != nil {
			confidence = *f.Confidence
		}
		batch = append(batch, map[string]any{
			"content":     f.Content,
			"memory_type": categoryToShodhType[f.Category],
			"importance":  confidence,
			"tags":        []string{string(f.Category), "home-mind"},
		})
	}

	var resp shodhBatchRememberResponse
	err := c.request(ctx, http.MethodPost, "/api/remember/batch", map[string]any{
		"user_id":  userID,
		"memories": batch,
	}, &resp)
	if err != nil {
		return nil, err
	}

	if resp.Failed > 0 {
		c.logger.Warn("batch remember partially failed",
			"created", resp.Created,
			"failed", resp.Failed,
			"errors", resp.Errors,
		)
	}
	return resp.MemoryIDs, nil
}

// Recall runs a semantic search over the user's memories.
func (c *ShodhClient) Recall(ctx context.Context, userID, query string, limit int) ([]Fact, error) {
	if query == "" {
		query = "all memories"
	}
	var resp shodhRecallResponse
	err := c.request(ctx, http.MethodPost, "/api/recall", map[string]any{
		"user_id": userID,
		"query":   query,
		"limit":   limit,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return c.toFacts(resp.Memories, userID), nil
}

// RecallByTags returns the user's memories carrying the home-mind tag.
func (c *ShodhClient) RecallByTags(ctx context.Context, userID string, limit int) ([]Fact, error) {
	var resp shodhRecallResponse
	err := c.request(ctx, http.MethodPost, "/api/recall/tags", map[string]any{
		"user_id": userID,
		"tags":    []string{"home-mind"},
		"limit":   limit,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return c.toFacts(resp.Memories, userID), nil
}

// ProactiveContext asks Shodh for memories relevant to the current
// conversational context via its spreading-activation graph.
func (c *ShodhClient) ProactiveContext(ctx context.Context, userID, currentContext string, limit int) ([]Fact, error) {
	var resp shodhRecallResponse
	err := c.request(ctx, http.MethodPost, "/api/proactive_context", map[string]any{
		"user_id": userID,
		"context": currentContext,
		"limit":   limit,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return c.toFacts(resp.Memories, userID), nil
}

// Reinforce strengthens the given memories (Hebbian learning).
func (c *ShodhClient) Reinforce(ctx context.Context, userID string, memoryIDs []string) error {
	return c.request(ctx, http.MethodPost, "/api/reinforce", map[string]any{
		"user_id": userID,
		"ids":     memoryIDs,
		"outcome": "positive",
	}, nil)
}

// Forget deletes one memory explicitly.
func (c *ShodhClient) Forget(ctx context.Context, userID, memoryID string) error {
	endpoint := "/api/forget/" + url.PathEscape(memoryID) + "?user_id=" + url.QueryEscape(userID)
	return c.request(ctx, http.MethodDelete, endpoint, nil, nil)
}

func (c *ShodhClient) toFacts(memories []shodhMemory, userID string) []Fact {
	facts := make([]Fact, 0, len(memories))
	for _, m := range memories {
		facts = append(facts, c.toFact(m, userID))
	}
	return facts
}

// toFact normalizes both response shapes into a Fact. The category
// comes from our own tag when present; the memory type mapping wins
// when it is known, since tags may be missing on older memories.
func (c *ShodhClient) toFact(m shodhMemory, userID string) Fact {
	content := m.Content
	tags := m.Tags
	memoryType := m.MemoryType
	if m.Experience != nil {
		content = m.Experience.Content
		tags = m.Experience.Tags
		memoryType = m.Experience.MemoryType
	}

	category := CategoryPreference
	for _, tag := range tags {
		if ValidCategory(tag) {
			category = Category(tag)
			break
		}
	}
	if mapped, ok := shodhTypeToCategory[memoryType]; ok {
		category = mapped
	}

	createdAt, _ := time.Parse(time.RFC3339, m.CreatedAt)
	lastUsed := createdAt
	if m.LastAccessed != "" {
		if t, err := time.Parse(time.RFC3339, m.LastAccessed); err == nil {
			lastUsed = t
		}
	}

	return Fact{
		ID:         m.ID,
		UserID:     userID,
		Content:    content,
		Category:   category,
		Confidence: m.Importance,
		CreatedAt:  createdAt,
		LastUsed:   lastUsed,
		UseCount:   m.AccessCount,
	}
}

// ShodhStore adapts the Shodh client to the FactStore interface.
type ShodhStore struct {
	client *ShodhClient
	logger *slog.Logger
}

// NewShodhStore creates a Shodh-backed fact store.
func NewShodhStore(cfg ShodhConfig, logger *slog.Logger) *ShodhStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ShodhStore{
		client: NewShodhClient(cfg, logger),
		logger: logger.With("component", "shodh"),
	}
}

// Healthy reports whether the Shodh service is reachable.
func (s *ShodhStore) Healthy(ctx context.Context) bool {
	return s.client.Healthy(ctx)
}

// GetFacts returns all home-mind facts for a user.
func (s *ShodhStore) GetFacts(ctx context.Context, userID string) ([]Fact, error) {
	return s.client.RecallByTags(ctx, userID, 100)
}

// GetFactsWithinTokenLimit returns contextually relevant facts within
// the token budget. Retrieved facts are reinforced fire-and-forget so
// recall latency is not added to the exchange.
func (s *ShodhStore) GetFactsWithinTokenLimit(ctx context.Context, userID string, maxTokens int, currentContext string) ([]Fact, error) {
	var facts []Fact
	var err error
	if currentContext != "" {
		facts, err = s.client.ProactiveContext(ctx, userID, currentContext, shodhDefaultLimit)
	} else {
		facts, err = s.client.RecallByTags(ctx, userID, shodhDefaultLimit)
	}
	if err != nil {
		return nil, err
	}

	result := trimToTokenLimit(facts, maxTokens)

	if len(result) > 0 {
		ids := make([]string, len(result))
		for i, f := range result {
			ids[i] = f.ID
		}
		go func() {
			if err := s.client.Reinforce(context.Background(), userID, ids); err != nil {
				s.logger.Debug("reinforce failed", "error", err)
			}
		}()
	}

	return result, nil
}

// AddFact stores one fact.
func (s *ShodhStore) AddFact(ctx context.Context, userID, content string, category Category, confidence float64) (string, error) {
	return s.client.Remember(ctx, userID, content, category, confidence)
}

// AddFacts stores a batch, using the single-fact endpoint when the
// batch holds only one.
func (s *ShodhStore) AddFacts(ctx context.Context, userID string, facts []ExtractedFact) ([]string, error) {
	switch len(facts) {
	case 0:
		return nil, nil
	case 1:
		f := facts[0]
		confidence := defaultConfidence
		if f.Confidence != nil {
			confidence = *f.Confidence
		}
		id, err := s.client.Remember(ctx, userID, f.Content, f.Category, confidence)
		if err != nil {
			return nil, err
		}
		return []string{id}, nil
	default:
		return s.client.RememberBatch(ctx, userID, facts)
	}
}

// DeleteFact forgets one memory. A failed forget reports false rather
// than an error; the caller treats it as "not found".
func (s *ShodhStore) DeleteFact(ctx context.Context, userID, factID string) (bool, error) {
	if err := s.client.Forget(ctx, userID, factID); err != nil {
		s.logger.Warn("forget failed", "memory_id", factID, "error", err)
		return false, nil
	}
	return true, nil
}

// ClearUserFacts forgets every fact for a user, counting successes.
func (s *ShodhStore) ClearUserFacts(ctx context.Context, userID string) (int, error) {
	facts, err := s.GetFacts(ctx, userID)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, f := range facts {
		if err := s.client.Forget(ctx, userID, f.ID); err == nil {
			deleted++
		}
	}
	return deleted, nil
}

// FactCount returns the number of stored facts for a user.
func (s *ShodhStore) FactCount(ctx context.Context, userID string) (int, error) {
	facts, err := s.client.RecallByTags(ctx, userID, 1000)
	if err != nil {
		return 0, err
	}
	return len(facts), nil
}

// Close is a no-op; the HTTP client holds no resources.
func (s *ShodhStore) Close() error { return nil }
