// Package homeassistant provides a client for the Home Assistant API.
package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hoornet/home-mind/internal/httpkit"
)

// statesCacheTTL bounds how stale the all-states snapshot may get when
// no event subscription is invalidating it.
const statesCacheTTL = 30 * time.Second

// Client is a Home Assistant REST API client.
//
// List and search operations read through a short-lived cache of the
// all-states snapshot. The cache is invalidated after every service
// call, and externally by the state watcher when entity events arrive.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger

	cacheMu      sync.Mutex
	cachedStates []State
	cacheFetched time.Time
}

// Option configures a Client.
type Option func(*options)

type options struct {
	skipTLSVerify bool
}

// WithSkipTLSVerify disables TLS certificate verification, for
// installs using self-signed certificates.
func WithSkipTLSVerify() Option {
	return func(o *options) { o.skipTLSVerify = true }
}

// NewClient creates a new Home Assistant client.
func NewClient(baseURL, token string, logger *slog.Logger, opts ...Option) *Client {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	clientOpts := []httpkit.ClientOption{
		httpkit.WithTimeout(30 * time.Second),
		httpkit.WithRetry(3, 2*time.Second),
		httpkit.WithLogger(logger),
	}
	if o.skipTLSVerify {
		clientOpts = append(clientOpts, httpkit.WithTLSInsecureSkipVerify())
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		logger:     logger,
		httpClient: httpkit.NewClient(clientOpts...),
	}
}

// State represents an entity state from Home Assistant.
type State struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged string         `json:"last_changed"`
	LastUpdated string         `json:"last_updated"`
}

// HistoryEntry is one historical state sample for an entity.
type HistoryEntry struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	LastChanged string         `json:"last_changed"`
	LastUpdated string         `json:"last_updated,omitempty"`
}

// APIStatus represents the HA API status response.
type APIStatus struct {
	Message string `json:"message"`
}

// Ping checks if the API is reachable.
func (c *Client) Ping(ctx context.Context) error {
	var status APIStatus
	if err := c.get(ctx, "/api/", &status); err != nil {
		return err
	}
	if status.Message != "API running." {
		return fmt.Errorf("unexpected API status: %s", status.Message)
	}
	return nil
}

// GetState retrieves a single entity state. Always fetched live, never
// from the snapshot cache.
func (c *Client) GetState(ctx context.Context, entityID string) (*State, error) {
	var state State
	if err := c.get(ctx, "/api/states/"+entityID, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// GetEntities retrieves all entity states, optionally filtered by domain.
func (c *Client) GetEntities(ctx context.Context, domain string) ([]State, error) {
	states, err := c.states(ctx)
	if err != nil {
		return nil, err
	}

	if domain == "" {
		return states, nil
	}

	prefix := domain + "."
	var filtered []State
	for _, s := range states {
		if strings.HasPrefix(s.EntityID, prefix) {
			filtered = append(filtered, s)
		}
	}
	return filtered, nil
}

// SearchEntities finds entities whose ID or friendly name contains the
// query, case-insensitively.
func (c *Client) SearchEntities(ctx context.Context, query string) ([]State, error) {
	states, err := c.states(ctx)
	if err != nil {
		return nil, err
	}

	q := strings.ToLower(query)
	var matches []State
	for _, s := range states {
		name, _ := s.Attributes["friendly_name"].(string)
		if strings.Contains(strings.ToLower(s.EntityID), q) ||
			strings.Contains(strings.ToLower(name), q) {
			matches = append(matches, s)
		}
	}
	return matches, nil
}

// CallService calls a Home Assistant service. The entity ID, when
// given, is merged into the service data. Returns the states changed
// by the call. The snapshot cache is invalidated so subsequent reads
// see the effect.
func (c *Client) CallService(ctx context.Context, domain, service, entityID string, data map[string]any) ([]State, error) {
	payload := make(map[string]any, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	if entityID != "" {
		payload["entity_id"] = entityID
	}

	var changed []State
	path := fmt.Sprintf("/api/services/%s/%s", domain, service)
	if err := c.post(ctx, path, payload, &changed); err != nil {
		return nil, err
	}

	c.InvalidateCache()
	return changed, nil
}

// GetHistory retrieves historical states for an entity. Start defaults
// to 24 hours ago when empty; end defaults to now. HA returns one
// array per requested entity; the single entity's series is returned
// flattened.
func (c *Client) GetHistory(ctx context.Context, entityID, start, end string) ([]HistoryEntry, error) {
	if start == "" {
		start = time.Now().UTC().Add(-24 * time.Hour).Format(time.RFC3339)
	}

	path := "/api/history/period/" + url.PathEscape(start) +
		"?filter_entity_id=" + url.QueryEscape(entityID)
	if end != "" {
		path += "&end_time=" + url.QueryEscape(end)
	}

	var series [][]HistoryEntry
	if err := c.get(ctx, path, &series); err != nil {
		return nil, err
	}

	if len(series) == 0 {
		return []HistoryEntry{}, nil
	}
	return series[0], nil
}

// InvalidateCache drops the cached all-states snapshot. Called after
// service calls and by the state watcher on entity events.
func (c *Client) InvalidateCache() {
	c.cacheMu.Lock()
	c.cachedStates = nil
	c.cacheMu.Unlock()
}

// states returns the all-states snapshot, served from cache while fresh.
func (c *Client) states(ctx context.Context) ([]State, error) {
	c.cacheMu.Lock()
	if c.cachedStates != nil && time.Since(c.cacheFetched) < statesCacheTTL {
		cached := c.cachedStates
		c.cacheMu.Unlock()
		return cached, nil
	}
	c.cacheMu.Unlock()

	var states []State
	if err := c.get(ctx, "/api/states", &states); err != nil {
		return nil, err
	}

	c.cacheMu.Lock()
	c.cachedStates = states
	c.cacheFetched = time.Now()
	c.cacheMu.Unlock()

	return states, nil
}

// get performs a GET request to the HA API.
func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	// Drain and close to ensure connection reuse even when result is nil.
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return fmt.Errorf("HA API error %d: %s", resp.StatusCode, body)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// post performs a POST request to the HA API.
func (c *Client) post(ctx context.Context, path string, data any, result any) error {
	var reqBody []byte
	if data != nil {
		var err error
		reqBody, err = json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal data: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return fmt.Errorf("HA API error %d: %s", resp.StatusCode, body)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}
