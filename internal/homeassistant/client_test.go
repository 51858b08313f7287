package homeassistant

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func testStates() []State {
	return []State{
		{
			EntityID:   "light.kitchen",
			State:      "on",
			Attributes: map[string]any{"friendly_name": "Kitchen Light", "brightness": 200.0},
		},
		{
			EntityID:   "light.bedroom",
			State:      "off",
			Attributes: map[string]any{"friendly_name": "Spalnica"},
		},
		{
			EntityID:   "sensor.bedroom_temperature",
			State:      "21.5",
			Attributes: map[string]any{"friendly_name": "Bedroom Temperature", "unit_of_measurement": "°C"},
		},
	}
}

// newTestServer serves a minimal HA API and counts /api/states fetches.
func newTestServer(t *testing.T, statesFetches *atomic.Int64) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(APIStatus{Message: "API running."})
	})
	mux.HandleFunc("/api/states", func(w http.ResponseWriter, r *http.Request) {
		if statesFetches != nil {
			statesFetches.Add(1)
		}
		json.NewEncoder(w).Encode(testStates())
	})
	mux.HandleFunc("/api/states/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/api/states/")
		for _, s := range testStates() {
			if s.EntityID == id {
				json.NewEncoder(w).Encode(s)
				return
			}
		}
		http.Error(w, `{"message":"Entity not found"}`, http.StatusNotFound)
	})
	mux.HandleFunc("/api/services/", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		json.NewEncoder(w).Encode([]State{{EntityID: payload["entity_id"].(string), State: "on"}})
	})
	mux.HandleFunc("/api/history/period/", func(w http.ResponseWriter, r *http.Request) {
		entries := []HistoryEntry{
			{EntityID: "sensor.bedroom_temperature", State: "21.0", LastChanged: "2026-01-01T00:00:00Z"},
			{EntityID: "sensor.bedroom_temperature", State: "21.5", LastChanged: "2026-01-01T01:00:00Z"},
		}
		json.NewEncoder(w).Encode([][]HistoryEntry{entries})
	})
	return httptest.NewServer(mux)
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	return NewClient(srv.URL, "test-token", slog.Default())
}

func TestPing(t *testing.T) {
	srv := newTestServer(t, nil)
	defer srv.Close()

	c := newTestClient(t, srv)
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping error: %v", err)
	}
}

func TestGetState(t *testing.T) {
	srv := newTestServer(t, nil)
	defer srv.Close()

	c := newTestClient(t, srv)
	state, err := c.GetState(context.Background(), "light.kitchen")
	if err != nil {
		t.Fatalf("GetState error: %v", err)
	}
	if state.EntityID != "light.kitchen" || state.State != "on" {
		t.Errorf("unexpected state: %+v", state)
	}
}

func TestGetState_NotFound(t *testing.T) {
	srv := newTestServer(t, nil)
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.GetState(context.Background(), "light.nonexistent")
	if err == nil {
		t.Fatal("expected error for missing entity")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("expected 404 in error, got: %v", err)
	}
}

func TestGetEntities_DomainFilter(t *testing.T) {
	srv := newTestServer(t, nil)
	defer srv.Close()

	c := newTestClient(t, srv)
	lights, err := c.GetEntities(context.Background(), "light")
	if err != nil {
		t.Fatalf("GetEntities error: %v", err)
	}
	if len(lights) != 2 {
		t.Fatalf("expected 2 lights, got %d", len(lights))
	}
	for _, s := range lights {
		if !strings.HasPrefix(s.EntityID, "light.") {
			t.Errorf("unexpected entity in light domain: %s", s.EntityID)
		}
	}

	all, err := c.GetEntities(context.Background(), "")
	if err != nil {
		t.Fatalf("GetEntities error: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 entities unfiltered, got %d", len(all))
	}
}

func TestSearchEntities(t *testing.T) {
	srv := newTestServer(t, nil)
	defer srv.Close()

	c := newTestClient(t, srv)

	tests := []struct {
		query string
		want  []string
	}{
		{"kitchen", []string{"light.kitchen"}},
		{"bedroom", []string{"light.bedroom", "sensor.bedroom_temperature"}},
		{"SPALNICA", []string{"light.bedroom"}}, // friendly name, case-insensitive
		{"garage", nil},
	}

	for _, tt := range tests {
		got, err := c.SearchEntities(context.Background(), tt.query)
		if err != nil {
			t.Fatalf("SearchEntities(%q) error: %v", tt.query, err)
		}
		if len(got) != len(tt.want) {
			t.Errorf("SearchEntities(%q) returned %d entities, want %d", tt.query, len(got), len(tt.want))
			continue
		}
		for i, s := range got {
			if s.EntityID != tt.want[i] {
				t.Errorf("SearchEntities(%q)[%d] = %s, want %s", tt.query, i, s.EntityID, tt.want[i])
			}
		}
	}
}

func TestStatesCache(t *testing.T) {
	var fetches atomic.Int64
	srv := newTestServer(t, &fetches)
	defer srv.Close()

	c := newTestClient(t, srv)
	ctx := context.Background()

	// Two list calls within the TTL hit the upstream once.
	if _, err := c.GetEntities(ctx, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := c.SearchEntities(ctx, "kitchen"); err != nil {
		t.Fatal(err)
	}
	if got := fetches.Load(); got != 1 {
		t.Errorf("expected 1 upstream fetch, got %d", got)
	}

	// A service call invalidates the cache.
	if _, err := c.CallService(ctx, "light", "turn_on", "light.kitchen", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetEntities(ctx, ""); err != nil {
		t.Fatal(err)
	}
	if got := fetches.Load(); got != 2 {
		t.Errorf("expected 2 upstream fetches after invalidation, got %d", got)
	}
}

func TestCallService_MergesEntityID(t *testing.T) {
	var gotPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotPayload)
		json.NewEncoder(w).Encode([]State{})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.CallService(context.Background(), "light", "turn_on", "light.kitchen",
		map[string]any{"brightness": 128})
	if err != nil {
		t.Fatalf("CallService error: %v", err)
	}
	if gotPayload["entity_id"] != "light.kitchen" {
		t.Errorf("entity_id not merged into payload: %v", gotPayload)
	}
	if gotPayload["brightness"] != float64(128) {
		t.Errorf("brightness missing from payload: %v", gotPayload)
	}
}

func TestGetHistory_FlattensSeries(t *testing.T) {
	srv := newTestServer(t, nil)
	defer srv.Close()

	c := newTestClient(t, srv)
	entries, err := c.GetHistory(context.Background(), "sensor.bedroom_temperature",
		"2026-01-01T00:00:00Z", "2026-01-01T02:00:00Z")
	if err != nil {
		t.Fatalf("GetHistory error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].State != "21.0" {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}
}

func TestGetHistory_EmptySeries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([][]HistoryEntry{})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	entries, err := c.GetHistory(context.Background(), "sensor.unknown", "", "")
	if err != nil {
		t.Fatalf("GetHistory error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty history, got %d entries", len(entries))
	}
}
