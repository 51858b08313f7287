package tools

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/hoornet/home-mind/internal/homeassistant"
)

// maxHistoryEntries caps how many history samples are returned to the
// model. Larger series are downsampled to stay within this bound.
const maxHistoryEntries = 200

// Gateway is the Home Assistant surface the dispatcher needs.
// *homeassistant.Client satisfies it.
type Gateway interface {
	GetState(ctx context.Context, entityID string) (*homeassistant.State, error)
	GetEntities(ctx context.Context, domain string) ([]homeassistant.State, error)
	SearchEntities(ctx context.Context, query string) ([]homeassistant.State, error)
	CallService(ctx context.Context, domain, service, entityID string, data map[string]any) ([]homeassistant.State, error)
	GetHistory(ctx context.Context, entityID, start, end string) ([]homeassistant.HistoryEntry, error)
}

// Dispatcher executes tool calls requested by the model.
type Dispatcher struct {
	ha     Gateway
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher bound to a gateway client.
func NewDispatcher(ha Gateway, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{ha: ha, logger: logger}
}

// Handle executes a single tool call and returns a JSON-encodable
// result. Failures come back as {"error": ...} payloads so the model
// can recover instead of the whole exchange aborting.
func (d *Dispatcher) Handle(ctx context.Context, name string, args map[string]any) any {
	start := time.Now()
	d.logger.Debug("tool call", "tool", name, "args", args)

	result, err := d.dispatch(ctx, name, args)
	if err != nil {
		d.logger.Warn("tool call failed",
			"tool", name,
			"duration", time.Since(start),
			"error", err,
		)
		return map[string]any{"error": err.Error()}
	}

	d.logger.Debug("tool call completed", "tool", name, "duration", time.Since(start))
	return result
}

func (d *Dispatcher) dispatch(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "get_state":
		entityID, _ := args["entity_id"].(string)
		return d.ha.GetState(ctx, entityID)

	case "get_entities":
		domain, _ := args["domain"].(string)
		return d.ha.GetEntities(ctx, domain)

	case "search_entities":
		query, _ := args["query"].(string)
		return d.ha.SearchEntities(ctx, query)

	case "call_service":
		domain, _ := args["domain"].(string)
		service, _ := args["service"].(string)
		entityID, _ := args["entity_id"].(string)
		data, _ := args["data"].(map[string]any)
		return d.ha.CallService(ctx, domain, service, entityID, data)

	case "get_history":
		entityID, _ := args["entity_id"].(string)
		start, _ := args["start_time"].(string)
		end, _ := args["end_time"].(string)
		entries, err := d.ha.GetHistory(ctx, entityID,
			normalizeTimestamp(start), normalizeTimestamp(end))
		if err != nil {
			return nil, err
		}
		return truncateHistory(entries), nil

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

var (
	zuluSuffix    = regexp.MustCompile(`(?i)Z$`)
	colonOffset   = regexp.MustCompile(`[+-]\d{2}:\d{2}$`)
	compactOffset = regexp.MustCompile(`[+-]\d{4}$`)
)

// normalizeTimestamp appends a Z (UTC) suffix to timestamps that carry
// no timezone information. Models often emit bare local-looking
// timestamps, which the history API rejects.
func normalizeTimestamp(ts string) string {
	if ts == "" {
		return ts
	}
	if zuluSuffix.MatchString(ts) || colonOffset.MatchString(ts) || compactOffset.MatchString(ts) {
		return ts
	}
	return ts + "Z"
}

// HistoryPoint is the compact history sample returned to the model.
type HistoryPoint struct {
	EntityID    string `json:"entity_id"`
	State       string `json:"state"`
	LastChanged string `json:"last_changed"`
}

func stripEntry(e homeassistant.HistoryEntry) HistoryPoint {
	return HistoryPoint{
		EntityID:    e.EntityID,
		State:       e.State,
		LastChanged: e.LastChanged,
	}
}

// truncateHistory strips attributes from history entries and
// downsamples series longer than maxHistoryEntries at a fixed stride.
// The first and last samples are always preserved exactly.
func truncateHistory(entries []homeassistant.HistoryEntry) []HistoryPoint {
	if len(entries) <= maxHistoryEntries {
		points := make([]HistoryPoint, len(entries))
		for i, e := range entries {
			points[i] = stripEntry(e)
		}
		return points
	}

	stride := (len(entries) + maxHistoryEntries - 1) / maxHistoryEntries
	var points []HistoryPoint
	for i := 0; i < len(entries); i += stride {
		points = append(points, stripEntry(entries[i]))
	}

	// The newest sample matters most for trend questions. Swap it in
	// for the last strided pick when the stride skipped it.
	last := stripEntry(entries[len(entries)-1])
	if points[len(points)-1] != last {
		points[len(points)-1] = last
	}
	return points
}
