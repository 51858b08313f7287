// Package tools defines the Home Assistant tools offered to the model
// and dispatches tool calls against the gateway client.
package tools

// Definition describes one tool in provider-neutral JSON Schema form.
// Providers translate it to their own wire format.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Definitions returns the fixed tool set offered on every exchange.
func Definitions() []Definition {
	return []Definition{
		{
			Name:        "get_state",
			Description: "Get the current state of a Home Assistant entity (sensor, light, switch, etc.)",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"entity_id": map[string]any{
						"type":        "string",
						"description": "The entity ID to get state for (e.g., sensor.temperature, light.living_room)",
					},
				},
				"required": []string{"entity_id"},
			},
		},
		{
			Name:        "get_entities",
			Description: "List all Home Assistant entities, optionally filtered by domain (light, sensor, switch, etc.)",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"domain": map[string]any{
						"type":        "string",
						"description": "Optional domain to filter by (e.g., 'light', 'sensor', 'switch')",
					},
				},
				"required": []string{},
			},
		},
		{
			Name:        "search_entities",
			Description: "Search for Home Assistant entities by name or ID substring. Returns entity IDs, states, and attributes. Use this to find the correct entity_id before calling call_service.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "Search query to match against entity IDs and names",
					},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        "call_service",
			Description: "Call a Home Assistant service to control devices (turn on/off lights, set thermostat, etc.)",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"domain": map[string]any{
						"type":        "string",
						"description": "Service domain (e.g., 'light', 'switch', 'climate')",
					},
					"service": map[string]any{
						"type":        "string",
						"description": "Service name (e.g., 'turn_on', 'turn_off', 'toggle'). For lights: use 'turn_on' with data to set brightness/color — there is no separate 'set_color' service.",
					},
					"entity_id": map[string]any{
						"type":        "string",
						"description": "Optional entity ID to target",
					},
					"data": map[string]any{
						"type":        "object",
						"description": "Optional service data. Common fields for light.turn_on: brightness (0-255), rgb_color ([R,G,B] each 0-255), color_temp_kelvin (2000-6500, e.g. 2700=warm white, 4000=neutral, 6500=daylight), hs_color ([hue 0-360, saturation 0-100]), rgbw_color ([R,G,B,W] each 0-255, for RGBW LED strips). For white light: check supported_color_modes in entity attributes — if 'rgbw' is listed, use rgbw_color [0,0,0,255] (dedicated white channel); otherwise use color_temp_kelvin. Do NOT invent fields like 'white' or 'color'.",
					},
				},
				"required": []string{"domain", "service"},
			},
		},
		{
			Name:        "get_history",
			Description: "Get historical states for an entity over time (for trend analysis)",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"entity_id": map[string]any{
						"type":        "string",
						"description": "The entity ID to get history for",
					},
					"start_time": map[string]any{
						"type":        "string",
						"description": "Start time in ISO 8601 format with timezone (e.g., '2026-01-15T20:00:00Z'). Use the ISO Timestamp from system context for calculations. Default: 24 hours ago.",
					},
					"end_time": map[string]any{
						"type":        "string",
						"description": "End time in ISO 8601 format with timezone (e.g., '2026-01-15T21:00:00Z'). Use the ISO Timestamp from system context for calculations. Default: now.",
					},
				},
				"required": []string{"entity_id"},
			},
		},
	}
}
