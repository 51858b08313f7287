// Package llm provides streaming chat adapters for the supported
// model providers behind a single Provider interface.
package llm

// Message is one turn of a conversation in provider-neutral form.
// Roles are "user", "assistant", and "tool".
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is one tool invocation requested by the model. Arguments is
// the raw JSON text as reassembled from the stream; it is decoded only
// at dispatch time so a malformed payload surfaces there.
type ToolCall struct {
	ID        string `json:"id"`
	Index     int    `json:"index"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// StopReason is the provider-neutral reason a stream ended.
type StopReason string

const (
	// StopReasonStop means the model finished its turn normally.
	StopReasonStop StopReason = "stop"

	// StopReasonToolUse means the model wants tool results before continuing.
	StopReasonToolUse StopReason = "tool_use"

	// StopReasonMaxTokens means the response hit the output token limit.
	StopReasonMaxTokens StopReason = "max_tokens"
)

// StreamCallback receives incremental text as the model produces it.
type StreamCallback func(chunk string)

// StreamResult is the assembled outcome of one streamed exchange.
type StreamResult struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason StopReason

	InputTokens  int
	OutputTokens int
}
