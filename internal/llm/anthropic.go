package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"

	anthropic "github.com/liushuangls/go-anthropic/v2"

	"github.com/hoornet/home-mind/internal/config"
	"github.com/hoornet/home-mind/internal/prompts"
	"github.com/hoornet/home-mind/internal/tools"
)

// Anthropic is the Claude provider, using the Messages streaming API.
type Anthropic struct {
	client *anthropic.Client
	model  string
	logger *slog.Logger
}

// NewAnthropic creates a Claude provider. model is the default used
// when a request does not name one.
func NewAnthropic(apiKey, model string, logger *slog.Logger) *Anthropic {
	if logger == nil {
		logger = slog.Default()
	}
	return &Anthropic{
		client: anthropic.NewClient(apiKey,
			anthropic.WithBetaVersion(anthropic.BetaPromptCaching20240731)),
		model:  model,
		logger: logger.With("provider", "anthropic"),
	}
}

// Stream sends a streaming Messages request. Text deltas feed cb;
// tool_use blocks are reassembled from their start events and
// input_json_delta fragments keyed by content block index.
func (p *Anthropic) Stream(ctx context.Context, req Request, cb StreamCallback) (*StreamResult, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	frags := newFragmentMap()
	var text strings.Builder

	streamReq := anthropic.MessagesStreamRequest{
		MessagesRequest: anthropic.MessagesRequest{
			Model:       anthropic.Model(model),
			MultiSystem: systemParts(req.System),
			Messages:    toAnthropicMessages(req.Messages),
			MaxTokens:   req.MaxTokens,
			Tools:       toAnthropicTools(req.Tools),
		},
		OnContentBlockStart: func(d anthropic.MessagesEventContentBlockStartData) {
			if d.ContentBlock.Type == anthropic.MessagesContentTypeToolUse &&
				d.ContentBlock.MessageContentToolUse != nil {
				frags.start(d.Index,
					d.ContentBlock.MessageContentToolUse.ID,
					d.ContentBlock.MessageContentToolUse.Name)
			}
		},
		OnContentBlockDelta: func(d anthropic.MessagesEventContentBlockDeltaData) {
			switch d.Delta.Type {
			case anthropic.MessagesContentTypeTextDelta:
				chunk := d.Delta.GetText()
				text.WriteString(chunk)
				if cb != nil {
					cb(chunk)
				}
			case anthropic.MessagesContentTypeInputJsonDelta:
				if d.Delta.PartialJson != nil {
					frags.appendArgs(d.Index, *d.Delta.PartialJson)
				}
			}
		},
	}

	p.logger.Debug("sending request",
		"model", model,
		"messages", len(streamReq.Messages),
		"tools", len(streamReq.Tools),
		"max_tokens", req.MaxTokens,
	)

	resp, err := p.client.CreateMessagesStream(ctx, streamReq)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, &ProviderError{Provider: "anthropic", Err: err}
	}

	result := &StreamResult{
		Text:         text.String(),
		ToolCalls:    frags.calls(),
		StopReason:   mapAnthropicStop(resp.StopReason),
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}

	p.logger.Debug("stream complete",
		"stop_reason", result.StopReason,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"tool_calls", len(result.ToolCalls),
	)
	p.logger.Log(ctx, config.LevelTrace, "stream final content", "content", result.Text)

	return result, nil
}

// Ping sends a minimal one-token request to verify the API key works.
func (p *Anthropic) Ping(ctx context.Context) error {
	_, err := p.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model: anthropic.Model(p.model),
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{
				anthropic.NewTextMessageContent("ping"),
			}},
		},
		MaxTokens: 1,
	})
	if err != nil {
		return &ProviderError{Provider: "anthropic", Err: err}
	}
	return nil
}

// systemParts maps the split system prompt onto system blocks, marking
// the stable part as cacheable so repeated exchanges reuse it.
func systemParts(sp prompts.SystemPrompt) []anthropic.MessageSystemPart {
	var parts []anthropic.MessageSystemPart
	if sp.Static != "" {
		parts = append(parts, anthropic.MessageSystemPart{
			Type: "text",
			Text: sp.Static,
			CacheControl: &anthropic.MessageCacheControl{
				Type: anthropic.CacheControlTypeEphemeral,
			},
		})
	}
	if sp.Dynamic != "" {
		parts = append(parts, anthropic.MessageSystemPart{
			Type: "text",
			Text: sp.Dynamic,
		})
	}
	return parts
}

func toAnthropicMessages(msgs []Message) []anthropic.Message {
	out := make([]anthropic.Message, 0, len(msgs))
	for i := 0; i < len(msgs); i++ {
		m := msgs[i]
		switch m.Role {
		case "assistant":
			var blocks []anthropic.MessageContent
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextMessageContent(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks,
					anthropic.NewToolUseMessageContent(tc.ID, tc.Name, json.RawMessage(tc.Arguments)))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.Message{
				Role:    anthropic.RoleAssistant,
				Content: blocks,
			})

		case "tool":
			// Roles must alternate, so a run of tool results becomes
			// one user turn holding all the tool_result blocks.
			blocks := []anthropic.MessageContent{
				anthropic.NewToolResultMessageContent(m.ToolCallID, m.Content, false),
			}
			for i+1 < len(msgs) && msgs[i+1].Role == "tool" {
				i++
				blocks = append(blocks,
					anthropic.NewToolResultMessageContent(msgs[i].ToolCallID, msgs[i].Content, false))
			}
			out = append(out, anthropic.Message{
				Role:    anthropic.RoleUser,
				Content: blocks,
			})

		default:
			out = append(out, anthropic.Message{
				Role: anthropic.RoleUser,
				Content: []anthropic.MessageContent{
					anthropic.NewTextMessageContent(m.Content),
				},
			})
		}
	}
	return out
}

func toAnthropicTools(defs []tools.Definition) []anthropic.ToolDefinition {
	if len(defs) == 0 {
		return nil
	}
	out := make([]anthropic.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		out = append(out, anthropic.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.Parameters,
		})
	}
	return out
}

func mapAnthropicStop(r anthropic.MessagesStopReason) StopReason {
	switch r {
	case anthropic.MessagesStopReasonToolUse:
		return StopReasonToolUse
	case anthropic.MessagesStopReasonMaxTokens:
		return StopReasonMaxTokens
	default:
		return StopReasonStop
	}
}
