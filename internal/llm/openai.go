package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hoornet/home-mind/internal/config"
)

// OpenAI is the OpenAI-compatible provider. With a base URL override
// it also drives Ollama and other compatible servers.
type OpenAI struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAI creates an OpenAI-compatible provider. baseURL may be
// empty for the hosted API. model is the default used when a request
// does not name one.
func NewOpenAI(apiKey, baseURL, model string, logger *slog.Logger) *OpenAI {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger.With("provider", "openai"),
	}
}

// Stream sends a streaming chat completion. Content deltas feed cb;
// tool call deltas are merged into complete calls keyed by their
// stream index, since argument JSON arrives in fragments that carry
// only the index after the first piece.
func (p *OpenAI) Stream(ctx context.Context, req Request, cb StreamCallback) (*StreamResult, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	chatReq := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  toOpenAIMessages(req),
		MaxTokens: req.MaxTokens,
		Stream:    true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	for _, d := range req.Tools {
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}

	p.logger.Debug("sending request",
		"model", model,
		"messages", len(chatReq.Messages),
		"tools", len(chatReq.Tools),
		"max_tokens", req.MaxTokens,
	)

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, &ProviderError{Provider: "openai", Err: err}
	}
	defer stream.Close()

	frags := newFragmentMap()
	var text strings.Builder
	stop := StopReasonStop
	var inputTokens, outputTokens int

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ProviderError{Provider: "openai", Err: err}
		}

		// Usage arrives on a trailing chunk with no choices.
		if chunk.Usage != nil {
			inputTokens = chunk.Usage.PromptTokens
			outputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			text.WriteString(choice.Delta.Content)
			if cb != nil {
				cb(choice.Delta.Content)
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			frags.start(idx, tc.ID, tc.Function.Name)
			frags.appendArgs(idx, tc.Function.Arguments)
		}

		if choice.FinishReason != "" {
			stop = mapOpenAIFinish(choice.FinishReason)
		}
	}

	// Some compatible servers report "stop" even when tool calls were
	// emitted. The presence of calls is authoritative.
	if stop == StopReasonStop && !frags.empty() {
		stop = StopReasonToolUse
	}

	result := &StreamResult{
		Text:         text.String(),
		ToolCalls:    frags.calls(),
		StopReason:   stop,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
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

// Ping lists models to verify the backend is reachable. Ollama serves
// the same endpoint under its OpenAI-compatible API.
func (p *OpenAI) Ping(ctx context.Context) error {
	if _, err := p.client.ListModels(ctx); err != nil {
		return &ProviderError{Provider: "openai", Err: err}
	}
	return nil
}

func toOpenAIMessages(req Request) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)

	if sys := req.System.Text(); sys != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: sys,
		})
	}

	for _, m := range req.Messages {
		switch m.Role {
		case "assistant":
			om := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: m.Content,
			}
			for _, tc := range m.ToolCalls {
				om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			out = append(out, om)

		case "tool":
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			})

		default:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: m.Content,
			})
		}
	}
	return out
}

func mapOpenAIFinish(r openai.FinishReason) StopReason {
	switch r {
	case openai.FinishReasonToolCalls:
		return StopReasonToolUse
	case openai.FinishReasonLength:
		return StopReasonMaxTokens
	default:
		return StopReasonStop
	}
}
