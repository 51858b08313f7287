// Package chat orchestrates one exchange between the user, the
// completion provider, and the Home Assistant tools.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hoornet/home-mind/internal/llm"
	"github.com/hoornet/home-mind/internal/memory"
	"github.com/hoornet/home-mind/internal/prompts"
	"github.com/hoornet/home-mind/internal/tools"
)

const (
	// historyLimit is how many prior turns are replayed into the prompt.
	historyLimit = 10

	// Voice responses are read aloud, so they get a much tighter budget.
	maxTokensText  = 2048
	maxTokensVoice = 500

	extractionTimeout = 60 * time.Second
)

// Request is one incoming chat turn.
type Request struct {
	Message        string `json:"message"`
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	IsVoice        bool   `json:"is_voice,omitempty"`
	CustomPrompt   string `json:"custom_prompt,omitempty"`
}

// Response is the completed exchange. FactsLearned is advisory: fact
// extraction runs in the background and its count is not guaranteed to
// reflect this exact response.
type Response struct {
	Response     string   `json:"response"`
	ToolsUsed    []string `json:"tools_used"`
	FactsLearned int      `json:"facts_learned"`
}

// ToolDispatcher executes one tool call. *tools.Dispatcher satisfies it.
type ToolDispatcher interface {
	Handle(ctx context.Context, name string, args map[string]any) any
}

// Config carries the engine's tunables.
type Config struct {
	Model        string
	TokenLimit   int
	CustomPrompt string
}

// Engine drives the stream/tool loop for a single exchange.
type Engine struct {
	provider      llm.Provider
	facts         memory.FactStore
	conversations memory.ConversationStore
	extractor     *memory.Extractor
	tools         ToolDispatcher
	cfg           Config
	logger        *slog.Logger
}

// NewEngine creates a chat engine.
func NewEngine(provider llm.Provider, facts memory.FactStore, conversations memory.ConversationStore, extractor *memory.Extractor, dispatcher ToolDispatcher, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		provider:      provider,
		facts:         facts,
		conversations: conversations,
		extractor:     extractor,
		tools:         dispatcher,
		cfg:           cfg,
		logger:        logger.With("component", "chat"),
	}
}

// Chat runs one exchange. Text chunks stream to onChunk in order as
// they arrive; the returned Response carries the full text. Provider
// failures surface as *llm.ProviderError. Tool execution failures do
// not fail the exchange; the model sees them as error payloads.
func (e *Engine) Chat(ctx context.Context, req Request, onChunk func(chunk string)) (*Response, error) {
	start := time.Now()

	var factContents []string
	facts, err := e.facts.GetFactsWithinTokenLimit(ctx, req.UserID, e.cfg.TokenLimit, req.Message)
	if err != nil {
		e.logger.Warn("fact retrieval failed, continuing without memories",
			"user_id", req.UserID, "error", err)
	}
	for _, f := range facts {
		factContents = append(factContents, f.Content)
	}

	customPrompt := req.CustomPrompt
	if customPrompt == "" {
		customPrompt = e.cfg.CustomPrompt
	}
	system := prompts.Build(factContents, req.IsVoice, customPrompt)

	var messages []llm.Message
	if req.ConversationID != "" {
		history, err := e.conversations.History(req.ConversationID, historyLimit)
		if err != nil {
			e.logger.Warn("history load failed", "conversation_id", req.ConversationID, "error", err)
		}
		for _, m := range history {
			messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
		}
	}
	messages = append(messages, llm.Message{Role: "user", Content: req.Message})

	if req.ConversationID != "" {
		if _, err := e.conversations.StoreMessage(req.ConversationID, req.UserID, "user", req.Message); err != nil {
			e.logger.Warn("failed to store user message", "error", err)
		}
	}

	maxTokens := maxTokensText
	if req.IsVoice {
		maxTokens = maxTokensVoice
	}

	var full strings.Builder
	var toolsUsed []string

	for {
		result, err := e.provider.Stream(ctx, llm.Request{
			Model:     e.cfg.Model,
			MaxTokens: maxTokens,
			System:    system,
			Tools:     tools.Definitions(),
			Messages:  messages,
		}, func(chunk string) {
			full.WriteString(chunk)
			if onChunk != nil {
				onChunk(chunk)
			}
		})
		if err != nil {
			return nil, err
		}

		if result.StopReason != llm.StopReasonToolUse || len(result.ToolCalls) == 0 {
			if result.StopReason == llm.StopReasonMaxTokens {
				e.logger.Warn("response truncated at token limit", "max_tokens", maxTokens)
			}
			break
		}

		toolMsgs, err := e.runToolCalls(ctx, result.ToolCalls)
		if err != nil {
			return nil, err
		}
		for _, call := range result.ToolCalls {
			toolsUsed = append(toolsUsed, call.Name)
		}

		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   result.Text,
			ToolCalls: result.ToolCalls,
		})
		messages = append(messages, toolMsgs...)
	}

	responseText := full.String()

	if req.ConversationID != "" && responseText != "" {
		if _, err := e.conversations.StoreMessage(req.ConversationID, req.UserID, "assistant", responseText); err != nil {
			e.logger.Warn("failed to store assistant message", "error", err)
		}
	}

	e.extractInBackground(req.UserID, req.Message, responseText)

	e.logger.Info("exchange complete",
		"user_id", req.UserID,
		"duration", time.Since(start),
		"tools_used", len(toolsUsed),
		"response_chars", len(responseText),
	)

	return &Response{
		Response:  responseText,
		ToolsUsed: toolsUsed,
	}, nil
}

// runToolCalls executes all requested calls concurrently and returns
// one tool message per call, in call order. Malformed argument JSON is
// a provider contract violation and fails the exchange.
func (e *Engine) runToolCalls(ctx context.Context, calls []llm.ToolCall) ([]llm.Message, error) {
	argMaps := make([]map[string]any, len(calls))
	for i, call := range calls {
		args := map[string]any{}
		if call.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
				return nil, fmt.Errorf("tool call %s: malformed arguments %q: %w", call.Name, call.Arguments, err)
			}
		}
		argMaps[i] = args
	}

	results := make([]string, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call llm.ToolCall) {
			defer wg.Done()
			out := e.tools.Handle(ctx, call.Name, argMaps[i])
			b, err := json.Marshal(out)
			if err != nil {
				b, _ = json.Marshal(map[string]any{"error": err.Error()})
			}
			results[i] = string(b)
		}(i, call)
	}
	wg.Wait()

	msgs := make([]llm.Message, len(calls))
	for i, call := range calls {
		msgs[i] = llm.Message{Role: "tool", Content: results[i], ToolCallID: call.ID}
	}
	return msgs, nil
}

// extractInBackground learns facts from the finished exchange without
// blocking the response. The goroutine gets its own bounded context;
// failures are logged and dropped.
func (e *Engine) extractInBackground(userID, userMessage, assistantResponse string) {
	if e.extractor == nil || assistantResponse == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), extractionTimeout)
		defer cancel()

		existing, err := e.facts.GetFacts(ctx, userID)
		if err != nil {
			e.logger.Warn("could not load existing facts for extraction", "error", err)
		}

		extracted := e.extractor.Extract(ctx, userMessage, assistantResponse, existing)
		if len(extracted) == 0 {
			return
		}

		stored := e.extractor.StoreExtracted(ctx, e.facts, userID, extracted)
		if stored > 0 {
			e.logger.Info("learned facts from exchange", "user_id", userID, "count", stored)
		}
	}()
}
