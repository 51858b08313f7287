package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hoornet/home-mind/internal/config"
	"github.com/hoornet/home-mind/internal/prompts"
	"github.com/hoornet/home-mind/internal/tools"
)

// Request is one chat exchange sent to a provider.
type Request struct {
	Model     string
	MaxTokens int
	System    prompts.SystemPrompt
	Tools     []tools.Definition
	Messages  []Message
}

// Provider streams chat completions from one model backend.
type Provider interface {
	// Stream sends the request and delivers text chunks through cb as
	// they arrive. It returns the assembled result including any tool
	// calls the model requested.
	Stream(ctx context.Context, req Request, cb StreamCallback) (*StreamResult, error)

	// Ping verifies the backend is reachable and credentials work.
	Ping(ctx context.Context) error
}

// ProviderError wraps a transport or API failure from a provider.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// New selects a provider from configuration. Ollama is driven through
// the OpenAI-compatible API it exposes under /v1.
func New(cfg config.LLMConfig, logger *slog.Logger) (Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropic(cfg.AnthropicAPIKey, cfg.Model, logger), nil
	case "openai":
		return NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.Model, logger), nil
	case "ollama":
		base := strings.TrimRight(cfg.OllamaURL, "/") + "/v1"
		return NewOpenAI("ollama", base, cfg.Model, logger), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}
