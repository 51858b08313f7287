// Home Mind is a memory-augmented Home Assistant chat service.
//
// It connects a streaming completion provider (Anthropic, OpenAI, or
// Ollama) to Home Assistant tools, learns long-term facts about the
// household from every exchange, and serves a small HTTP API with SSE
// streaming. Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	homemind serve             Start the API server
//	homemind version           Print version and build information
//	homemind -config <path>    Use an explicit config file
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hoornet/home-mind/internal/api"
	"github.com/hoornet/home-mind/internal/buildinfo"
	"github.com/hoornet/home-mind/internal/chat"
	"github.com/hoornet/home-mind/internal/cleanup"
	"github.com/hoornet/home-mind/internal/config"
	"github.com/hoornet/home-mind/internal/homeassistant"
	"github.com/hoornet/home-mind/internal/llm"
	"github.com/hoornet/home-mind/internal/memory"
	"github.com/hoornet/home-mind/internal/tools"
)

// extractionMaxTokens bounds the fact-extraction completion. The
// expected output is a small JSON array, not prose.
const extractionMaxTokens = 500

func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. OS-level dependencies are injected so
// the full lifecycle can be driven from tests.
func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var command string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-version" || args[i] == "--version":
			command = "version"
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "version":
		fmt.Fprintf(stdout, "home-mind %s (%s, built %s)\n",
			buildinfo.Version, buildinfo.GitCommit, buildinfo.BuildTime)
		return nil
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprintf(w, `Home Mind %s

Usage:
  homemind serve             Start the API server
  homemind version           Print version and build information

Flags:
  -config <path>             Config file (default: search standard locations)
`, buildinfo.Version)
	return nil
}

// runServe loads config, wires every component together, starts the
// API server, and blocks until SIGINT or SIGTERM.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Home Mind",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"built", buildinfo.BuildTime,
	)

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"provider", cfg.LLM.Provider,
		"model", cfg.LLM.Model,
		"memory_backend", cfg.Memory.Backend,
	)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	// Home Assistant client. An unreachable HA at startup is only a
	// warning: it may simply be rebooting.
	var haOpts []homeassistant.Option
	if cfg.HomeAssistant.SkipTLSVerify {
		haOpts = append(haOpts, homeassistant.WithSkipTLSVerify())
	}
	ha := homeassistant.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger, haOpts...)
	{
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := ha.Ping(pingCtx); err != nil {
			logger.Warn("Home Assistant unreachable at startup", "error", err)
		} else {
			logger.Info("Home Assistant connected", "url", cfg.HomeAssistant.URL)
		}
		cancel()
	}

	provider, err := llm.New(cfg.LLM, logger)
	if err != nil {
		return err
	}

	facts, err := memory.NewStore(cfg.Memory, cfg.DataDir, logger)
	if err != nil {
		return fmt.Errorf("open fact store: %w", err)
	}
	defer facts.Close()

	// The cognitive backend holds all long-term memory; running without
	// it would silently answer with amnesia. Refuse to start instead.
	if hc, ok := facts.(interface{ Healthy(context.Context) bool }); ok {
		healthCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		healthy := hc.Healthy(healthCtx)
		cancel()
		if !healthy {
			return fmt.Errorf("memory backend %s is unreachable at %s", cfg.Memory.Backend, cfg.Memory.ShodhURL)
		}
		logger.Info("memory backend healthy", "backend", cfg.Memory.Backend)
	}

	conversations, err := memory.NewConversationStore(cfg.Conversations, cfg.DataDir, logger)
	if err != nil {
		return fmt.Errorf("open conversation store: %w", err)
	}
	defer conversations.Close()

	extractionModel := cfg.LLM.ExtractionModel
	if extractionModel == "" {
		extractionModel = cfg.LLM.Model
	}
	extractor := memory.NewExtractor(func(ctx context.Context, prompt string) (string, error) {
		result, err := provider.Stream(ctx, llm.Request{
			Model:     extractionModel,
			MaxTokens: extractionMaxTokens,
			Messages:  []llm.Message{{Role: "user", Content: prompt}},
		}, nil)
		if err != nil {
			return "", err
		}
		return result.Text, nil
	}, logger)

	dispatcher := tools.NewDispatcher(ha, logger)

	engine := chat.NewEngine(provider, facts, conversations, extractor, dispatcher, chat.Config{
		Model:        cfg.LLM.Model,
		TokenLimit:   cfg.Memory.TokenLimit,
		CustomPrompt: cfg.CustomPrompt,
	}, logger)

	job := cleanup.New(facts, conversations, time.Duration(cfg.Cleanup.IntervalHours)*time.Hour, logger)
	job.Start()
	defer job.Stop()

	if cfg.HomeAssistant.WatchEvents {
		watch := homeassistant.NewStateWatch(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, ha, logger)
		watch.Start(ctx)
		defer watch.Stop()
	}

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, cfg.APIToken, engine, facts, conversations, ha, logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
	return nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}
