// Package config handles Home Mind configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/home-mind/config.yaml, /etc/home-mind/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "home-mind", "config.yaml"))
	}

	paths = append(paths, "/etc/home-mind/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Home Mind configuration.
type Config struct {
	Listen        ListenConfig        `yaml:"listen"`
	LLM           LLMConfig           `yaml:"llm"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	Memory        MemoryConfig        `yaml:"memory"`
	Conversations ConversationsConfig `yaml:"conversations"`
	Cleanup       CleanupConfig       `yaml:"cleanup"`
	APIToken      string              `yaml:"api_token"`
	CustomPrompt  string              `yaml:"custom_prompt"`
	DataDir       string              `yaml:"data_dir"`
	LogLevel      string              `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// LLMConfig defines the completion provider settings.
type LLMConfig struct {
	Provider        string `yaml:"provider"` // anthropic, openai, ollama
	Model           string `yaml:"model"`
	ExtractionModel string `yaml:"extraction_model"` // cheaper model for fact extraction
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	OllamaURL       string `yaml:"ollama_url"`
}

// HomeAssistantConfig defines HA connection settings.
type HomeAssistantConfig struct {
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	SkipTLSVerify bool   `yaml:"skip_tls_verify"`
	WatchEvents   bool   `yaml:"watch_events"` // WebSocket state_changed subscription
}

// MemoryConfig defines fact memory settings.
type MemoryConfig struct {
	Backend     string `yaml:"backend"` // sqlite, shodh
	TokenLimit  int    `yaml:"token_limit"`
	ShodhURL    string `yaml:"shodh_url"`
	ShodhAPIKey string `yaml:"shodh_api_key"`
}

// ConversationsConfig defines conversation history settings.
type ConversationsConfig struct {
	Storage string `yaml:"storage"` // memory, sqlite
}

// CleanupConfig defines the periodic memory cleanup job.
type CleanupConfig struct {
	IntervalHours int `yaml:"interval_hours"` // 0 disables
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 3100},
		LLM: LLMConfig{
			Provider: "anthropic",
			Model:    "claude-haiku-4-5-20251001",
		},
		Memory: MemoryConfig{
			Backend:    "sqlite",
			TokenLimit: 1500,
		},
		Conversations: ConversationsConfig{Storage: "memory"},
		Cleanup:       CleanupConfig{IntervalHours: 6},
		DataDir:       ".",
	}
}

// Validate checks that required settings are present for the selected
// providers and backends. Called once at startup; failures are fatal.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "anthropic":
		if c.LLM.AnthropicAPIKey == "" {
			return fmt.Errorf("llm.anthropic_api_key is required when llm.provider is anthropic")
		}
	case "openai":
		if c.LLM.OpenAIAPIKey == "" {
			return fmt.Errorf("llm.openai_api_key is required when llm.provider is openai")
		}
	case "ollama":
		if c.LLM.OllamaURL == "" {
			return fmt.Errorf("llm.ollama_url is required when llm.provider is ollama")
		}
	default:
		return fmt.Errorf("unknown llm.provider %q (valid: anthropic, openai, ollama)", c.LLM.Provider)
	}

	if c.HomeAssistant.URL == "" {
		return fmt.Errorf("homeassistant.url is required")
	}
	if c.HomeAssistant.Token == "" {
		return fmt.Errorf("homeassistant.token is required")
	}

	switch c.Memory.Backend {
	case "sqlite":
	case "shodh":
		if c.Memory.ShodhURL == "" {
			return fmt.Errorf("memory.shodh_url is required when memory.backend is shodh")
		}
		if c.Memory.ShodhAPIKey == "" {
			return fmt.Errorf("memory.shodh_api_key is required when memory.backend is shodh")
		}
	default:
		return fmt.Errorf("unknown memory.backend %q (valid: sqlite, shodh)", c.Memory.Backend)
	}

	switch c.Conversations.Storage {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unknown conversations.storage %q (valid: memory, sqlite)", c.Conversations.Storage)
	}

	return nil
}
