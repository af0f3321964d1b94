// Package config loads the conclave.yaml configuration file, expands
// environment variables, applies defaults, and validates the result.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	OpenRouter OpenRouterConfig
	Ollama     OllamaConfig
	Council    CouncilDefaults
	Context    ContextConfig
	Timeouts   TimeoutConfig
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// StorageConfig selects the conversation store backend. When DatabaseURL is
// set conversations are persisted to PostgreSQL, otherwise to JSON files
// under DataDir.
type StorageConfig struct {
	DataDir     string `yaml:"data_dir"`
	DatabaseURL string `yaml:"database_url"`
}

// OpenRouterConfig holds settings for the hosted model provider.
type OpenRouterConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// OllamaConfig holds settings for the local model provider.
type OllamaConfig struct {
	URL     string `yaml:"url"`
	CLIPath string `yaml:"cli_path"`
	UseCLI  bool   `yaml:"use_cli"`
}

// CouncilDefaults seeds the runtime council configuration on first start.
// After that the values in the data directory's config.json take precedence.
type CouncilDefaults struct {
	Provider string   `yaml:"provider"`
	Models   []string `yaml:"models"`
	Chairman string   `yaml:"chairman"`
}

// ContextConfig controls conversation context compaction.
type ContextConfig struct {
	ImmediateKeep    int `yaml:"immediate_keep"`
	SummaryRetention int `yaml:"summary_retention"`
}

// TimeoutConfig holds resolved per-call deadlines.
type TimeoutConfig struct {
	Request time.Duration
	Title   time.Duration
}

// Default returns the built-in configuration used when conclave.yaml is
// absent or omits a section.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           ":8011",
			AllowedOrigins: []string{"http://localhost:5173"},
		},
		Storage: StorageConfig{
			DataDir: "data/conversations",
		},
		Ollama: OllamaConfig{
			URL:     "http://localhost:11434",
			CLIPath: "ollama",
		},
		Council: CouncilDefaults{
			Provider: "openrouter",
			Models: []string{
				"openai/gpt-5.1",
				"google/gemini-3-pro-preview",
				"anthropic/claude-sonnet-4.5",
				"x-ai/grok-4",
			},
			Chairman: "google/gemini-3-pro-preview",
		},
		Context: ContextConfig{
			ImmediateKeep:    3,
			SummaryRetention: 3,
		},
		Timeouts: TimeoutConfig{
			Request: 120 * time.Second,
			Title:   30 * time.Second,
		},
	}
}

// Validate checks the resolved configuration for values that would fail at
// runtime in confusing ways.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Storage.DatabaseURL == "" && strings.TrimSpace(c.Storage.DataDir) == "" {
		return fmt.Errorf("storage.data_dir must be set when storage.database_url is empty")
	}
	switch c.Council.Provider {
	case "openrouter", "ollama", "local", "hybrid":
	default:
		return fmt.Errorf("council.provider %q is not one of openrouter, ollama, local, hybrid", c.Council.Provider)
	}
	if len(c.Council.Models) == 0 {
		return fmt.Errorf("council.models must list at least one model")
	}
	if strings.TrimSpace(c.Council.Chairman) == "" {
		return fmt.Errorf("council.chairman must not be empty")
	}
	if c.Context.ImmediateKeep < 1 {
		return fmt.Errorf("context.immediate_keep must be at least 1")
	}
	if c.Context.SummaryRetention < 1 {
		return fmt.Errorf("context.summary_retention must be at least 1")
	}
	if c.Timeouts.Request <= 0 {
		return fmt.Errorf("timeouts.request must be positive")
	}
	return nil
}
