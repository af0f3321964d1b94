package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// yamlConfig mirrors the conclave.yaml file structure. Durations are strings
// in YAML and parsed into the resolved Config.
type yamlConfig struct {
	Server     *ServerConfig     `yaml:"server"`
	Storage    *StorageConfig    `yaml:"storage"`
	OpenRouter *OpenRouterConfig `yaml:"openrouter"`
	Ollama     *OllamaConfig     `yaml:"ollama"`
	Council    *CouncilDefaults  `yaml:"council"`
	Context    *ContextConfig    `yaml:"context"`
	Timeouts   *timeoutsYAML     `yaml:"timeouts"`
}

type timeoutsYAML struct {
	Request string `yaml:"request"`
	Title   string `yaml:"title"`
}

// Load reads the configuration file at path, expands environment variables,
// merges the result over the built-in defaults, and validates it. A missing
// file is not an error; the defaults are returned as-is.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("No configuration file found, using defaults", "path", path)
			if err := cfg.Validate(); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	// Expand environment variables using {{.VAR}} template syntax.
	data = ExpandEnv(data)

	var fileCfg yamlConfig
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := merge(cfg, &fileCfg); err != nil {
		return nil, fmt.Errorf("failed to merge %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}

	slog.Info("Configuration loaded",
		"path", path,
		"provider", cfg.Council.Provider,
		"council_models", len(cfg.Council.Models),
		"storage", storageKind(cfg))

	return cfg, nil
}

// merge overlays non-zero file values onto the defaults.
func merge(cfg *Config, file *yamlConfig) error {
	if file.Server != nil {
		if err := mergo.Merge(&cfg.Server, *file.Server, mergo.WithOverride); err != nil {
			return err
		}
	}
	if file.Storage != nil {
		if err := mergo.Merge(&cfg.Storage, *file.Storage, mergo.WithOverride); err != nil {
			return err
		}
	}
	if file.OpenRouter != nil {
		if err := mergo.Merge(&cfg.OpenRouter, *file.OpenRouter, mergo.WithOverride); err != nil {
			return err
		}
	}
	if file.Ollama != nil {
		if err := mergo.Merge(&cfg.Ollama, *file.Ollama, mergo.WithOverride); err != nil {
			return err
		}
	}
	if file.Council != nil {
		if err := mergo.Merge(&cfg.Council, *file.Council, mergo.WithOverride); err != nil {
			return err
		}
	}
	if file.Context != nil {
		if err := mergo.Merge(&cfg.Context, *file.Context, mergo.WithOverride); err != nil {
			return err
		}
	}

	if file.Timeouts != nil {
		if d, ok := parseDuration("timeouts.request", file.Timeouts.Request); ok {
			cfg.Timeouts.Request = d
		}
		if d, ok := parseDuration("timeouts.title", file.Timeouts.Title); ok {
			cfg.Timeouts.Title = d
		}
	}

	return nil
}

func parseDuration(field, value string) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("Invalid duration in config, using default", "field", field, "value", value, "error", err)
		return 0, false
	}
	return d, true
}

func storageKind(cfg *Config) string {
	if cfg.Storage.DatabaseURL != "" {
		return "postgres"
	}
	return "file"
}
