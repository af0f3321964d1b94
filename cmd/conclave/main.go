// Conclave server: runs multi-model council deliberations over HTTP
// and SSE and persists the resulting conversations.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/conclave-ai/conclave/pkg/api"
	"github.com/conclave-ai/conclave/pkg/config"
	"github.com/conclave-ai/conclave/pkg/council"
	"github.com/conclave-ai/conclave/pkg/provider"
	"github.com/conclave-ai/conclave/pkg/services"
	"github.com/conclave-ai/conclave/pkg/store"
	"github.com/conclave-ai/conclave/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config",
		getEnv("CONCLAVE_CONFIG", "conclave.yaml"),
		"Path to the configuration file")
	flag.Parse()

	// Load .env before the config file so {{.VAR}} expansion sees it.
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded, continuing with existing environment", "error", err)
	}

	slog.Info("Starting conclave", "version", version.Full(), "config", *configPath)

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Conversation store: PostgreSQL when a database URL is configured,
	// JSON files otherwise.
	var conversationStore store.ConversationStore
	dataDir := cfg.Storage.DataDir
	if dataDir == "" {
		dataDir = "data"
	}
	if cfg.Storage.DatabaseURL != "" {
		pgStore, err := store.NewPGStore(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pgStore.Close()
		conversationStore = pgStore
		slog.Info("Connected to PostgreSQL conversation store")

		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			slog.Error("Failed to create data directory", "dir", dataDir, "error", err)
			os.Exit(1)
		}
	} else {
		fileStore, err := store.NewFileStore(dataDir)
		if err != nil {
			slog.Error("Failed to open conversation directory", "dir", dataDir, "error", err)
			os.Exit(1)
		}
		conversationStore = fileStore
		slog.Info("Using file conversation store", "dir", dataDir)
	}

	// Runtime council configuration, seeded from the static config on
	// first start.
	councilCfg, err := services.NewConfigStore(filepath.Join(dataDir, "config.json"), services.CouncilConfig{
		Provider:      cfg.Council.Provider,
		CouncilModels: cfg.Council.Models,
		ChairmanModel: cfg.Council.Chairman,
	})
	if err != nil {
		slog.Error("Failed to initialize council config store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := councilCfg.Close(); err != nil {
			slog.Error("Error closing council config store", "error", err)
		}
	}()

	openRouter := provider.NewOpenRouter(cfg.OpenRouter.APIKey, cfg.OpenRouter.BaseURL)
	ollama := provider.NewOllama(provider.OllamaOptions{
		BaseURL: cfg.Ollama.URL,
		CLIPath: cfg.Ollama.CLIPath,
		UseCLI:  cfg.Ollama.UseCLI,
	})
	registry := provider.NewRegistry(openRouter, ollama, "openrouter")

	orchestrator := council.New(registry, councilCfg, council.Options{
		RequestTimeout: cfg.Timeouts.Request,
		TitleTimeout:   cfg.Timeouts.Title,
	})

	conversations := services.NewConversationService(conversationStore)
	contexts := services.NewContextService(conversations, orchestrator,
		cfg.Context.ImmediateKeep, cfg.Context.SummaryRetention)

	httpServer := api.NewServer(api.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Conversations:  conversations,
		Contexts:       contexts,
		CouncilConfig:  councilCfg,
		Orchestrator:   orchestrator,
		Registry:       registry,
		Ollama:         ollama,
	})

	// Start HTTP server (non-blocking)
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.Server.Addr)
		if err := httpServer.Start(cfg.Server.Addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Conclave started successfully",
		"provider", councilCfg.Provider(),
		"council_models", len(councilCfg.CouncilModels()),
		"chairman", councilCfg.ChairmanModel())

	// Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
