// Package api exposes the council over REST and SSE.
package api

import (
	"context"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/conclave-ai/conclave/pkg/council"
	"github.com/conclave-ai/conclave/pkg/provider"
	"github.com/conclave-ai/conclave/pkg/services"
	"github.com/conclave-ai/conclave/pkg/version"
)

// Server wires the HTTP surface to the service layer.
type Server struct {
	e          *echo.Echo
	httpServer *http.Server

	conversations *services.ConversationService
	contexts      *services.ContextService
	councilConfig *services.ConfigStore
	orchestrator  *council.Orchestrator
	registry      *provider.Registry
	ollama        *provider.Ollama
}

// Options carries the server's dependencies.
type Options struct {
	AllowedOrigins []string

	Conversations *services.ConversationService
	Contexts      *services.ContextService
	CouncilConfig *services.ConfigStore
	Orchestrator  *council.Orchestrator
	Registry      *provider.Registry
	Ollama        *provider.Ollama
}

// NewServer builds the router and registers all routes.
func NewServer(opts Options) *Server {
	s := &Server{
		conversations: opts.Conversations,
		contexts:      opts.Contexts,
		councilConfig: opts.CouncilConfig,
		orchestrator:  opts.Orchestrator,
		registry:      opts.Registry,
		ollama:        opts.Ollama,
	}

	e := echo.New()
	e.Use(securityHeaders())
	e.Use(corsMiddleware(opts.AllowedOrigins))

	e.GET("/healthz", s.healthHandler)

	api := e.Group("/api")
	api.GET("/conversations", s.listConversationsHandler)
	api.POST("/conversations", s.createConversationHandler)
	api.GET("/conversations/:id", s.getConversationHandler)
	api.DELETE("/conversations/:id", s.deleteConversationHandler)

	api.POST("/conversations/:id/message", s.sendMessageHandler)
	api.POST("/conversations/:id/message/stream", s.sendMessageStreamHandler)
	api.POST("/conversations/:id/pending/retry", s.retryHandler)
	api.POST("/conversations/:id/pending/retry/stream", s.retryStreamHandler)
	api.POST("/conversations/:id/pending/remove", s.removePendingHandler)
	api.POST("/conversations/:id/user-message/status", s.userMessageStatusHandler)

	api.GET("/available-models", s.availableModelsHandler)
	api.GET("/council-config", s.getCouncilConfigHandler)
	api.POST("/council-config", s.setCouncilConfigHandler)

	api.GET("/ollama/status", s.ollamaStatusHandler)
	api.POST("/ollama/install", s.ollamaInstallHandler)
	api.POST("/ollama/install/stream", s.ollamaInstallStreamHandler)
	api.POST("/ollama/uninstall", s.ollamaUninstallHandler)

	s.e = e
	return s
}

// Start listens on addr and blocks until the listener closes.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.e}
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Full(),
	})
}
