package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/conclave-ai/conclave/pkg/services"
)

// availableModelsHandler handles GET /api/available-models?provider=.
func (s *Server) availableModelsHandler(c *echo.Context) error {
	name := c.QueryParam("provider")

	p, err := s.registry.Resolve(name)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	modelIDs, err := p.ListModels(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "failed to list models: "+err.Error())
	}

	return c.JSON(http.StatusOK, map[string]any{
		"provider": p.Name(),
		"models":   modelIDs,
	})
}

// getCouncilConfigHandler handles GET /api/council-config.
func (s *Server) getCouncilConfigHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.councilConfig.Get())
}

// setCouncilConfigHandler handles POST /api/council-config. Absent
// fields keep their current values.
func (s *Server) setCouncilConfigHandler(c *echo.Context) error {
	var req services.CouncilConfig
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	switch req.Provider {
	case "", "openrouter", "ollama", "local", "hybrid":
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown provider: "+req.Provider)
	}

	updated, err := s.councilConfig.Set(req)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, updated)
}
