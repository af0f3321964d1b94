package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// OllamaModelRequest is the body for the install and uninstall endpoints.
type OllamaModelRequest struct {
	Model string `json:"model"`
}

// ollamaStatusHandler handles GET /api/ollama/status.
func (s *Server) ollamaStatusHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.ollama.Status(c.Request().Context()))
}

// ollamaInstallHandler handles POST /api/ollama/install.
func (s *Server) ollamaInstallHandler(c *echo.Context) error {
	var req OllamaModelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Model == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "model is required")
	}

	return c.JSON(http.StatusOK, s.ollama.InstallModel(c.Request().Context(), req.Model))
}

// ollamaInstallStreamHandler handles POST /api/ollama/install/stream.
// Pull progress lines are forwarded as SSE frames; the terminal frame
// reports success or failure.
func (s *Server) ollamaInstallStreamHandler(c *echo.Context) error {
	var req OllamaModelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Model == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "model is required")
	}

	sw, err := newSSEWriter(c)
	if err != nil {
		return err
	}

	for ev := range s.ollama.InstallModelStream(c.Request().Context(), req.Model) {
		sw.send(ev)
	}
	return nil
}

// ollamaUninstallHandler handles POST /api/ollama/uninstall.
func (s *Server) ollamaUninstallHandler(c *echo.Context) error {
	var req OllamaModelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Model == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "model is required")
	}

	return c.JSON(http.StatusOK, s.ollama.UninstallModel(c.Request().Context(), req.Model))
}
