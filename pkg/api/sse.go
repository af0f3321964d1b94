package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// sseWriter emits server-sent events as "data: <json>\n\n" frames,
// flushing after every frame so clients see tokens as they arrive.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(c *echo.Context) (*sseWriter, error) {
	w := c.Response()

	flusher, ok := http.ResponseWriter(w).(http.Flusher)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "streaming not supported")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &sseWriter{w: w, flusher: flusher}, nil
}

// send writes one event frame. Marshal and write failures are logged
// and swallowed; a broken client connection surfaces as ctx
// cancellation on the pipeline, not here.
func (s *sseWriter) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to marshal SSE event", "error", err)
		return
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return
	}
	s.flusher.Flush()
}
