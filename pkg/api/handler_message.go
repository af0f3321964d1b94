package api

import (
	"context"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/conclave-ai/conclave/pkg/council"
	"github.com/conclave-ai/conclave/pkg/models"
)

const maxMessageLength = 100_000

// SendMessageRequest is the body for the message and retry endpoints.
// Retry ignores Content and reruns the stored user message.
type SendMessageRequest struct {
	Content         string `json:"content"`
	Provider        string `json:"provider,omitempty"`
	SkipStages      bool   `json:"skip_stages,omitempty"`
	ReplyToResponse string `json:"reply_to_response,omitempty"`
}

// TurnMetadata accompanies a completed deliberation.
type TurnMetadata struct {
	LabelToModel      map[string]string          `json:"label_to_model"`
	AggregateRankings []council.AggregateRanking `json:"aggregate_rankings"`
}

// TurnResponse is the synchronous message/retry response body.
type TurnResponse struct {
	Stage1   []models.ModelResponse `json:"stage1"`
	Stage2   []models.ModelRanking  `json:"stage2"`
	Stage3   models.ChairmanAnswer  `json:"stage3"`
	Metadata TurnMetadata           `json:"metadata"`
	Title    string                 `json:"title,omitempty"`
}

// titleEvent is the SSE frame announcing a generated conversation title.
type titleEvent struct {
	Type  council.EventType `json:"type"`
	Title string            `json:"title"`
}

// turnInput captures everything needed to run one deliberation turn
// against an existing pending user message.
type turnInput struct {
	ConversationID  string
	Content         string
	Provider        string
	SkipStages      bool
	ReplyToResponse string
	FirstTurn       bool
}

// resolveProviderName falls back to the runtime council configuration
// when the request does not name a provider.
func (s *Server) resolveProviderName(requested string) string {
	if requested != "" {
		return requested
	}
	return s.councilConfig.Provider()
}

func hasUserMessage(c *models.Conversation) bool {
	for i := range c.Messages {
		if c.Messages[i].IsUser() {
			return true
		}
	}
	return false
}

// runTurn executes the council pipeline for a pending user message and
// persists the outcome. The turn write uses a context detached from the
// request so a client disconnect after a successful run still commits.
// Orchestration failures flip the user message to failed; no path
// leaves it pending.
func (s *Server) runTurn(ctx context.Context, convo *models.Conversation, in turnInput, emit council.EmitFunc) (*council.Result, string, error) {
	// Title generation runs concurrently with the council stages on the
	// first turn and is joined after the turn write. The channel is
	// buffered so the goroutine finishes even when the turn fails and
	// nobody receives.
	var titleCh chan string
	if in.FirstTurn {
		titleCh = make(chan string, 1)
		titleCtx := context.WithoutCancel(ctx)
		go func() {
			titleCh <- s.orchestrator.GenerateTitle(titleCtx, in.Provider, in.Content)
		}()
	}

	priorContext, didSync := s.contexts.BuildPriorContext(ctx, convo, in.Provider)

	result, err := s.orchestrator.RunStream(ctx, council.RunInput{
		Query:           in.Content,
		PriorContext:    priorContext,
		ReplyToResponse: in.ReplyToResponse,
		Provider:        in.Provider,
		SkipStages:      in.SkipStages,
	}, emit)

	persistCtx := context.WithoutCancel(ctx)
	if err != nil {
		if failErr := s.conversations.FailTurn(persistCtx, in.ConversationID); failErr != nil {
			slog.Error("Failed to mark user message failed",
				"conversation_id", in.ConversationID, "error", failErr)
		}
		return nil, "", err
	}

	if err := s.conversations.CompleteTurn(persistCtx, in.ConversationID, result.Stage1, result.Stage2, result.Stage3); err != nil {
		if failErr := s.conversations.FailTurn(persistCtx, in.ConversationID); failErr != nil {
			slog.Error("Failed to mark user message failed",
				"conversation_id", in.ConversationID, "error", failErr)
		}
		return nil, "", err
	}

	title := ""
	if titleCh != nil {
		title = <-titleCh
		if err := s.conversations.UpdateTitle(persistCtx, in.ConversationID, title); err != nil {
			slog.Warn("Failed to persist conversation title",
				"conversation_id", in.ConversationID, "error", err)
		}
	}

	s.contexts.ScheduleCompaction(in.ConversationID, in.Provider, didSync)

	return result, title, nil
}

func turnResponse(result *council.Result, title string) TurnResponse {
	return TurnResponse{
		Stage1: result.Stage1,
		Stage2: result.Stage2,
		Stage3: result.Stage3,
		Metadata: TurnMetadata{
			LabelToModel:      result.LabelToModel,
			AggregateRankings: result.Aggregate,
		},
		Title: title,
	}
}

// sendMessageHandler handles POST /api/conversations/:id/message.
func (s *Server) sendMessageHandler(c *echo.Context) error {
	in, convo, httpErr := s.beginMessageTurn(c)
	if httpErr != nil {
		return httpErr
	}

	result, title, err := s.runTurn(c.Request().Context(), convo, in, nil)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, turnResponse(result, title))
}

// sendMessageStreamHandler handles POST /api/conversations/:id/message/stream.
func (s *Server) sendMessageStreamHandler(c *echo.Context) error {
	in, convo, httpErr := s.beginMessageTurn(c)
	if httpErr != nil {
		return httpErr
	}
	return s.streamTurn(c, convo, in)
}

// beginMessageTurn validates the send-message request and appends the
// pending user message.
func (s *Server) beginMessageTurn(c *echo.Context) (turnInput, *models.Conversation, *echo.HTTPError) {
	id := c.Param("id")
	if id == "" {
		return turnInput{}, nil, echo.NewHTTPError(http.StatusBadRequest, "conversation id is required")
	}

	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return turnInput{}, nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Content) > maxMessageLength {
		return turnInput{}, nil, echo.NewHTTPError(http.StatusBadRequest, "content exceeds maximum length of 100,000 characters")
	}

	ctx := c.Request().Context()

	convo, err := s.conversations.Get(ctx, id)
	if err != nil {
		return turnInput{}, nil, mapServiceError(err)
	}
	firstTurn := !hasUserMessage(convo)

	if err := s.conversations.BeginTurn(ctx, id, req.Content); err != nil {
		return turnInput{}, nil, mapServiceError(err)
	}

	return turnInput{
		ConversationID:  id,
		Content:         req.Content,
		Provider:        s.resolveProviderName(req.Provider),
		SkipStages:      req.SkipStages,
		ReplyToResponse: req.ReplyToResponse,
		FirstTurn:       firstTurn,
	}, convo, nil
}

// streamTurn runs a turn while forwarding pipeline events as SSE
// frames. Failures after the stream opens are reported as error events
// since the response status is already committed.
func (s *Server) streamTurn(c *echo.Context, convo *models.Conversation, in turnInput) error {
	sw, err := newSSEWriter(c)
	if err != nil {
		return err
	}

	result, title, err := s.runTurn(c.Request().Context(), convo, in, func(ev council.Event) {
		sw.send(ev)
	})
	if err != nil {
		slog.Error("Deliberation failed",
			"conversation_id", in.ConversationID, "error", err)
		sw.send(council.Event{Type: council.EventError, Message: err.Error()})
		return nil
	}

	if title != "" {
		sw.send(titleEvent{Type: council.EventTitleComplete, Title: title})
	}
	sw.send(council.Event{Type: council.EventComplete, Data: result.Stage3})
	return nil
}

// retryHandler handles POST /api/conversations/:id/pending/retry.
func (s *Server) retryHandler(c *echo.Context) error {
	in, convo, httpErr := s.beginRetryTurn(c)
	if httpErr != nil {
		return httpErr
	}

	result, title, err := s.runTurn(c.Request().Context(), convo, in, nil)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, turnResponse(result, title))
}

// retryStreamHandler handles POST /api/conversations/:id/pending/retry/stream.
func (s *Server) retryStreamHandler(c *echo.Context) error {
	in, convo, httpErr := s.beginRetryTurn(c)
	if httpErr != nil {
		return httpErr
	}
	return s.streamTurn(c, convo, in)
}

// beginRetryTurn locates the pending or failed user message a retry
// reruns. No new user message is appended.
func (s *Server) beginRetryTurn(c *echo.Context) (turnInput, *models.Conversation, *echo.HTTPError) {
	id := c.Param("id")
	if id == "" {
		return turnInput{}, nil, echo.NewHTTPError(http.StatusBadRequest, "conversation id is required")
	}

	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return turnInput{}, nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()

	convo, err := s.conversations.Get(ctx, id)
	if err != nil {
		return turnInput{}, nil, mapServiceError(err)
	}

	target, err := s.conversations.RetryTarget(ctx, id)
	if err != nil {
		return turnInput{}, nil, mapServiceError(err)
	}

	return turnInput{
		ConversationID:  id,
		Content:         target.Content,
		Provider:        s.resolveProviderName(req.Provider),
		SkipStages:      req.SkipStages,
		ReplyToResponse: req.ReplyToResponse,
	}, convo, nil
}

// RemovePendingRequest is the body for POST /api/conversations/:id/pending/remove.
type RemovePendingRequest struct {
	KeepLast bool `json:"keep_last"`
}

// removePendingHandler handles POST /api/conversations/:id/pending/remove.
func (s *Server) removePendingHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation id is required")
	}

	var req RemovePendingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	removed, err := s.conversations.RemovePending(c.Request().Context(), id, req.KeepLast)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"removed": removed})
}

// UserMessageStatusRequest is the body for POST /api/conversations/:id/user-message/status.
type UserMessageStatusRequest struct {
	Status string `json:"status"`
}

// userMessageStatusHandler handles POST /api/conversations/:id/user-message/status.
func (s *Server) userMessageStatusHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation id is required")
	}

	var req UserMessageStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := s.conversations.SetLastUserStatus(c.Request().Context(), id, models.UserMessageStatus(req.Status)); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}
