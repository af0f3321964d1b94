package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/conclave-ai/conclave/pkg/models"
)

const (
	// DefaultImmediateKeep is how many recent final answers ride along
	// verbatim as context for a new turn.
	DefaultImmediateKeep = 3
	// DefaultSummaryRetention is how many non-summary assistant
	// messages stay unsummarized before background compaction runs.
	DefaultSummaryRetention = 3

	backgroundSummaryTimeout = 2 * time.Minute
)

// Summarizer compacts earlier final answers into one paragraph and
// reports which model wrote it.
type Summarizer interface {
	Summarize(ctx context.Context, providerName string, finals []string) (text string, model string, err error)
}

// ContextService assembles the prior context for a new turn and keeps
// long conversations compact by summarizing old final answers.
type ContextService struct {
	conversations *ConversationService
	summarizer    Summarizer
	keep          int
	retention     int
}

func NewContextService(conversations *ConversationService, summarizer Summarizer, keep, retention int) *ContextService {
	if keep <= 0 {
		keep = DefaultImmediateKeep
	}
	if retention <= 0 {
		retention = DefaultSummaryRetention
	}
	return &ContextService{
		conversations: conversations,
		summarizer:    summarizer,
		keep:          keep,
		retention:     retention,
	}
}

// finalTexts returns every assistant final answer in order, summaries
// included: a summary stands in for the exchanges it replaced.
func finalTexts(c *models.Conversation) []string {
	var finals []string
	for i := range c.Messages {
		m := &c.Messages[i]
		if m.IsAssistant() && m.FinalText() != "" {
			finals = append(finals, m.FinalText())
		}
	}
	return finals
}

func countCouncilAnswers(c *models.Conversation) int {
	n := 0
	for i := range c.Messages {
		m := &c.Messages[i]
		if m.IsAssistant() && !m.IsSummary() && m.FinalText() != "" {
			n++
		}
	}
	return n
}

// BuildPriorContext flattens conversation history for a new turn. Up
// to keep recent finals ride along verbatim; anything older is
// summarized synchronously first. It returns the flattened context and
// whether a summary was persisted, so the caller can skip the
// background compaction for this turn. A summarizer failure degrades
// to just the recent finals rather than failing the turn.
func (s *ContextService) BuildPriorContext(ctx context.Context, c *models.Conversation, providerName string) (string, bool) {
	finals := finalTexts(c)
	if len(finals) == 0 {
		return "", false
	}
	if len(finals) <= s.keep {
		return strings.Join(finals, "\n\n"), false
	}

	toSummarize := finals[:len(finals)-s.keep]
	remaining := finals[len(finals)-s.keep:]

	summary, chairman, err := s.summarizer.Summarize(ctx, providerName, toSummarize)
	if err != nil {
		slog.Warn("Synchronous context summary failed, dropping older history",
			"conversation_id", c.ID, "error", err)
		return strings.Join(remaining, "\n\n"), false
	}

	if err := s.conversations.AppendSummary(ctx, c.ID, summary, chairman, len(toSummarize)); err != nil {
		slog.Warn("Failed to persist context summary",
			"conversation_id", c.ID, "error", err)
		return strings.Join(remaining, "\n\n"), false
	}

	return summary + "\n\n" + strings.Join(remaining, "\n\n"), true
}

// ScheduleCompaction kicks off background summarization after a
// completed turn. When the turn already summarized synchronously the
// conversation is fresh enough to skip.
func (s *ContextService) ScheduleCompaction(id, providerName string, didSync bool) {
	if didSync {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundSummaryTimeout)
		defer cancel()
		s.compact(ctx, id, providerName)
	}()
}

// compact re-reads the conversation and summarizes the oldest finals
// when more than retention council answers have accumulated. Counting
// happens on fresh state so compaction stays idempotent under
// concurrent turns.
func (s *ContextService) compact(ctx context.Context, id, providerName string) {
	c, err := s.conversations.Get(ctx, id)
	if err != nil {
		slog.Warn("Background compaction could not load conversation",
			"conversation_id", id, "error", err)
		return
	}

	excess := countCouncilAnswers(c) - s.retention
	if excess <= 0 {
		return
	}
	finals := finalTexts(c)
	if excess > len(finals) {
		excess = len(finals)
	}

	summary, chairman, err := s.summarizer.Summarize(ctx, providerName, finals[:excess])
	if err != nil {
		slog.Warn("Background compaction summary failed",
			"conversation_id", id, "error", err)
		return
	}
	if err := s.conversations.AppendSummary(ctx, id, summary, chairman, excess); err != nil {
		slog.Warn("Background compaction could not persist summary",
			"conversation_id", id, "error", err)
	}
}
