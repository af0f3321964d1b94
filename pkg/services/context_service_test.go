package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conclave-ai/conclave/pkg/models"
)

type stubSummarizer struct {
	mu    sync.Mutex
	calls [][]string
	text  string
	err   error
}

func (s *stubSummarizer) Summarize(ctx context.Context, providerName string, finals []string) (string, string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, append([]string(nil), finals...))
	s.mu.Unlock()
	if s.err != nil {
		return "", "", s.err
	}
	return s.text, "chair", nil
}

func (s *stubSummarizer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func seedConversation(t *testing.T, svc *ConversationService, answers int) *models.Conversation {
	t.Helper()
	ctx := context.Background()
	c, err := svc.Create(ctx)
	require.NoError(t, err)
	for i := 0; i < answers; i++ {
		require.NoError(t, svc.BeginTurn(ctx, c.ID, fmt.Sprintf("q%d", i+1)))
		require.NoError(t, svc.CompleteTurn(ctx, c.ID, nil, nil,
			models.ChairmanAnswer{Model: "m", Response: fmt.Sprintf("answer-%d", i+1)}))
	}
	got, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)
	return got
}

func TestBuildPriorContextEmpty(t *testing.T) {
	convs := newTestConversationService(t)
	summarizer := &stubSummarizer{text: "recap"}
	ctxSvc := NewContextService(convs, summarizer, 3, 3)

	c := seedConversation(t, convs, 0)
	prior, didSync := ctxSvc.BuildPriorContext(context.Background(), c, "")
	assert.Empty(t, prior)
	assert.False(t, didSync)
	assert.Zero(t, summarizer.callCount())
}

func TestBuildPriorContextWithinKeep(t *testing.T) {
	convs := newTestConversationService(t)
	summarizer := &stubSummarizer{text: "recap"}
	ctxSvc := NewContextService(convs, summarizer, 3, 3)

	c := seedConversation(t, convs, 2)
	prior, didSync := ctxSvc.BuildPriorContext(context.Background(), c, "")
	assert.Equal(t, "answer-1\n\nanswer-2", prior)
	assert.False(t, didSync)
	assert.Zero(t, summarizer.callCount())
}

func TestBuildPriorContextSummarizesOverflow(t *testing.T) {
	convs := newTestConversationService(t)
	summarizer := &stubSummarizer{text: "recap of old answers"}
	ctxSvc := NewContextService(convs, summarizer, 3, 3)

	c := seedConversation(t, convs, 5)
	prior, didSync := ctxSvc.BuildPriorContext(context.Background(), c, "")
	assert.True(t, didSync)
	assert.Equal(t, "recap of old answers\n\nanswer-3\n\nanswer-4\n\nanswer-5", prior)

	require.Equal(t, 1, summarizer.callCount())
	assert.Equal(t, []string{"answer-1", "answer-2"}, summarizer.calls[0])

	// The summary landed as a persisted assistant message.
	got, err := convs.Get(context.Background(), c.ID)
	require.NoError(t, err)
	last := got.Messages[len(got.Messages)-1]
	assert.True(t, last.IsSummary())
	assert.Equal(t, 2, last.Stage3.Metadata.SummarizedCount)
}

func TestBuildPriorContextSummarizerFailureDegrades(t *testing.T) {
	convs := newTestConversationService(t)
	summarizer := &stubSummarizer{err: errors.New("model down")}
	ctxSvc := NewContextService(convs, summarizer, 3, 3)

	c := seedConversation(t, convs, 5)
	prior, didSync := ctxSvc.BuildPriorContext(context.Background(), c, "")
	assert.False(t, didSync)
	// Only the recent finals survive; the unsummarized tail is dropped.
	assert.Equal(t, "answer-3\n\nanswer-4\n\nanswer-5", prior)
}

func TestScheduleCompaction(t *testing.T) {
	convs := newTestConversationService(t)
	summarizer := &stubSummarizer{text: "background recap"}
	ctxSvc := NewContextService(convs, summarizer, 3, 3)

	c := seedConversation(t, convs, 5)
	ctxSvc.ScheduleCompaction(c.ID, "", false)

	require.Eventually(t, func() bool {
		got, err := convs.Get(context.Background(), c.ID)
		if err != nil {
			return false
		}
		last := got.Messages[len(got.Messages)-1]
		return last.IsSummary()
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, 1, summarizer.callCount())
	// Five answers minus a retention of three leaves two to compact.
	assert.Equal(t, []string{"answer-1", "answer-2"}, summarizer.calls[0])
}

func TestScheduleCompactionSkipsAfterSyncSummary(t *testing.T) {
	convs := newTestConversationService(t)
	summarizer := &stubSummarizer{text: "recap"}
	ctxSvc := NewContextService(convs, summarizer, 3, 3)

	c := seedConversation(t, convs, 5)
	ctxSvc.ScheduleCompaction(c.ID, "", true)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, summarizer.callCount())
}

func TestScheduleCompactionUnderRetention(t *testing.T) {
	convs := newTestConversationService(t)
	summarizer := &stubSummarizer{text: "recap"}
	ctxSvc := NewContextService(convs, summarizer, 3, 3)

	c := seedConversation(t, convs, 3)
	ctxSvc.ScheduleCompaction(c.ID, "", false)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, summarizer.callCount())
}
