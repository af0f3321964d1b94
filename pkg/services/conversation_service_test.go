package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conclave-ai/conclave/pkg/models"
	"github.com/conclave-ai/conclave/pkg/store"
)

func newTestConversationService(t *testing.T) *ConversationService {
	t.Helper()
	fileStore, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return NewConversationService(fileStore)
}

func TestConversationLifecycle(t *testing.T) {
	svc := newTestConversationService(t)
	ctx := context.Background()

	c, err := svc.Create(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, "New Conversation", c.Title)

	got, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	metas, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, metas, 1)

	require.NoError(t, svc.Delete(ctx, c.ID))
	_, err = svc.Get(ctx, c.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBeginTurnValidation(t *testing.T) {
	svc := newTestConversationService(t)
	ctx := context.Background()

	c, err := svc.Create(ctx)
	require.NoError(t, err)

	err = svc.BeginTurn(ctx, c.ID, "   ")
	assert.True(t, IsValidationError(err))

	err = svc.BeginTurn(ctx, "missing", "hello")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, svc.BeginTurn(ctx, c.ID, "hello"))
	got, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, models.UserStatusPending, got.Messages[0].Status)
}

func TestCompleteTurnIsAtomic(t *testing.T) {
	svc := newTestConversationService(t)
	ctx := context.Background()

	c, err := svc.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.BeginTurn(ctx, c.ID, "question"))

	require.NoError(t, svc.CompleteTurn(ctx, c.ID,
		[]models.ModelResponse{{Model: "m", Response: "r"}},
		nil,
		models.ChairmanAnswer{Model: "chair", Response: "answer"},
	))

	got, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, models.UserStatusComplete, got.Messages[0].Status)
	assert.Equal(t, "answer", got.Messages[1].FinalText())
	assert.Equal(t, 2, got.MessageCount())
}

func TestFailTurn(t *testing.T) {
	svc := newTestConversationService(t)
	ctx := context.Background()

	c, err := svc.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.BeginTurn(ctx, c.ID, "question"))
	require.NoError(t, svc.FailTurn(ctx, c.ID))

	got, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, models.UserStatusFailed, got.Messages[0].Status)
	assert.Equal(t, 0, got.MessageCount())
}

func TestRetryTarget(t *testing.T) {
	svc := newTestConversationService(t)
	ctx := context.Background()

	c, err := svc.Create(ctx)
	require.NoError(t, err)

	// Empty conversation has nothing to retry.
	_, err = svc.RetryTarget(ctx, c.ID)
	assert.ErrorIs(t, err, ErrNoRetryTarget)

	require.NoError(t, svc.BeginTurn(ctx, c.ID, "question"))
	target, err := svc.RetryTarget(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "question", target.Content)

	require.NoError(t, svc.FailTurn(ctx, c.ID))
	target, err = svc.RetryTarget(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "question", target.Content)

	// A completed turn is no longer retryable.
	require.NoError(t, svc.CompleteTurn(ctx, c.ID, nil, nil,
		models.ChairmanAnswer{Model: "chair", Response: "a"}))
	_, err = svc.RetryTarget(ctx, c.ID)
	assert.ErrorIs(t, err, ErrNoRetryTarget)
}

func TestSetLastUserStatusValidation(t *testing.T) {
	svc := newTestConversationService(t)
	ctx := context.Background()

	c, err := svc.Create(ctx)
	require.NoError(t, err)

	err = svc.SetLastUserStatus(ctx, c.ID, "bogus")
	assert.True(t, IsValidationError(err))

	err = svc.SetLastUserStatus(ctx, c.ID, models.UserStatusComplete)
	assert.True(t, IsValidationError(err), "no user messages yet")

	require.NoError(t, svc.BeginTurn(ctx, c.ID, "q"))
	require.NoError(t, svc.SetLastUserStatus(ctx, c.ID, models.UserStatusComplete))
}

func TestAppendSummary(t *testing.T) {
	svc := newTestConversationService(t)
	ctx := context.Background()

	c, err := svc.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.AppendSummary(ctx, c.ID, "the recap", "chair", 4))

	got, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	msg := got.Messages[0]
	assert.True(t, msg.IsSummary())
	assert.Equal(t, "the recap", msg.FinalText())
	assert.Equal(t, 4, msg.Stage3.Metadata.SummarizedCount)
	assert.Equal(t, "chair", msg.Stage3.Metadata.ChairmanModel)
	assert.NotEmpty(t, msg.Stage3.Metadata.SummaryGeneratedAt)
	// Summaries never count as exchanges.
	assert.Equal(t, 0, got.MessageCount())
}

func TestRemovePendingKeepsRetryTarget(t *testing.T) {
	svc := newTestConversationService(t)
	ctx := context.Background()

	c, err := svc.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.BeginTurn(ctx, c.ID, "first"))
	require.NoError(t, svc.BeginTurn(ctx, c.ID, "second"))

	removed, err := svc.RemovePending(ctx, c.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	target, err := svc.RetryTarget(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "second", target.Content)
}
