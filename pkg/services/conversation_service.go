package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/conclave-ai/conclave/pkg/models"
	"github.com/conclave-ai/conclave/pkg/store"
)

// ConversationService owns conversation lifecycle and turn state. It
// serializes turn finalization per conversation so an assistant
// message and its user status flip land as one document write.
type ConversationService struct {
	store store.ConversationStore

	mu        sync.Mutex
	turnLocks map[string]*sync.Mutex
}

func NewConversationService(s store.ConversationStore) *ConversationService {
	return &ConversationService{
		store:     s,
		turnLocks: make(map[string]*sync.Mutex),
	}
}

func (s *ConversationService) lockTurn(id string) func() {
	s.mu.Lock()
	l, ok := s.turnLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.turnLocks[id] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func mapStoreErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// Create starts a new empty conversation with a generated id.
func (s *ConversationService) Create(ctx context.Context) (*models.Conversation, error) {
	return s.store.Create(ctx, uuid.NewString())
}

func (s *ConversationService) Get(ctx context.Context, id string) (*models.Conversation, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return c, nil
}

func (s *ConversationService) List(ctx context.Context) ([]models.ConversationMetadata, error) {
	return s.store.List(ctx)
}

func (s *ConversationService) Delete(ctx context.Context, id string) error {
	return mapStoreErr(s.store.Delete(ctx, id))
}

// BeginTurn validates and appends the pending user message that opens
// a turn.
func (s *ConversationService) BeginTurn(ctx context.Context, id, content string) error {
	if strings.TrimSpace(content) == "" {
		return NewValidationError("content", "must not be empty")
	}
	return mapStoreErr(s.store.AddUserMessage(ctx, id, content))
}

// CompleteTurn finalizes a successful run: the assistant message is
// appended and the opening user message flips to complete in a single
// document write, so no observer sees one without the other.
func (s *ConversationService) CompleteTurn(ctx context.Context, id string, stage1 []models.ModelResponse, stage2 []models.ModelRanking, stage3 models.ChairmanAnswer) error {
	unlock := s.lockTurn(id)
	defer unlock()

	c, err := s.store.Get(ctx, id)
	if err != nil {
		return mapStoreErr(err)
	}
	c.Messages = append(c.Messages, models.NewAssistantMessage(stage1, stage2, stage3))
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].IsUser() {
			c.Messages[i].Status = models.UserStatusComplete
			c.Messages[i].StatusUpdatedAt = models.Now()
			break
		}
	}
	return mapStoreErr(s.store.Save(ctx, c))
}

// FailTurn marks the opening user message failed so the UI can offer
// a retry. No assistant message is written.
func (s *ConversationService) FailTurn(ctx context.Context, id string) error {
	unlock := s.lockTurn(id)
	defer unlock()

	_, err := s.store.SetLastUserStatus(ctx, id, models.UserStatusFailed)
	return mapStoreErr(err)
}

// RetryTarget returns the user message a retry would rerun: the most
// recent one, provided it is pending or failed.
func (s *ConversationService) RetryTarget(ctx context.Context, id string) (*models.Message, error) {
	last, err := s.store.LastUserMessage(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if last == nil {
		return nil, ErrNoRetryTarget
	}
	if last.Status != models.UserStatusPending && last.Status != models.UserStatusFailed {
		return nil, ErrNoRetryTarget
	}
	return last, nil
}

// SetLastUserStatus services the explicit status endpoint.
func (s *ConversationService) SetLastUserStatus(ctx context.Context, id string, status models.UserMessageStatus) error {
	switch status {
	case models.UserStatusPending, models.UserStatusComplete, models.UserStatusFailed:
	default:
		return NewValidationError("status", fmt.Sprintf("unknown status %q", status))
	}
	found, err := s.store.SetLastUserStatus(ctx, id, status)
	if err != nil {
		return mapStoreErr(err)
	}
	if !found {
		return NewValidationError("status", "conversation has no user messages")
	}
	return nil
}

// RemovePending clears stale pending and failed user messages,
// optionally keeping the newest as a retry target.
func (s *ConversationService) RemovePending(ctx context.Context, id string, keepLast bool) (int, error) {
	removed, err := s.store.RemovePendingUserMessages(ctx, id, keepLast)
	return removed, mapStoreErr(err)
}

func (s *ConversationService) UpdateTitle(ctx context.Context, id, title string) error {
	return mapStoreErr(s.store.UpdateTitle(ctx, id, title))
}

// AppendSummary writes a compaction summary as an assistant message
// with empty stages and summary metadata, leaving the summarized
// messages in place.
func (s *ConversationService) AppendSummary(ctx context.Context, id, text, chairman string, summarized int) error {
	unlock := s.lockTurn(id)
	defer unlock()

	msg := models.Message{
		Role:   models.RoleAssistant,
		Stage1: []models.ModelResponse{},
		Stage2: []models.ModelRanking{},
		Stage3: &models.ChairmanAnswer{
			Model:    chairman,
			Response: text,
			Metadata: &models.SummaryMetadata{
				SummarizedCount:    summarized,
				ChairmanModel:      chairman,
				SummaryGeneratedAt: models.Now(),
			},
		},
	}
	return mapStoreErr(s.store.AppendMessage(ctx, id, msg))
}
