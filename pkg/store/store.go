// Package store persists conversation documents. Two backings exist:
// a JSON-file directory for single-user desktop installs and a
// PostgreSQL document table for server deployments.
package store

import (
	"context"
	"errors"

	"github.com/conclave-ai/conclave/pkg/models"
)

// ErrNotFound is returned when a conversation id has no document.
var ErrNotFound = errors.New("conversation not found")

// ConversationStore is the persistence port. Every mutating operation
// is atomic at the whole-document level: concurrent writers to the
// same conversation serialize, and a reader never observes a partial
// update.
type ConversationStore interface {
	// Create writes a new empty conversation under the given id.
	Create(ctx context.Context, id string) (*models.Conversation, error)
	// Get loads a conversation or ErrNotFound.
	Get(ctx context.Context, id string) (*models.Conversation, error)
	// Save overwrites the whole document.
	Save(ctx context.Context, c *models.Conversation) error
	// List returns metadata for every conversation, newest first.
	List(ctx context.Context) ([]models.ConversationMetadata, error)
	// Delete removes a conversation; deleting a missing id is not an
	// error.
	Delete(ctx context.Context, id string) error

	// AddUserMessage appends a pending user message.
	AddUserMessage(ctx context.Context, id, content string) error
	// AddAssistantMessage appends a completed council turn.
	AddAssistantMessage(ctx context.Context, id string, stage1 []models.ModelResponse, stage2 []models.ModelRanking, stage3 models.ChairmanAnswer) error
	// AppendMessage appends an arbitrary message, used for summaries.
	AppendMessage(ctx context.Context, id string, msg models.Message) error
	// SetLastUserStatus updates the most recent user message's status
	// and returns false when the conversation has no user messages.
	SetLastUserStatus(ctx context.Context, id string, status models.UserMessageStatus) (bool, error)
	// LastUserMessage returns the most recent user message or nil.
	LastUserMessage(ctx context.Context, id string) (*models.Message, error)
	// RemovePendingUserMessages deletes user messages whose status is
	// pending or failed, optionally sparing the most recent one so a
	// retry target survives, and returns how many were removed.
	RemovePendingUserMessages(ctx context.Context, id string, keepLast bool) (int, error)
	// UpdateTitle sets the conversation title.
	UpdateTitle(ctx context.Context, id, title string) error
}
