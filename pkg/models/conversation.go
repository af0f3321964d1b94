// Package models defines the persisted conversation document and the
// per-stage payloads produced by a council run.
package models

import "time"

// UserMessageStatus tracks the lifecycle of a user turn.
// A user message starts pending and becomes complete when the matching
// assistant message has been written, or failed when the run errored.
type UserMessageStatus string

const (
	UserStatusPending  UserMessageStatus = "pending"
	UserStatusComplete UserMessageStatus = "complete"
	UserStatusFailed   UserMessageStatus = "failed"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ModelResponse is one council member's answer from stage 1.
type ModelResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
}

// ModelRanking is one rater's stage-2 output: the raw ranking text it
// produced plus the parsed ordered labels (best first).
type ModelRanking struct {
	Model         string   `json:"model"`
	Ranking       string   `json:"ranking"`
	ParsedRanking []string `json:"parsed_ranking"`
}

// ChairmanAnswer is the stage-3 synthesis. Metadata is only set on
// summary messages written by context compaction.
type ChairmanAnswer struct {
	Model    string           `json:"model"`
	Response string           `json:"response"`
	Metadata *SummaryMetadata `json:"metadata,omitempty"`
}

// SummaryMetadata marks an assistant message as a compaction summary.
type SummaryMetadata struct {
	SummarizedCount    int    `json:"summarized_count"`
	ChairmanModel      string `json:"chairman_model"`
	SummaryGeneratedAt string `json:"summary_generated_at"`
}

// Message is a single conversation entry. User and assistant messages
// share the struct; role decides which fields are meaningful.
type Message struct {
	Role string `json:"role"`

	// User message fields.
	Content         string            `json:"content,omitempty"`
	Status          UserMessageStatus `json:"status,omitempty"`
	CreatedAt       string            `json:"created_at,omitempty"`
	StatusUpdatedAt string            `json:"status_updated_at,omitempty"`

	// Assistant message fields.
	Stage1 []ModelResponse `json:"stage1,omitempty"`
	Stage2 []ModelRanking  `json:"stage2,omitempty"`
	Stage3 *ChairmanAnswer `json:"stage3,omitempty"`
}

func (m *Message) IsUser() bool      { return m.Role == RoleUser }
func (m *Message) IsAssistant() bool { return m.Role == RoleAssistant }

// IsSummary reports whether this assistant message was written by
// context compaction rather than a council run.
func (m *Message) IsSummary() bool {
	return m.IsAssistant() && m.Stage3 != nil && m.Stage3.Metadata != nil
}

// FinalText returns the chairman text of an assistant message, or ""
// for user messages and assistant messages without a synthesis.
func (m *Message) FinalText() string {
	if m.Stage3 == nil {
		return ""
	}
	return m.Stage3.Response
}

// Conversation is the persisted document: metadata plus the ordered
// message list.
type Conversation struct {
	ID        string    `json:"id"`
	CreatedAt string    `json:"created_at"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
}

// ConversationMetadata is the list-view projection of a conversation.
type ConversationMetadata struct {
	ID           string `json:"id"`
	CreatedAt    string `json:"created_at"`
	Title        string `json:"title"`
	MessageCount int    `json:"message_count"`
}

// MessageCount counts the messages that contributed to a completed
// exchange: user messages whose status is complete (or absent, for
// records written before statuses existed) and non-summary assistant
// messages with a non-empty synthesis.
func (c *Conversation) MessageCount() int {
	n := 0
	for i := range c.Messages {
		m := &c.Messages[i]
		switch {
		case m.IsUser():
			if m.Status == "" || m.Status == UserStatusComplete {
				n++
			}
		case m.IsAssistant():
			if !m.IsSummary() && m.FinalText() != "" {
				n++
			}
		}
	}
	return n
}

// Metadata returns the list-view projection.
func (c *Conversation) Metadata() ConversationMetadata {
	return ConversationMetadata{
		ID:           c.ID,
		CreatedAt:    c.CreatedAt,
		Title:        c.Title,
		MessageCount: c.MessageCount(),
	}
}

// Now formats the current UTC time the way conversation timestamps are
// stored.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// NewConversation returns an empty conversation with the default title.
func NewConversation(id string) *Conversation {
	return &Conversation{
		ID:        id,
		CreatedAt: Now(),
		Title:     "New Conversation",
		Messages:  []Message{},
	}
}

// NewUserMessage returns a pending user message for the given content.
func NewUserMessage(content string) Message {
	now := Now()
	return Message{
		Role:            RoleUser,
		Content:         content,
		Status:          UserStatusPending,
		CreatedAt:       now,
		StatusUpdatedAt: now,
	}
}

// NewAssistantMessage returns an assistant message holding the three
// stage payloads of a completed council run.
func NewAssistantMessage(stage1 []ModelResponse, stage2 []ModelRanking, stage3 ChairmanAnswer) Message {
	if stage1 == nil {
		stage1 = []ModelResponse{}
	}
	if stage2 == nil {
		stage2 = []ModelRanking{}
	}
	return Message{
		Role:   RoleAssistant,
		Stage1: stage1,
		Stage2: stage2,
		Stage3: &stage3,
	}
}
