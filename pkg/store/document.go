package store

import "github.com/conclave-ai/conclave/pkg/models"

// Document mutation helpers shared by the file and Postgres backends.
// Each operates on an in-memory conversation inside the backend's
// read-modify-write cycle.

func setLastUserStatus(c *models.Conversation, status models.UserMessageStatus) bool {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].IsUser() {
			c.Messages[i].Status = status
			c.Messages[i].StatusUpdatedAt = models.Now()
			return true
		}
	}
	return false
}

func lastUserMessage(c *models.Conversation) *models.Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].IsUser() {
			msg := c.Messages[i]
			return &msg
		}
	}
	return nil
}

func removePendingUserMessages(c *models.Conversation, keepLast bool) int {
	var removable []int
	for i, m := range c.Messages {
		if m.IsUser() && (m.Status == models.UserStatusPending || m.Status == models.UserStatusFailed) {
			removable = append(removable, i)
		}
	}
	if len(removable) == 0 {
		return 0
	}
	if keepLast {
		removable = removable[:len(removable)-1]
	}
	for i := len(removable) - 1; i >= 0; i-- {
		idx := removable[i]
		c.Messages = append(c.Messages[:idx], c.Messages[idx+1:]...)
	}
	return len(removable)
}
