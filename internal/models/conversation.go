package models

import (
	"time"

	"github.com/google/uuid"
)

// Message roles accepted on the wire and in storage.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const DefaultConversationTitle = "New Conversation"

type Conversation struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	Title       string    `json:"title"`
	Model       string    `json:"model"`
	Pinned      bool      `json:"pinned"`
	Context     *string   `json:"context"`
	Suggestions []string  `json:"suggestions"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// Checkpoint is an ordered snapshot of a conversation's messages, used for rewind.
type Checkpoint struct {
	ID             uuid.UUID           `json:"id"`
	ConversationID uuid.UUID           `json:"conversation_id"`
	UserID         uuid.UUID           `json:"user_id"`
	Name           *string             `json:"name"`
	Messages       []CheckpointMessage `json:"messages,omitempty"`
	MessageCount   int                 `json:"message_count"`
	CreatedAt      time.Time           `json:"created_at"`
}

// CheckpointMessage preserves the original message identity so a restore
// reproduces the exact pre-checkpoint timeline.
type CheckpointMessage struct {
	ID        uuid.UUID `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateConversationRequest struct {
	Title   string  `json:"title"`
	Model   string  `json:"model"`
	Context *string `json:"context"`
}

type UpdateConversationRequest struct {
	Title   *string `json:"title"`
	Model   *string `json:"model"`
	Context *string `json:"context"`
}
