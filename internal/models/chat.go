package models

import "github.com/google/uuid"

// ChatMessage is a single role/content pair sent to the completion gateway.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SendMessageRequest is the payload for posting a message to a conversation.
type SendMessageRequest struct {
	Content string `json:"content"`
	Model   string `json:"model"`
}

// StreamChunk is one SSE frame relayed to the client during a completion.
type StreamChunk struct {
	Content string `json:"content"`
}

// SendMessageResponse is returned in non-streaming mode.
type SendMessageResponse struct {
	UserMessage      *Message `json:"user_message"`
	AssistantMessage *Message `json:"assistant_message"`
}

// ModelInfo describes one model advertised by the gateway.
type ModelInfo struct {
	ID      string `json:"id"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// Job payloads pushed onto the Redis work queues.
type TitleJob struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id"`
}

type SuggestionJob struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id"`
}
