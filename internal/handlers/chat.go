package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"parley-backend/internal/middleware"
	"parley-backend/internal/models"
	"parley-backend/internal/services"
)

type completionGateway interface {
	Complete(ctx context.Context, model string, temperature float64, messages []models.ChatMessage) (string, error)
	StreamComplete(ctx context.Context, model string, temperature float64, messages []models.ChatMessage, onChunk func(content string) error) (string, error)
}

type ChatHandler struct {
	convRepo conversationRepository
	msgRepo  messageRepository
	gateway  completionGateway
	settings *services.SettingsService
	redis    *redis.Client
}

func NewChatHandler(
	convRepo conversationRepository,
	msgRepo messageRepository,
	gateway completionGateway,
	settings *services.SettingsService,
	redisClient *redis.Client,
) *ChatHandler {
	return &ChatHandler{
		convRepo: convRepo,
		msgRepo:  msgRepo,
		gateway:  gateway,
		settings: settings,
		redis:    redisClient,
	}
}

// SendMessage appends a user message to the conversation and relays the
// gateway's reply. Streaming (SSE) is the default; ?stream=false returns the
// full exchange as JSON instead.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	var req models.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Message content is required", r))
		return
	}

	userID := middleware.GetUserID(r.Context())
	userSettings, err := h.settings.Load(r.Context(), userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to load settings", r))
		return
	}

	history, err := h.msgRepo.ListByConversation(r.Context(), conv.ID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to load messages", r))
		return
	}

	userMsg := &models.Message{
		ConversationID: conv.ID,
		Role:           models.RoleUser,
		Content:        req.Content,
	}
	if err := h.msgRepo.Create(r.Context(), userMsg); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to save message", r))
		return
	}
	// The append bumps updated_at even if the gateway call below fails
	if err := h.convRepo.Touch(r.Context(), conv.ID); err != nil {
		log.Printf("Failed to touch conversation %s: %v", conv.ID, err)
	}

	prompt := buildPrompt(conv, history, userMsg)

	// Precedence: request override, then conversation model, then user default
	model := req.Model
	if model == "" {
		model = conv.Model
	}
	if model == "" {
		model = userSettings.DefaultModel
	}

	if r.URL.Query().Get("stream") == "false" {
		h.completeBlocking(w, r, conv, userMsg, model, userSettings.Temperature, prompt)
		return
	}
	h.completeStreaming(w, r, conv, model, userSettings.Temperature, prompt)
}

func (h *ChatHandler) completeBlocking(w http.ResponseWriter, r *http.Request, conv *models.Conversation, userMsg *models.Message, model string, temperature float64, prompt []models.ChatMessage) {
	reply, err := h.gateway.Complete(r.Context(), model, temperature, prompt)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	assistantMsg, err := h.persistReply(conv, reply)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to save reply", r))
		return
	}

	h.enqueueFollowupJobs(conv, middleware.GetUserID(r.Context()))

	writeJSON(w, http.StatusOK, models.SendMessageResponse{
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
	})
}

func (h *ChatHandler) completeStreaming(w http.ResponseWriter, r *http.Request, conv *models.Conversation, model string, temperature float64, prompt []models.ChatMessage) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Streaming unsupported", r))
		return
	}

	// The SSE preamble commits a 200, so it is deferred until the first chunk
	// arrives; a gateway failure before that still gets a proper error status.
	headersSent := false
	sendPreamble := func() {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		headersSent = true
	}

	reply, streamErr := h.gateway.StreamComplete(r.Context(), model, temperature, prompt, func(content string) error {
		raw, err := json.Marshal(models.StreamChunk{Content: content})
		if err != nil {
			return err
		}
		if !headersSent {
			sendPreamble()
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", raw); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})

	// Persist whatever arrived, even when the client walked away mid-stream.
	if reply != "" {
		if _, err := h.persistReply(conv, reply); err != nil {
			log.Printf("Failed to persist assistant reply for conversation %s: %v", conv.ID, err)
		}
		h.enqueueFollowupJobs(conv, middleware.GetUserID(r.Context()))
	}

	if streamErr != nil {
		if !headersSent {
			handleServiceError(w, r, streamErr)
			return
		}
		if r.Context().Err() == nil {
			raw, _ := json.Marshal(map[string]string{"error": streamErr.Error()})
			fmt.Fprintf(w, "data: %s\n\n", raw)
			flusher.Flush()
		}
		return
	}

	if !headersSent {
		sendPreamble()
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// persistReply writes the assistant message with a fresh context: the request
// context may already be canceled by a client abort.
func (h *ChatHandler) persistReply(conv *models.Conversation, reply string) (*models.Message, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg := &models.Message{
		ConversationID: conv.ID,
		Role:           models.RoleAssistant,
		Content:        reply,
	}
	if err := h.msgRepo.Create(ctx, msg); err != nil {
		return nil, err
	}
	if err := h.convRepo.Touch(ctx, conv.ID); err != nil {
		return nil, err
	}
	return msg, nil
}

func (h *ChatHandler) enqueueFollowupJobs(conv *models.Conversation, userID uuid.UUID) {
	if h.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Auto-title once the first exchange exists and the user hasn't renamed
	if conv.Title == models.DefaultConversationTitle {
		if raw, err := json.Marshal(models.TitleJob{ConversationID: conv.ID, UserID: userID}); err == nil {
			h.redis.LPush(ctx, "queue:title-generation", raw)
		}
	}

	if raw, err := json.Marshal(models.SuggestionJob{ConversationID: conv.ID, UserID: userID}); err == nil {
		h.redis.LPush(ctx, "queue:suggestion-generation", raw)
	}
}

// loadOwned mirrors ConversationHandler.loadOwned for the chat routes.
func (h *ChatHandler) loadOwned(w http.ResponseWriter, r *http.Request) (*models.Conversation, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid conversation ID", r))
		return nil, false
	}

	conv, err := h.convRepo.GetByID(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Conversation not found", r))
		return nil, false
	}

	userID := middleware.GetUserID(r.Context())
	if conv.UserID != userID {
		writeJSON(w, http.StatusForbidden, errorResp("FORBIDDEN", "Access denied", r))
		return nil, false
	}

	return conv, true
}

// buildPrompt assembles the gateway message list: optional context preamble,
// prior history, then the new user message.
func buildPrompt(conv *models.Conversation, history []*models.Message, userMsg *models.Message) []models.ChatMessage {
	prompt := make([]models.ChatMessage, 0, len(history)+2)

	if conv.Context != nil && strings.TrimSpace(*conv.Context) != "" {
		prompt = append(prompt, models.ChatMessage{
			Role:    models.RoleSystem,
			Content: "Use the following background context when answering:\n\n" + *conv.Context,
		})
	}

	for _, msg := range history {
		prompt = append(prompt, models.ChatMessage{Role: msg.Role, Content: msg.Content})
	}

	prompt = append(prompt, models.ChatMessage{Role: userMsg.Role, Content: userMsg.Content})
	return prompt
}
