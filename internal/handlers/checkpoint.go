package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"parley-backend/internal/middleware"
	"parley-backend/internal/models"
)

type checkpointRepository interface {
	Create(ctx context.Context, cp *models.Checkpoint) error
	ListByConversation(ctx context.Context, conversationID uuid.UUID) ([]*models.Checkpoint, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Checkpoint, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Restore(ctx context.Context, cp *models.Checkpoint) error
}

type CheckpointHandler struct {
	cpRepo   checkpointRepository
	convRepo conversationRepository
	msgRepo  messageRepository
}

func NewCheckpointHandler(cpRepo checkpointRepository, convRepo conversationRepository, msgRepo messageRepository) *CheckpointHandler {
	return &CheckpointHandler{cpRepo: cpRepo, convRepo: convRepo, msgRepo: msgRepo}
}

// Create snapshots the conversation's current messages as a checkpoint.
func (h *CheckpointHandler) Create(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.loadOwnedConversation(w, r)
	if !ok {
		return
	}

	var req struct {
		Name *string `json:"name"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
			return
		}
	}
	if req.Name != nil {
		trimmed := strings.TrimSpace(*req.Name)
		if trimmed == "" {
			req.Name = nil
		} else {
			req.Name = &trimmed
		}
	}

	messages, err := h.msgRepo.ListByConversation(r.Context(), conv.ID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to load messages", r))
		return
	}
	if len(messages) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Cannot checkpoint an empty conversation", r))
		return
	}

	snapshot := make([]models.CheckpointMessage, 0, len(messages))
	for _, msg := range messages {
		snapshot = append(snapshot, models.CheckpointMessage{
			ID:        msg.ID,
			Role:      msg.Role,
			Content:   msg.Content,
			CreatedAt: msg.CreatedAt,
		})
	}

	cp := &models.Checkpoint{
		ConversationID: conv.ID,
		UserID:         middleware.GetUserID(r.Context()),
		Name:           req.Name,
		Messages:       snapshot,
	}

	if err := h.cpRepo.Create(r.Context(), cp); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to create checkpoint", r))
		return
	}

	// Snapshot content isn't echoed back; List carries metadata only too.
	cp.Messages = nil
	writeJSON(w, http.StatusCreated, cp)
}

func (h *CheckpointHandler) List(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.loadOwnedConversation(w, r)
	if !ok {
		return
	}

	cps, err := h.cpRepo.ListByConversation(r.Context(), conv.ID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to list checkpoints", r))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"checkpoints": cps})
}

// Restore rewinds the conversation to the checkpoint's snapshot. The
// checkpoint itself survives the restore so it can be replayed again.
func (h *CheckpointHandler) Restore(w http.ResponseWriter, r *http.Request) {
	cp, ok := h.loadOwnedCheckpoint(w, r)
	if !ok {
		return
	}

	// The conversation may have been deleted since the checkpoint was taken.
	if _, err := h.convRepo.GetByID(r.Context(), cp.ConversationID); err != nil {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Conversation no longer exists", r))
		return
	}

	if err := h.cpRepo.Restore(r.Context(), cp); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to restore checkpoint", r))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":       "Conversation restored",
		"message_count": cp.MessageCount,
	})
}

func (h *CheckpointHandler) Delete(w http.ResponseWriter, r *http.Request) {
	cp, ok := h.loadOwnedCheckpoint(w, r)
	if !ok {
		return
	}

	if err := h.cpRepo.Delete(r.Context(), cp.ID); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to delete checkpoint", r))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Checkpoint deleted"})
}

func (h *CheckpointHandler) loadOwnedConversation(w http.ResponseWriter, r *http.Request) (*models.Conversation, bool) {
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

	if conv.UserID != middleware.GetUserID(r.Context()) {
		writeJSON(w, http.StatusForbidden, errorResp("FORBIDDEN", "Access denied", r))
		return nil, false
	}

	return conv, true
}

func (h *CheckpointHandler) loadOwnedCheckpoint(w http.ResponseWriter, r *http.Request) (*models.Checkpoint, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "checkpointID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid checkpoint ID", r))
		return nil, false
	}

	cp, err := h.cpRepo.GetByID(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Checkpoint not found", r))
		return nil, false
	}

	if cp.UserID != middleware.GetUserID(r.Context()) {
		writeJSON(w, http.StatusForbidden, errorResp("FORBIDDEN", "Access denied", r))
		return nil, false
	}

	return cp, true
}
