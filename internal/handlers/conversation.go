package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"parley-backend/internal/middleware"
	"parley-backend/internal/models"
	"parley-backend/internal/services"
)

// Extracted context is capped so a pasted book doesn't blow up every prompt.
const maxContextBytes = 32 * 1024

const maxUploadBytes = 10 << 20 // 10 MiB

type conversationRepository interface {
	Create(ctx context.Context, conv *models.Conversation) error
	ListByUser(ctx context.Context, userID uuid.UUID, search string, limit, offset int) ([]*models.Conversation, int, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	Update(ctx context.Context, conv *models.Conversation) error
	TogglePin(ctx context.Context, id, userID uuid.UUID) error
	Touch(ctx context.Context, id uuid.UUID) error
	SetContext(ctx context.Context, id uuid.UUID, text string) error
	SetSuggestions(ctx context.Context, id uuid.UUID, suggestions []string) error
	ClearSuggestions(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type messageRepository interface {
	Create(ctx context.Context, msg *models.Message) error
	ListByConversation(ctx context.Context, conversationID uuid.UUID) ([]*models.Message, error)
	CountByConversation(ctx context.Context, conversationID uuid.UUID) (int, error)
}

type ConversationHandler struct {
	convRepo    conversationRepository
	msgRepo     messageRepository
	settings    *services.SettingsService
	fileExtract *services.FileExtractService
	youtube     *services.YouTubeService
	storagePath string
}

func NewConversationHandler(
	convRepo conversationRepository,
	msgRepo messageRepository,
	settings *services.SettingsService,
	fileExtract *services.FileExtractService,
	youtube *services.YouTubeService,
	storagePath string,
) *ConversationHandler {
	return &ConversationHandler{
		convRepo:    convRepo,
		msgRepo:     msgRepo,
		settings:    settings,
		fileExtract: fileExtract,
		youtube:     youtube,
		storagePath: storagePath,
	}
}

func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	search := r.URL.Query().Get("search")
	limit := parseIntParam(r, "limit", 50)
	offset := parseIntParam(r, "offset", 0)

	convs, total, err := h.convRepo.ListByUser(r.Context(), userID, search, limit, offset)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to list conversations", r))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": convs,
		"total":         total,
	})
}

func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req models.CreateConversationRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
			return
		}
	}

	model := req.Model
	if model == "" {
		// Fall back to the user's preferred model
		if settings, err := h.settings.Load(r.Context(), userID); err == nil {
			model = settings.DefaultModel
		}
	}

	conv := &models.Conversation{
		UserID:  userID,
		Title:   strings.TrimSpace(req.Title),
		Model:   model,
		Context: req.Context,
	}

	if err := h.convRepo.Create(r.Context(), conv); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to create conversation", r))
		return
	}

	writeJSON(w, http.StatusCreated, conv)
}

func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	messages, err := h.msgRepo.ListByConversation(r.Context(), conv.ID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to load messages", r))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversation": conv,
		"messages":     messages,
	})
}

func (h *ConversationHandler) Update(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	var req models.UpdateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Title cannot be empty", r))
			return
		}
		conv.Title = title
	}
	if req.Model != nil {
		conv.Model = *req.Model
	}
	if req.Context != nil {
		text := truncateContext(*req.Context)
		conv.Context = &text
	}

	if err := h.convRepo.Update(r.Context(), conv); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to update conversation", r))
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

func (h *ConversationHandler) TogglePin(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	userID := middleware.GetUserID(r.Context())
	if err := h.convRepo.TogglePin(r.Context(), conv.ID, userID); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to toggle pin", r))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Pin toggled"})
}

func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	if err := h.convRepo.Delete(r.Context(), conv.ID); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to delete conversation", r))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Conversation deleted"})
}

// GetSuggestions returns whatever follow-ups are cached on the conversation
// row. It never calls the gateway; the worker refreshes the cache.
func (h *ConversationHandler) GetSuggestions(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"suggestions": conv.Suggestions,
	})
}

// SetContext attaches background context to a conversation from an uploaded
// document, a YouTube link, or raw text.
func (h *ConversationHandler) SetContext(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	contentType := r.Header.Get("Content-Type")

	var text string
	var err error
	if strings.HasPrefix(contentType, "multipart/form-data") {
		text, err = h.extractFromUpload(r)
	} else {
		text, err = h.extractFromJSON(r)
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", err.Error(), r))
		return
	}

	text = truncateContext(text)
	if err := h.convRepo.SetContext(r.Context(), conv.ID, text); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to save context", r))
		return
	}

	// Cached follow-ups were generated against the old context.
	h.convRepo.ClearSuggestions(r.Context(), conv.ID)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":       "Context attached",
		"context_bytes": len(text),
	})
}

func (h *ConversationHandler) extractFromUpload(r *http.Request) (string, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return "", fmt.Errorf("file exceeds the %d MB upload limit", maxUploadBytes>>20)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return "", fmt.Errorf("file field is required")
	}
	defer file.Close()

	// Persist to the storage path so the extractors can work from disk
	if err := os.MkdirAll(h.storagePath, 0o755); err != nil {
		return "", fmt.Errorf("storage unavailable")
	}
	dst := filepath.Join(h.storagePath, uuid.NewString()+filepath.Ext(header.Filename))
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("storage unavailable")
	}
	_, copyErr := io.Copy(out, io.LimitReader(file, maxUploadBytes))
	out.Close()
	defer os.Remove(dst)
	if copyErr != nil {
		return "", fmt.Errorf("failed to store upload")
	}

	return h.fileExtract.ExtractTextFromPath(dst)
}

func (h *ConversationHandler) extractFromJSON(r *http.Request) (string, error) {
	var req struct {
		Text       string `json:"text"`
		YouTubeURL string `json:"youtube_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", fmt.Errorf("invalid request body")
	}

	switch {
	case req.YouTubeURL != "":
		videoID, err := services.ExtractVideoID(req.YouTubeURL)
		if err != nil {
			return "", err
		}
		transcript, err := h.youtube.GetTranscript(videoID)
		if err != nil {
			return "", err
		}
		if title, err := h.youtube.GetVideoTitle(videoID); err == nil && title != "" {
			transcript = "Video: " + title + "\n\n" + transcript
		}
		return transcript, nil
	case strings.TrimSpace(req.Text) != "":
		return req.Text, nil
	default:
		return "", fmt.Errorf("provide either text, youtube_url, or a file upload")
	}
}

// loadOwned parses the {id} route param, loads the conversation and enforces
// ownership, writing the error response itself on failure.
func (h *ConversationHandler) loadOwned(w http.ResponseWriter, r *http.Request) (*models.Conversation, bool) {
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

func truncateContext(text string) string {
	if len(text) <= maxContextBytes {
		return text
	}
	// Back up to a rune boundary so the cut never leaves invalid UTF-8
	cut := maxContextBytes
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
