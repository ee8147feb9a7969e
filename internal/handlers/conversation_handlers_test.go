package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"parley-backend/internal/middleware"
	"parley-backend/internal/models"
)

type stubConversationRepo struct {
	conv      *models.Conversation
	convs     []*models.Conversation
	createErr error
	updateErr error
	deleteErr error

	createdConv        bool
	updatedConv        bool
	deletedConv        bool
	toggledPin         bool
	touched            bool
	setContext         string
	clearedSuggestions bool
}

func (s *stubConversationRepo) Create(ctx context.Context, conv *models.Conversation) error {
	s.createdConv = true
	if s.createErr != nil {
		return s.createErr
	}
	conv.ID = uuid.New()
	if conv.Title == "" {
		conv.Title = models.DefaultConversationTitle
	}
	return nil
}

func (s *stubConversationRepo) ListByUser(ctx context.Context, userID uuid.UUID, search string, limit, offset int) ([]*models.Conversation, int, error) {
	return s.convs, len(s.convs), nil
}

func (s *stubConversationRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	if s.conv == nil {
		return nil, errors.New("conversation not found")
	}
	return s.conv, nil
}

func (s *stubConversationRepo) Update(ctx context.Context, conv *models.Conversation) error {
	s.updatedConv = true
	return s.updateErr
}

func (s *stubConversationRepo) TogglePin(ctx context.Context, id, userID uuid.UUID) error {
	s.toggledPin = true
	return nil
}

func (s *stubConversationRepo) Touch(ctx context.Context, id uuid.UUID) error {
	s.touched = true
	return nil
}

func (s *stubConversationRepo) SetContext(ctx context.Context, id uuid.UUID, text string) error {
	s.setContext = text
	return nil
}

func (s *stubConversationRepo) SetSuggestions(ctx context.Context, id uuid.UUID, suggestions []string) error {
	return nil
}

func (s *stubConversationRepo) ClearSuggestions(ctx context.Context, id uuid.UUID) error {
	s.clearedSuggestions = true
	return nil
}

func (s *stubConversationRepo) Delete(ctx context.Context, id uuid.UUID) error {
	s.deletedConv = true
	return s.deleteErr
}

type stubMessageRepo struct {
	messages  []*models.Message
	createErr error

	createdMessages []*models.Message
}

func (s *stubMessageRepo) Create(ctx context.Context, msg *models.Message) error {
	if s.createErr != nil {
		return s.createErr
	}
	msg.ID = uuid.New()
	s.createdMessages = append(s.createdMessages, msg)
	return nil
}

func (s *stubMessageRepo) ListByConversation(ctx context.Context, conversationID uuid.UUID) ([]*models.Message, error) {
	return s.messages, nil
}

func (s *stubMessageRepo) CountByConversation(ctx context.Context, conversationID uuid.UUID) (int, error) {
	return len(s.messages), nil
}

func requestWithOwner(method, target, body string, userID uuid.UUID, convID uuid.UUID) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey, userID))

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", convID.String())
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestConversationHandler_Get_NotFound(t *testing.T) {
	userID := uuid.New()
	h := &ConversationHandler{convRepo: &stubConversationRepo{}, msgRepo: &stubMessageRepo{}}

	req := requestWithOwner(http.MethodGet, "/api/v1/conversations/"+uuid.NewString(), "", userID, uuid.New())
	rr := httptest.NewRecorder()
	h.Get(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, rr.Code)
	}
}

func TestConversationHandler_Get_ForbiddenForOtherUser(t *testing.T) {
	ownerID := uuid.New()
	convID := uuid.New()
	repo := &stubConversationRepo{conv: &models.Conversation{ID: convID, UserID: ownerID}}
	h := &ConversationHandler{convRepo: repo, msgRepo: &stubMessageRepo{}}

	req := requestWithOwner(http.MethodGet, "/api/v1/conversations/"+convID.String(), "", uuid.New(), convID)
	rr := httptest.NewRecorder()
	h.Get(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status %d, got %d", http.StatusForbidden, rr.Code)
	}
}

func TestConversationHandler_Get_InvalidID(t *testing.T) {
	userID := uuid.New()
	h := &ConversationHandler{convRepo: &stubConversationRepo{}, msgRepo: &stubMessageRepo{}}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations/not-a-uuid", nil)
	req = req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey, userID))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "not-a-uuid")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	rr := httptest.NewRecorder()
	h.Get(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
}

func TestConversationHandler_Update_RejectsEmptyTitle(t *testing.T) {
	userID := uuid.New()
	convID := uuid.New()
	repo := &stubConversationRepo{conv: &models.Conversation{ID: convID, UserID: userID, Title: "Original"}}
	h := &ConversationHandler{convRepo: repo, msgRepo: &stubMessageRepo{}}

	req := requestWithOwner(http.MethodPatch, "/api/v1/conversations/"+convID.String(), `{"title":"   "}`, userID, convID)
	rr := httptest.NewRecorder()
	h.Update(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
	if repo.updatedConv {
		t.Fatalf("conversation should not be updated for empty title")
	}
}

func TestConversationHandler_Update_PartialFields(t *testing.T) {
	userID := uuid.New()
	convID := uuid.New()
	repo := &stubConversationRepo{conv: &models.Conversation{ID: convID, UserID: userID, Title: "Original", Model: "gpt-4o-mini"}}
	h := &ConversationHandler{convRepo: repo, msgRepo: &stubMessageRepo{}}

	req := requestWithOwner(http.MethodPatch, "/api/v1/conversations/"+convID.String(), `{"model":"gpt-4o"}`, userID, convID)
	rr := httptest.NewRecorder()
	h.Update(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if !repo.updatedConv {
		t.Fatalf("expected conversation update to be attempted")
	}
	if repo.conv.Title != "Original" {
		t.Fatalf("title should be untouched, got %q", repo.conv.Title)
	}
	if repo.conv.Model != "gpt-4o" {
		t.Fatalf("expected model to change, got %q", repo.conv.Model)
	}
}

func TestConversationHandler_TogglePin_OwnerOnly(t *testing.T) {
	ownerID := uuid.New()
	convID := uuid.New()
	repo := &stubConversationRepo{conv: &models.Conversation{ID: convID, UserID: ownerID}}
	h := &ConversationHandler{convRepo: repo, msgRepo: &stubMessageRepo{}}

	req := requestWithOwner(http.MethodPut, "/api/v1/conversations/"+convID.String()+"/pin", "", uuid.New(), convID)
	rr := httptest.NewRecorder()
	h.TogglePin(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status %d, got %d", http.StatusForbidden, rr.Code)
	}
	if repo.toggledPin {
		t.Fatalf("pin should not be toggled for a non-owner")
	}
}

func TestConversationHandler_SetContext_RawText(t *testing.T) {
	userID := uuid.New()
	convID := uuid.New()
	repo := &stubConversationRepo{conv: &models.Conversation{ID: convID, UserID: userID}}
	h := &ConversationHandler{convRepo: repo, msgRepo: &stubMessageRepo{}}

	req := requestWithOwner(http.MethodPut, "/api/v1/conversations/"+convID.String()+"/context", `{"text":"some background notes"}`, userID, convID)
	rr := httptest.NewRecorder()
	h.SetContext(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if repo.setContext != "some background notes" {
		t.Fatalf("expected context to be saved, got %q", repo.setContext)
	}
	if !repo.clearedSuggestions {
		t.Fatalf("expected cached suggestions to be invalidated")
	}
}

func TestConversationHandler_SetContext_TruncatesOversized(t *testing.T) {
	userID := uuid.New()
	convID := uuid.New()
	repo := &stubConversationRepo{conv: &models.Conversation{ID: convID, UserID: userID}}
	h := &ConversationHandler{convRepo: repo, msgRepo: &stubMessageRepo{}}

	big := strings.Repeat("x", maxContextBytes+500)
	body, _ := json.Marshal(map[string]string{"text": big})
	req := requestWithOwner(http.MethodPut, "/api/v1/conversations/"+convID.String()+"/context", string(body), userID, convID)
	rr := httptest.NewRecorder()
	h.SetContext(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if len(repo.setContext) != maxContextBytes {
		t.Fatalf("expected context truncated to %d bytes, got %d", maxContextBytes, len(repo.setContext))
	}
}

func TestTruncateContext_KeepsRuneBoundary(t *testing.T) {
	// Two-byte runes never line up with the byte cap, so a naive byte slice
	// would split one in half.
	text := strings.Repeat("é", maxContextBytes)
	got := truncateContext(text)

	if len(got) > maxContextBytes {
		t.Fatalf("expected at most %d bytes, got %d", maxContextBytes, len(got))
	}
	if !utf8.ValidString(got) {
		t.Fatalf("truncated context is not valid UTF-8")
	}
}

func TestConversationHandler_SetContext_RejectsEmptyPayload(t *testing.T) {
	userID := uuid.New()
	convID := uuid.New()
	repo := &stubConversationRepo{conv: &models.Conversation{ID: convID, UserID: userID}}
	h := &ConversationHandler{convRepo: repo, msgRepo: &stubMessageRepo{}}

	req := requestWithOwner(http.MethodPut, "/api/v1/conversations/"+convID.String()+"/context", `{}`, userID, convID)
	rr := httptest.NewRecorder()
	h.SetContext(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
}

func TestConversationHandler_Delete_RepoFailure(t *testing.T) {
	userID := uuid.New()
	convID := uuid.New()
	repo := &stubConversationRepo{
		conv:      &models.Conversation{ID: convID, UserID: userID},
		deleteErr: errors.New("db unavailable"),
	}
	h := &ConversationHandler{convRepo: repo, msgRepo: &stubMessageRepo{}}

	req := requestWithOwner(http.MethodDelete, "/api/v1/conversations/"+convID.String(), "", userID, convID)
	rr := httptest.NewRecorder()
	h.Delete(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, rr.Code)
	}
	if !repo.deletedConv {
		t.Fatalf("expected delete to be attempted")
	}
}

func TestConversationHandler_GetSuggestions_ReturnsCached(t *testing.T) {
	userID := uuid.New()
	convID := uuid.New()
	repo := &stubConversationRepo{conv: &models.Conversation{
		ID:          convID,
		UserID:      userID,
		Suggestions: []string{"What about X?", "Tell me more"},
	}}
	h := &ConversationHandler{convRepo: repo, msgRepo: &stubMessageRepo{}}

	req := requestWithOwner(http.MethodGet, "/api/v1/conversations/"+convID.String()+"/suggestions", "", userID, convID)
	rr := httptest.NewRecorder()
	h.GetSuggestions(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	var resp struct {
		Suggestions []string `json:"suggestions"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Suggestions) != 2 {
		t.Fatalf("expected 2 suggestions, got %d", len(resp.Suggestions))
	}
}
