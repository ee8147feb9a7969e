package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"parley-backend/internal/models"
	"parley-backend/internal/services"
)

type stubGateway struct {
	reply       string
	completeErr error

	requestedModel string
}

func (s *stubGateway) Complete(ctx context.Context, model string, temperature float64, messages []models.ChatMessage) (string, error) {
	s.requestedModel = model
	return s.reply, s.completeErr
}

func (s *stubGateway) StreamComplete(ctx context.Context, model string, temperature float64, messages []models.ChatMessage, onChunk func(content string) error) (string, error) {
	s.requestedModel = model
	if s.completeErr != nil {
		return "", s.completeErr
	}
	var full strings.Builder
	for _, piece := range strings.SplitAfter(s.reply, " ") {
		if piece == "" {
			continue
		}
		full.WriteString(piece)
		if err := onChunk(piece); err != nil {
			return full.String(), err
		}
	}
	return full.String(), nil
}

type stubSettingsStore struct {
	settings *models.UserSettings
}

func (s *stubSettingsStore) GetSettings(ctx context.Context, userID uuid.UUID) (*models.UserSettings, error) {
	if s.settings == nil {
		return nil, pgx.ErrNoRows
	}
	return s.settings, nil
}

func (s *stubSettingsStore) UpdateSettings(ctx context.Context, settings *models.UserSettings) error {
	s.settings = settings
	return nil
}

func newChatHandlerForTest(convRepo *stubConversationRepo, msgRepo *stubMessageRepo, gateway *stubGateway, store *stubSettingsStore) *ChatHandler {
	return &ChatHandler{
		convRepo: convRepo,
		msgRepo:  msgRepo,
		gateway:  gateway,
		settings: services.NewSettingsService(store, "gpt-4o-mini"),
	}
}

func TestChatHandler_SendMessage_RejectsEmptyContent(t *testing.T) {
	userID := uuid.New()
	convID := uuid.New()
	convRepo := &stubConversationRepo{conv: &models.Conversation{ID: convID, UserID: userID}}
	msgRepo := &stubMessageRepo{}
	h := newChatHandlerForTest(convRepo, msgRepo, &stubGateway{}, &stubSettingsStore{})

	req := requestWithOwner(http.MethodPost, "/api/v1/conversations/"+convID.String()+"/messages", `{"content":"   "}`, userID, convID)
	rr := httptest.NewRecorder()
	h.SendMessage(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
	if len(msgRepo.createdMessages) != 0 {
		t.Fatalf("no message should be persisted for empty content")
	}
}

func TestChatHandler_SendMessage_ForbiddenForOtherUser(t *testing.T) {
	convID := uuid.New()
	convRepo := &stubConversationRepo{conv: &models.Conversation{ID: convID, UserID: uuid.New()}}
	h := newChatHandlerForTest(convRepo, &stubMessageRepo{}, &stubGateway{}, &stubSettingsStore{})

	req := requestWithOwner(http.MethodPost, "/api/v1/conversations/"+convID.String()+"/messages", `{"content":"hi"}`, uuid.New(), convID)
	rr := httptest.NewRecorder()
	h.SendMessage(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status %d, got %d", http.StatusForbidden, rr.Code)
	}
}

func TestChatHandler_SendMessage_NonStreaming(t *testing.T) {
	userID := uuid.New()
	convID := uuid.New()
	convRepo := &stubConversationRepo{conv: &models.Conversation{ID: convID, UserID: userID, Title: models.DefaultConversationTitle}}
	msgRepo := &stubMessageRepo{}
	gateway := &stubGateway{reply: "Hello there!"}
	h := newChatHandlerForTest(convRepo, msgRepo, gateway, &stubSettingsStore{})

	req := requestWithOwner(http.MethodPost, "/api/v1/conversations/"+convID.String()+"/messages?stream=false", `{"content":"hi"}`, userID, convID)
	rr := httptest.NewRecorder()
	h.SendMessage(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if len(msgRepo.createdMessages) != 2 {
		t.Fatalf("expected user and assistant messages persisted, got %d", len(msgRepo.createdMessages))
	}
	if msgRepo.createdMessages[0].Role != models.RoleUser {
		t.Fatalf("expected first persisted message to be the user's, got %q", msgRepo.createdMessages[0].Role)
	}
	if msgRepo.createdMessages[1].Role != models.RoleAssistant || msgRepo.createdMessages[1].Content != "Hello there!" {
		t.Fatalf("unexpected assistant message: %+v", msgRepo.createdMessages[1])
	}
}

func TestChatHandler_SendMessage_ModelPrecedence(t *testing.T) {
	userID := uuid.New()
	convID := uuid.New()

	cases := []struct {
		name      string
		body      string
		convModel string
		expected  string
	}{
		{"request override wins", `{"content":"hi","model":"gpt-4o"}`, "claude-sonnet", "gpt-4o"},
		{"conversation model next", `{"content":"hi"}`, "claude-sonnet", "claude-sonnet"},
		{"settings default last", `{"content":"hi"}`, "", "gpt-4o-mini"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			convRepo := &stubConversationRepo{conv: &models.Conversation{ID: convID, UserID: userID, Model: tc.convModel, Title: "Named"}}
			gateway := &stubGateway{reply: "ok"}
			h := newChatHandlerForTest(convRepo, &stubMessageRepo{}, gateway, &stubSettingsStore{})

			req := requestWithOwner(http.MethodPost, "/api/v1/conversations/"+convID.String()+"/messages?stream=false", tc.body, userID, convID)
			rr := httptest.NewRecorder()
			h.SendMessage(rr, req)

			if rr.Code != http.StatusOK {
				t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
			}
			if gateway.requestedModel != tc.expected {
				t.Fatalf("expected model %q, got %q", tc.expected, gateway.requestedModel)
			}
		})
	}
}

func TestChatHandler_SendMessage_StreamingEmitsChunksAndDone(t *testing.T) {
	userID := uuid.New()
	convID := uuid.New()
	convRepo := &stubConversationRepo{conv: &models.Conversation{ID: convID, UserID: userID, Title: "Named"}}
	msgRepo := &stubMessageRepo{}
	gateway := &stubGateway{reply: "streamed reply text"}
	h := newChatHandlerForTest(convRepo, msgRepo, gateway, &stubSettingsStore{})

	req := requestWithOwner(http.MethodPost, "/api/v1/conversations/"+convID.String()+"/messages", `{"content":"hi"}`, userID, convID)
	rr := httptest.NewRecorder()
	h.SendMessage(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected SSE content type, got %q", ct)
	}

	body := rr.Body.String()
	if !strings.Contains(body, `data: {"content":`) {
		t.Fatalf("expected content chunks in SSE body, got %q", body)
	}
	if !strings.Contains(body, "data: [DONE]") {
		t.Fatalf("expected [DONE] marker in SSE body, got %q", body)
	}

	if len(msgRepo.createdMessages) != 2 {
		t.Fatalf("expected user and assistant messages persisted, got %d", len(msgRepo.createdMessages))
	}
	if msgRepo.createdMessages[1].Content != "streamed reply text" {
		t.Fatalf("expected full reply persisted, got %q", msgRepo.createdMessages[1].Content)
	}
}

func TestChatHandler_SendMessage_StreamingPersistsPartialOnAbort(t *testing.T) {
	userID := uuid.New()
	convID := uuid.New()
	convRepo := &stubConversationRepo{conv: &models.Conversation{ID: convID, UserID: userID, Title: "Named"}}
	msgRepo := &stubMessageRepo{}
	gateway := &partialStreamGateway{pieces: []string{"partial ", "reply"}, failAfter: 1}
	h := &ChatHandler{
		convRepo: convRepo,
		msgRepo:  msgRepo,
		gateway:  gateway,
		settings: services.NewSettingsService(&stubSettingsStore{}, "gpt-4o-mini"),
	}

	req := requestWithOwner(http.MethodPost, "/api/v1/conversations/"+convID.String()+"/messages", `{"content":"hi"}`, userID, convID)
	rr := httptest.NewRecorder()
	h.SendMessage(rr, req)

	if len(msgRepo.createdMessages) != 2 {
		t.Fatalf("expected partial assistant reply persisted, got %d messages", len(msgRepo.createdMessages))
	}
	if msgRepo.createdMessages[1].Content != "partial " {
		t.Fatalf("expected partial content persisted, got %q", msgRepo.createdMessages[1].Content)
	}
}

func TestChatHandler_SendMessage_GatewayFailure(t *testing.T) {
	userID := uuid.New()
	convID := uuid.New()
	convRepo := &stubConversationRepo{conv: &models.Conversation{ID: convID, UserID: userID, Title: "Named"}}
	gateway := &stubGateway{completeErr: &services.GatewayError{Message: "upstream down"}}
	h := newChatHandlerForTest(convRepo, &stubMessageRepo{}, gateway, &stubSettingsStore{})

	req := requestWithOwner(http.MethodPost, "/api/v1/conversations/"+convID.String()+"/messages?stream=false", `{"content":"hi"}`, userID, convID)
	rr := httptest.NewRecorder()
	h.SendMessage(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected status %d, got %d", http.StatusBadGateway, rr.Code)
	}
}

func TestChatHandler_SendMessage_StreamingGatewayFailure(t *testing.T) {
	userID := uuid.New()
	convID := uuid.New()
	convRepo := &stubConversationRepo{conv: &models.Conversation{ID: convID, UserID: userID, Title: "Named"}}
	msgRepo := &stubMessageRepo{}
	gateway := &stubGateway{completeErr: &services.GatewayError{Message: "upstream down"}}
	h := newChatHandlerForTest(convRepo, msgRepo, gateway, &stubSettingsStore{})

	req := requestWithOwner(http.MethodPost, "/api/v1/conversations/"+convID.String()+"/messages", `{"content":"hi"}`, userID, convID)
	rr := httptest.NewRecorder()
	h.SendMessage(rr, req)

	// Nothing streamed yet, so the failure surfaces as a real error status
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected status %d, got %d", http.StatusBadGateway, rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct == "text/event-stream" {
		t.Fatalf("expected JSON error response, got SSE")
	}
	if strings.Contains(rr.Body.String(), "data:") {
		t.Fatalf("expected no SSE frames in error response, got %q", rr.Body.String())
	}

	// The user's message was still appended and the conversation touched
	if len(msgRepo.createdMessages) != 1 {
		t.Fatalf("expected user message persisted, got %d", len(msgRepo.createdMessages))
	}
	if !convRepo.touched {
		t.Fatalf("expected conversation updated_at bumped on append")
	}
}

// partialStreamGateway fails mid-stream after emitting failAfter chunks.
type partialStreamGateway struct {
	pieces    []string
	failAfter int
}

func (s *partialStreamGateway) Complete(ctx context.Context, model string, temperature float64, messages []models.ChatMessage) (string, error) {
	return "", errors.New("not used")
}

func (s *partialStreamGateway) StreamComplete(ctx context.Context, model string, temperature float64, messages []models.ChatMessage, onChunk func(content string) error) (string, error) {
	var full strings.Builder
	for i, piece := range s.pieces {
		if i >= s.failAfter {
			return full.String(), &services.GatewayError{Message: "stream interrupted"}
		}
		full.WriteString(piece)
		if err := onChunk(piece); err != nil {
			return full.String(), err
		}
	}
	return full.String(), nil
}
