package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"parley-backend/internal/models"
)

const modelCacheKey = "gateway:models"
const modelCacheTTL = 5 * time.Minute

// GatewayService is a client for an OpenAI-compatible completion gateway.
// All inference goes through /v1/chat/completions; the model list comes from
// /v1/models and is cached in Redis.
type GatewayService struct {
	baseURL      string
	apiKey       string
	defaultModel string
	httpClient   *http.Client
	redis        *redis.Client
	rateChan     chan struct{} // Token bucket
}

func NewGatewayService(baseURL, apiKey, defaultModel string, concurrentReqs, timeoutSecs int, redisClient *redis.Client) *GatewayService {
	// Token bucket for capping concurrent gateway calls
	rateChan := make(chan struct{}, concurrentReqs)
	for i := 0; i < concurrentReqs; i++ {
		rateChan <- struct{}{}
	}

	return &GatewayService{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		defaultModel: defaultModel,
		httpClient:   &http.Client{Timeout: time.Duration(timeoutSecs) * time.Second},
		redis:        redisClient,
		rateChan:     rateChan,
	}
}

func (s *GatewayService) DefaultModel() string {
	return s.defaultModel
}

// acquireRate blocks until a rate slot is available
func (s *GatewayService) acquireRate(ctx context.Context) error {
	select {
	case <-s.rateChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Minute):
		return &GatewayError{Message: "timeout waiting for gateway rate slot"}
	}
}

func (s *GatewayService) releaseRate() {
	s.rateChan <- struct{}{}
}

// PublishUpdate sends a WebSocket update via Redis pub/sub
func (s *GatewayService) PublishUpdate(ctx context.Context, userID uuid.UUID, msg models.WSMessage) {
	data, _ := json.Marshal(msg)
	s.redis.Publish(ctx, fmt.Sprintf("events:%s", userID.String()), string(data))
}

type chatCompletionRequest struct {
	Model       string               `json:"model"`
	Messages    []models.ChatMessage `json:"messages"`
	Temperature float64              `json:"temperature"`
	Stream      bool                 `json:"stream,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message models.ChatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Complete performs a blocking (non-streaming) chat completion.
func (s *GatewayService) Complete(ctx context.Context, model string, temperature float64, messages []models.ChatMessage) (string, error) {
	if err := s.acquireRate(ctx); err != nil {
		return "", err
	}
	defer s.releaseRate()

	resp, err := s.post(ctx, chatCompletionRequest{
		Model:       s.resolveModel(model),
		Messages:    messages,
		Temperature: temperature,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", s.readError(resp)
	}

	var parsed chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", &GatewayError{Message: fmt.Sprintf("invalid gateway response: %v", err)}
	}
	if len(parsed.Choices) == 0 {
		return "", &GatewayError{Message: "gateway returned no choices"}
	}
	return parsed.Choices[0].Message.Content, nil
}

// StreamComplete performs a streaming chat completion, invoking onChunk for
// every content delta. It returns the accumulated reply. If the stream is cut
// short (client abort, network drop) the partial reply is returned along with
// the error so the caller can still persist what arrived.
func (s *GatewayService) StreamComplete(ctx context.Context, model string, temperature float64, messages []models.ChatMessage, onChunk func(content string) error) (string, error) {
	if err := s.acquireRate(ctx); err != nil {
		return "", err
	}
	defer s.releaseRate()

	resp, err := s.post(ctx, chatCompletionRequest{
		Model:       s.resolveModel(model),
		Messages:    messages,
		Temperature: temperature,
		Stream:      true,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", s.readError(resp)
	}

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var chunk chatCompletionChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		content := chunk.Choices[0].Delta.Content
		if content == "" {
			continue
		}

		full.WriteString(content)
		if onChunk != nil {
			if err := onChunk(content); err != nil {
				return full.String(), err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return full.String(), &GatewayError{Message: fmt.Sprintf("gateway stream interrupted: %v", err)}
	}

	return full.String(), nil
}

// ListModels fetches the gateway's model list, cached in Redis.
func (s *GatewayService) ListModels(ctx context.Context) ([]models.ModelInfo, error) {
	if s.redis != nil {
		if cached, err := s.redis.Get(ctx, modelCacheKey).Result(); err == nil {
			var list []models.ModelInfo
			if json.Unmarshal([]byte(cached), &list) == nil {
				return list, nil
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/v1/models", nil)
	if err != nil {
		return nil, err
	}
	s.setHeaders(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &GatewayError{Message: fmt.Sprintf("failed to reach gateway: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.readError(resp)
	}

	var parsed struct {
		Data []models.ModelInfo `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &GatewayError{Message: fmt.Sprintf("invalid gateway response: %v", err)}
	}

	if s.redis != nil {
		if raw, err := json.Marshal(parsed.Data); err == nil {
			s.redis.Set(ctx, modelCacheKey, raw, modelCacheTTL)
		}
	}
	return parsed.Data, nil
}

// GenerateTitle asks the gateway for a short conversation title based on the
// first exchange.
func (s *GatewayService) GenerateTitle(ctx context.Context, messages []models.ChatMessage) (string, error) {
	prompt := buildTitlePrompt(messages)
	reply, err := s.Complete(ctx, "", 0.3, []models.ChatMessage{
		{Role: models.RoleUser, Content: prompt},
	})
	if err != nil {
		return "", err
	}

	title := strings.Trim(strings.TrimSpace(reply), `"'`)
	title = strings.ReplaceAll(title, "\n", " ")
	if title == "" {
		return "", &GatewayError{Message: "gateway returned an empty title"}
	}
	return clipRunes(title, 80), nil
}

// GenerateSuggestions asks the gateway for exactly three follow-up questions
// the user might send next.
func (s *GatewayService) GenerateSuggestions(ctx context.Context, messages []models.ChatMessage) ([]string, error) {
	prompt := buildSuggestionPrompt(messages)
	reply, err := s.Complete(ctx, "", 0.7, []models.ChatMessage{
		{Role: models.RoleUser, Content: prompt},
	})
	if err != nil {
		return nil, err
	}

	suggestions := parseSuggestionArray(reply)
	if len(suggestions) == 0 {
		return nil, &GatewayError{Message: "gateway returned no usable suggestions"}
	}
	if len(suggestions) > 3 {
		suggestions = suggestions[:3]
	}
	return suggestions, nil
}

func (s *GatewayService) resolveModel(model string) string {
	if model == "" {
		return s.defaultModel
	}
	return model
}

func (s *GatewayService) post(ctx context.Context, body chatCompletionRequest) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	s.setHeaders(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &GatewayError{Message: fmt.Sprintf("failed to reach gateway: %v", err)}
	}
	return resp, nil
}

func (s *GatewayService) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
}

func (s *GatewayService) readError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var parsed chatCompletionResponse
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != nil && parsed.Error.Message != "" {
		return &GatewayError{Message: parsed.Error.Message}
	}
	return &GatewayError{Message: fmt.Sprintf("gateway returned status %d", resp.StatusCode)}
}

func buildTitlePrompt(messages []models.ChatMessage) string {
	var b strings.Builder
	b.WriteString("Generate a short title (6 words or fewer) for the conversation below. ")
	b.WriteString("Return only the title, with no quotes and no trailing punctuation.\n\n")
	writeTranscript(&b, messages, 4)
	return b.String()
}

func buildSuggestionPrompt(messages []models.ChatMessage) string {
	var b strings.Builder
	b.WriteString("Suggest exactly 3 short follow-up questions the user might ask next in the conversation below.\n")
	b.WriteString("CRITICAL: Return ONLY a valid JSON array of 3 strings. No preamble, no markdown, no backticks.\n\n")
	writeTranscript(&b, messages, 8)
	return b.String()
}

// writeTranscript appends the last few turns of the conversation.
func writeTranscript(b *strings.Builder, messages []models.ChatMessage, maxTurns int) {
	start := 0
	if len(messages) > maxTurns {
		start = len(messages) - maxTurns
	}
	b.WriteString("---CONVERSATION---\n")
	for _, msg := range messages[start:] {
		fmt.Fprintf(b, "%s: %s\n", msg.Role, clipRunes(msg.Content, 2000))
	}
	b.WriteString("---END---\n")
}

// clipRunes truncates s to at most max bytes without splitting a rune.
func clipRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// parseSuggestionArray pulls a JSON string array out of a model reply,
// tolerating stray prose around the brackets.
func parseSuggestionArray(raw string) []string {
	var suggestions []string
	if err := json.Unmarshal([]byte(raw), &suggestions); err != nil {
		start := strings.Index(raw, "[")
		end := strings.LastIndex(raw, "]")
		if start >= 0 && end > start {
			json.Unmarshal([]byte(raw[start:end+1]), &suggestions)
		}
	}

	valid := suggestions[:0]
	for _, s := range suggestions {
		s = strings.TrimSpace(s)
		if s != "" {
			valid = append(valid, s)
		}
	}
	return valid
}
