package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"parley-backend/internal/models"
	"parley-backend/internal/repository"
	"parley-backend/internal/services"
)

const (
	titleQueue      = "queue:title-generation"
	suggestionQueue = "queue:suggestion-generation"
)

// Pool runs the background jobs that enrich conversations after each
// exchange: auto-titling and follow-up suggestions. Jobs are plain JSON
// payloads popped off Redis lists.
type Pool struct {
	redis       *redis.Client
	gateway     *services.GatewayService
	convRepo    *repository.ConversationRepo
	msgRepo     *repository.MessageRepo
	workerCount int
	stopChan    chan struct{}
}

func NewPool(
	redisClient *redis.Client,
	gateway *services.GatewayService,
	convRepo *repository.ConversationRepo,
	msgRepo *repository.MessageRepo,
	workerCount int,
) *Pool {
	return &Pool{
		redis:       redisClient,
		gateway:     gateway,
		convRepo:    convRepo,
		msgRepo:     msgRepo,
		workerCount: workerCount,
		stopChan:    make(chan struct{}),
	}
}

func (p *Pool) Start() {
	queues := []string{titleQueue, suggestionQueue}

	for i := 0; i < p.workerCount; i++ {
		go p.worker(i, queues)
	}

	log.Printf("Started %d worker goroutines", p.workerCount)
}

func (p *Pool) Stop() {
	close(p.stopChan)
}

func (p *Pool) worker(id int, queues []string) {
	for {
		select {
		case <-p.stopChan:
			log.Printf("Worker %d shutting down", id)
			return
		default:
		}

		ctx := context.Background()

		// Producers LPUSH, so BRPOP drains oldest-first. 30s timeout keeps
		// the shutdown check responsive.
		result, err := p.redis.BRPop(ctx, 30*time.Second, queues...).Result()
		if err != nil {
			continue // Timeout or error, retry
		}

		if len(result) < 2 {
			continue
		}

		queue, payload := result[0], result[1]

		var processErr error
		switch queue {
		case titleQueue:
			processErr = p.processTitle(ctx, payload)
		case suggestionQueue:
			processErr = p.processSuggestions(ctx, payload)
		default:
			processErr = fmt.Errorf("unknown queue: %s", queue)
		}

		if processErr != nil {
			log.Printf("Worker %d: job from %s failed: %v", id, queue, processErr)
		}
	}
}

// processTitle names a conversation from its opening exchange. Duplicate jobs
// for the same conversation are coalesced with a short-lived lock.
func (p *Pool) processTitle(ctx context.Context, payload string) error {
	var job models.TitleJob
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return fmt.Errorf("failed to parse title job: %w", err)
	}

	lockKey := fmt.Sprintf("job_lock:title:%s", job.ConversationID)
	locked, err := p.redis.SetNX(ctx, lockKey, "1", time.Minute).Result()
	if err != nil || !locked {
		return nil
	}
	defer p.redis.Del(ctx, lockKey)

	conv, err := p.convRepo.GetByID(ctx, job.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}
	// User renamed it while the job was queued; leave their title alone.
	if conv.Title != models.DefaultConversationTitle {
		return nil
	}

	transcript, err := p.loadTranscript(ctx, job.ConversationID)
	if err != nil {
		return err
	}

	title, err := p.gateway.GenerateTitle(ctx, transcript)
	if err != nil {
		return fmt.Errorf("title generation failed: %w", err)
	}

	if err := p.convRepo.SetTitle(ctx, job.ConversationID, title); err != nil {
		return fmt.Errorf("failed to save title: %w", err)
	}

	p.publish(ctx, job.UserID, "conversation.title", map[string]interface{}{
		"conversation_id": job.ConversationID,
		"title":           title,
	})
	return nil
}

func (p *Pool) processSuggestions(ctx context.Context, payload string) error {
	var job models.SuggestionJob
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return fmt.Errorf("failed to parse suggestion job: %w", err)
	}

	lockKey := fmt.Sprintf("job_lock:suggestions:%s", job.ConversationID)
	locked, err := p.redis.SetNX(ctx, lockKey, "1", time.Minute).Result()
	if err != nil || !locked {
		return nil
	}
	defer p.redis.Del(ctx, lockKey)

	transcript, err := p.loadTranscript(ctx, job.ConversationID)
	if err != nil {
		return err
	}

	suggestions, err := p.gateway.GenerateSuggestions(ctx, transcript)
	if err != nil {
		return fmt.Errorf("suggestion generation failed: %w", err)
	}

	if err := p.convRepo.SetSuggestions(ctx, job.ConversationID, suggestions); err != nil {
		return fmt.Errorf("failed to save suggestions: %w", err)
	}

	p.publish(ctx, job.UserID, "conversation.suggestions", map[string]interface{}{
		"conversation_id": job.ConversationID,
		"suggestions":     suggestions,
	})
	return nil
}

func (p *Pool) loadTranscript(ctx context.Context, conversationID uuid.UUID) ([]models.ChatMessage, error) {
	messages, err := p.msgRepo.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("conversation %s has no messages", conversationID)
	}

	transcript := make([]models.ChatMessage, 0, len(messages))
	for _, msg := range messages {
		transcript = append(transcript, models.ChatMessage{Role: msg.Role, Content: msg.Content})
	}
	return transcript, nil
}

func (p *Pool) publish(ctx context.Context, userID uuid.UUID, msgType string, payload interface{}) {
	p.gateway.PublishUpdate(ctx, userID, models.WSMessage{
		Type:    msgType,
		Payload: payload,
	})
}
