package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"parley-backend/internal/models"
)

type CheckpointRepo struct {
	pool *pgxpool.Pool
}

func NewCheckpointRepo(pool *pgxpool.Pool) *CheckpointRepo {
	return &CheckpointRepo{pool: pool}
}

func (r *CheckpointRepo) Create(ctx context.Context, cp *models.Checkpoint) error {
	raw, err := json.Marshal(cp.Messages)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint snapshot: %w", err)
	}

	cp.ID = uuid.New()
	cp.MessageCount = len(cp.Messages)

	return r.pool.QueryRow(ctx, `
		INSERT INTO checkpoints (id, conversation_id, user_id, name, messages_json, message_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		cp.ID, cp.ConversationID, cp.UserID, cp.Name, raw, cp.MessageCount,
	).Scan(&cp.CreatedAt)
}

// ListByConversation returns checkpoint metadata only; snapshots are loaded on restore.
func (r *CheckpointRepo) ListByConversation(ctx context.Context, conversationID uuid.UUID) ([]*models.Checkpoint, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, conversation_id, user_id, name, message_count, created_at
		FROM checkpoints WHERE conversation_id = $1
		ORDER BY created_at DESC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cps := make([]*models.Checkpoint, 0)
	for rows.Next() {
		cp := &models.Checkpoint{}
		if err := rows.Scan(&cp.ID, &cp.ConversationID, &cp.UserID, &cp.Name, &cp.MessageCount, &cp.CreatedAt); err != nil {
			return nil, err
		}
		cps = append(cps, cp)
	}
	return cps, rows.Err()
}

func (r *CheckpointRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Checkpoint, error) {
	cp := &models.Checkpoint{}
	var raw []byte
	err := r.pool.QueryRow(ctx, `
		SELECT id, conversation_id, user_id, name, messages_json, message_count, created_at
		FROM checkpoints WHERE id = $1`, id,
	).Scan(&cp.ID, &cp.ConversationID, &cp.UserID, &cp.Name, &raw, &cp.MessageCount, &cp.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &cp.Messages); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint snapshot: %w", err)
	}
	return cp, nil
}

func (r *CheckpointRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, "DELETE FROM checkpoints WHERE id = $1", id)
	return err
}

// Restore rewinds a conversation to the checkpoint's snapshot. The current
// messages are replaced atomically and the original ids and timestamps are
// kept so ordering is reproduced exactly.
func (r *CheckpointRepo) Restore(ctx context.Context, cp *models.Checkpoint) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin restore transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM messages WHERE conversation_id = $1", cp.ConversationID); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}

	for _, msg := range cp.Messages {
		if _, err := tx.Exec(ctx, `
			INSERT INTO messages (id, conversation_id, role, content, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			msg.ID, cp.ConversationID, msg.Role, msg.Content, msg.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to restore message: %w", err)
		}
	}

	// Cached follow-ups no longer match the rewound thread.
	if _, err := tx.Exec(ctx, `
		UPDATE conversations SET suggestions_json = '[]'::jsonb, updated_at = NOW()
		WHERE id = $1`, cp.ConversationID,
	); err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}

	return tx.Commit(ctx)
}
