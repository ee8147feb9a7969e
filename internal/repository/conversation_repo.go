package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"parley-backend/internal/models"
)

type ConversationRepo struct {
	pool *pgxpool.Pool
}

func NewConversationRepo(pool *pgxpool.Pool) *ConversationRepo {
	return &ConversationRepo{pool: pool}
}

func (r *ConversationRepo) Create(ctx context.Context, conv *models.Conversation) error {
	if conv.Title == "" {
		conv.Title = models.DefaultConversationTitle
	}
	conv.ID = uuid.New()
	if conv.Suggestions == nil {
		conv.Suggestions = []string{}
	}

	return r.pool.QueryRow(ctx, `
		INSERT INTO conversations (id, user_id, title, model, context)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		conv.ID, conv.UserID, conv.Title, conv.Model, conv.Context,
	).Scan(&conv.CreatedAt, &conv.UpdatedAt)
}

// ListByUser returns pinned conversations first, then most recently updated.
func (r *ConversationRepo) ListByUser(ctx context.Context, userID uuid.UUID, search string, limit, offset int) ([]*models.Conversation, int, error) {
	where := "WHERE user_id = $1"
	args := []interface{}{userID}
	if search != "" {
		where += " AND title ILIKE $2"
		args = append(args, "%"+strings.TrimSpace(search)+"%")
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM conversations "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT id, user_id, title, model, pinned, context, suggestions_json, created_at, updated_at
		FROM conversations ` + where + `
		ORDER BY pinned DESC, updated_at DESC`
	if limit > 0 {
		args = append(args, limit, offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	convs := make([]*models.Conversation, 0)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, 0, err
		}
		convs = append(convs, conv)
	}
	return convs, total, rows.Err()
}

func (r *ConversationRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, title, model, pinned, context, suggestions_json, created_at, updated_at
		FROM conversations WHERE id = $1`, id)
	return scanConversation(row)
}

func (r *ConversationRepo) Update(ctx context.Context, conv *models.Conversation) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE conversations SET title = $1, model = $2, context = $3, updated_at = NOW()
		WHERE id = $4`,
		conv.Title, conv.Model, conv.Context, conv.ID,
	)
	return err
}

func (r *ConversationRepo) TogglePin(ctx context.Context, id, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE conversations SET pinned = NOT pinned, updated_at = NOW()
		WHERE id = $1 AND user_id = $2`, id, userID)
	return err
}

// Touch bumps updated_at so the conversation surfaces at the top of the list.
func (r *ConversationRepo) Touch(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, "UPDATE conversations SET updated_at = NOW() WHERE id = $1", id)
	return err
}

func (r *ConversationRepo) SetTitle(ctx context.Context, id uuid.UUID, title string) error {
	_, err := r.pool.Exec(ctx, "UPDATE conversations SET title = $1 WHERE id = $2", title, id)
	return err
}

func (r *ConversationRepo) SetContext(ctx context.Context, id uuid.UUID, text string) error {
	_, err := r.pool.Exec(ctx, "UPDATE conversations SET context = $1, updated_at = NOW() WHERE id = $2", text, id)
	return err
}

func (r *ConversationRepo) SetSuggestions(ctx context.Context, id uuid.UUID, suggestions []string) error {
	raw, err := json.Marshal(suggestions)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, "UPDATE conversations SET suggestions_json = $1 WHERE id = $2", raw, id)
	return err
}

func (r *ConversationRepo) ClearSuggestions(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, "UPDATE conversations SET suggestions_json = '[]'::jsonb WHERE id = $1", id)
	return err
}

func (r *ConversationRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, "DELETE FROM conversations WHERE id = $1", id)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	conv := &models.Conversation{}
	var suggestionsRaw []byte
	err := row.Scan(
		&conv.ID, &conv.UserID, &conv.Title, &conv.Model, &conv.Pinned,
		&conv.Context, &suggestionsRaw, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	conv.Suggestions = []string{}
	if len(suggestionsRaw) > 0 {
		if err := json.Unmarshal(suggestionsRaw, &conv.Suggestions); err != nil {
			return nil, err
		}
	}
	return conv, nil
}
