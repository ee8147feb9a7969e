package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"parley-backend/internal/models"
)

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func (r *UserRepo) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, email, password_hash, full_name, is_verified, plan)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	user.ID = uuid.New()
	user.Plan = "free"
	user.IsActive = true

	return r.pool.QueryRow(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.FullName, user.IsVerified, user.Plan,
	).Scan(&user.CreatedAt)
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	user := &models.User{}
	query := `SELECT id, email, password_hash, full_name, avatar_url, is_verified, is_active, plan, created_at, last_login_at
		FROM users WHERE email = $1`

	err := r.pool.QueryRow(ctx, query, email).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.FullName, &user.AvatarURL,
		&user.IsVerified, &user.IsActive, &user.Plan, &user.CreatedAt, &user.LastLoginAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user := &models.User{}
	query := `SELECT id, email, password_hash, full_name, avatar_url, is_verified, is_active, plan, created_at, last_login_at
		FROM users WHERE id = $1`

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.FullName, &user.AvatarURL,
		&user.IsVerified, &user.IsActive, &user.Plan, &user.CreatedAt, &user.LastLoginAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *UserRepo) VerifyEmail(ctx context.Context, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, "UPDATE users SET is_verified = TRUE WHERE id = $1", userID)
	return err
}

func (r *UserRepo) UpdateLastLogin(ctx context.Context, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, "UPDATE users SET last_login_at = $1 WHERE id = $2", time.Now(), userID)
	return err
}

func (r *UserRepo) Update(ctx context.Context, user *models.User) error {
	_, err := r.pool.Exec(ctx,
		"UPDATE users SET full_name = $1, email = $2, avatar_url = $3 WHERE id = $4",
		user.FullName, user.Email, user.AvatarURL, user.ID,
	)
	return err
}

func (r *UserRepo) UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string) error {
	_, err := r.pool.Exec(ctx, "UPDATE users SET password_hash = $1 WHERE id = $2", passwordHash, userID)
	return err
}

// Delete removes the user row; conversations, messages, checkpoints and
// settings go with it via ON DELETE CASCADE.
func (r *UserRepo) Delete(ctx context.Context, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, "DELETE FROM users WHERE id = $1", userID)
	return err
}

func (r *UserRepo) CreateSettings(ctx context.Context, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, "INSERT INTO user_settings (user_id) VALUES ($1) ON CONFLICT DO NOTHING", userID)
	return err
}

func (r *UserRepo) GetSettings(ctx context.Context, userID uuid.UUID) (*models.UserSettings, error) {
	s := &models.UserSettings{}
	var toolsRaw []byte
	query := `SELECT user_id, theme, default_model, temperature, tools_json, updated_at
		FROM user_settings WHERE user_id = $1`
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&s.UserID, &s.Theme, &s.DefaultModel, &s.Temperature, &toolsRaw, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(toolsRaw) > 0 {
		if err := json.Unmarshal(toolsRaw, &s.Tools); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (r *UserRepo) UpdateSettings(ctx context.Context, s *models.UserSettings) error {
	toolsRaw, err := json.Marshal(s.Tools)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO user_settings (user_id, theme, default_model, temperature, tools_json, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET theme = $2, default_model = $3, temperature = $4, tools_json = $5, updated_at = NOW()`,
		s.UserID, s.Theme, s.DefaultModel, s.Temperature, toolsRaw,
	)
	return err
}
