package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"parley-backend/internal/models"
)

type settingsRepository interface {
	GetSettings(ctx context.Context, userID uuid.UUID) (*models.UserSettings, error)
	UpdateSettings(ctx context.Context, s *models.UserSettings) error
}

// SettingsService validates and persists per-user preferences. Reads are
// merged with defaults so clients always see a complete document; writes are
// last-write-wins.
type SettingsService struct {
	repo               settingsRepository
	serverDefaultModel string
}

func NewSettingsService(repo settingsRepository, serverDefaultModel string) *SettingsService {
	return &SettingsService{repo: repo, serverDefaultModel: serverDefaultModel}
}

func (s *SettingsService) Defaults(userID uuid.UUID) *models.UserSettings {
	tools := make(map[string]bool, len(models.KnownTools))
	for _, name := range models.KnownTools {
		tools[name] = false
	}
	return &models.UserSettings{
		UserID:       userID,
		Theme:        models.ThemeSystem,
		DefaultModel: s.serverDefaultModel,
		Temperature:  1.0,
		Tools:        tools,
	}
}

// Load returns the stored settings merged with defaults. A missing row (or
// partially populated one) is not an error: unset fields take defaults.
func (s *SettingsService) Load(ctx context.Context, userID uuid.UUID) (*models.UserSettings, error) {
	stored, err := s.repo.GetSettings(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.Defaults(userID), nil
		}
		return nil, err
	}
	return s.merge(stored), nil
}

func (s *SettingsService) merge(stored *models.UserSettings) *models.UserSettings {
	merged := s.Defaults(stored.UserID)
	merged.UpdatedAt = stored.UpdatedAt

	if stored.Theme != "" {
		merged.Theme = stored.Theme
	}
	if stored.DefaultModel != "" {
		merged.DefaultModel = stored.DefaultModel
	}
	merged.Temperature = stored.Temperature
	for name, enabled := range stored.Tools {
		merged.Tools[name] = enabled
	}
	return merged
}

// Update applies a partial settings document on top of the stored row,
// validates the merged view, and persists the raw row. The stored
// default_model stays empty until the user picks one, so a server default
// change reaches those users on their next read.
func (s *SettingsService) Update(ctx context.Context, userID uuid.UUID, req models.UpdateSettingsRequest) (*models.UserSettings, error) {
	stored, err := s.repo.GetSettings(ctx, userID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		stored = &models.UserSettings{
			UserID:      userID,
			Theme:       models.ThemeSystem,
			Temperature: 1.0,
			Tools:       map[string]bool{},
		}
	}

	if req.Theme != nil {
		stored.Theme = *req.Theme
	}
	if req.DefaultModel != nil {
		stored.DefaultModel = *req.DefaultModel
	}
	if req.Temperature != nil {
		stored.Temperature = *req.Temperature
	}
	if req.Tools != nil {
		stored.Tools = *req.Tools
	}

	if err := validateSettings(s.merge(stored)); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateSettings(ctx, stored); err != nil {
		return nil, err
	}
	return s.merge(stored), nil
}

func validateSettings(s *models.UserSettings) error {
	fields := make(map[string]string)

	switch s.Theme {
	case models.ThemeLight, models.ThemeDark, models.ThemeSystem:
	default:
		fields["theme"] = fmt.Sprintf("theme must be one of light, dark, system (got %q)", s.Theme)
	}

	if s.Temperature < 0 || s.Temperature > 2 {
		fields["temperature"] = "temperature must be between 0 and 2"
	}

	for name := range s.Tools {
		if !isKnownTool(name) {
			fields["tools"] = fmt.Sprintf("unknown tool %q", name)
			break
		}
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func isKnownTool(name string) bool {
	for _, known := range models.KnownTools {
		if name == known {
			return true
		}
	}
	return false
}
