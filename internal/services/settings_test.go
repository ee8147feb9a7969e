package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"parley-backend/internal/models"
)

type fakeSettingsRepo struct {
	stored *models.UserSettings

	saved *models.UserSettings
}

func (f *fakeSettingsRepo) GetSettings(ctx context.Context, userID uuid.UUID) (*models.UserSettings, error) {
	if f.stored == nil {
		return nil, pgx.ErrNoRows
	}
	return f.stored, nil
}

func (f *fakeSettingsRepo) UpdateSettings(ctx context.Context, s *models.UserSettings) error {
	f.saved = s
	return nil
}

func TestSettingsService_Load_DefaultsWhenMissing(t *testing.T) {
	svc := NewSettingsService(&fakeSettingsRepo{}, "gpt-4o-mini")
	userID := uuid.New()

	settings, err := svc.Load(context.Background(), userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.Theme != models.ThemeSystem {
		t.Fatalf("expected system theme, got %q", settings.Theme)
	}
	if settings.DefaultModel != "gpt-4o-mini" {
		t.Fatalf("expected server default model, got %q", settings.DefaultModel)
	}
	if settings.Temperature != 1.0 {
		t.Fatalf("expected temperature 1.0, got %v", settings.Temperature)
	}
	for _, tool := range models.KnownTools {
		enabled, ok := settings.Tools[tool]
		if !ok {
			t.Fatalf("expected tool %q present in defaults", tool)
		}
		if enabled {
			t.Fatalf("expected tool %q disabled by default", tool)
		}
	}
}

func TestSettingsService_Load_MergesStoredOverDefaults(t *testing.T) {
	userID := uuid.New()
	repo := &fakeSettingsRepo{stored: &models.UserSettings{
		UserID:      userID,
		Theme:       models.ThemeDark,
		Temperature: 0.4,
		Tools:       map[string]bool{"web_search": true},
	}}
	svc := NewSettingsService(repo, "gpt-4o-mini")

	settings, err := svc.Load(context.Background(), userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.Theme != models.ThemeDark {
		t.Fatalf("expected stored theme, got %q", settings.Theme)
	}
	// Empty stored model falls back to the server default
	if settings.DefaultModel != "gpt-4o-mini" {
		t.Fatalf("expected default model fallback, got %q", settings.DefaultModel)
	}
	if !settings.Tools["web_search"] {
		t.Fatalf("expected stored tool flag to survive merge")
	}
	if enabled := settings.Tools["code_interpreter"]; enabled {
		t.Fatalf("expected unset tool to default to disabled")
	}
}

func TestSettingsService_Update_ValidationFailures(t *testing.T) {
	cases := []struct {
		name  string
		req   models.UpdateSettingsRequest
		field string
	}{
		{"bad theme", models.UpdateSettingsRequest{Theme: strPtr("neon")}, "theme"},
		{"temperature too high", models.UpdateSettingsRequest{Temperature: floatPtr(2.5)}, "temperature"},
		{"temperature negative", models.UpdateSettingsRequest{Temperature: floatPtr(-0.1)}, "temperature"},
		{"unknown tool", models.UpdateSettingsRequest{Tools: &map[string]bool{"time_travel": true}}, "tools"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &fakeSettingsRepo{}
			svc := NewSettingsService(repo, "gpt-4o-mini")

			_, err := svc.Update(context.Background(), uuid.New(), tc.req)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			verr, ok := err.(*ValidationError)
			if !ok {
				t.Fatalf("expected ValidationError, got %T", err)
			}
			if _, ok := verr.Fields[tc.field]; !ok {
				t.Fatalf("expected field error for %q, got %+v", tc.field, verr.Fields)
			}
			if repo.saved != nil {
				t.Fatalf("invalid settings should not be persisted")
			}
		})
	}
}

func TestSettingsService_Update_PersistsAndReturnsMerged(t *testing.T) {
	userID := uuid.New()
	repo := &fakeSettingsRepo{}
	svc := NewSettingsService(repo, "gpt-4o-mini")

	updated, err := svc.Update(context.Background(), userID, models.UpdateSettingsRequest{
		Theme:       strPtr(models.ThemeLight),
		Temperature: floatPtr(0.2),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.saved == nil {
		t.Fatalf("expected settings to be persisted")
	}
	if updated.Theme != models.ThemeLight {
		t.Fatalf("expected updated theme, got %q", updated.Theme)
	}
	if updated.Temperature != 0.2 {
		t.Fatalf("expected updated temperature, got %v", updated.Temperature)
	}
	if updated.DefaultModel != "gpt-4o-mini" {
		t.Fatalf("expected untouched model to stay default, got %q", updated.DefaultModel)
	}
}

func TestSettingsService_Update_DoesNotBakeInServerDefaultModel(t *testing.T) {
	userID := uuid.New()
	repo := &fakeSettingsRepo{}
	svc := NewSettingsService(repo, "gpt-4o-mini")

	updated, err := svc.Update(context.Background(), userID, models.UpdateSettingsRequest{
		Theme: strPtr(models.ThemeDark),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.saved == nil {
		t.Fatalf("expected settings to be persisted")
	}
	if repo.saved.DefaultModel != "" {
		t.Fatalf("stored default_model should stay empty until the user picks one, got %q", repo.saved.DefaultModel)
	}
	// The merged view still resolves to the server default
	if updated.DefaultModel != "gpt-4o-mini" {
		t.Fatalf("expected merged model to resolve to server default, got %q", updated.DefaultModel)
	}

	// A later server default change reaches the user on the next read
	laterSvc := NewSettingsService(&fakeSettingsRepo{stored: repo.saved}, "gpt-5")
	settings, err := laterSvc.Load(context.Background(), userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.DefaultModel != "gpt-5" {
		t.Fatalf("expected new server default after theme-only update, got %q", settings.DefaultModel)
	}
}

func TestSettingsService_Update_BoundaryTemperatures(t *testing.T) {
	for _, temp := range []float64{0, 2} {
		repo := &fakeSettingsRepo{}
		svc := NewSettingsService(repo, "gpt-4o-mini")

		_, err := svc.Update(context.Background(), uuid.New(), models.UpdateSettingsRequest{
			Temperature: floatPtr(temp),
		})
		if err != nil {
			t.Fatalf("temperature %v should be valid: %v", temp, err)
		}
	}
}

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }
