package models

import (
	"time"

	"github.com/google/uuid"
)

// Valid theme values for user settings.
const (
	ThemeLight  = "light"
	ThemeDark   = "dark"
	ThemeSystem = "system"
)

// Tool toggles a user can enable per account.
var KnownTools = []string{"web_search", "code_interpreter", "image_generation"}

type UserSettings struct {
	UserID       uuid.UUID       `json:"user_id"`
	Theme        string          `json:"theme"`
	DefaultModel string          `json:"default_model"`
	Temperature  float64         `json:"temperature"`
	Tools        map[string]bool `json:"tools"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// UpdateSettingsRequest uses pointers so omitted fields fall back to the
// stored (or default) value rather than zeroing it.
type UpdateSettingsRequest struct {
	Theme        *string          `json:"theme"`
	DefaultModel *string          `json:"default_model"`
	Temperature  *float64         `json:"temperature"`
	Tools        *map[string]bool `json:"tools"`
}
