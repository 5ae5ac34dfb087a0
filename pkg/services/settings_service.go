package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/parleyhq/parley/pkg/models"
)

// SettingsService stores per-user preferences.
type SettingsService struct {
	db *gorm.DB
}

// NewSettingsService creates a new SettingsService.
func NewSettingsService(db *gorm.DB) *SettingsService {
	return &SettingsService{db: db}
}

// Get returns the settings row for a user, or an empty row when none exists.
func (s *SettingsService) Get(ctx context.Context, userID string) (*models.UserSettings, error) {
	var settings models.UserSettings
	err := s.db.WithContext(ctx).First(&settings, "user_id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &models.UserSettings{UserID: userID}, nil
		}
		return nil, fmt.Errorf("failed to load user settings: %w", err)
	}
	return &settings, nil
}

// SetNativeAgentModel upserts the user's preferred model reference.
func (s *SettingsService) SetNativeAgentModel(ctx context.Context, userID string, modelID *string) error {
	settings := models.UserSettings{
		UserID:             userID,
		NativeAgentModelID: modelID,
		UpdatedAt:          time.Now(),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"native_agent_model_id", "updated_at"}),
		}).
		Create(&settings).Error
	if err != nil {
		return fmt.Errorf("failed to save user settings: %w", err)
	}
	return nil
}
