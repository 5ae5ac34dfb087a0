package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/services"
)

// Store manages per-user model configurations. API keys are sealed before
// they hit the database and only unsealed inside Resolve; no method ever
// returns or logs a plaintext key to an API caller.
type Store struct {
	db        *gorm.DB
	protector Protector
}

// ResolvedModel is the unsealed form handed to the provider layer.
type ResolvedModel struct {
	ModelName string
	Endpoint  string
	Provider  models.ProviderKind
	APIKey    string
}

func NewStore(db *gorm.DB, protector Protector) *Store {
	return &Store{db: db, protector: protector}
}

// ModelInput carries the writable fields of a configured model.
type ModelInput struct {
	ModelName   string
	DisplayName string
	Endpoint    string
	Provider    models.ProviderKind
	APIKey      string // empty means "leave unchanged" on update, "no key" on add
}

func (in *ModelInput) Validate() error {
	if strings.TrimSpace(in.ModelName) == "" {
		return services.NewValidationError("model_name", "model name is required")
	}
	if strings.TrimSpace(in.Endpoint) == "" {
		return services.NewValidationError("endpoint", "endpoint is required")
	}
	if !in.Provider.Valid() {
		return services.NewValidationError("provider", fmt.Sprintf("unknown provider %q", in.Provider))
	}
	return nil
}

// List returns all models configured for the user, newest first. Keys are
// never included.
func (s *Store) List(ctx context.Context, userEmail string) ([]models.ConfiguredModel, error) {
	var out []models.ConfiguredModel
	err := s.db.WithContext(ctx).
		Where("user_email = ?", userEmail).
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	return out, nil
}

// Get returns a single configured model by name.
func (s *Store) Get(ctx context.Context, userEmail, modelName string) (*models.ConfiguredModel, error) {
	var m models.ConfiguredModel
	err := s.db.WithContext(ctx).
		Where("user_email = ? AND model_name = ?", userEmail, modelName).
		First(&m).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, services.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get model: %w", err)
	}
	return &m, nil
}

// Add registers a new model for the user. Fails with ErrAlreadyExists when
// the (user, model name) pair is taken.
func (s *Store) Add(ctx context.Context, userEmail string, in ModelInput) (*models.ConfiguredModel, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	m := models.ConfiguredModel{
		ID:          uuid.NewString(),
		UserEmail:   userEmail,
		ModelName:   in.ModelName,
		DisplayName: in.DisplayName,
		Endpoint:    in.Endpoint,
		Provider:    in.Provider,
		CreatedAt:   time.Now().UTC(),
	}
	if in.APIKey != "" {
		sealed, err := s.protector.Seal(in.APIKey)
		if err != nil {
			return nil, err
		}
		m.EncryptedKey = sealed
	}

	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		if isDuplicate(err) {
			return nil, services.ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to create model: %w", err)
	}

	slog.Info("Model configured", "user", userEmail, "model", in.ModelName, "provider", in.Provider)
	return &m, nil
}

// Update modifies an existing model. An empty APIKey leaves the stored key
// untouched; renaming onto an existing model name fails with
// ErrAlreadyExists.
func (s *Store) Update(ctx context.Context, userEmail, modelName string, in ModelInput) (*models.ConfiguredModel, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	m, err := s.Get(ctx, userEmail, modelName)
	if err != nil {
		return nil, err
	}

	m.ModelName = in.ModelName
	m.DisplayName = in.DisplayName
	m.Endpoint = in.Endpoint
	m.Provider = in.Provider
	if in.APIKey != "" {
		sealed, err := s.protector.Seal(in.APIKey)
		if err != nil {
			return nil, err
		}
		m.EncryptedKey = sealed
	}

	if err := s.db.WithContext(ctx).Save(m).Error; err != nil {
		if isDuplicate(err) {
			return nil, services.ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to update model: %w", err)
	}
	return m, nil
}

// Delete removes a configured model.
func (s *Store) Delete(ctx context.Context, userEmail, modelName string) error {
	res := s.db.WithContext(ctx).
		Where("user_email = ? AND model_name = ?", userEmail, modelName).
		Delete(&models.ConfiguredModel{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete model: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return services.ErrNotFound
	}
	return nil
}

// Resolve looks up a model and unseals its key for use by a provider
// adapter. APIKey is empty when no key was ever stored.
func (s *Store) Resolve(ctx context.Context, userEmail, modelName string) (*ResolvedModel, error) {
	m, err := s.Get(ctx, userEmail, modelName)
	if err != nil {
		return nil, err
	}

	resolved := &ResolvedModel{
		ModelName: m.ModelName,
		Endpoint:  m.Endpoint,
		Provider:  m.Provider,
	}
	if m.EncryptedKey != "" {
		key, err := s.protector.Open(m.EncryptedKey)
		if err != nil {
			return nil, err
		}
		resolved.APIKey = key
	}
	return resolved, nil
}

// HasKey reports whether a usable key is stored for the model.
func (s *Store) HasKey(ctx context.Context, userEmail, modelName string) (bool, error) {
	m, err := s.Get(ctx, userEmail, modelName)
	if err != nil {
		return false, err
	}
	return m.EncryptedKey != "", nil
}

func isDuplicate(err error) bool {
	if err == gorm.ErrDuplicatedKey {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
