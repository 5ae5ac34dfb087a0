package services

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/parleyhq/parley/pkg/models"
)

// MessageService manages the append-only message log of a session.
type MessageService struct {
	db *gorm.DB
}

// NewMessageService creates a new MessageService.
func NewMessageService(db *gorm.DB) *MessageService {
	return &MessageService{db: db}
}

// Append persists one message.
func (s *MessageService) Append(ctx context.Context, msg *models.Message) error {
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// ListBySession returns every message of a session in chronological order.
func (s *MessageService) ListBySession(ctx context.Context, sessionID string) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("iteration asc, created_at asc").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

// Recent returns the most recent limit messages of a session in chronological
// order. Used to build the Creator context window.
func (s *MessageService) Recent(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("iteration desc, created_at desc").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load recent messages: %w", err)
	}
	reverse(messages)
	return messages, nil
}

// RecentByAuthor returns the most recent limit messages by one author in
// chronological order. Used to give each reviewer its own prior critiques.
func (s *MessageService) RecentByAuthor(ctx context.Context, sessionID, author string, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND author = ?", sessionID, author).
		Order("iteration desc, created_at desc").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load messages by author: %w", err)
	}
	reverse(messages)
	return messages, nil
}

// LatestCreator returns the most recent Creator assistant message, or
// ErrNotFound when the session has none yet.
func (s *MessageService) LatestCreator(ctx context.Context, sessionID string) (*models.Message, error) {
	var msg models.Message
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND author = ?", sessionID, models.AuthorCreator).
		Order("iteration desc, created_at desc").
		First(&msg).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load latest creator message: %w", err)
	}
	return &msg, nil
}

// DeleteByAuthor removes all messages of one persona from a session. Session
// status and iteration counters are untouched. Returns the number removed.
func (s *MessageService) DeleteByAuthor(ctx context.Context, sessionID, author string) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("session_id = ? AND author = ?", sessionID, author).
		Delete(&models.Message{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete persona messages: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func reverse(messages []models.Message) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}
