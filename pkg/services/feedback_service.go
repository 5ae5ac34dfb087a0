package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/parleyhq/parley/pkg/models"
)

// FeedbackService manages per-iteration feedback rounds.
type FeedbackService struct {
	db *gorm.DB
}

// NewFeedbackService creates a new FeedbackService.
func NewFeedbackService(db *gorm.DB) *FeedbackService {
	return &FeedbackService{db: db}
}

// CreateRound persists the round for one completed iteration. At most one
// round may exist per (session, iteration); duplicates yield ErrAlreadyExists.
func (s *FeedbackService) CreateRound(ctx context.Context, sessionID string, iteration int, draft string, summaries []models.ReviewerSummary) (*models.FeedbackRound, error) {
	allApproved := len(summaries) > 0
	for _, sum := range summaries {
		if !sum.Approved {
			allApproved = false
			break
		}
	}

	round := &models.FeedbackRound{
		ID:                   uuid.New().String(),
		SessionID:            sessionID,
		Iteration:            iteration,
		DraftContent:         draft,
		AllReviewersApproved: allApproved,
		ReviewerSummaries:    summaries,
	}

	if err := s.db.WithContext(ctx).Create(round).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to create feedback round: %w", err)
	}
	return round, nil
}

// ListRounds returns a session's feedback rounds in iteration order.
func (s *FeedbackService) ListRounds(ctx context.Context, sessionID string) ([]models.FeedbackRound, error) {
	var rounds []models.FeedbackRound
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("iteration asc").
		Find(&rounds).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback rounds: %w", err)
	}
	return rounds, nil
}

// AttachUserFeedback records user feedback text on a specific iteration's round.
func (s *FeedbackService) AttachUserFeedback(ctx context.Context, sessionID string, iteration int, feedback string) error {
	now := time.Now()
	result := s.db.WithContext(ctx).
		Model(&models.FeedbackRound{}).
		Where("session_id = ? AND iteration = ?", sessionID, iteration).
		Updates(map[string]any{
			"user_feedback":    feedback,
			"user_feedback_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to attach user feedback: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// isUniqueViolation detects a unique-index conflict across the postgres and
// sqlite drivers.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
