// Package services implements the persistence layer for sessions, messages,
// feedback rounds, and user settings.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/parleyhq/parley/pkg/models"
)

// SessionService manages deliberation session lifecycle and state.
type SessionService struct {
	db *gorm.DB
}

// NewSessionService creates a new SessionService.
func NewSessionService(db *gorm.DB) *SessionService {
	return &SessionService{db: db}
}

// SessionDefaults are applied to fields a create request omits.
type SessionDefaults struct {
	MaxIterations          int
	StopMarker             string
	StopOnReviewerApproved bool
}

// CreateSession validates the request, snapshots persona configuration, and
// persists the session in status Created.
func (s *SessionService) CreateSession(ctx context.Context, userEmail string, req models.CreateSessionRequest, defaults SessionDefaults) (*models.Session, error) {
	if err := req.Validate(); err != nil {
		return nil, NewValidationError("session", err.Error())
	}

	maxIterations := req.MaxIterations
	if maxIterations == 0 {
		maxIterations = defaults.MaxIterations
	}
	stopMarker := req.StopMarker
	if stopMarker == "" {
		stopMarker = defaults.StopMarker
	}
	stopOnApproved := defaults.StopOnReviewerApproved
	if req.StopOnReviewerApproved != nil {
		stopOnApproved = *req.StopOnReviewerApproved
	}
	runMode := req.RunMode
	if runMode == "" {
		runMode = models.RunModeAuto
	}

	// Deep copy of persona configs — the session must never observe later
	// roster edits.
	reviewers := make([]models.ReviewerConfig, len(req.Reviewers))
	copy(reviewers, req.Reviewers)

	session := &models.Session{
		ID:                     uuid.New().String(),
		Name:                   req.Name,
		Topic:                  req.Topic,
		Status:                 models.StatusCreated,
		StopReason:             models.StopReasonNone,
		MaxIterations:          maxIterations,
		FeedbackVersion:        1,
		StopMarker:             stopMarker,
		StopOnReviewerApproved: stopOnApproved,
		RunMode:                runMode,
		CreatorConfig:          req.Creator,
		ReviewersConfig:        reviewers,
		UserEmail:              userEmail,
	}

	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// GetSession fetches a session by id, without messages.
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var session models.Session
	err := s.db.WithContext(ctx).First(&session, "session_id = ?", sessionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return &session, nil
}

// ListSessions returns all sessions, newest-updated first.
func (s *SessionService) ListSessions(ctx context.Context) ([]models.Session, error) {
	var sessions []models.Session
	err := s.db.WithContext(ctx).
		Order("updated_at desc").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// DeleteSession removes a session; messages and feedback rounds cascade.
func (s *SessionService) DeleteSession(ctx context.Context, sessionID string) error {
	result := s.db.WithContext(ctx).Delete(&models.Session{}, "session_id = ?", sessionID)
	if result.Error != nil {
		return fmt.Errorf("failed to delete session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRunMode updates only the run mode. Used by the step endpoint before the
// loop (re)starts.
func (s *SessionService) SetRunMode(ctx context.Context, sessionID string, mode models.RunMode) error {
	return s.updateFields(ctx, sessionID, map[string]any{"run_mode": mode})
}

// TransitionStatus atomically moves a session between lifecycle states,
// verifying the transition is legal from the current status.
func (s *SessionService) TransitionStatus(ctx context.Context, sessionID string, from []models.SessionStatus, to models.SessionStatus, reason models.StopReason) (*models.Session, error) {
	var session models.Session
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&session, "session_id = ?", sessionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		allowed := len(from) == 0
		for _, f := range from {
			if session.Status == f {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, session.Status, to)
		}
		session.Status = to
		if reason != "" {
			session.StopReason = reason
		}
		return tx.Model(&session).Updates(map[string]any{
			"status":      to,
			"stop_reason": session.StopReason,
			"updated_at":  time.Now(),
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// BeginIteration increments current_iteration and returns the new value.
// The counter is monotonically non-decreasing; it may exceed max_iterations
// only during the final iteration that follows reviewer approval.
func (s *SessionService) BeginIteration(ctx context.Context, sessionID string) (int, error) {
	var iteration int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session models.Session
		if err := tx.First(&session, "session_id = ?", sessionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		iteration = session.CurrentIteration + 1
		return tx.Model(&session).Updates(map[string]any{
			"current_iteration": iteration,
			"updated_at":        time.Now(),
		}).Error
	})
	return iteration, err
}

// SetNeedsFinalIteration flips the one-more-iteration flag set by reviewer
// consensus.
func (s *SessionService) SetNeedsFinalIteration(ctx context.Context, sessionID string, v bool) error {
	return s.updateFields(ctx, sessionID, map[string]any{"needs_final_iteration": v})
}

// ConsumePendingInstruction returns the stored re-iterate instruction and
// clears it, so it is injected into exactly one Creator prompt.
func (s *SessionService) ConsumePendingInstruction(ctx context.Context, sessionID string) (string, error) {
	var instruction string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session models.Session
		if err := tx.First(&session, "session_id = ?", sessionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		instruction = session.PendingInstruction
		if instruction == "" {
			return nil
		}
		return tx.Model(&session).Update("pending_instruction", "").Error
	})
	return instruction, err
}

// Finish records a terminal state with its stop reason and final content.
func (s *SessionService) Finish(ctx context.Context, sessionID string, status models.SessionStatus, reason models.StopReason, finalContent, errorMessage string) error {
	fields := map[string]any{
		"status":      status,
		"stop_reason": reason,
		"updated_at":  time.Now(),
	}
	if finalContent != "" {
		fields["final_content"] = finalContent
	}
	if errorMessage != "" {
		fields["error_message"] = errorMessage
	}
	return s.updateFields(ctx, sessionID, fields)
}

// ReopenWithFeedback atomically re-opens a Completed session per the
// post-completion re-iteration contract: extends max_iterations, bumps
// feedback_version, stores the synthesized instruction, and re-enters Running.
func (s *SessionService) ReopenWithFeedback(ctx context.Context, sessionID, instruction string, additionalIterations int) (*models.Session, error) {
	var session models.Session
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&session, "session_id = ?", sessionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if session.Status != models.StatusCompleted {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, session.Status, models.StatusRunning)
		}
		session.MaxIterations += additionalIterations
		session.FeedbackVersion++
		session.Status = models.StatusRunning
		session.StopReason = models.StopReasonNone
		session.NeedsFinalIteration = false
		session.PendingInstruction = instruction
		return tx.Model(&session).Updates(map[string]any{
			"max_iterations":        session.MaxIterations,
			"feedback_version":      session.FeedbackVersion,
			"status":                session.Status,
			"stop_reason":           session.StopReason,
			"needs_final_iteration": false,
			"pending_instruction":   instruction,
			"updated_at":            time.Now(),
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// Touch bumps updated_at so list ordering reflects orchestration activity.
func (s *SessionService) Touch(ctx context.Context, sessionID string) error {
	return s.updateFields(ctx, sessionID, map[string]any{"updated_at": time.Now()})
}

func (s *SessionService) updateFields(ctx context.Context, sessionID string, fields map[string]any) error {
	if _, ok := fields["updated_at"]; !ok {
		fields["updated_at"] = time.Now()
	}
	result := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("session_id = ?", sessionID).
		Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("failed to update session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
