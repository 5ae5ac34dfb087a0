package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/parleyhq/parley/pkg/database"
	"github.com/parleyhq/parley/pkg/models"
)

const testEmail = "user@example.com"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	client, err := database.NewClient(context.Background(), database.Config{ConnectionString: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client.Gorm()
}

func testCreateRequest() models.CreateSessionRequest {
	persona := models.PersonaConfig{
		RootPrompt:      "You are a writer.",
		ModelName:       "creator-model",
		Temperature:     0.7,
		MaxOutputTokens: 512,
		TopP:            1,
	}
	return models.CreateSessionRequest{
		Name:    "essay",
		Topic:   "city parks",
		Creator: persona,
		Reviewers: []models.ReviewerConfig{{
			PersonaConfig: persona,
			ID:            "rev-1",
			DisplayName:   "Reviewer One",
		}},
	}
}

func testDefaults() SessionDefaults {
	return SessionDefaults{MaxIterations: 5, StopMarker: "@@FINAL@@", StopOnReviewerApproved: true}
}

func mustCreateSession(t *testing.T, svc *SessionService) *models.Session {
	t.Helper()
	sess, err := svc.CreateSession(context.Background(), testEmail, testCreateRequest(), testDefaults())
	require.NoError(t, err)
	return sess
}

func TestSessionService_CreateAppliesDefaults(t *testing.T) {
	svc := NewSessionService(newTestDB(t))

	sess := mustCreateSession(t, svc)
	assert.Equal(t, models.StatusCreated, sess.Status)
	assert.Equal(t, models.StopReasonNone, sess.StopReason)
	assert.Equal(t, 5, sess.MaxIterations)
	assert.Equal(t, "@@FINAL@@", sess.StopMarker)
	assert.True(t, sess.StopOnReviewerApproved)
	assert.Equal(t, models.RunModeAuto, sess.RunMode)
	assert.Equal(t, 1, sess.FeedbackVersion)
	assert.Equal(t, testEmail, sess.UserEmail)
}

func TestSessionService_CreateExplicitValuesWin(t *testing.T) {
	svc := NewSessionService(newTestDB(t))

	req := testCreateRequest()
	req.MaxIterations = 2
	req.StopMarker = "DONE:"
	off := false
	req.StopOnReviewerApproved = &off
	req.RunMode = models.RunModeStep

	sess, err := svc.CreateSession(context.Background(), testEmail, req, testDefaults())
	require.NoError(t, err)
	assert.Equal(t, 2, sess.MaxIterations)
	assert.Equal(t, "DONE:", sess.StopMarker)
	assert.False(t, sess.StopOnReviewerApproved)
	assert.Equal(t, models.RunModeStep, sess.RunMode)
}

func TestSessionService_CreateRejectsInvalidRequest(t *testing.T) {
	svc := NewSessionService(newTestDB(t))

	req := testCreateRequest()
	req.Reviewers = nil
	_, err := svc.CreateSession(context.Background(), testEmail, req, testDefaults())
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestSessionService_SnapshotSurvivesRequestMutation(t *testing.T) {
	svc := NewSessionService(newTestDB(t))

	req := testCreateRequest()
	sess, err := svc.CreateSession(context.Background(), testEmail, req, testDefaults())
	require.NoError(t, err)

	req.Reviewers[0].DisplayName = "mutated"

	got, err := svc.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "Reviewer One", got.ReviewersConfig[0].DisplayName)
}

func TestSessionService_GetUnknownID(t *testing.T) {
	svc := NewSessionService(newTestDB(t))

	_, err := svc.GetSession(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionService_ListNewestUpdatedFirst(t *testing.T) {
	svc := NewSessionService(newTestDB(t))

	first := mustCreateSession(t, svc)
	second := mustCreateSession(t, svc)

	require.NoError(t, svc.Touch(context.Background(), first.ID))

	sessions, err := svc.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, first.ID, sessions[0].ID)
	assert.Equal(t, second.ID, sessions[1].ID)
}

func TestSessionService_DeleteCascades(t *testing.T) {
	db := newTestDB(t)
	svc := NewSessionService(db)
	messages := NewMessageService(db)
	feedback := NewFeedbackService(db)

	sess := mustCreateSession(t, svc)
	require.NoError(t, messages.Append(context.Background(), &models.Message{
		ID: "msg-1", SessionID: sess.ID, Role: models.RoleAssistant,
		Author: models.AuthorCreator, Iteration: 1, Content: "draft",
	}))
	_, err := feedback.CreateRound(context.Background(), sess.ID, 1, "draft", nil)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteSession(context.Background(), sess.ID))
	assert.ErrorIs(t, svc.DeleteSession(context.Background(), sess.ID), ErrNotFound)

	var msgCount, roundCount int64
	require.NoError(t, db.Model(&models.Message{}).Where("session_id = ?", sess.ID).Count(&msgCount).Error)
	require.NoError(t, db.Model(&models.FeedbackRound{}).Where("session_id = ?", sess.ID).Count(&roundCount).Error)
	assert.Zero(t, msgCount)
	assert.Zero(t, roundCount)
}

func TestSessionService_TransitionStatus(t *testing.T) {
	svc := NewSessionService(newTestDB(t))
	ctx := context.Background()
	sess := mustCreateSession(t, svc)

	got, err := svc.TransitionStatus(ctx, sess.ID,
		[]models.SessionStatus{models.StatusCreated, models.StatusPaused},
		models.StatusRunning, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, got.Status)

	// Completed is not a legal source for Running via plain transition.
	_, err = svc.TransitionStatus(ctx, sess.ID,
		[]models.SessionStatus{models.StatusCreated, models.StatusPaused},
		models.StatusRunning, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// Empty from-set is a wildcard; reason is recorded.
	got, err = svc.TransitionStatus(ctx, sess.ID, nil, models.StatusStopped, models.StopReasonUserStopped)
	require.NoError(t, err)
	assert.Equal(t, models.StatusStopped, got.Status)
	assert.Equal(t, models.StopReasonUserStopped, got.StopReason)

	_, err = svc.TransitionStatus(ctx, "nope", nil, models.StatusRunning, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionService_BeginIteration(t *testing.T) {
	svc := NewSessionService(newTestDB(t))
	ctx := context.Background()
	sess := mustCreateSession(t, svc)

	for want := 1; want <= 3; want++ {
		got, err := svc.BeginIteration(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	loaded, err := svc.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.CurrentIteration)
}

func TestSessionService_ConsumePendingInstructionClearsIt(t *testing.T) {
	svc := NewSessionService(newTestDB(t))
	ctx := context.Background()
	sess := mustCreateSession(t, svc)

	require.NoError(t, svc.Finish(ctx, sess.ID, models.StatusCompleted, models.StopReasonMaxIterationsReached, "final", ""))
	_, err := svc.ReopenWithFeedback(ctx, sess.ID, "add citations", 2)
	require.NoError(t, err)

	instruction, err := svc.ConsumePendingInstruction(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "add citations", instruction)

	instruction, err = svc.ConsumePendingInstruction(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, instruction)
}

func TestSessionService_Finish(t *testing.T) {
	svc := NewSessionService(newTestDB(t))
	ctx := context.Background()
	sess := mustCreateSession(t, svc)

	require.NoError(t, svc.Finish(ctx, sess.ID, models.StatusError, models.StopReasonError, "partial", "upstream exploded"))

	got, err := svc.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, got.Status)
	assert.Equal(t, models.StopReasonError, got.StopReason)
	assert.Equal(t, "partial", got.FinalContent)
	assert.Equal(t, "upstream exploded", got.ErrorMessage)
}

func TestSessionService_ReopenWithFeedback(t *testing.T) {
	svc := NewSessionService(newTestDB(t))
	ctx := context.Background()
	sess := mustCreateSession(t, svc)

	// Only Completed sessions can be re-opened.
	_, err := svc.ReopenWithFeedback(ctx, sess.ID, "x", 1)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, svc.Finish(ctx, sess.ID, models.StatusCompleted, models.StopReasonReviewerApproved, "final", ""))

	got, err := svc.ReopenWithFeedback(ctx, sess.ID, "shorten it", 2)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, got.Status)
	assert.Equal(t, models.StopReasonNone, got.StopReason)
	assert.Equal(t, sess.MaxIterations+2, got.MaxIterations)
	assert.Equal(t, 2, got.FeedbackVersion)
	assert.False(t, got.NeedsFinalIteration)
	assert.Equal(t, "shorten it", got.PendingInstruction)
}
