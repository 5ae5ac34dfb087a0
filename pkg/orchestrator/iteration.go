package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/provider"
)

// run is the session loop. Each pass reloads the session, checks the stop
// conditions that apply between iterations, and runs one Creator+Reviewers
// iteration. It exits on any terminal transition, on pause, or on cancel.
func (r *Runner) run(ctx context.Context, sessionID string) {
	for {
		if ctx.Err() != nil {
			r.stopSession(sessionID)
			return
		}

		sess, err := r.sessions.GetSession(ctx, sessionID)
		if err != nil {
			r.handleStreamFailure(sessionID, fmt.Errorf("failed to load session: %w", err))
			return
		}

		// One-more rule: reviewer consensus queued exactly one extra
		// Creator pass before completing.
		if sess.NeedsFinalIteration {
			r.runFinalIteration(ctx, sess)
			return
		}

		if sess.CurrentIteration >= sess.MaxIterations {
			final := r.latestCreatorContent(sessionID)
			r.completeSession(sessionID, models.StopReasonMaxIterationsReached, final)
			return
		}

		if !r.runIteration(ctx, sess) {
			return
		}
	}
}

// runIteration executes one full Creator+Reviewers pass. Returns true when
// the loop should continue with another iteration.
func (r *Runner) runIteration(ctx context.Context, sess *models.Session) bool {
	iteration, err := r.sessions.BeginIteration(ctx, sess.ID)
	if err != nil {
		r.handleStreamFailure(sess.ID, fmt.Errorf("failed to begin iteration: %w", err))
		return false
	}
	_ = r.publisher.IterationStarted(sess.ID, iteration)

	draft, ok := r.runCreator(ctx, sess, iteration)
	if !ok {
		return false
	}

	// Final marker short-circuits the reviewers.
	if sess.StopMarker != "" {
		if idx := strings.Index(draft, sess.StopMarker); idx >= 0 {
			final := strings.TrimSpace(draft[idx+len(sess.StopMarker):])
			_ = r.publisher.IterationCompleted(sess.ID, iteration)
			r.completeSession(sess.ID, models.StopReasonFinalMarkerDetected, final)
			return false
		}
	}

	summaries := make([]models.ReviewerSummary, 0, len(sess.ReviewersConfig))
	for i := range sess.ReviewersConfig {
		reviewer := &sess.ReviewersConfig[i]

		own, err := r.messages.RecentByAuthor(ctx, sess.ID, reviewer.ID, r.prompts.ContextTurnsToSend/2)
		if err != nil {
			r.handleStreamFailure(sess.ID, fmt.Errorf("failed to load reviewer context: %w", err))
			return false
		}

		msgs := r.prompts.BuildReviewerMessages(sess, reviewer, own, draft)
		content, err := r.streamPersona(ctx, sess, iteration, personaCall{
			author:      reviewer.ID,
			personaID:   reviewer.ID,
			displayName: reviewer.DisplayName,
			persona:     &reviewer.PersonaConfig,
		}, msgs)
		if err != nil {
			r.handleStreamFailure(sess.ID, err)
			return false
		}

		summaries = append(summaries, models.ReviewerSummary{
			ReviewerID:   reviewer.ID,
			ReviewerName: reviewer.DisplayName,
			Feedback:     content,
			Approved:     IsApproved(content),
		})
	}

	allApproved := len(summaries) > 0
	for _, s := range summaries {
		if !s.Approved {
			allApproved = false
			break
		}
	}
	if allApproved && sess.StopOnReviewerApproved {
		if err := r.sessions.SetNeedsFinalIteration(ctx, sess.ID, true); err != nil {
			r.handleStreamFailure(sess.ID, fmt.Errorf("failed to record reviewer consensus: %w", err))
			return false
		}
	}

	if _, err := r.feedback.CreateRound(ctx, sess.ID, iteration, draft, summaries); err != nil {
		r.handleStreamFailure(sess.ID, fmt.Errorf("failed to persist feedback round: %w", err))
		return false
	}
	_ = r.publisher.IterationCompleted(sess.ID, iteration)

	if sess.RunMode == models.RunModeStep {
		if _, err := r.sessions.TransitionStatus(ctx, sess.ID,
			[]models.SessionStatus{models.StatusRunning},
			models.StatusPaused, ""); err != nil {
			r.handleStreamFailure(sess.ID, fmt.Errorf("failed to pause session: %w", err))
			return false
		}
		_ = r.publisher.SessionPaused(sess.ID, iteration)
		return false
	}
	return true
}

// runFinalIteration is the extra Creator pass after reviewer consensus: the
// Creator incorporates the final round of feedback, no reviewers run, and
// the session completes with reason ReviewerApproved. The iteration index
// may exceed maxIterations here.
func (r *Runner) runFinalIteration(ctx context.Context, sess *models.Session) {
	iteration, err := r.sessions.BeginIteration(ctx, sess.ID)
	if err != nil {
		r.handleStreamFailure(sess.ID, fmt.Errorf("failed to begin iteration: %w", err))
		return
	}
	_ = r.publisher.IterationStarted(sess.ID, iteration)

	draft, ok := r.runCreator(ctx, sess, iteration)
	if !ok {
		return
	}
	_ = r.publisher.IterationCompleted(sess.ID, iteration)

	// A final marker in the closing draft still wins over consensus.
	if sess.StopMarker != "" {
		if idx := strings.Index(draft, sess.StopMarker); idx >= 0 {
			final := strings.TrimSpace(draft[idx+len(sess.StopMarker):])
			r.completeSession(sess.ID, models.StopReasonFinalMarkerDetected, final)
			return
		}
	}
	r.completeSession(sess.ID, models.StopReasonReviewerApproved, draft)
}

// runCreator streams the Creator's message for this iteration. Returns the
// draft and false when the loop must exit (the failure handler has already
// run).
func (r *Runner) runCreator(ctx context.Context, sess *models.Session, iteration int) (string, bool) {
	pending, err := r.sessions.ConsumePendingInstruction(ctx, sess.ID)
	if err != nil {
		r.handleStreamFailure(sess.ID, fmt.Errorf("failed to consume pending instruction: %w", err))
		return "", false
	}

	recent, err := r.messages.Recent(ctx, sess.ID, r.prompts.ContextTurnsToSend)
	if err != nil {
		r.handleStreamFailure(sess.ID, fmt.Errorf("failed to load context window: %w", err))
		return "", false
	}

	msgs := r.prompts.BuildCreatorMessages(sess, recent, iteration, pending)
	draft, err := r.streamPersona(ctx, sess, iteration, personaCall{
		author:    models.AuthorCreator,
		personaID: models.AuthorCreator,
		persona:   &sess.CreatorConfig,
	}, msgs)
	if err != nil {
		r.handleStreamFailure(sess.ID, err)
		return "", false
	}
	return draft, true
}

// personaCall identifies whose message is being streamed.
type personaCall struct {
	author      string
	personaID   string
	displayName string
	persona     *models.PersonaConfig
}

// streamPersona invokes the router and collects the stream while publishing
// deltas. The message is persisted even when the stream fails or is
// cancelled mid-way, so partial content is never lost.
func (r *Runner) streamPersona(
	ctx context.Context,
	sess *models.Session,
	iteration int,
	call personaCall,
	msgs []provider.Message,
) (string, error) {
	messageID := uuid.New().String()
	_ = r.publisher.MessageStarted(sess.ID, messageID, call.personaID, iteration)

	req := provider.Request{
		Messages:         msgs,
		Temperature:      call.persona.Temperature,
		MaxTokens:        call.persona.MaxOutputTokens,
		TopP:             call.persona.TopP,
		PresencePenalty:  call.persona.PresencePenalty,
		FrequencyPenalty: call.persona.FrequencyPenalty,
	}

	// Derive a cancellable context so the producer goroutine is always
	// cleaned up when we return.
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := r.router.Stream(streamCtx, sess.UserEmail, call.persona.ModelName, req)
	if err != nil {
		return "", err
	}

	var buf strings.Builder
	var streamErr error
collect:
	for {
		select {
		case chunk, open := <-stream:
			if !open {
				break collect
			}
			switch c := chunk.(type) {
			case *provider.TokenDelta:
				buf.WriteString(c.Text)
				_ = r.publisher.MessageChunk(sess.ID, messageID, c.Text)
			case *provider.ErrorChunk:
				streamErr = fmt.Errorf("provider stream error: %s", c.Message)
				break collect
			case *provider.FinishChunk, *provider.UsageChunk:
				// Informational; full content is what we accumulated.
			}
		case <-ctx.Done():
			streamErr = ctx.Err()
			break collect
		}
	}
	if streamErr == nil && ctx.Err() != nil {
		streamErr = ctx.Err()
	}

	content := buf.String()

	// Persist with a detached context: partial content must survive the
	// very cancellation that produced it.
	msg := &models.Message{
		ID:                  messageID,
		SessionID:           sess.ID,
		Role:                models.RoleAssistant,
		Author:              call.author,
		Iteration:           iteration,
		Content:             content,
		ModelUsed:           call.persona.ModelName,
		ReviewerDisplayName: call.displayName,
		CreatedAt:           time.Now().UTC(),
	}
	if err := r.messages.Append(context.WithoutCancel(ctx), msg); err != nil {
		if streamErr == nil {
			streamErr = fmt.Errorf("failed to persist message: %w", err)
		} else {
			slog.Error("Failed to persist partial message",
				"session_id", sess.ID, "message_id", messageID, "error", err)
		}
	}
	_ = r.publisher.MessageCompleted(sess.ID, messageID, content)

	return content, streamErr
}

// handleStreamFailure distinguishes a user stop from a provider failure.
func (r *Runner) handleStreamFailure(sessionID string, err error) {
	if errors.Is(err, context.Canceled) {
		r.stopSession(sessionID)
		return
	}
	r.failSession(sessionID, err)
}

func (r *Runner) latestCreatorContent(sessionID string) string {
	last, err := r.messages.LatestCreator(context.Background(), sessionID)
	if err != nil {
		return ""
	}
	return last.Content
}

func (r *Runner) stopSession(sessionID string) {
	ctx := context.Background()
	final := r.latestCreatorContent(sessionID)
	if err := r.sessions.Finish(ctx, sessionID, models.StatusStopped, models.StopReasonUserStopped, final, ""); err != nil {
		slog.Error("Failed to record user stop", "session_id", sessionID, "error", err)
	}
	_ = r.publisher.SessionStopped(sessionID, models.StopReasonUserStopped)
}

func (r *Runner) completeSession(sessionID string, reason models.StopReason, final string) {
	if err := r.sessions.Finish(context.Background(), sessionID, models.StatusCompleted, reason, final, ""); err != nil {
		slog.Error("Failed to record completion", "session_id", sessionID, "error", err)
	}
	_ = r.publisher.SessionCompleted(sessionID, reason, final)
}

func (r *Runner) failSession(sessionID string, cause error) {
	slog.Error("Session failed", "session_id", sessionID, "error", cause)
	if err := r.sessions.Finish(context.Background(), sessionID, models.StatusError, models.StopReasonError, "", cause.Error()); err != nil {
		slog.Error("Failed to record session error", "session_id", sessionID, "error", err)
	}
	_ = r.publisher.SessionError(sessionID, cause.Error())
}
