// Package orchestrator runs the Creator/Reviewer deliberation loop: one
// long-lived goroutine per running session, streaming each persona through
// the provider router, publishing progress on the event hub, and persisting
// messages and feedback rounds as it goes.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/provider"
	"github.com/parleyhq/parley/pkg/services"
)

// StreamRouter starts a streaming completion for a user's configured model.
// Implemented by provider.Router; stubbed in tests.
type StreamRouter interface {
	Stream(ctx context.Context, userEmail, modelName string, req provider.Request) (<-chan provider.Chunk, error)
}

// Runner owns the per-session orchestration goroutines and the cancel
// registry that the stop and delete endpoints signal into.
type Runner struct {
	sessions  *services.SessionService
	messages  *services.MessageService
	feedback  *services.FeedbackService
	router    StreamRouter
	publisher *events.Publisher
	prompts   *PromptBuilder

	// Session cancel registry: session_id → cancel function
	active map[string]context.CancelFunc
	mu     sync.Mutex
	wg     sync.WaitGroup
}

// NewRunner wires the orchestrator. prompts may be nil to take defaults.
func NewRunner(
	sessions *services.SessionService,
	messages *services.MessageService,
	feedback *services.FeedbackService,
	router StreamRouter,
	publisher *events.Publisher,
	prompts *PromptBuilder,
) *Runner {
	if prompts == nil {
		prompts = NewPromptBuilder(0, 0, 0)
	}
	return &Runner{
		sessions:  sessions,
		messages:  messages,
		feedback:  feedback,
		router:    router,
		publisher: publisher,
		prompts:   prompts,
		active:    make(map[string]context.CancelFunc),
	}
}

// Start transitions the session to Running and launches the loop goroutine.
// Valid from Created and Paused. mode selects continuous or single-step
// semantics for this run.
func (r *Runner) Start(ctx context.Context, sessionID string, mode models.RunMode) error {
	if r.IsActive(sessionID) {
		return fmt.Errorf("%w: session is already running", services.ErrInvalidTransition)
	}

	if err := r.sessions.SetRunMode(ctx, sessionID, mode); err != nil {
		return err
	}
	_, err := r.sessions.TransitionStatus(ctx, sessionID,
		[]models.SessionStatus{models.StatusCreated, models.StatusPaused},
		models.StatusRunning, "")
	if err != nil {
		return err
	}

	r.launch(sessionID)
	return nil
}

// Resume re-launches the loop for a session already moved to Running by a
// post-completion re-iterate call. A fresh cancellation token is installed.
func (r *Runner) Resume(sessionID string) error {
	if r.IsActive(sessionID) {
		return fmt.Errorf("%w: session is already running", services.ErrInvalidTransition)
	}
	r.launch(sessionID)
	return nil
}

// Stop requests a user stop. Idempotent: stopping an inactive session that
// is not Running is a no-op; an inactive Created/Paused session transitions
// straight to Stopped.
func (r *Runner) Stop(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	cancel, running := r.active[sessionID]
	r.mu.Unlock()

	if running {
		// The loop goroutine observes the cancellation, persists any
		// partial message, and performs the Stopped transition itself.
		cancel()
		return nil
	}

	sess, err := r.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status.Terminal() {
		return nil
	}

	final := ""
	if last, err := r.messages.LatestCreator(ctx, sessionID); err == nil {
		final = last.Content
	}
	if err := r.sessions.Finish(ctx, sessionID, models.StatusStopped, models.StopReasonUserStopped, final, ""); err != nil {
		return err
	}
	_ = r.publisher.SessionStopped(sessionID, models.StopReasonUserStopped)
	return nil
}

// IsActive reports whether the session has a live loop goroutine.
func (r *Runner) IsActive(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[sessionID]
	return ok
}

// Shutdown cancels every active session loop and waits for the goroutines
// to persist their partial state and exit.
func (r *Runner) Shutdown() {
	r.mu.Lock()
	for id, cancel := range r.active {
		slog.Info("Cancelling active session for shutdown", "session_id", id)
		cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// launch registers a cancel token and starts the loop goroutine.
func (r *Runner) launch(sessionID string) {
	ctx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	r.active[sessionID] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.unregister(sessionID)
		_ = r.publisher.SessionStarted(sessionID)
		r.run(ctx, sessionID)
	}()
}

// unregister removes the cancel token when the loop goroutine exits.
func (r *Runner) unregister(sessionID string) {
	r.mu.Lock()
	if cancel, ok := r.active[sessionID]; ok {
		cancel()
		delete(r.active, sessionID)
	}
	r.mu.Unlock()
}
