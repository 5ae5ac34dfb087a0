package events

import (
	"time"

	"github.com/parleyhq/parley/pkg/models"
)

// Timestamp returns the wire timestamp format used in all payloads.
func Timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// SessionStartedPayload is published when a session enters Running.
type SessionStartedPayload struct {
	Type      string `json:"type"` // always EventTypeSessionStarted
	SessionID string `json:"session_id"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// SessionPausedPayload is published when a step-mode session pauses at an
// iteration boundary.
type SessionPausedPayload struct {
	Type      string `json:"type"` // always EventTypeSessionPaused
	SessionID string `json:"session_id"`
	Iteration int    `json:"iteration"`
	Timestamp string `json:"timestamp"`
}

// SessionStoppedPayload is published on a user-initiated stop.
type SessionStoppedPayload struct {
	Type      string            `json:"type"` // always EventTypeSessionStopped
	SessionID string            `json:"session_id"`
	Reason    models.StopReason `json:"reason"`
	Timestamp string            `json:"timestamp"`
}

// SessionCompletedPayload is published when the loop reaches a stop
// condition and the session transitions to Completed.
type SessionCompletedPayload struct {
	Type         string            `json:"type"` // always EventTypeSessionCompleted
	SessionID    string            `json:"session_id"`
	StopReason   models.StopReason `json:"stop_reason"`
	FinalContent string            `json:"final_content"`
	Timestamp    string            `json:"timestamp"`
}

// SessionErrorPayload is published on an unrecoverable failure.
type SessionErrorPayload struct {
	Type      string `json:"type"` // always EventTypeSessionError
	SessionID string `json:"session_id"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// IterationStartedPayload marks the beginning of one Creator+Reviewers pass.
type IterationStartedPayload struct {
	Type      string `json:"type"` // always EventTypeIterationStarted
	SessionID string `json:"session_id"`
	Iteration int    `json:"iteration"`
	Timestamp string `json:"timestamp"`
}

// IterationCompletedPayload marks the end of an iteration, after the
// feedback round has been persisted.
type IterationCompletedPayload struct {
	Type      string `json:"type"` // always EventTypeIterationCompleted
	SessionID string `json:"session_id"`
	Iteration int    `json:"iteration"`
	Timestamp string `json:"timestamp"`
}

// MessageStartedPayload is published when a persona's stream begins.
// PersonaID is "Creator" for the creator, otherwise the reviewer's id.
type MessageStartedPayload struct {
	Type      string `json:"type"` // always EventTypeMessageStarted
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
	PersonaID string `json:"persona_id"`
	Iteration int    `json:"iteration"`
	Timestamp string `json:"timestamp"`
}

// MessageChunkPayload carries one streamed text delta. High-frequency;
// clients concatenate deltas locally for a live typing effect.
type MessageChunkPayload struct {
	Type      string `json:"type"` // always EventTypeMessageChunk
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
	Delta     string `json:"delta"`
	Timestamp string `json:"timestamp"`
}

// MessageCompletedPayload carries the full persisted content of a message
// once its stream has finished.
type MessageCompletedPayload struct {
	Type      string `json:"type"` // always EventTypeMessageCompleted
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// PersonaMemoryResetPayload is published after a persona's messages have
// been removed from a session.
type PersonaMemoryResetPayload struct {
	Type      string `json:"type"` // always EventTypePersonaMemoryReset
	SessionID string `json:"session_id"`
	PersonaID string `json:"persona_id"`
	Timestamp string `json:"timestamp"`
}
