// Package events provides real-time event delivery to WebSocket clients.
//
// A process-wide Hub maps session IDs to subscribers. The orchestrator
// publishes typed lifecycle and streaming payloads through the Publisher;
// the ConnectionManager bridges Hub subscriptions onto WebSocket
// connections with a join/leave control plane.
//
// Delivery contract: per session, every subscriber sees events in publish
// order. A subscriber that joins mid-session receives only events published
// after it joined; there is no replay — clients rebuild historical state
// from the REST API after (re)connecting. A subscriber that cannot keep up
// is dropped once its buffer fills rather than back-pressuring the
// orchestrator.
package events

// Event type discriminators carried in every payload's "type" field.
const (
	// Session lifecycle.
	EventTypeSessionStarted   = "session.started"
	EventTypeSessionPaused    = "session.paused"
	EventTypeSessionStopped   = "session.stopped"
	EventTypeSessionCompleted = "session.completed"
	EventTypeSessionError     = "session.error"

	// Iteration lifecycle.
	EventTypeIterationStarted   = "iteration.started"
	EventTypeIterationCompleted = "iteration.completed"

	// Message streaming — message.chunk is high-frequency and ephemeral;
	// the final text always arrives in message.completed.
	EventTypeMessageStarted   = "message.started"
	EventTypeMessageChunk     = "message.chunk"
	EventTypeMessageCompleted = "message.completed"

	// Memory management.
	EventTypePersonaMemoryReset = "persona.memory_reset"
)

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Action    string `json:"action"`               // "join", "leave", "ping"
	SessionID string `json:"session_id,omitempty"` // required for join/leave
}
