package events

import (
	"encoding/json"
	"fmt"

	"github.com/parleyhq/parley/pkg/models"
)

// Publisher builds typed payloads and broadcasts them on the Hub. Each public
// method accepts the fields specific to one event kind; timestamps and type
// discriminators are filled in here so callers can't get them wrong.
type Publisher struct {
	hub *Hub
}

func NewPublisher(hub *Hub) *Publisher {
	return &Publisher{hub: hub}
}

// Hub exposes the underlying hub for subscription management.
func (p *Publisher) Hub() *Hub {
	return p.hub
}

func (p *Publisher) publish(sessionID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %T: %w", payload, err)
	}
	p.hub.Publish(sessionID, data)
	return nil
}

func (p *Publisher) SessionStarted(sessionID string) error {
	return p.publish(sessionID, SessionStartedPayload{
		Type:      EventTypeSessionStarted,
		SessionID: sessionID,
		Timestamp: Timestamp(),
	})
}

func (p *Publisher) SessionPaused(sessionID string, iteration int) error {
	return p.publish(sessionID, SessionPausedPayload{
		Type:      EventTypeSessionPaused,
		SessionID: sessionID,
		Iteration: iteration,
		Timestamp: Timestamp(),
	})
}

func (p *Publisher) SessionStopped(sessionID string, reason models.StopReason) error {
	return p.publish(sessionID, SessionStoppedPayload{
		Type:      EventTypeSessionStopped,
		SessionID: sessionID,
		Reason:    reason,
		Timestamp: Timestamp(),
	})
}

func (p *Publisher) SessionCompleted(sessionID string, stopReason models.StopReason, finalContent string) error {
	return p.publish(sessionID, SessionCompletedPayload{
		Type:         EventTypeSessionCompleted,
		SessionID:    sessionID,
		StopReason:   stopReason,
		FinalContent: finalContent,
		Timestamp:    Timestamp(),
	})
}

func (p *Publisher) SessionError(sessionID string, errMsg string) error {
	return p.publish(sessionID, SessionErrorPayload{
		Type:      EventTypeSessionError,
		SessionID: sessionID,
		Error:     errMsg,
		Timestamp: Timestamp(),
	})
}

func (p *Publisher) IterationStarted(sessionID string, iteration int) error {
	return p.publish(sessionID, IterationStartedPayload{
		Type:      EventTypeIterationStarted,
		SessionID: sessionID,
		Iteration: iteration,
		Timestamp: Timestamp(),
	})
}

func (p *Publisher) IterationCompleted(sessionID string, iteration int) error {
	return p.publish(sessionID, IterationCompletedPayload{
		Type:      EventTypeIterationCompleted,
		SessionID: sessionID,
		Iteration: iteration,
		Timestamp: Timestamp(),
	})
}

func (p *Publisher) MessageStarted(sessionID, messageID, personaID string, iteration int) error {
	return p.publish(sessionID, MessageStartedPayload{
		Type:      EventTypeMessageStarted,
		SessionID: sessionID,
		MessageID: messageID,
		PersonaID: personaID,
		Iteration: iteration,
		Timestamp: Timestamp(),
	})
}

func (p *Publisher) MessageChunk(sessionID, messageID, delta string) error {
	return p.publish(sessionID, MessageChunkPayload{
		Type:      EventTypeMessageChunk,
		SessionID: sessionID,
		MessageID: messageID,
		Delta:     delta,
		Timestamp: Timestamp(),
	})
}

func (p *Publisher) MessageCompleted(sessionID, messageID, content string) error {
	return p.publish(sessionID, MessageCompletedPayload{
		Type:      EventTypeMessageCompleted,
		SessionID: sessionID,
		MessageID: messageID,
		Content:   content,
		Timestamp: Timestamp(),
	})
}

func (p *Publisher) PersonaMemoryReset(sessionID, personaID string) error {
	return p.publish(sessionID, PersonaMemoryResetPayload{
		Type:      EventTypePersonaMemoryReset,
		SessionID: sessionID,
		PersonaID: personaID,
		Timestamp: Timestamp(),
	})
}
