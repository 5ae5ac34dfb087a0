package events

import (
	"log/slog"
	"sync"
)

// DefaultSubscriberBuffer is the per-subscriber backlog before the hub
// considers a subscriber too slow and drops it.
const DefaultSubscriberBuffer = 256

// Hub is the process-wide registry of session subscribers. Publishing never
// blocks: a subscriber whose buffer is full is dropped (its channel closed)
// so a stalled client cannot back-pressure the orchestrator.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*Subscriber]struct{}
	buffer   int
}

// Subscriber is one attachment to a session's event stream.
type Subscriber struct {
	hub       *Hub
	sessionID string
	ch        chan []byte
	closeOnce sync.Once
}

// NewHub creates a Hub. bufferSize <= 0 selects DefaultSubscriberBuffer.
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultSubscriberBuffer
	}
	return &Hub{
		sessions: make(map[string]map[*Subscriber]struct{}),
		buffer:   bufferSize,
	}
}

// Subscribe attaches a new subscriber to a session. The subscriber only
// receives events published after this call returns.
func (h *Hub) Subscribe(sessionID string) *Subscriber {
	s := &Subscriber{
		hub:       h,
		sessionID: sessionID,
		ch:        make(chan []byte, h.buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.sessions[sessionID]
	if !ok {
		subs = make(map[*Subscriber]struct{})
		h.sessions[sessionID] = subs
	}
	subs[s] = struct{}{}
	return s
}

// Events returns the subscriber's delivery channel. It is closed when the
// subscriber is unsubscribed or dropped for falling behind.
func (s *Subscriber) Events() <-chan []byte {
	return s.ch
}

// SessionID returns the session this subscriber is attached to.
func (s *Subscriber) SessionID() string {
	return s.sessionID
}

// Close detaches the subscriber and closes its channel. Safe to call more
// than once, and safe concurrently with Publish.
func (s *Subscriber) Close() {
	s.hub.remove(s)
}

// Publish delivers a payload to every subscriber of the session, in call
// order. Subscribers whose buffers are full are dropped.
func (h *Hub) Publish(sessionID string, payload []byte) {
	h.mu.RLock()
	var dropped []*Subscriber
	for s := range h.sessions[sessionID] {
		select {
		case s.ch <- payload:
		default:
			dropped = append(dropped, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range dropped {
		slog.Warn("Dropping slow event subscriber",
			"session_id", sessionID, "buffer", h.buffer)
		h.remove(s)
	}
}

// SubscriberCount returns the number of subscribers for a session.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// remove detaches a subscriber and closes its channel exactly once.
func (h *Hub) remove(s *Subscriber) {
	h.mu.Lock()
	if subs, ok := h.sessions[s.sessionID]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(h.sessions, s.sessionID)
		}
	}
	h.mu.Unlock()

	s.closeOnce.Do(func() { close(s.ch) })
}
