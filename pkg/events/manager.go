package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// ConnectionManager manages WebSocket connections and their session
// subscriptions. Each process has one instance.
type ConnectionManager struct {
	hub *Hub

	connections map[string]*Connection
	mu          sync.RWMutex

	// Write timeout for WebSocket sends
	writeTimeout time.Duration
}

// Connection represents a single WebSocket client.
//
// subscriptions is accessed without a lock: all reads and writes happen on
// the goroutine that owns this connection (HandleConnection's read loop and
// its deferred cleanup). The pump goroutines only read the Subscriber
// pointer they were started with.
type Connection struct {
	ID            string
	Conn          *websocket.Conn
	subscriptions map[string]*Subscriber // session_id → hub subscriber
	ctx           context.Context
	cancel        context.CancelFunc
	pumps         sync.WaitGroup
}

// NewConnectionManager creates a ConnectionManager delivering events from hub.
func NewConnectionManager(hub *Hub, writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		hub:          hub,
		connections:  make(map[string]*Connection),
		writeTimeout: writeTimeout,
	}
}

// HandleConnection manages the lifecycle of a single WebSocket connection.
// Called by the WebSocket HTTP handler after upgrade. Blocks until the
// connection closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	connID := uuid.New().String()
	ctx, cancel := context.WithCancel(parentCtx)

	c := &Connection{
		ID:            connID,
		Conn:          conn,
		subscriptions: make(map[string]*Subscriber),
		ctx:           ctx,
		cancel:        cancel,
	}

	m.registerConnection(c)
	defer m.unregisterConnection(c)

	m.sendJSON(c, map[string]string{
		"type":          "connection.established",
		"connection_id": connID,
	})

	// Read loop — process client messages until connection closes
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid WebSocket message",
				"connection_id", connID, "error", err)
			continue
		}

		m.handleClientMessage(c, &msg)
	}
}

// ActiveConnections returns the count of active WebSocket connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// handleClientMessage dispatches a client message to the appropriate handler.
func (m *ConnectionManager) handleClientMessage(c *Connection, msg *ClientMessage) {
	switch msg.Action {
	case "join":
		if msg.SessionID == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "session_id is required for join"})
			return
		}
		m.join(c, msg.SessionID)
		m.sendJSON(c, map[string]string{
			"type":       "join.confirmed",
			"session_id": msg.SessionID,
		})

	case "leave":
		if msg.SessionID == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "session_id is required for leave"})
			return
		}
		m.leave(c, msg.SessionID)

	case "ping":
		m.sendJSON(c, map[string]string{"type": "pong"})

	default:
		m.sendJSON(c, map[string]string{"type": "error", "message": "unknown action"})
	}
}

// join subscribes the connection to a session's hub stream and starts a pump
// goroutine forwarding events to the socket. Joining twice is a no-op.
func (m *ConnectionManager) join(c *Connection, sessionID string) {
	if _, ok := c.subscriptions[sessionID]; ok {
		return
	}

	sub := m.hub.Subscribe(sessionID)
	c.subscriptions[sessionID] = sub

	c.pumps.Add(1)
	go func() {
		defer c.pumps.Done()
		for {
			select {
			case payload, ok := <-sub.Events():
				if !ok {
					// Dropped by the hub (slow consumer) or left.
					return
				}
				if err := m.sendRaw(c, payload); err != nil {
					slog.Warn("Failed to send to WebSocket client",
						"connection_id", c.ID, "session_id", sessionID, "error", err)
					sub.Close()
					return
				}
			case <-c.ctx.Done():
				sub.Close()
				return
			}
		}
	}()
}

// leave unsubscribes the connection from a session. The pump goroutine exits
// when the subscriber channel closes.
func (m *ConnectionManager) leave(c *Connection, sessionID string) {
	if sub, ok := c.subscriptions[sessionID]; ok {
		sub.Close()
		delete(c.subscriptions, sessionID)
	}
}

// registerConnection adds a connection to the tracking map.
func (m *ConnectionManager) registerConnection(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
}

// unregisterConnection removes a connection and all its subscriptions.
func (m *ConnectionManager) unregisterConnection(c *Connection) {
	for id, sub := range c.subscriptions {
		sub.Close()
		delete(c.subscriptions, id)
	}

	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()

	c.cancel()
	c.pumps.Wait()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")
}

// sendJSON marshals and sends a JSON message to a single connection.
func (m *ConnectionManager) sendJSON(c *Connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket message",
			"connection_id", c.ID, "error", err)
		return
	}
	if err := m.sendRaw(c, data); err != nil {
		slog.Warn("Failed to send WebSocket message",
			"connection_id", c.ID, "error", err)
	}
}

// sendRaw sends raw bytes to a single connection with a write timeout.
func (m *ConnectionManager) sendRaw(c *Connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.Conn.Write(writeCtx, websocket.MessageText, data)
}
