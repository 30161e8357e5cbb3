package notification

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SSEClient represents an active SSE connection. A client may subscribe to
// a single session or to all sessions.
type SSEClient struct {
	ClientID    string
	SessionID   *string
	ConnectedAt time.Time
	MessageChan chan *SSEMessage
}

// NewSSEClient creates a new SSE client.
func NewSSEClient(clientID string, sessionID *string) *SSEClient {
	return &SSEClient{
		ClientID:    clientID,
		SessionID:   sessionID,
		ConnectedAt: time.Now().UTC(),
		MessageChan: make(chan *SSEMessage, 100),
	}
}

// Close closes the client's message channel.
func (c *SSEClient) Close() {
	close(c.MessageChan)
}

// SSEMessage represents a message to be sent via SSE.
type SSEMessage struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewSSEMessage creates a new SSE message.
func NewSSEMessage(event string, data json.RawMessage) *SSEMessage {
	return &SSEMessage{
		ID:        uuid.New().String(),
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// SSEHub abstracts the broadcast surface used by renderers.
type SSEHub interface {
	BroadcastToAll(message *SSEMessage)
	BroadcastToSession(sessionID string, message *SSEMessage)
}
