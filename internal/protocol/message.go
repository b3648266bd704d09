package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a server-originated message with the current timestamp.
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		Type:      msgType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Server → Client message types.
const (
	TypeLogEntry          = "log.entry"
	TypeSessionSubscribed = "session.subscribed"
	TypeError             = "error"
)

// Client → Server message types.
const (
	TypeSessionSubscribe   = "session.subscribe"
	TypeSessionUnsubscribe = "session.unsubscribe"
)

// Error codes.
const (
	ErrInvalidMessage = "INVALID_MESSAGE"
)

// Server → Client payloads.

// LogEntryPayload carries text newly appended to a session log file.
type LogEntryPayload struct {
	SessionID string `json:"sessionId"`
	Date      string `json:"date"`
	File      string `json:"file"`
	Data      string `json:"data"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Client → Server payloads.

type SessionIDPayload struct {
	SessionID string `json:"sessionId"`
}
