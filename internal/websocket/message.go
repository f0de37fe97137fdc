package websocket

import (
	"time"

	"github.com/askwhyharsh/safezone/internal/events"
)

// Inbound message types sent by the device.
const (
	MessageTypeFix      = "fix"
	MessageTypeGeoError = "geo_error"
	MessageTypePing     = "ping"
)

// Outbound message types that are not events.
const (
	MessageTypePong   = "pong"
	MessageTypeError  = "error"
	MessageTypeStatus = "status"
)

// Message is what the server writes. Event messages carry the event type
// and payload; replies use the fixed types above.
type Message struct {
	ID        string `json:"id,omitempty"`
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Content   string `json:"content,omitempty"`
	ErrorCode string `json:"code,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type IncomingMessage struct {
	Type      string  `json:"type"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
	Timestamp int64   `json:"timestamp"`
	Code      string  `json:"code"`
}

func NewEventMessage(e events.Event) *Message {
	return &Message{
		ID:        e.ID,
		Type:      string(e.Type),
		Data:      e.Payload,
		Timestamp: e.Timestamp.UnixMilli(),
	}
}

func NewErrorMessage(errMsg, code string) *Message {
	return &Message{
		Type:      MessageTypeError,
		Content:   errMsg,
		ErrorCode: code,
		Timestamp: time.Now().UnixMilli(),
	}
}
