// Package events carries monitor output to websocket clients and, when
// configured, to a RabbitMQ exchange.
package events

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypePosition        Type = "position"
	TypeEngineState     Type = "engine_state"
	TypeEvaluation      Type = "evaluation"
	TypeZoneExit        Type = "zone_exit"
	TypeZoneExitCleared Type = "zone_exit_cleared"
	TypeSharing         Type = "sharing"
	TypeSOS             Type = "sos"
)

// Event is one notification about a user's safety state.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

func New(userID string, typ Type, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		UserID:    userID,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}
