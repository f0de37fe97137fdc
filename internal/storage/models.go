package storage

import (
	"time"

	"github.com/askwhyharsh/safezone/internal/location"
)

// Contact is an emergency contact who receives SMS alerts.
type Contact struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Name         string    `json:"name"`
	PhoneNumber  string    `json:"phone_number"`
	Relationship string    `json:"relationship,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

const (
	IncidentStatusPending  = "pending"
	IncidentStatusResolved = "resolved"
)

// Incident is a user-filed safety report. SOS alerts are recorded as
// critical incidents.
type Incident struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Severity    string          `json:"severity"`
	Status      string          `json:"status"`
	Location    *location.Point `json:"location,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
