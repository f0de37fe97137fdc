// Package sos handles the emergency button: every contact gets an alert
// with the user's location, an incident is recorded and sharing is turned
// on so contacts can follow along.
package sos

import (
	"context"

	"github.com/google/uuid"

	"github.com/askwhyharsh/safezone/internal/events"
	"github.com/askwhyharsh/safezone/internal/location"
	"github.com/askwhyharsh/safezone/internal/notify"
	"github.com/askwhyharsh/safezone/internal/sharing"
	"github.com/askwhyharsh/safezone/internal/storage"
	apperrors "github.com/askwhyharsh/safezone/pkg/errors"
	"github.com/askwhyharsh/safezone/pkg/logger"
)

const (
	IncidentTitle       = "SOS Emergency Alert"
	IncidentDescription = "Emergency assistance requested via SOS button"
	IncidentCategory    = "other"
	IncidentSeverity    = "critical"
)

type IncidentRecorder interface {
	CreateIncident(ctx context.Context, i *storage.Incident) error
}

type SharingEnabler interface {
	EnableSharing(ctx context.Context, userID, displayName string, pos *location.Position) bool
}

type PositionSource interface {
	LastPosition(userID string) (*location.Position, bool)
}

type EventSink interface {
	Broadcast(e events.Event)
}

type Request struct {
	UserID      string
	DisplayName string
	// Message overrides the default alert text.
	Message string
	// Position overrides the monitor's last known position.
	Position *location.Point
}

type Result struct {
	IncidentID     string          `json:"incident_id,omitempty"`
	Sent           int             `json:"sent"`
	Failed         int             `json:"failed"`
	Location       *location.Point `json:"location,omitempty"`
	SharingEnabled bool            `json:"sharing_enabled"`
}

type Service struct {
	contacts  sharing.ContactLister
	notifier  sharing.Notifier
	incidents IncidentRecorder
	sharing   SharingEnabler
	positions PositionSource
	events    EventSink
	logger    logger.Logger
}

func NewService(
	contacts sharing.ContactLister,
	notifier sharing.Notifier,
	incidents IncidentRecorder,
	share SharingEnabler,
	positions PositionSource,
	sink EventSink,
	log logger.Logger,
) *Service {
	return &Service{
		contacts:  contacts,
		notifier:  notifier,
		incidents: incidents,
		sharing:   share,
		positions: positions,
		events:    sink,
		logger:    log,
	}
}

// Trigger raises an SOS. It fails only when there is nobody to alert;
// delivery, incident and sharing failures are logged and reflected in the
// result.
func (s *Service) Trigger(ctx context.Context, req Request) (*Result, error) {
	if req.Position != nil && !req.Position.Valid() {
		return nil, apperrors.ErrInvalidCoordinates
	}

	contacts, err := s.contacts.ListContacts(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if len(contacts) == 0 {
		return nil, apperrors.ErrNoContacts
	}

	var pos *location.Position
	switch {
	case req.Position != nil:
		pos = &location.Position{Point: *req.Position, Source: location.SourceManual}
	case s.positions != nil:
		if p, ok := s.positions.LastPosition(req.UserID); ok {
			pos = p
		}
	}

	res := &Result{}
	if pos != nil {
		pt := pos.Point
		res.Location = &pt
	}

	msg := req.Message
	if msg == "" {
		msg = notify.SOSMessage(req.DisplayName)
	}
	sent := s.notifier.Broadcast(ctx, sharing.Recipients(contacts), notify.Alert{
		Kind:     notify.KindEmergency,
		Message:  msg,
		Location: res.Location,
	})
	res.Sent, res.Failed = sent.Sent, len(sent.Failed)

	incident := &storage.Incident{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		Title:       IncidentTitle,
		Description: IncidentDescription,
		Category:    IncidentCategory,
		Severity:    IncidentSeverity,
		Status:      storage.IncidentStatusPending,
		Location:    res.Location,
	}
	if err := s.incidents.CreateIncident(ctx, incident); err != nil {
		s.logger.Error("Failed to record SOS incident", "user_id", req.UserID, "error", err)
	} else {
		res.IncidentID = incident.ID
	}

	if s.sharing != nil {
		s.sharing.EnableSharing(ctx, req.UserID, req.DisplayName, pos)
		res.SharingEnabled = true
	}

	s.logger.Warn("SOS triggered", "user_id", req.UserID, "sent", res.Sent, "failed", res.Failed)
	if s.events != nil {
		s.events.Broadcast(events.New(req.UserID, events.TypeSOS, res))
	}
	return res, nil
}
