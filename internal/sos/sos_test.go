package sos

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askwhyharsh/safezone/internal/events"
	"github.com/askwhyharsh/safezone/internal/location"
	"github.com/askwhyharsh/safezone/internal/notify"
	"github.com/askwhyharsh/safezone/internal/storage"
	apperrors "github.com/askwhyharsh/safezone/pkg/errors"
	"github.com/askwhyharsh/safezone/pkg/logger"
)

type stubContacts struct {
	contacts []storage.Contact
	err      error
}

func (s *stubContacts) ListContacts(context.Context, string) ([]storage.Contact, error) {
	return s.contacts, s.err
}

type recordingNotifier struct {
	alerts []notify.Alert
	failed int
}

func (r *recordingNotifier) Broadcast(_ context.Context, recipients []notify.Recipient, alert notify.Alert) notify.Result {
	r.alerts = append(r.alerts, alert)
	res := notify.Result{Sent: len(recipients) - r.failed}
	for i := 0; i < r.failed; i++ {
		res.Failed = append(res.Failed, notify.Failure{Err: errors.New("carrier rejected")})
	}
	return res
}

type stubIncidents struct {
	created []*storage.Incident
	err     error
}

func (s *stubIncidents) CreateIncident(_ context.Context, i *storage.Incident) error {
	if s.err != nil {
		return s.err
	}
	s.created = append(s.created, i)
	return nil
}

type stubSharing struct {
	enabled []string
	pos     *location.Position
}

func (s *stubSharing) EnableSharing(_ context.Context, userID, _ string, pos *location.Position) bool {
	s.enabled = append(s.enabled, userID)
	s.pos = pos
	return true
}

type stubPositions struct{ pos *location.Position }

func (s stubPositions) LastPosition(string) (*location.Position, bool) {
	return s.pos, s.pos != nil
}

type recordingSink struct{ events []events.Event }

func (r *recordingSink) Broadcast(e events.Event) { r.events = append(r.events, e) }

type fixture struct {
	svc       *Service
	contacts  *stubContacts
	notifier  *recordingNotifier
	incidents *stubIncidents
	sharing   *stubSharing
	sink      *recordingSink
}

func newFixture(last *location.Position) *fixture {
	f := &fixture{
		contacts: &stubContacts{contacts: []storage.Contact{
			{ID: "c1", PhoneNumber: "+15550000001"},
			{ID: "c2", PhoneNumber: "+15550000002"},
		}},
		notifier:  &recordingNotifier{},
		incidents: &stubIncidents{},
		sharing:   &stubSharing{},
		sink:      &recordingSink{},
	}
	f.svc = NewService(f.contacts, f.notifier, f.incidents, f.sharing, stubPositions{last}, f.sink, logger.NewNop())
	return f
}

func TestTrigger_UsesLastKnownPosition(t *testing.T) {
	last := &location.Position{Point: location.Point{Lat: 12.9716, Lng: 77.5946}, Source: location.SourceDevice}
	f := newFixture(last)

	res, err := f.svc.Trigger(context.Background(), Request{UserID: "u1", DisplayName: "Asha"})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, last.Point, *res.Location)
	assert.True(t, res.SharingEnabled)

	require.Len(t, f.notifier.alerts, 1)
	alert := f.notifier.alerts[0]
	assert.Equal(t, notify.KindEmergency, alert.Kind)
	assert.Equal(t, "EMERGENCY: Asha needs immediate assistance!", alert.Message)
	assert.Contains(t, alert.Body(), "Track location: https://www.google.com/maps?q=12.9716,77.5946")

	require.Len(t, f.incidents.created, 1)
	inc := f.incidents.created[0]
	assert.Equal(t, IncidentTitle, inc.Title)
	assert.Equal(t, "critical", inc.Severity)
	assert.Equal(t, storage.IncidentStatusPending, inc.Status)
	assert.Equal(t, res.IncidentID, inc.ID)

	assert.Equal(t, []string{"u1"}, f.sharing.enabled)
	assert.Equal(t, last, f.sharing.pos)

	require.Len(t, f.sink.events, 1)
	assert.Equal(t, events.TypeSOS, f.sink.events[0].Type)
}

func TestTrigger_ExplicitPositionAndMessage(t *testing.T) {
	f := newFixture(nil)
	p := location.Point{Lat: 40.7, Lng: -74}

	res, err := f.svc.Trigger(context.Background(), Request{UserID: "u1", Message: "Followed home", Position: &p})
	require.NoError(t, err)
	assert.Equal(t, p, *res.Location)
	assert.Equal(t, "Followed home", f.notifier.alerts[0].Message)
	assert.Equal(t, location.SourceManual, f.sharing.pos.Source)
}

func TestTrigger_WithoutPositionStillAlerts(t *testing.T) {
	f := newFixture(nil)

	res, err := f.svc.Trigger(context.Background(), Request{UserID: "u1"})
	require.NoError(t, err)
	assert.Nil(t, res.Location)
	assert.Nil(t, f.notifier.alerts[0].Location)
	assert.Nil(t, f.incidents.created[0].Location)
	assert.Equal(t, "EMERGENCY: A user needs immediate assistance!", f.notifier.alerts[0].Message)
}

func TestTrigger_NoContacts(t *testing.T) {
	f := newFixture(nil)
	f.contacts.contacts = nil

	_, err := f.svc.Trigger(context.Background(), Request{UserID: "u1"})
	assert.ErrorIs(t, err, apperrors.ErrNoContacts)
	assert.Empty(t, f.notifier.alerts)
	assert.Empty(t, f.incidents.created)
}

func TestTrigger_InvalidPosition(t *testing.T) {
	f := newFixture(nil)
	_, err := f.svc.Trigger(context.Background(), Request{UserID: "u1", Position: &location.Point{Lat: 100}})
	assert.ErrorIs(t, err, apperrors.ErrInvalidCoordinates)
}

func TestTrigger_PartialFailures(t *testing.T) {
	f := newFixture(nil)
	f.notifier.failed = 1
	f.incidents.err = errors.New("db down")

	res, err := f.svc.Trigger(context.Background(), Request{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 1, res.Failed)
	assert.Empty(t, res.IncidentID)
	assert.True(t, res.SharingEnabled)
}

func TestTrigger_ContactLookupError(t *testing.T) {
	f := newFixture(nil)
	f.contacts.err = errors.New("db down")
	_, err := f.svc.Trigger(context.Background(), Request{UserID: "u1"})
	assert.Error(t, err)
}
