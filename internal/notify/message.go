package notify

import (
	"fmt"
	"strconv"

	"github.com/askwhyharsh/safezone/internal/location"
)

// Kind selects the body template of an alert.
type Kind int

const (
	// KindAlert is the generic location alert.
	KindAlert Kind = iota
	// KindEmergency is the SOS template with a tracking link.
	KindEmergency
	// KindUpdate is an informational message with a location link.
	KindUpdate
)

// Alert is one message to fan out to contacts.
type Alert struct {
	Kind     Kind
	Message  string
	Location *location.Point
}

// MapsURL links to the point on Google Maps.
func MapsURL(p location.Point) string {
	return "https://www.google.com/maps?q=" +
		strconv.FormatFloat(p.Lat, 'f', -1, 64) + "," +
		strconv.FormatFloat(p.Lng, 'f', -1, 64)
}

// Body renders the SMS text.
func (a Alert) Body() string {
	switch a.Kind {
	case KindEmergency:
		if a.Location == nil {
			return fmt.Sprintf("%s\n\nThis is an emergency alert. Please respond immediately.", a.Message)
		}
		return fmt.Sprintf("%s\n\nTrack location: %s\n\nThis is an emergency alert. Please respond immediately.",
			a.Message, MapsURL(*a.Location))
	case KindUpdate:
		if a.Location == nil {
			return a.Message
		}
		return fmt.Sprintf("%s\n\nCurrent location: %s", a.Message, MapsURL(*a.Location))
	default:
		if a.Location == nil {
			return a.Message
		}
		return fmt.Sprintf("EMERGENCY: %s\n\nLocation: %s\n\nPlease respond immediately if you receive this message.",
			a.Message, MapsURL(*a.Location))
	}
}

func SharingStartedMessage(name string) string {
	return fmt.Sprintf("%s has started sharing their live location with you.", displayName(name))
}

func SharingStoppedMessage(name string) string {
	return fmt.Sprintf("%s has stopped sharing their location.", displayName(name))
}

func ZoneExitMessage(name, zone string) string {
	return fmt.Sprintf("Alert: %s has left the safe zone %q!", displayName(name), zone)
}

func SOSMessage(name string) string {
	if name == "" {
		name = "A user"
	}
	return fmt.Sprintf("EMERGENCY: %s needs immediate assistance!", name)
}

func displayName(name string) string {
	if name == "" {
		return "Your contact"
	}
	return name
}
