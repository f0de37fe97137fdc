package validator

import (
	"math"
	"regexp"
	"strings"

	apperrors "github.com/askwhyharsh/safezone/pkg/errors"
)

type Validator interface {
	ValidateCoordinates(lat, lon float64) error
	ValidateRadiusMeters(radius float64) error
	ValidateZoneName(name string) error
	ValidateContactName(name string) error
	ValidatePhone(phone string) error
	ValidateIncident(title, description string) error
	ValidateSeverity(severity string) error
}

type validator struct {
	minRadius  float64
	maxRadius  float64
	phoneRegex *regexp.Regexp
}

// NewValidator builds a validator with the allowed safe-zone radius range in meters.
func NewValidator(minRadiusMeters, maxRadiusMeters float64) Validator {
	return &validator{
		minRadius:  minRadiusMeters,
		maxRadius:  maxRadiusMeters,
		phoneRegex: regexp.MustCompile(`^\+\d{1,15}$`),
	}
}

func (v *validator) ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lon) || math.IsInf(lon, 0) {
		return apperrors.ErrInvalidCoordinates
	}

	if lat < -90 || lat > 90 {
		return apperrors.ErrInvalidLatitude
	}

	if lon < -180 || lon > 180 {
		return apperrors.ErrInvalidLongitude
	}

	return nil
}

func (v *validator) ValidateRadiusMeters(radius float64) error {
	if math.IsNaN(radius) || radius <= 0 || radius < v.minRadius || radius > v.maxRadius {
		return apperrors.ErrInvalidRadius
	}

	return nil
}

func (v *validator) ValidateZoneName(name string) error {
	trimmed := strings.TrimSpace(name)
	if len(trimmed) == 0 || len(trimmed) > 100 {
		return apperrors.ErrInvalidZoneName
	}
	return nil
}

func (v *validator) ValidateContactName(name string) error {
	trimmed := strings.TrimSpace(name)
	if len(trimmed) == 0 || len(trimmed) > 100 {
		return apperrors.ErrInvalidContactName
	}
	return nil
}

// ValidatePhone expects an already normalised E.164 number.
func (v *validator) ValidatePhone(phone string) error {
	if !v.phoneRegex.MatchString(phone) {
		return apperrors.ErrInvalidPhone
	}
	return nil
}

func (v *validator) ValidateIncident(title, description string) error {
	t := strings.TrimSpace(title)
	if len(t) < 3 || len(t) > 120 || len(description) > 2000 {
		return apperrors.ErrInvalidIncident
	}
	return nil
}

func (v *validator) ValidateSeverity(severity string) error {
	switch severity {
	case "low", "medium", "high", "critical":
		return nil
	}
	return apperrors.ErrInvalidSeverity
}
