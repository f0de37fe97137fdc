package safezone

import (
	"fmt"
	"math"
	"time"

	"github.com/askwhyharsh/safezone/internal/location"
	apperrors "github.com/askwhyharsh/safezone/pkg/errors"
)

// Zone is a circular safe area. Radius is always meters here; kilometre
// values from clients are converted before a Zone is built.
type Zone struct {
	ID           string          `json:"id"`
	OwnerID      string          `json:"owner_id"`
	Name         string          `json:"name"`
	Address      string          `json:"address,omitempty"`
	Center       *location.Point `json:"center"`
	RadiusMeters float64         `json:"radius_meters"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Validate reports ErrInvalidZoneGeometry for zones that cannot be evaluated.
func (z Zone) Validate() error {
	if z.Center == nil {
		return fmt.Errorf("%w: zone %s has no center", apperrors.ErrInvalidZoneGeometry, z.ID)
	}
	if !z.Center.Valid() {
		return fmt.Errorf("%w: zone %s center %s out of range", apperrors.ErrInvalidZoneGeometry, z.ID, z.Center)
	}
	if math.IsNaN(z.RadiusMeters) || math.IsInf(z.RadiusMeters, 0) || z.RadiusMeters <= 0 {
		return fmt.Errorf("%w: zone %s radius %v", apperrors.ErrInvalidZoneGeometry, z.ID, z.RadiusMeters)
	}
	return nil
}

// RadiusKm is the radius in the unit clients display.
func (z Zone) RadiusKm() float64 {
	return location.MetersToKm(z.RadiusMeters)
}

// Contains reports whether p lies within the zone, boundary included.
func (z Zone) Contains(p location.Point) bool {
	if z.Validate() != nil {
		return false
	}
	return location.DistanceMeters(p, *z.Center) <= z.RadiusMeters
}
