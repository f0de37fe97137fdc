package location

import (
	"fmt"
	"math"
)

const EarthRadiusMeters = 6371000.0 // Earth's radius in meters

// Point is a WGS84 coordinate pair in decimal degrees.
type Point struct {
	Lat float64 `json:"latitude"`
	Lng float64 `json:"longitude"`
}

// Valid reports whether both coordinates are finite and within range.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) || math.IsNaN(p.Lng) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

func (p Point) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}

// DistanceMeters returns the great-circle distance between a and b.
func DistanceMeters(a, b Point) float64 {
	return HaversineDistance(a.Lat, a.Lng, b.Lat, b.Lng)
}

// HaversineDistance calculates the distance between two points on Earth in meters
func HaversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := ToRadians(lat1)
	lat2Rad := ToRadians(lat2)
	deltaLat := ToRadians(lat2 - lat1)
	deltaLon := ToRadians(lon2 - lon1)

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)

	// Rounding can push a slightly past 1 for antipodal points.
	a = math.Min(1, math.Max(0, a))

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// RoundToNearest50 rounds distance to the nearest 50 meters for privacy
func RoundToNearest50(distance float64) int {
	return int(math.Round(distance/50.0) * 50)
}

// FormatDistance returns a privacy-preserving distance string
func FormatDistance(distance float64) string {
	rounded := RoundToNearest50(distance)
	if rounded < 1000 {
		return fmt.Sprintf("~%dm", rounded)
	}
	return fmt.Sprintf("~%.1fkm", float64(rounded)/1000.0)
}

func ToRadians(degrees float64) float64 {
	return degrees * math.Pi / 180.0
}

func ToDegrees(radians float64) float64 {
	return radians * 180.0 / math.Pi
}

// KmToMeters and MetersToKm are only used at the API boundary; everything
// inside the service works in meters.
func KmToMeters(km float64) float64 {
	return km * 1000.0
}

func MetersToKm(m float64) float64 {
	return m / 1000.0
}
