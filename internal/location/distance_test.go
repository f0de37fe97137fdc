package location

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversineDistance(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Point
		expected float64
		delta    float64
	}{
		{"same point", Point{12.97, 77.59}, Point{12.97, 77.59}, 0, 1e-9},
		{"one degree of longitude at equator", Point{0, 0}, Point{0, 1}, 111195, 1},
		{"small diagonal", Point{0, 0}, Point{0.001, 0.001}, 157.25, 0.5},
		{"about 1.57km", Point{0, 0}, Point{0.01, 0.01}, 1572.5, 1},
		{"antipodal", Point{0, 0}, Point{0, 180}, math.Pi * EarthRadiusMeters, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, DistanceMeters(tt.a, tt.b), tt.delta)
		})
	}
}

func TestDistanceMeters_Symmetric(t *testing.T) {
	pairs := [][2]Point{
		{{51.5007, -0.1246}, {40.6892, -74.0445}},
		{{-33.8568, 151.2153}, {35.6586, 139.7454}},
		{{89.9, 10}, {-89.9, -170}},
	}
	for _, p := range pairs {
		d1 := DistanceMeters(p[0], p[1])
		d2 := DistanceMeters(p[1], p[0])
		assert.InDelta(t, d1, d2, 1e-6)
		assert.GreaterOrEqual(t, d1, 0.0)
	}
}

func TestUnitConversion(t *testing.T) {
	assert.Equal(t, 500.0, KmToMeters(0.5))
	assert.Equal(t, 0.5, MetersToKm(500))
	assert.InDelta(t, math.Pi, ToRadians(180), 1e-12)
	assert.InDelta(t, 180.0, ToDegrees(math.Pi), 1e-12)
}

func TestRoundToNearest50(t *testing.T) {
	assert.Equal(t, 0, RoundToNearest50(10))
	assert.Equal(t, 50, RoundToNearest50(30))
	assert.Equal(t, 150, RoundToNearest50(157))
	assert.Equal(t, 1550, RoundToNearest50(1572))
}

func TestFormatDistance(t *testing.T) {
	assert.Equal(t, "~150m", FormatDistance(157))
	assert.Equal(t, "~1.6km", FormatDistance(1572))
}

func TestPointValid(t *testing.T) {
	assert.True(t, Point{Lat: 0, Lng: 0}.Valid())
	assert.True(t, Point{Lat: -90, Lng: 180}.Valid())
	assert.False(t, Point{Lat: 91, Lng: 0}.Valid())
	assert.False(t, Point{Lat: 0, Lng: -181}.Valid())
	assert.False(t, Point{Lat: math.NaN(), Lng: 0}.Valid())
	assert.False(t, Point{Lat: 0, Lng: math.Inf(1)}.Valid())
}
