package location

import (
	"github.com/mmcloughlin/geohash"
)

// EncodeGeohash encodes a point at the given character precision (1-12).
func EncodeGeohash(p Point, precision int) string {
	if precision < 1 {
		precision = 1
	}
	if precision > 12 {
		precision = 12
	}
	return geohash.EncodeWithPrecision(p.Lat, p.Lng, uint(precision))
}

// DecodeGeohash returns the center of the cell.
func DecodeGeohash(hash string) Point {
	lat, lng := geohash.DecodeCenter(hash)
	return Point{Lat: lat, Lng: lng}
}

// GeohashNeighbors returns the eight cells surrounding hash.
func GeohashNeighbors(hash string) []string {
	return geohash.Neighbors(hash)
}

// GeohashCells returns hash followed by its neighbors, the set of cells
// to scan for anything within one cell width of a point.
func GeohashCells(hash string) []string {
	return append([]string{hash}, GeohashNeighbors(hash)...)
}

// PrecisionForRadius picks the finest precision whose cell is still at
// least as wide as radiusMeters, so a center+neighbors scan covers the radius.
func PrecisionForRadius(radiusMeters float64) int {
	// Approximate cell widths at the equator, indexed by precision.
	widths := []float64{0, 5000000, 1250000, 156000, 39100, 4890, 1220, 153, 38.2, 4.77, 1.19, 0.149, 0.0372}
	for p := 12; p >= 1; p-- {
		if widths[p] >= radiusMeters {
			return p
		}
	}
	return 1
}
