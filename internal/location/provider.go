package location

import (
	"context"
	"time"
)

// Source says where a position came from.
type Source string

const (
	SourceDevice Source = "device"
	SourceIP     Source = "ip"
	SourceManual Source = "manual"
)

// Fix is a raw reading as reported by a provider.
type Fix struct {
	Lat       float64
	Lng       float64
	Accuracy  float64
	Timestamp time.Time
}

func (f Fix) Point() Point {
	return Point{Lat: f.Lat, Lng: f.Lng}
}

// Position is an accepted, validated fix.
type Position struct {
	Point
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
	Source    Source    `json:"source"`
}

// PositionOptions mirrors the options of a platform geolocation request.
type PositionOptions struct {
	EnableHighAccuracy bool
	Timeout            time.Duration
	MaximumAge         time.Duration
}

// WatchID identifies an open watch on a provider.
type WatchID int64

// Provider is the platform location service the engine drives.
// Callbacks may be invoked from any goroutine.
type Provider interface {
	CurrentPosition(ctx context.Context, opts PositionOptions) (Fix, error)
	WatchPosition(opts PositionOptions, onFix func(Fix), onErr func(error)) (WatchID, error)
	ClearWatch(id WatchID)
}
