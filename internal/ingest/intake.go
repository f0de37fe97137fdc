// Package ingest accepts raw device readings from every transport (HTTP,
// websocket, MQTT) and feeds them to the user's location feed.
package ingest

import (
	"context"
	"time"

	"github.com/askwhyharsh/safezone/internal/location"
	apperrors "github.com/askwhyharsh/safezone/pkg/errors"
	"github.com/askwhyharsh/safezone/pkg/logger"
)

// FixLimiter is satisfied by ratelimit.Limiter.
type FixLimiter interface {
	AllowFix(ctx context.Context, userID string) (bool, error)
}

// FixInput is a device reading as sent on the wire. Timestamp is Unix
// milliseconds, like the browser geolocation API; zero means "now".
type FixInput struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
	Timestamp int64   `json:"timestamp"`
}

// ErrorInput is a device-side geolocation failure.
type ErrorInput struct {
	Code string `json:"code"`
}

type Intake struct {
	feeds   *location.FeedRegistry
	limiter FixLimiter
	logger  logger.Logger
	now     func() time.Time
}

func NewIntake(feeds *location.FeedRegistry, limiter FixLimiter, log logger.Logger) *Intake {
	return &Intake{
		feeds:   feeds,
		limiter: limiter,
		logger:  log,
		now:     time.Now,
	}
}

// SubmitFix validates and rate limits a reading, then pushes it to the
// user's feed. Readings for users without a running monitor are rejected
// with ErrMonitorNotRunning.
func (i *Intake) SubmitFix(ctx context.Context, userID string, in FixInput) error {
	now := i.now()
	fix := location.Fix{
		Lat:       in.Latitude,
		Lng:       in.Longitude,
		Accuracy:  in.Accuracy,
		Timestamp: now,
	}
	if in.Timestamp > 0 {
		if ts := time.UnixMilli(in.Timestamp); ts.Before(now) {
			fix.Timestamp = ts
		}
	}
	if !fix.Point().Valid() || in.Accuracy < 0 {
		return apperrors.ErrInvalidCoordinates
	}

	feed, ok := i.feeds.Lookup(userID)
	if !ok {
		return apperrors.ErrMonitorNotRunning
	}

	if i.limiter != nil {
		allowed, err := i.limiter.AllowFix(ctx, userID)
		if err != nil {
			return err
		}
		if !allowed {
			return apperrors.ErrRateLimitExceeded
		}
	}

	feed.Push(fix)
	return nil
}

// SubmitError forwards a device-reported failure such as a revoked
// permission.
func (i *Intake) SubmitError(userID string, in ErrorInput) location.ErrorCode {
	code := location.ParseErrorCode(in.Code)
	i.logger.Debug("Device reported location error", "user_id", userID, "code", code.String())
	if feed, ok := i.feeds.Lookup(userID); ok {
		feed.PushError(code)
	}
	return code
}
