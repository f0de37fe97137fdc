package errors

import "errors"

var (
	// Session errors
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionExpired   = errors.New("session expired")
	ErrInvalidSessionID = errors.New("invalid session ID")

	// Validation errors
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	ErrInvalidLatitude    = errors.New("latitude must be between -90 and 90")
	ErrInvalidLongitude   = errors.New("longitude must be between -180 and 180")
	ErrInvalidRadius      = errors.New("radius must be a positive number of meters within the allowed range")
	ErrInvalidZoneName    = errors.New("zone name must be 1-100 characters")
	ErrInvalidPhone       = errors.New("invalid phone number format")
	ErrInvalidContactName = errors.New("contact name must be 1-100 characters")
	ErrInvalidIncident    = errors.New("incident title must be 3-120 characters and description at most 2000")
	ErrInvalidSeverity    = errors.New("severity must be one of low, medium, high, critical")

	// Geofence errors
	ErrInvalidZoneGeometry = errors.New("invalid zone geometry")
	ErrZoneNotFound        = errors.New("safe zone not found")

	// Contact / dispatch errors
	ErrContactNotFound  = errors.New("emergency contact not found")
	ErrNoContacts       = errors.New("no emergency contacts configured")
	ErrDispatchFailure  = errors.New("failed to send alert")
	ErrSenderNotEnabled = errors.New("sms sender not configured")

	// Monitor errors
	ErrMonitorNotRunning = errors.New("location monitor not running")
	ErrMonitorRunning    = errors.New("location monitor already running")

	// Rate limit errors
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrTooManyRequests   = errors.New("too many requests")

	// Spam errors
	ErrSpamDetected      = errors.New("spam detected")
	ErrDuplicateReport   = errors.New("duplicate report")
	ErrURLSpam           = errors.New("too many URLs in report")
	ErrProfanityDetected = errors.New("profanity detected")

	// WebSocket errors
	ErrWebSocketClosed    = errors.New("websocket connection closed")
	ErrInvalidMessageType = errors.New("invalid message type")

	// Storage errors
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrDataNotFound       = errors.New("data not found")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewAppError(err error, message string, statusCode int) *AppError {
	return &AppError{
		Err:        err,
		Message:    message,
		StatusCode: statusCode,
	}
}
