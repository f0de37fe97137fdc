package location

import (
	"errors"
	"fmt"
)

// ErrorCode classifies acquisition failures.
type ErrorCode int

const (
	CodeUnknown ErrorCode = iota
	CodePermissionDenied
	CodePositionUnavailable
	CodeTimeout
	CodeStalePosition
)

func (c ErrorCode) String() string {
	switch c {
	case CodePermissionDenied:
		return "permission_denied"
	case CodePositionUnavailable:
		return "position_unavailable"
	case CodeTimeout:
		return "timeout"
	case CodeStalePosition:
		return "stale_position"
	default:
		return "unknown"
	}
}

// Message is the text shown to the user for this failure class.
func (c ErrorCode) Message() string {
	switch c {
	case CodePermissionDenied:
		return "Location access was denied. Please enable location services in your browser settings."
	case CodePositionUnavailable:
		return "Unable to determine your location. Please check if location services are enabled."
	case CodeTimeout:
		return "Location request timed out. Please check your connection and try again."
	case CodeStalePosition:
		return "Location data is outdated. Trying to get a fresh position."
	default:
		return "Unable to get your location. Please try again."
	}
}

// ParseErrorCode maps a device-reported code name (or the numeric
// geolocation API codes 1-3) to an ErrorCode.
func ParseErrorCode(s string) ErrorCode {
	switch s {
	case "permission_denied", "PERMISSION_DENIED", "1":
		return CodePermissionDenied
	case "position_unavailable", "POSITION_UNAVAILABLE", "2":
		return CodePositionUnavailable
	case "timeout", "TIMEOUT", "3":
		return CodeTimeout
	case "stale_position":
		return CodeStalePosition
	default:
		return CodeUnknown
	}
}

// PositionError is returned by providers and surfaced by the engine.
type PositionError struct {
	Code ErrorCode
	Err  error
}

func NewPositionError(code ErrorCode, err error) *PositionError {
	return &PositionError{Code: code, Err: err}
}

func (e *PositionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code.String()
}

func (e *PositionError) Unwrap() error {
	return e.Err
}

// Message is the user-facing text.
func (e *PositionError) Message() string {
	return e.Code.Message()
}

// Fatal failures need user action before a retry can succeed.
func (e *PositionError) Fatal() bool {
	return e.Code == CodePermissionDenied
}

// Classify converts any error into a PositionError.
func Classify(err error) *PositionError {
	if err == nil {
		return nil
	}
	var pe *PositionError
	if errors.As(err, &pe) {
		return pe
	}
	return &PositionError{Code: CodeUnknown, Err: err}
}
