package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/askwhyharsh/safezone/pkg/errors"
)

type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorData  `json:"error,omitempty"`
}

type ErrorData struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func SuccessResponse(data interface{}) Response {
	return Response{
		Success: true,
		Data:    data,
	}
}

func ErrorResponse(message, code string) Response {
	return Response{
		Success: false,
		Error: &ErrorData{
			Message: message,
			Code:    code,
		},
	}
}

var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{apperrors.ErrInvalidCoordinates, http.StatusBadRequest, "INVALID_COORDINATES"},
	{apperrors.ErrInvalidLatitude, http.StatusBadRequest, "INVALID_COORDINATES"},
	{apperrors.ErrInvalidLongitude, http.StatusBadRequest, "INVALID_COORDINATES"},
	{apperrors.ErrInvalidRadius, http.StatusBadRequest, "INVALID_RADIUS"},
	{apperrors.ErrInvalidZoneName, http.StatusBadRequest, "INVALID_ZONE_NAME"},
	{apperrors.ErrInvalidZoneGeometry, http.StatusBadRequest, "INVALID_ZONE"},
	{apperrors.ErrInvalidPhone, http.StatusBadRequest, "INVALID_PHONE"},
	{apperrors.ErrInvalidContactName, http.StatusBadRequest, "INVALID_CONTACT_NAME"},
	{apperrors.ErrInvalidIncident, http.StatusBadRequest, "INVALID_INCIDENT"},
	{apperrors.ErrInvalidSeverity, http.StatusBadRequest, "INVALID_SEVERITY"},
	{apperrors.ErrZoneNotFound, http.StatusNotFound, "ZONE_NOT_FOUND"},
	{apperrors.ErrContactNotFound, http.StatusNotFound, "CONTACT_NOT_FOUND"},
	{apperrors.ErrSessionNotFound, http.StatusNotFound, "SESSION_NOT_FOUND"},
	{apperrors.ErrNoContacts, http.StatusUnprocessableEntity, "NO_CONTACTS"},
	{apperrors.ErrMonitorNotRunning, http.StatusConflict, "MONITOR_NOT_RUNNING"},
	{apperrors.ErrRateLimitExceeded, http.StatusTooManyRequests, "RATE_LIMIT"},
	{apperrors.ErrProfanityDetected, http.StatusBadRequest, "PROFANITY"},
	{apperrors.ErrURLSpam, http.StatusBadRequest, "SPAM_DETECTED"},
	{apperrors.ErrDuplicateReport, http.StatusConflict, "DUPLICATE_REPORT"},
	{apperrors.ErrSpamDetected, http.StatusBadRequest, "SPAM_DETECTED"},
}

// toAppError classifies err for the HTTP layer. Unknown errors become a
// generic 500 so internals are not leaked.
func toAppError(err error) *apperrors.AppError {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return apperrors.NewAppError(e.err, err.Error(), e.status)
		}
	}
	return apperrors.NewAppError(err, "Internal server error", http.StatusInternalServerError)
}

func errorCode(appErr *apperrors.AppError) string {
	for _, e := range errorCodes {
		if errors.Is(appErr.Err, e.err) {
			return e.code
		}
	}
	return "INTERNAL_ERROR"
}

// respondError writes err with the status and code it maps to.
func respondError(c *gin.Context, err error) {
	appErr := toAppError(err)
	c.JSON(appErr.StatusCode, ErrorResponse(appErr.Error(), errorCode(appErr)))
}
