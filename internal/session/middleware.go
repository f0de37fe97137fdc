package session

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/askwhyharsh/safezone/pkg/errors"
)

const contextKey = "session"

// Validator resolves a session id to a live session.
type Validator interface {
	ValidateSession(ctx context.Context, sessionID string) (*Session, error)
}

// IDFromRequest reads the session id from the X-Session-ID header or the
// session_id query parameter.
func IDFromRequest(c *gin.Context) string {
	if id := c.GetHeader("X-Session-ID"); id != "" {
		return id
	}
	return c.Query("session_id")
}

// RequireSession rejects requests without a live session and stores the
// session on the gin context for handlers.
func RequireSession(v Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := IDFromRequest(c)
		if id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   gin.H{"message": "Session ID required", "code": "SESSION_REQUIRED"},
			})
			return
		}

		s, err := v.ValidateSession(c.Request.Context(), id)
		if err != nil {
			status, code := http.StatusInternalServerError, "INTERNAL_ERROR"
			if errors.Is(err, apperrors.ErrSessionExpired) || errors.Is(err, apperrors.ErrInvalidSessionID) {
				status, code = http.StatusUnauthorized, "INVALID_SESSION"
			}
			c.AbortWithStatusJSON(status, gin.H{
				"success": false,
				"error":   gin.H{"message": err.Error(), "code": code},
			})
			return
		}

		c.Set(contextKey, s)
		c.Next()
	}
}

// FromContext returns the session stored by RequireSession.
func FromContext(c *gin.Context) (*Session, bool) {
	v, ok := c.Get(contextKey)
	if !ok {
		return nil, false
	}
	s, ok := v.(*Session)
	return s, ok
}
