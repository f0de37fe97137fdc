package ratelimit

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type Middleware struct {
	limiter RateLimiter
}

func NewMiddleware(limiter RateLimiter) *Middleware {
	return &Middleware{
		limiter: limiter,
	}
}

// Global is a process-wide token bucket in front of everything, so a burst
// never reaches Redis.
func Global(rps int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	limiter := rate.NewLimiter(rate.Limit(rps), rps)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			abort(c, http.StatusTooManyRequests, "Server is busy. Please try again later.", "RATE_LIMIT_GLOBAL")
			return
		}
		c.Next()
	}
}

// IPRateLimit middleware for general IP-based rate limiting
func (m *Middleware) IPRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, err := m.limiter.AllowIPRequest(c.Request.Context(), c.ClientIP())
		if err != nil {
			abort(c, http.StatusInternalServerError, "Failed to check rate limit", "INTERNAL_ERROR")
			return
		}

		if !allowed {
			abort(c, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.", "RATE_LIMIT_IP")
			return
		}

		c.Next()
	}
}

// abort writes the same envelope as the api package's ErrorResponse.
func abort(c *gin.Context, status int, message, code string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"message": message,
			"code":    code,
		},
	})
}
