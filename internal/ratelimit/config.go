package ratelimit

import "github.com/askwhyharsh/safezone/internal/config"

// DefaultConfig matches the limits config.Load applies when nothing is set.
func DefaultConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		FixesPerMin:          120,
		SOSPerHour:           5,
		ReportsPerHour:       10,
		SessionsPerIPPerHour: 20,
		RequestsPerMinute:    300,
	}
}
