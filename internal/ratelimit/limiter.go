package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/askwhyharsh/safezone/internal/config"
	"github.com/askwhyharsh/safezone/internal/storage"
)

// RateLimiter defines the contract for enforcing and managing rate limits.
type RateLimiter interface {
	// AllowFix checks if a user may push another location fix.
	AllowFix(ctx context.Context, userID string) (bool, error)

	// AllowSOS checks if a user may raise another SOS.
	AllowSOS(ctx context.Context, userID string) (bool, error)

	// AllowReport checks if a user may file another incident report.
	AllowReport(ctx context.Context, userID string) (bool, error)

	// AllowSessionCreation checks if an IP can create a new session.
	AllowSessionCreation(ctx context.Context, ip string) (bool, error)

	// AllowIPRequest checks if an IP can make a request.
	AllowIPRequest(ctx context.Context, ip string) (bool, error)

	// RemainingReports returns how many reports a user can still file in the current window.
	RemainingReports(ctx context.Context, userID string) (int, error)

	// ResetLimits clears all per-user rate limit counters.
	ResetLimits(ctx context.Context, userID string) error
}

type Limiter struct {
	redis  storage.RedisClient
	config config.RateLimitConfig
	now    func() time.Time
}

func NewLimiter(redisClient storage.RedisClient, config config.RateLimitConfig) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: config,
		now:    time.Now,
	}
}

func (l *Limiter) AllowFix(ctx context.Context, userID string) (bool, error) {
	return l.checkSlidingWindow(ctx, fixKey(userID), l.config.FixesPerMin, time.Minute)
}

// AllowSOS uses an hourly window since every SOS texts all contacts.
func (l *Limiter) AllowSOS(ctx context.Context, userID string) (bool, error) {
	return l.checkSlidingWindow(ctx, sosKey(userID), l.config.SOSPerHour, time.Hour)
}

func (l *Limiter) AllowReport(ctx context.Context, userID string) (bool, error) {
	return l.checkSlidingWindow(ctx, reportKey(userID), l.config.ReportsPerHour, time.Hour)
}

// AllowSessionCreation checks if an IP can create a new session
func (l *Limiter) AllowSessionCreation(ctx context.Context, ip string) (bool, error) {
	key := fmt.Sprintf("ratelimit:ip:%s:sessions", ip)

	count, err := l.redis.Incr(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to check session creation rate limit: %w", err)
	}

	// Fixed window: the first increment starts the hour.
	if count == 1 {
		_ = l.redis.Expire(ctx, key, time.Hour)
	}

	return count <= int64(l.config.SessionsPerIPPerHour), nil
}

func (l *Limiter) AllowIPRequest(ctx context.Context, ip string) (bool, error) {
	key := fmt.Sprintf("ratelimit:ip:%s:requests", ip)
	return l.checkSlidingWindow(ctx, key, l.config.RequestsPerMinute, time.Minute)
}

// checkSlidingWindow keeps one sorted-set member per accepted event, scored
// by its time, and trims everything older than window before counting.
func (l *Limiter) checkSlidingWindow(ctx context.Context, key string, maxCount int, window time.Duration) (bool, error) {
	now := l.now()
	windowStart := now.Add(-window).UnixNano()

	if err := l.redis.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(windowStart, 10)); err != nil {
		return false, fmt.Errorf("failed to clean old entries: %w", err)
	}

	count, err := l.redis.ZCard(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to count entries: %w", err)
	}

	if count >= int64(maxCount) {
		return false, nil
	}

	if err := l.redis.ZAdd(ctx, key, &redis.Z{
		Score:  float64(now.UnixNano()),
		Member: uuid.NewString(),
	}); err != nil {
		return false, fmt.Errorf("failed to add entry: %w", err)
	}

	_ = l.redis.Expire(ctx, key, window)

	return true, nil
}

func (l *Limiter) RemainingReports(ctx context.Context, userID string) (int, error) {
	key := reportKey(userID)
	windowStart := l.now().Add(-time.Hour).UnixNano()
	if err := l.redis.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(windowStart, 10)); err != nil {
		return 0, err
	}
	count, err := l.redis.ZCard(ctx, key)
	if err != nil {
		return 0, err
	}

	remaining := l.config.ReportsPerHour - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// ResetLimits resets all rate limits for a user (use with caution)
func (l *Limiter) ResetLimits(ctx context.Context, userID string) error {
	return l.redis.Del(ctx, fixKey(userID), sosKey(userID), reportKey(userID))
}

func fixKey(userID string) string    { return fmt.Sprintf("ratelimit:fix:%s", userID) }
func sosKey(userID string) string    { return fmt.Sprintf("ratelimit:sos:%s", userID) }
func reportKey(userID string) string { return fmt.Sprintf("ratelimit:report:%s", userID) }
