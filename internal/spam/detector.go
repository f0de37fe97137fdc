package spam

import (
	"context"
	"crypto/md5"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/askwhyharsh/safezone/internal/storage"
	apperrors "github.com/askwhyharsh/safezone/pkg/errors"
)

const (
	maxReportLength = 2000
	// Reports scoring at or above this are rejected outright.
	rejectScore = 60
)

type Detector struct {
	redis                  storage.RedisClient
	profanityEnabled       bool
	duplicateWindowSeconds int
	maxURLsPerReport       int
	profanityWords         []string
}

func NewDetector(redisClient storage.RedisClient, profanityEnabled bool, duplicateWindow, maxURLs int) *Detector {
	return &Detector{
		redis:                  redisClient,
		profanityEnabled:       profanityEnabled,
		duplicateWindowSeconds: duplicateWindow,
		maxURLsPerReport:       maxURLs,
		profanityWords:         profanityList,
	}
}

// ValidateReport checks an incident report before it is stored and shown
// to nearby users. Violations are counted per user.
func (d *Detector) ValidateReport(ctx context.Context, userID, title, description string) error {
	content := strings.TrimSpace(title + "\n" + description)
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("%w: report title cannot be empty", apperrors.ErrSpamDetected)
	}
	if len(description) > maxReportLength {
		return fmt.Errorf("%w: report too long (max %d characters)", apperrors.ErrSpamDetected, maxReportLength)
	}

	if d.profanityEnabled && d.containsProfanity(content) {
		d.recordViolation(ctx, userID, "profanity")
		return apperrors.ErrProfanityDetected
	}

	if d.hasExcessiveURLs(content) {
		d.recordViolation(ctx, userID, "url")
		return fmt.Errorf("%w (max %d)", apperrors.ErrURLSpam, d.maxURLsPerReport)
	}

	if score := CalculateSpamScore(content); score >= rejectScore {
		d.recordViolation(ctx, userID, "spam")
		_, reason := DetectPattern(content)
		return fmt.Errorf("%w: %s", apperrors.ErrSpamDetected, reason)
	}

	if err := d.checkDuplicate(ctx, userID, content); err != nil {
		return err
	}

	return nil
}

func (d *Detector) containsProfanity(content string) bool {
	lowerContent := strings.ToLower(content)
	for _, word := range d.profanityWords {
		if strings.Contains(lowerContent, word) {
			return true
		}
	}
	return false
}

func (d *Detector) hasExcessiveURLs(content string) bool {
	return len(urlPattern.FindAllString(content, -1)) > d.maxURLsPerReport
}

func (d *Detector) checkDuplicate(ctx context.Context, userID, content string) error {
	hash := fmt.Sprintf("%x", md5.Sum([]byte(strings.ToLower(content))))
	key := fmt.Sprintf("spam:report:%s:%s", userID, hash)

	exists, err := d.redis.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to check duplicate: %w", err)
	}
	if exists > 0 {
		d.recordViolation(ctx, userID, "duplicate")
		return fmt.Errorf("%w (sent within %d seconds)", apperrors.ErrDuplicateReport, d.duplicateWindowSeconds)
	}

	ttl := time.Duration(d.duplicateWindowSeconds) * time.Second
	if err := d.redis.Set(ctx, key, 1, ttl); err != nil {
		return fmt.Errorf("failed to store report hash: %w", err)
	}
	return nil
}

// recordViolation is best effort.
func (d *Detector) recordViolation(ctx context.Context, userID, violationType string) {
	key := violationsKey(userID)
	if _, err := d.redis.HIncrBy(ctx, key, violationType, 1); err != nil {
		return
	}
	_ = d.redis.Expire(ctx, key, 24*time.Hour)
}

func (d *Detector) ViolationCounts(ctx context.Context, userID string) (map[string]int64, error) {
	violations, err := d.redis.HGetAll(ctx, violationsKey(userID))
	if err != nil {
		return nil, err
	}

	result := make(map[string]int64, len(violations))
	for k, v := range violations {
		count, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		result[k] = count
	}
	return result, nil
}

// ShouldBlock reports whether a user has abused reporting often enough to
// lose it for the day.
func (d *Detector) ShouldBlock(ctx context.Context, userID string) (bool, string, error) {
	violations, err := d.ViolationCounts(ctx, userID)
	if err != nil {
		return false, "", err
	}

	if violations["profanity"] >= 3 {
		return true, "excessive profanity", nil
	}
	if violations["spam"] >= 5 {
		return true, "excessive spam", nil
	}

	var total int64
	for _, count := range violations {
		total += count
	}
	if total >= 10 {
		return true, "excessive violations", nil
	}

	return false, "", nil
}

func violationsKey(userID string) string {
	return fmt.Sprintf("spam:violations:%s", userID)
}
