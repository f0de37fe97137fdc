package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/askwhyharsh/safezone/internal/storage"
	apperrors "github.com/askwhyharsh/safezone/pkg/errors"
)

type SessionService interface {
	Create(ctx context.Context, userID, displayName, ipAddress string) (*Session, error)
	Get(ctx context.Context, sessionID string) (*Session, error)
	Touch(ctx context.Context, sessionID string) (*Session, error)
	Delete(ctx context.Context, sessionID string) error
	Exists(ctx context.Context, sessionID string) (bool, error)
	ActiveSessions(ctx context.Context, userID string) (int, error)
}

// Service stores sessions in Redis. A session binds an already
// authenticated user id to a device connection; it expires after ttl
// without activity.
type Service struct {
	redis storage.RedisClient
	ttl   time.Duration
	now   func() time.Time
}

type Session struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	LastSeen    time.Time `json:"last_seen"`
	IPAddress   string    `json:"ip_address"`
}

func NewService(redisClient storage.RedisClient, ttl time.Duration) *Service {
	return &Service{
		redis: redisClient,
		ttl:   ttl,
		now:   time.Now,
	}
}

func (s *Service) Create(ctx context.Context, userID, displayName, ipAddress string) (*Session, error) {
	if userID == "" {
		return nil, apperrors.ErrInvalidSessionID
	}
	now := s.now()
	session := &Session{
		ID:          uuid.New().String(),
		UserID:      userID,
		DisplayName: displayName,
		CreatedAt:   now,
		LastSeen:    now,
		IPAddress:   ipAddress,
	}

	if err := s.save(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	if err := s.redis.SAdd(ctx, userKey(userID), session.ID); err != nil {
		return nil, fmt.Errorf("failed to index session: %w", err)
	}
	if err := s.redis.SAdd(ctx, usersKey, userID); err != nil {
		return nil, fmt.Errorf("failed to index user: %w", err)
	}

	return session, nil
}

func (s *Service) Get(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, apperrors.ErrInvalidSessionID
	}
	data, err := s.redis.Get(ctx, sessionKey(sessionID))
	if err != nil {
		if errors.Is(err, storage.Nil) {
			return nil, apperrors.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	return &session, nil
}

// Touch records activity and extends the session's lifetime.
func (s *Service) Touch(ctx context.Context, sessionID string) (*Session, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	session.LastSeen = s.now()
	if err := s.save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Service) Delete(ctx context.Context, sessionID string) error {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.redis.Del(ctx, sessionKey(sessionID)); err != nil {
		return err
	}
	return s.redis.SRem(ctx, userKey(session.UserID), sessionID)
}

func (s *Service) Exists(ctx context.Context, sessionID string) (bool, error) {
	count, err := s.redis.Exists(ctx, sessionKey(sessionID))
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ActiveSessions counts the user's sessions that have not expired yet and
// prunes expired ids from the user index.
func (s *Service) ActiveSessions(ctx context.Context, userID string) (int, error) {
	ids, err := s.redis.SMembers(ctx, userKey(userID))
	if err != nil {
		return 0, err
	}

	live := 0
	for _, id := range ids {
		ok, err := s.Exists(ctx, id)
		if err != nil {
			return 0, err
		}
		if ok {
			live++
			continue
		}
		_ = s.redis.SRem(ctx, userKey(userID), id)
	}
	if live == 0 {
		_ = s.redis.SRem(ctx, usersKey, userID)
	}
	return live, nil
}

// Users lists every user that has created a session and not yet been
// pruned by ActiveSessions.
func (s *Service) Users(ctx context.Context) ([]string, error) {
	return s.redis.SMembers(ctx, usersKey)
}

func (s *Service) save(ctx context.Context, session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	return s.redis.Set(ctx, sessionKey(session.ID), data, s.ttl)
}

const usersKey = "session:users"

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

func userKey(userID string) string {
	return fmt.Sprintf("session:user:%s", userID)
}
