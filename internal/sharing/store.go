package sharing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/askwhyharsh/safezone/internal/location"
	"github.com/askwhyharsh/safezone/internal/storage"
	apperrors "github.com/askwhyharsh/safezone/pkg/errors"
)

// Record is the single current-share row per user. Every write replaces it.
type Record struct {
	UserID       string          `json:"user_id"`
	LastLocation *location.Point `json:"last_location,omitempty"`
	Accuracy     float64         `json:"accuracy,omitempty"`
	Active       bool            `json:"active"`
	ContactIDs   []string        `json:"contact_ids,omitempty"`
	Geohash      string          `json:"geohash,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Responder is another user sharing their location near a point.
type Responder struct {
	UserID    string    `json:"-"`
	Alias     string    `json:"alias"`
	Distance  int       `json:"distance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store keeps share records in Redis. Active records with a location are
// indexed under every prefix of their geohash, so a nearby query can scan
// at whatever precision fits its radius.
type Store struct {
	redis            storage.RedisClient
	geohashPrecision int
	ttl              time.Duration
	now              func() time.Time
}

func NewStore(redisClient storage.RedisClient, geohashPrecision int, ttl time.Duration) *Store {
	if geohashPrecision < 1 || geohashPrecision > 12 {
		geohashPrecision = 6
	}
	return &Store{
		redis:            redisClient,
		geohashPrecision: geohashPrecision,
		ttl:              ttl,
		now:              time.Now,
	}
}

// Upsert overwrites the user's record.
func (s *Store) Upsert(ctx context.Context, rec Record) error {
	prev, err := s.Get(ctx, rec.UserID)
	if err != nil && !errors.Is(err, apperrors.ErrDataNotFound) {
		return err
	}

	rec.Geohash = ""
	if rec.Active && rec.LastLocation != nil {
		rec.Geohash = location.EncodeGeohash(*rec.LastLocation, s.geohashPrecision)
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = s.now()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal share record: %w", err)
	}
	if err := s.redis.Set(ctx, s.recordKey(rec.UserID), data, s.ttl); err != nil {
		return fmt.Errorf("failed to store share record: %w", err)
	}

	if prev != nil && prev.Geohash != "" {
		for _, key := range s.prefixKeys(prev.Geohash) {
			if rec.Geohash != "" && strings.HasPrefix(rec.Geohash, strings.TrimPrefix(key, geoKeyPrefix)) {
				continue
			}
			_ = s.redis.SRem(ctx, key, rec.UserID)
		}
	}
	if rec.Geohash == "" {
		return nil
	}
	for _, key := range s.prefixKeys(rec.Geohash) {
		if err := s.redis.SAdd(ctx, key, rec.UserID); err != nil {
			return fmt.Errorf("failed to add to geohash index: %w", err)
		}
		if s.ttl > 0 {
			_ = s.redis.Expire(ctx, key, s.ttl)
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, userID string) (*Record, error) {
	data, err := s.redis.Get(ctx, s.recordKey(userID))
	if err != nil {
		if errors.Is(err, storage.Nil) {
			return nil, apperrors.ErrDataNotFound
		}
		return nil, fmt.Errorf("failed to get share record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal share record: %w", err)
	}
	return &rec, nil
}

// Deactivate marks the record inactive and drops it from the index. A
// missing record is not an error.
func (s *Store) Deactivate(ctx context.Context, userID string) error {
	rec, err := s.Get(ctx, userID)
	if errors.Is(err, apperrors.ErrDataNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	rec.Active = false
	rec.UpdatedAt = s.now()
	return s.Upsert(ctx, *rec)
}

// Nearby lists active shares within radiusMeters of p, nearest first.
// Distances are rounded to 50 m.
func (s *Store) Nearby(ctx context.Context, p location.Point, radiusMeters float64, excludeUserID string) ([]Responder, error) {
	precision := min(s.geohashPrecision, location.PrecisionForRadius(radiusMeters))
	cells := location.GeohashCells(location.EncodeGeohash(p, precision))

	candidates := make(map[string]bool)
	for _, cell := range cells {
		members, err := s.redis.SMembers(ctx, geoKeyPrefix+cell)
		if err != nil {
			continue
		}
		for _, id := range members {
			if id != excludeUserID {
				candidates[id] = true
			}
		}
	}

	type hit struct {
		r    Responder
		dist float64
	}
	hits := make([]hit, 0, len(candidates))
	for id := range candidates {
		rec, err := s.Get(ctx, id)
		if err != nil || !rec.Active || rec.LastLocation == nil {
			continue
		}
		d := location.DistanceMeters(p, *rec.LastLocation)
		if d > radiusMeters {
			continue
		}
		hits = append(hits, hit{
			r: Responder{
				UserID:    id,
				Alias:     Pseudonym(id),
				Distance:  location.RoundToNearest50(d),
				UpdatedAt: rec.UpdatedAt,
			},
			dist: d,
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].dist < hits[j].dist })

	out := make([]Responder, len(hits))
	for i, h := range hits {
		out[i] = h.r
	}
	return out, nil
}

const geoKeyPrefix = "share:geo:"

func (s *Store) recordKey(userID string) string {
	return fmt.Sprintf("share:%s", userID)
}

func (s *Store) prefixKeys(hash string) []string {
	keys := make([]string, len(hash))
	for i := range hash {
		keys[i] = geoKeyPrefix + hash[:i+1]
	}
	return keys
}
