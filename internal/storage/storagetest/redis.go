// Package storagetest provides in-memory stand-ins for storage clients.
package storagetest

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/askwhyharsh/safezone/internal/storage"
)

var _ storage.RedisClient = (*Redis)(nil)

// Published is one message sent through Publish.
type Published struct {
	Channel string
	Message string
}

// Redis implements storage.RedisClient in memory, including key expiry.
type Redis struct {
	mu        sync.Mutex
	strings   map[string]string
	sets      map[string]map[string]struct{}
	zsets     map[string]map[string]float64
	hashes    map[string]map[string]int64
	expiry    map[string]time.Time
	published []Published

	// FailWith, when set, is returned by every call.
	FailWith error
	Now      func() time.Time
}

func NewRedis() *Redis {
	return &Redis{
		strings: make(map[string]string),
		sets:    make(map[string]map[string]struct{}),
		zsets:   make(map[string]map[string]float64),
		hashes:  make(map[string]map[string]int64),
		expiry:  make(map[string]time.Time),
		Now:     time.Now,
	}
}

func (r *Redis) Published() []Published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Published(nil), r.published...)
}

// TTL returns the remaining lifetime of key, zero if none is set.
func (r *Redis) TTL(key string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	exp, ok := r.expiry[key]
	if !ok {
		return 0
	}
	return exp.Sub(r.Now())
}

func (r *Redis) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWith != nil {
		return r.FailWith
	}
	r.evict(key)
	r.strings[key] = stringify(value)
	if expiration > 0 {
		r.expiry[key] = r.Now().Add(expiration)
	} else {
		delete(r.expiry, key)
	}
	return nil
}

func (r *Redis) Get(_ context.Context, key string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWith != nil {
		return "", r.FailWith
	}
	r.evict(key)
	v, ok := r.strings[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (r *Redis) Del(_ context.Context, keys ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWith != nil {
		return r.FailWith
	}
	for _, k := range keys {
		r.remove(k)
	}
	return nil
}

func (r *Redis) Exists(_ context.Context, keys ...string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWith != nil {
		return 0, r.FailWith
	}
	var n int64
	for _, k := range keys {
		r.evict(k)
		if r.has(k) {
			n++
		}
	}
	return n, nil
}

func (r *Redis) Incr(_ context.Context, key string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWith != nil {
		return 0, r.FailWith
	}
	r.evict(key)
	n, _ := strconv.ParseInt(r.strings[key], 10, 64)
	n++
	r.strings[key] = strconv.FormatInt(n, 10)
	return n, nil
}

func (r *Redis) Expire(_ context.Context, key string, expiration time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWith != nil {
		return r.FailWith
	}
	if r.has(key) {
		r.expiry[key] = r.Now().Add(expiration)
	}
	return nil
}

func (r *Redis) ZAdd(_ context.Context, key string, members ...*redis.Z) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWith != nil {
		return r.FailWith
	}
	r.evict(key)
	z, ok := r.zsets[key]
	if !ok {
		z = make(map[string]float64)
		r.zsets[key] = z
	}
	for _, m := range members {
		z[stringify(m.Member)] = m.Score
	}
	return nil
}

func (r *Redis) ZRemRangeByScore(_ context.Context, key, min, max string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWith != nil {
		return r.FailWith
	}
	lo, hi := parseBound(min), parseBound(max)
	for m, s := range r.zsets[key] {
		if s >= lo && s <= hi {
			delete(r.zsets[key], m)
		}
	}
	return nil
}

func (r *Redis) ZCard(_ context.Context, key string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWith != nil {
		return 0, r.FailWith
	}
	r.evict(key)
	return int64(len(r.zsets[key])), nil
}

func (r *Redis) HIncrBy(_ context.Context, key, field string, incr int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWith != nil {
		return 0, r.FailWith
	}
	r.evict(key)
	h, ok := r.hashes[key]
	if !ok {
		h = make(map[string]int64)
		r.hashes[key] = h
	}
	h[field] += incr
	return h[field], nil
}

func (r *Redis) HGetAll(_ context.Context, key string) (map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWith != nil {
		return nil, r.FailWith
	}
	r.evict(key)
	out := make(map[string]string, len(r.hashes[key]))
	for f, v := range r.hashes[key] {
		out[f] = strconv.FormatInt(v, 10)
	}
	return out, nil
}

func (r *Redis) SAdd(_ context.Context, key string, members ...interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWith != nil {
		return r.FailWith
	}
	r.evict(key)
	s, ok := r.sets[key]
	if !ok {
		s = make(map[string]struct{})
		r.sets[key] = s
	}
	for _, m := range members {
		s[stringify(m)] = struct{}{}
	}
	return nil
}

func (r *Redis) SMembers(_ context.Context, key string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWith != nil {
		return nil, r.FailWith
	}
	r.evict(key)
	out := make([]string, 0, len(r.sets[key]))
	for m := range r.sets[key] {
		out = append(out, m)
	}
	return out, nil
}

func (r *Redis) SRem(_ context.Context, key string, members ...interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWith != nil {
		return r.FailWith
	}
	for _, m := range members {
		delete(r.sets[key], stringify(m))
	}
	return nil
}

func (r *Redis) Publish(_ context.Context, channel string, message interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWith != nil {
		return r.FailWith
	}
	r.published = append(r.published, Published{Channel: channel, Message: stringify(message)})
	return nil
}

func (r *Redis) Ping(context.Context) error {
	return r.FailWith
}

func (r *Redis) Close() error {
	return nil
}

// evict drops key if its TTL has passed. Callers hold mu.
func (r *Redis) evict(key string) {
	if exp, ok := r.expiry[key]; ok && !r.Now().Before(exp) {
		r.remove(key)
	}
}

func (r *Redis) remove(key string) {
	delete(r.strings, key)
	delete(r.sets, key)
	delete(r.zsets, key)
	delete(r.hashes, key)
	delete(r.expiry, key)
}

func (r *Redis) has(key string) bool {
	if _, ok := r.strings[key]; ok {
		return true
	}
	if s, ok := r.sets[key]; ok && len(s) > 0 {
		return true
	}
	if z, ok := r.zsets[key]; ok && len(z) > 0 {
		return true
	}
	if h, ok := r.hashes[key]; ok && len(h) > 0 {
		return true
	}
	return false
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

func parseBound(s string) float64 {
	switch s {
	case "-inf":
		return -1 << 62
	case "+inf", "inf":
		return 1 << 62
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
