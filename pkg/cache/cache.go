// Package cache defines a byte-oriented key/value cache contract shared
// by the response cache and credential resolver, plus an in-memory and a
// Redis-backed implementation. TTLs are honoured to within one second;
// expiry in the in-memory backend is lazy, checked on read rather than
// by a background sweep.
package cache

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	gwerrors "github.com/llmgateway/core/pkg/errors"
)

// Cache is a byte-value TTL key/value store. Implementations must honour
// TTLs to within one second of granularity and make Increment atomic
// across concurrent callers.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetIfAbsent stores value under key only if key is not already
	// present, reporting whether the write happened.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	Delete(ctx context.Context, key string) error

	// DeletePattern deletes every key matching a shell glob pattern (e.g.
	// "exact:*"), returning the number of keys removed.
	DeletePattern(ctx context.Context, pattern string) (int, error)

	Exists(ctx context.Context, key string) (bool, error)

	// Expire resets key's TTL without touching its value.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL returns the remaining time-to-live for key, or ok=false if the
	// key doesn't exist or carries no expiry.
	TTL(ctx context.Context, key string) (time.Duration, bool, error)

	// Clear removes every key.
	Clear(ctx context.Context) error

	// Size reports the number of live keys.
	Size(ctx context.Context) (int, error)

	// Increment atomically adds delta to the integer stored at key
	// (treating an absent key as 0) and returns the new value.
	Increment(ctx context.Context, key string, delta int64) (int64, error)
}

type memoryEntry struct {
	value   []byte
	expires time.Time // zero means no expiry
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// Memory is an in-memory Cache with lazy expiry: expired entries are
// evicted the next time they're read rather than via a background sweep.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry)}
}

func expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if e.expired(time.Now()) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = memoryEntry{value: value, expires: expiry(ttl)}
	return nil
}

func (m *Memory) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok && !e.expired(time.Now()) {
		return false, nil
	}
	m.entries[key] = memoryEntry{value: value, expires: expiry(ttl)}
	return true, nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

func (m *Memory) DeletePattern(ctx context.Context, pattern string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key := range m.entries {
		if ok, _ := path.Match(pattern, key); ok {
			delete(m.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || e.expired(time.Now()) {
		return false, nil
	}
	return true, nil
}

func (m *Memory) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || e.expired(time.Now()) {
		return &gwerrors.NotFoundError{Resource: "cache_key", ID: key}
	}
	e.expires = expiry(ttl)
	m.entries[key] = e
	return nil
}

func (m *Memory) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || e.expired(time.Now()) {
		return 0, false, nil
	}
	if e.expires.IsZero() {
		return 0, false, nil
	}
	return time.Until(e.expires), true, nil
}

func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]memoryEntry)
	return nil
}

func (m *Memory) Size(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	n := 0
	for _, e := range m.entries {
		if !e.expired(now) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var current int64
	if e, ok := m.entries[key]; ok && !e.expired(time.Now()) {
		current = bytesToInt64(e.value)
	}
	current += delta
	m.entries[key] = memoryEntry{value: int64ToBytes(current), expires: m.entries[key].expires}
	return current, nil
}

// Redis is a Cache backed by a Redis (or Redis-compatible, e.g. miniredis
// in tests) server.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps an existing *redis.Client as a Cache.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &gwerrors.CacheError{Op: "get", Key: key, Cause: err}
	}
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return &gwerrors.CacheError{Op: "set", Key: key, Cause: err}
	}
	return nil
}

func (r *Redis) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, &gwerrors.CacheError{Op: "set_if_absent", Key: key, Cause: err}
	}
	return ok, nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return &gwerrors.CacheError{Op: "delete", Key: key, Cause: err}
	}
	return nil
}

func (r *Redis) DeletePattern(ctx context.Context, pattern string) (int, error) {
	var removed int
	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 500 {
			n, err := r.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, &gwerrors.CacheError{Op: "delete_pattern", Key: pattern, Cause: err}
			}
			removed += int(n)
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return removed, &gwerrors.CacheError{Op: "delete_pattern", Key: pattern, Cause: err}
	}
	if len(keys) > 0 {
		n, err := r.client.Del(ctx, keys...).Result()
		if err != nil {
			return removed, &gwerrors.CacheError{Op: "delete_pattern", Key: pattern, Cause: err}
		}
		removed += int(n)
	}
	return removed, nil
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, &gwerrors.CacheError{Op: "exists", Key: key, Cause: err}
	}
	return n > 0, nil
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ok, err := r.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return &gwerrors.CacheError{Op: "expire", Key: key, Cause: err}
	}
	if !ok {
		return &gwerrors.NotFoundError{Resource: "cache_key", ID: key}
	}
	return nil
}

func (r *Redis) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	d, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, false, &gwerrors.CacheError{Op: "ttl", Key: key, Cause: err}
	}
	if d < 0 {
		return 0, false, nil
	}
	return d, true, nil
}

func (r *Redis) Clear(ctx context.Context) error {
	if err := r.client.FlushDB(ctx).Err(); err != nil {
		return &gwerrors.CacheError{Op: "clear", Cause: err}
	}
	return nil
}

func (r *Redis) Size(ctx context.Context) (int, error) {
	n, err := r.client.DBSize(ctx).Result()
	if err != nil {
		return 0, &gwerrors.CacheError{Op: "size", Cause: err}
	}
	return int(n), nil
}

func (r *Redis) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	n, err := r.client.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, &gwerrors.CacheError{Op: "increment", Key: key, Cause: err}
	}
	return n, nil
}

func bytesToInt64(b []byte) int64 {
	var n int64
	neg := false
	for i, c := range b {
		if i == 0 && c == '-' {
			neg = true
			continue
		}
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int64(c-'0')
	}
	if neg {
		n = -n
	}
	return n
}

func int64ToBytes(n int64) []byte {
	if n == 0 {
		return []byte("0")
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return buf[i:]
}
