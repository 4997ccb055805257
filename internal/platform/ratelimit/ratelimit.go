// Package ratelimit counts requests per key in fixed time windows. The Redis backend
// shares the budget across replicas; the in-process backend is used when Redis is not
// configured.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter admits or rejects a request for key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// New picks the Redis backend when rdb is set and the in-process one otherwise. It returns a nil
// Limiter when limit or length is not positive.
func New(rdb redis.UniversalClient, limit int, length time.Duration, clock func() time.Time) Limiter {
	if limit <= 0 || length <= 0 {
		return nil
	}
	if rdb != nil {
		return NewRedis(rdb, limit, length, clock)
	}
	return NewMemory(limit, length, clock)
}

type window struct {
	limit  int
	length time.Duration
	clock  func() time.Time
}

// bucket returns the start of the window now falls in and the time left until it closes.
func (w window) bucket(now time.Time) (int64, time.Duration) {
	start := now.Truncate(w.length)
	return start.UnixNano(), start.Add(w.length).Sub(now)
}

func normaliseKey(key string) string {
	if key = strings.TrimSpace(key); key == "" {
		return "anonymous"
	}
	return key
}

// Memory keeps counters in process memory.
type Memory struct {
	window
	mu      sync.Mutex
	buckets map[string]memoryBucket
}

type memoryBucket struct {
	start int64
	count int
}

// NewMemory returns nil when limit or length is not positive, which disables limiting.
func NewMemory(limit int, length time.Duration, clock func() time.Time) *Memory {
	if limit <= 0 || length <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &Memory{
		window:  window{limit: limit, length: length, clock: clock},
		buckets: make(map[string]memoryBucket),
	}
}

// Allow implements Limiter.
func (m *Memory) Allow(_ context.Context, key string) (Decision, error) {
	start, remaining := m.bucket(m.clock())
	key = normaliseKey(key)

	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.buckets[key]
	if b.start != start {
		m.evictLocked(start)
		b = memoryBucket{start: start}
	}
	if b.count >= m.limit {
		return Decision{RetryAfter: remaining}, nil
	}
	b.count++
	m.buckets[key] = b
	return Decision{Allowed: true}, nil
}

// evictLocked drops buckets from earlier windows so idle keys do not accumulate.
func (m *Memory) evictLocked(current int64) {
	for key, b := range m.buckets {
		if b.start != current {
			delete(m.buckets, key)
		}
	}
}
