package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Expired windows are evicted only once the table holds this many keys.
const memoryEvictAt = 4096

type counter struct {
	start time.Time
	reset time.Time
	hits  int64
}

// MemoryLimiter is a per-process fixed-window limiter. It is the fallback when
// Redis is disabled or unreachable, so limits are per instance in that case.
type MemoryLimiter struct {
	mu        sync.Mutex
	counters  map[string]counter
	nextEvict time.Time
}

// NewMemoryLimiter constructs a MemoryLimiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{counters: make(map[string]counter)}
}

// Allow counts one hit for key and reports whether it fits in limit.
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error) {
	if limit <= 0 || key == "" {
		return allowAll(), nil
	}
	start, reset := windowBounds(now, window)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.evictLocked(now)

	c := l.counters[key]
	if !c.start.Equal(start) {
		c = counter{start: start, reset: reset}
	}
	if c.hits >= int64(limit) {
		l.counters[key] = c
		return verdict(c.hits+1, limit, now, reset), nil
	}
	c.hits++
	l.counters[key] = c
	return verdict(c.hits, limit, now, reset), nil
}

func (l *MemoryLimiter) evictLocked(now time.Time) {
	if len(l.counters) < memoryEvictAt || now.Before(l.nextEvict) {
		return
	}
	for key, c := range l.counters {
		if !now.Before(c.reset) {
			delete(l.counters, key)
		}
	}
	l.nextEvict = now.Add(time.Second)
}

func (l *MemoryLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.counters)
}
