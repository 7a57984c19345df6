package ratelimit

import (
	"context"
	"time"
)

const defaultWindow = time.Second

// Result is the outcome of one limiter check.
type Result struct {
	Allowed   bool
	Remaining int
	Reset     time.Time     // End of the current window.
	RetryIn   time.Duration // Time left in the current window.
}

// Limiter counts hits per key in fixed windows.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error)
}

// Scope says which bucket a request is counted in.
type Scope uint8

// Scope values.
const (
	ScopeNone Scope = iota
	ScopeUser
	ScopeWrite
)

// Decision is the resolved limit for one request.
type Decision struct {
	Limit  int
	Window time.Duration
	Scope  Scope
}

func allowAll() Result { return Result{Allowed: true} }

// windowBounds returns the fixed window containing now.
func windowBounds(now time.Time, window time.Duration) (start, reset time.Time) {
	if window <= 0 {
		window = defaultWindow
	}
	start = now.UTC().Truncate(window)
	return start, start.Add(window)
}

func verdict(hits int64, limit int, now, reset time.Time) Result {
	res := Result{Reset: reset, RetryIn: reset.Sub(now)}
	if hits > int64(limit) {
		return res
	}
	res.Allowed = true
	res.Remaining = limit - int(hits)
	return res
}
