/**
 * @description
 * Fixed-window rate limiting behind a capability interface so the backend can
 * be swapped between the in-memory counter (single-process deployments) and
 * the Redis-backed limiter (multi-instance deployments) without touching the
 * service layer.
 */
package app

import (
	"context"
	"sync"
	"time"
)

// Decision is the outcome of one rate-limit consumption.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RateLimiter is the capability the service layer depends on. CheckAndConsume
// counts the current call: the (max+1)-th call inside a window is denied.
type RateLimiter interface {
	CheckAndConsume(ctx context.Context, key string, max int, window time.Duration) (Decision, error)
}

type windowCounter struct {
	count   int
	resetAt time.Time
}

// MemoryRateLimiter is a process-local fixed-window counter. The whole
// read-modify-write runs under the mutex so two concurrent requests cannot
// both observe "under limit".
type MemoryRateLimiter struct {
	mu      sync.Mutex
	windows map[string]*windowCounter
	now     func() time.Time
}

// NewMemoryRateLimiter creates an in-memory fixed-window rate limiter.
func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{
		windows: make(map[string]*windowCounter),
		now:     time.Now,
	}
}

// CheckAndConsume implements RateLimiter.
func (l *MemoryRateLimiter) CheckAndConsume(_ context.Context, key string, max int, window time.Duration) (Decision, error) {
	if max <= 0 || window <= 0 {
		return Decision{Allowed: true, Remaining: 0, ResetAt: l.now()}, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &windowCounter{count: 1, resetAt: now.Add(window)}
		l.windows[key] = w
		l.evictExpiredLocked(now)
		return Decision{Allowed: true, Remaining: max - 1, ResetAt: w.resetAt}, nil
	}

	w.count++
	if w.count > max {
		return Decision{Allowed: false, Remaining: 0, ResetAt: w.resetAt}, nil
	}
	return Decision{Allowed: true, Remaining: max - w.count, ResetAt: w.resetAt}, nil
}

// evictExpiredLocked drops dead windows so the map does not grow without
// bound. Called opportunistically while the lock is already held.
func (l *MemoryRateLimiter) evictExpiredLocked(now time.Time) {
	if len(l.windows) < 4096 {
		return
	}
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
		}
	}
}
