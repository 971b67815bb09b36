package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/voyagerhq/voyager/pkg/models"
)

// MemoryLimiter is the in-process twin of RedisLimiter for tests and
// single-process development. Same window keys, same semantics.
type MemoryLimiter struct {
	mu       sync.Mutex
	counters map[string]int
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{counters: make(map[string]int)}
}

func (l *MemoryLimiter) Acquire(
	_ context.Context,
	scope string,
	limits models.RateLimits,
	now time.Time,
) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limits.MaxPerDay > 0 && l.counters[dayKey(scope, now)] >= limits.MaxPerDay {
		return Decision{Allowed: false, RetryAt: nextDay(now)}, nil
	}

	if limits.MaxPerWeek > 0 && l.counters[weekKey(scope, now)] >= limits.MaxPerWeek {
		return Decision{Allowed: false, RetryAt: nextWeek(now)}, nil
	}

	if limits.MaxPerDay > 0 {
		l.counters[dayKey(scope, now)]++
	}

	if limits.MaxPerWeek > 0 {
		l.counters[weekKey(scope, now)]++
	}

	return Decision{Allowed: true}, nil
}

func (l *MemoryLimiter) Release(_ context.Context, scope string, limits models.RateLimits, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limits.MaxPerDay > 0 && l.counters[dayKey(scope, now)] > 0 {
		l.counters[dayKey(scope, now)]--
	}

	if limits.MaxPerWeek > 0 && l.counters[weekKey(scope, now)] > 0 {
		l.counters[weekKey(scope, now)]--
	}

	return nil
}

func (l *MemoryLimiter) HealthCheck(_ context.Context) error {
	return nil
}

func (l *MemoryLimiter) Close() error {
	return nil
}
