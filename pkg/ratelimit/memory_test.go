package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voyagerhq/voyager/pkg/models"
)

func TestMemoryLimiter_DailyCap(t *testing.T) {
	ctx := context.Background()
	limiter := NewMemoryLimiter()
	now := time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)
	limits := models.RateLimits{MaxPerDay: 2}

	for range 2 {
		decision, err := limiter.Acquire(ctx, "journey:j1", limits, now)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	}

	decision, err := limiter.Acquire(ctx, "journey:j1", limits, now)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, time.Date(2025, 3, 13, 0, 0, 0, 0, time.UTC), decision.RetryAt)
}

func TestMemoryLimiter_ReleaseReturnsSlot(t *testing.T) {
	ctx := context.Background()
	limiter := NewMemoryLimiter()
	now := time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)
	limits := models.RateLimits{MaxPerDay: 1, MaxPerWeek: 5}

	decision, err := limiter.Acquire(ctx, "journey:j1", limits, now)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	require.NoError(t, limiter.Release(ctx, "journey:j1", limits, now))

	// The returned slot is usable again.
	decision, err = limiter.Acquire(ctx, "journey:j1", limits, now)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestMemoryLimiter_WindowRollsOver(t *testing.T) {
	ctx := context.Background()
	limiter := NewMemoryLimiter()
	limits := models.RateLimits{MaxPerDay: 1}

	day1 := time.Date(2025, 3, 12, 23, 0, 0, 0, time.UTC)
	day2 := time.Date(2025, 3, 13, 1, 0, 0, 0, time.UTC)

	decision, err := limiter.Acquire(ctx, "journey:j1", limits, day1)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	decision, err = limiter.Acquire(ctx, "journey:j1", limits, day1)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)

	// A new UTC day is a fresh window.
	decision, err = limiter.Acquire(ctx, "journey:j1", limits, day2)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestMemoryLimiter_WeeklyCap(t *testing.T) {
	ctx := context.Background()
	limiter := NewMemoryLimiter()
	limits := models.RateLimits{MaxPerDay: 10, MaxPerWeek: 3}

	// Wednesday of an ISO week.
	now := time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)

	for range 3 {
		decision, err := limiter.Acquire(ctx, "journey:j1", limits, now)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	}

	decision, err := limiter.Acquire(ctx, "journey:j1", limits, now)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)

	// Denial points at the next Monday.
	assert.Equal(t, time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC), decision.RetryAt)
	assert.Equal(t, time.Monday, decision.RetryAt.Weekday())
}

func TestMemoryLimiter_ScopesAreIndependent(t *testing.T) {
	ctx := context.Background()
	limiter := NewMemoryLimiter()
	now := time.Now().UTC()
	limits := models.RateLimits{MaxPerDay: 1}

	decision, err := limiter.Acquire(ctx, JourneyScope("j1"), limits, now)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	decision, err = limiter.Acquire(ctx, JourneyScope("j2"), limits, now)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	decision, err = limiter.Acquire(ctx, CustomerScope("j1", "c1"), limits, now)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestMemoryLimiter_NoLimitsAlwaysAllows(t *testing.T) {
	ctx := context.Background()
	limiter := NewMemoryLimiter()
	now := time.Now().UTC()

	for range 100 {
		decision, err := limiter.Acquire(ctx, "journey:j1", models.RateLimits{}, now)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	}
}

func TestMemoryLimiter_ConcurrentAcquire(t *testing.T) {
	ctx := context.Background()
	limiter := NewMemoryLimiter()
	now := time.Now().UTC()
	limits := models.RateLimits{MaxPerDay: 50}

	var granted atomic.Int64

	var wg sync.WaitGroup

	for range 200 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			decision, err := limiter.Acquire(ctx, "journey:j1", limits, now)
			if err == nil && decision.Allowed {
				granted.Add(1)
			}
		}()
	}

	wg.Wait()

	// The cap is never exceeded no matter how many workers race.
	assert.Equal(t, int64(50), granted.Load())
}

func TestScopeKeys(t *testing.T) {
	assert.Equal(t, "journey:j1", JourneyScope("j1"))
	assert.Equal(t, "journey:j1:customer:c1", CustomerScope("j1", "c1"))
}
