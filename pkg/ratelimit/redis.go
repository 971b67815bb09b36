package ratelimit

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/voyagerhq/voyager/pkg/models"
)

// RedisLimiter implements Limiter on shared redis counters. INCR is
// atomic, so N workers acquiring concurrently cannot jointly exceed a cap:
// an over-limit increment is handed back before the permit is denied.
type RedisLimiter struct {
	client redis.UniversalClient
}

// NewRedisLimiter connects to redis and verifies the connection.
func NewRedisLimiter(ctx context.Context, redisURL string) (*RedisLimiter, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisLimiter{client: client}, nil
}

func (l *RedisLimiter) Acquire(
	ctx context.Context,
	scope string,
	limits models.RateLimits,
	now time.Time,
) (Decision, error) {
	if limits.MaxPerDay <= 0 && limits.MaxPerWeek <= 0 {
		return Decision{Allowed: true}, nil
	}

	if limits.MaxPerDay > 0 {
		decision, err := l.acquireWindow(ctx, dayKey(scope, now), limits.MaxPerDay, nextDay(now), 48*time.Hour)
		if err != nil || !decision.Allowed {
			return decision, err
		}
	}

	if limits.MaxPerWeek > 0 {
		decision, err := l.acquireWindow(ctx, weekKey(scope, now), limits.MaxPerWeek, nextWeek(now), 14*24*time.Hour)
		if err != nil {
			return decision, err
		}

		if !decision.Allowed {
			// Hand back the day slot taken above so a denied weekly cap
			// does not burn daily capacity.
			if limits.MaxPerDay > 0 {
				if derr := l.client.Decr(ctx, dayKey(scope, now)).Err(); derr != nil {
					return Decision{}, fmt.Errorf("failed to return day slot: %w", derr)
				}
			}

			return decision, nil
		}
	}

	return Decision{Allowed: true}, nil
}

func (l *RedisLimiter) acquireWindow(
	ctx context.Context,
	key string,
	limit int,
	windowEnd time.Time,
	ttl time.Duration,
) (Decision, error) {
	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("failed to increment rate counter %s: %w", key, err)
	}

	if incr.Val() > int64(limit) {
		if err := l.client.Decr(ctx, key).Err(); err != nil {
			return Decision{}, fmt.Errorf("failed to return slot for %s: %w", key, err)
		}

		return Decision{Allowed: false, RetryAt: windowEnd}, nil
	}

	return Decision{Allowed: true}, nil
}

func (l *RedisLimiter) Release(ctx context.Context, scope string, limits models.RateLimits, now time.Time) error {
	if limits.MaxPerDay > 0 {
		if err := l.client.Decr(ctx, dayKey(scope, now)).Err(); err != nil {
			return fmt.Errorf("failed to return day slot: %w", err)
		}
	}

	if limits.MaxPerWeek > 0 {
		if err := l.client.Decr(ctx, weekKey(scope, now)).Err(); err != nil {
			return fmt.Errorf("failed to return week slot: %w", err)
		}
	}

	return nil
}

func (l *RedisLimiter) HealthCheck(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis limiter unhealthy: %w", err)
	}

	return nil
}

func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
