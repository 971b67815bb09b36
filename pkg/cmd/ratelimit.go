package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/voyagerhq/voyager/pkg/ratelimit"
)

// NewRateLimiter builds the shared send-permit limiter. An empty URL
// selects the in-process limiter, which is only correct for a single
// worker.
func NewRateLimiter(ctx context.Context, logger *slog.Logger, redisURL string) ratelimit.Limiter {
	if redisURL == "" {
		logger.WarnContext(ctx, "no redis url configured; using in-process rate limiter")

		return ratelimit.NewMemoryLimiter()
	}

	limiter, err := ratelimit.NewRedisLimiter(ctx, redisURL)
	if err != nil {
		panic(fmt.Errorf("failed to connect to redis: %w", err))
	}

	return limiter
}
