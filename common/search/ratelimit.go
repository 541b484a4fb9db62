package search

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const rateLimitKeyPrefix = "deepresearch:search:ratelimit"

// RateLimiter enforces a per-minute request cap shared across process
// instances via Redis INCR+EXPIRE. The counter is kept per fixed calendar
// minute and resets at each minute boundary; it is not a sliding window, so
// requests on either side of a boundary are counted separately. On breach it
// sleeps until the next window opens rather than rejecting the call.
type RateLimiter struct {
	client            *redis.Client
	requestsPerMinute int
	key               string
}

func NewRateLimiter(client *redis.Client, requestsPerMinute int) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	return &RateLimiter{
		client:            client,
		requestsPerMinute: requestsPerMinute,
		key:               rateLimitKeyPrefix,
	}
}

// Wait blocks until a request slot is available in the current minute
// window, then consumes one.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		windowKey := fmt.Sprintf("%s:%d", r.key, time.Now().Unix()/60)

		count, err := r.client.Incr(ctx, windowKey).Result()
		if err != nil {
			return fmt.Errorf("search rate limiter incr: %w", err)
		}
		if count == 1 {
			r.client.Expire(ctx, windowKey, 2*time.Minute)
		}

		if count <= int64(r.requestsPerMinute) {
			return nil
		}

		sleepFor := time.Until(nextWindow())
		slog.WarnContext(ctx, "search adapter rate limit reached, sleeping until window opens",
			"requests_per_minute", r.requestsPerMinute, "sleep_ms", sleepFor.Milliseconds())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleepFor):
		}
	}
}

func nextWindow() time.Time {
	now := time.Now()
	return now.Truncate(time.Minute).Add(time.Minute)
}
