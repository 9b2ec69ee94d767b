package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/couchcryptid/road-hazard-service/internal/domain"
)

const rateLimitPrefix = keyPrefix + "ratelimit:"

// RateLimiter counts submissions per client in a fixed window.
type RateLimiter struct {
	client goredis.UniversalClient
	limit  int
	window time.Duration
}

// NewRateLimiter allows limit submissions per client every window.
func NewRateLimiter(client goredis.UniversalClient, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{client: client, limit: limit, window: window}
}

// Allow records one submission for clientID. When the limit is exceeded it
// returns false and the time until the window resets.
func (l *RateLimiter) Allow(ctx context.Context, clientID string) (bool, time.Duration, error) {
	key := rateLimitPrefix + clientID

	// The window starts with the first submission. INCR and EXPIRE NX share a
	// transaction so every counter carries a TTL. EXPIRE NX needs Redis 7.
	var incr *goredis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, l.window)
		return nil
	})
	if err != nil {
		return false, 0, domain.StorageError("increment rate counter", err)
	}
	count := incr.Val()
	if count <= int64(l.limit) {
		return true, 0, nil
	}

	retryAfter, err := l.client.TTL(ctx, key).Result()
	if err != nil || retryAfter < 0 {
		retryAfter = l.window
	}
	return false, retryAfter, nil
}
