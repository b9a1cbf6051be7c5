package session

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistributedRateLimiter is a Redis-backed equivalent of RateLimiter, used
// when the API runs as more than one replica so a brute-force attempt
// against one replica is still throttled against the others. It mirrors
// RateLimiter's sliding-window semantics using a per-IP sorted set: each
// failure is ZADD'd with its timestamp as score, stale entries are trimmed
// with ZREMRANGEBYSCORE, and ZCARD gives the in-window count.
type DistributedRateLimiter struct {
	client        *redis.Client
	maxAttempts   int
	windowSeconds int64
}

// NewDistributedRateLimiter wraps a Redis client for cross-replica auth
// rate limiting.
func NewDistributedRateLimiter(client *redis.Client, maxAttempts int, windowSeconds int64) *DistributedRateLimiter {
	return &DistributedRateLimiter{client: client, maxAttempts: maxAttempts, windowSeconds: windowSeconds}
}

func (r *DistributedRateLimiter) key(ip net.IP) string {
	return fmt.Sprintf("ddalab:ratelimit:%s", ip.String())
}

// RecordFailure records a failed attempt for ip and reports whether it is
// now at or over the limit.
func (r *DistributedRateLimiter) RecordFailure(ctx context.Context, ip net.IP) (bool, error) {
	key := r.key(ip)
	now := time.Now()
	cutoff := now.Add(-time.Duration(r.windowSeconds) * time.Second)

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", cutoff.UnixNano()))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: now.UnixNano()})
	card := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, time.Duration(r.windowSeconds)*time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("session: redis rate limiter record failure: %w", err)
	}

	return card.Val() >= int64(r.maxAttempts), nil
}

// IsRateLimited reports whether ip is currently at or over the limit,
// without recording a new attempt.
func (r *DistributedRateLimiter) IsRateLimited(ctx context.Context, ip net.IP) (bool, error) {
	key := r.key(ip)
	cutoff := time.Now().Add(-time.Duration(r.windowSeconds) * time.Second)

	if err := r.client.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", cutoff.UnixNano())).Err(); err != nil {
		return false, fmt.Errorf("session: redis rate limiter prune: %w", err)
	}
	count, err := r.client.ZCard(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("session: redis rate limiter card: %w", err)
	}
	return count >= int64(r.maxAttempts), nil
}

// Clear removes all recorded attempts for ip, e.g. after a successful login.
func (r *DistributedRateLimiter) Clear(ctx context.Context, ip net.IP) error {
	return r.client.Del(ctx, r.key(ip)).Err()
}
