package health

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// probeKeyPrefix namespaces the short-lived keys written by RedisChecker.
const probeKeyPrefix = "shotonme:health:"

// RedisChecker verifies that the unread badge cache accepts writes. A PING
// alone passes against a read-only replica, so the check writes a probe key
// with a short TTL and reads it back.
type RedisChecker struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisChecker(client redis.Cmdable) *RedisChecker {
	return &RedisChecker{client: client, ttl: 10 * time.Second}
}

func (r *RedisChecker) HealthCheck(ctx context.Context) error {
	key := probeKeyPrefix + uuid.NewString()
	want := time.Now().UTC().Format(time.RFC3339Nano)

	if err := r.client.Set(ctx, key, want, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis write: %w", err)
	}
	got, err := r.client.Get(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redis read: %w", err)
	}
	// Best effort; the TTL removes the key anyway.
	_ = r.client.Del(ctx, key).Err()
	if got != want {
		return fmt.Errorf("redis returned %q for probe key, want %q", got, want)
	}
	return nil
}
