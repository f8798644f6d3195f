package notification

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultCountTTL bounds how long a cached badge survives without a refresh.
const DefaultCountTTL = 10 * time.Minute

// CountCache stores the unread badge per user so it can be shown before the
// list is fetched. Implementations must be safe for concurrent use.
type CountCache interface {
	// SetUnread stores n for user.
	SetUnread(ctx context.Context, user string, n int) error
	// Unread returns the stored count, and false when nothing is cached.
	Unread(ctx context.Context, user string) (int, bool, error)
}

// MemoryCountCache implements CountCache with a map.
type MemoryCountCache struct {
	mu     sync.RWMutex
	counts map[string]int
}

// NewMemoryCountCache creates an empty in-memory cache.
func NewMemoryCountCache() *MemoryCountCache {
	return &MemoryCountCache{counts: make(map[string]int)}
}

// SetUnread implements CountCache.
func (c *MemoryCountCache) SetUnread(_ context.Context, user string, n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[user] = n
	return nil
}

// Unread implements CountCache.
func (c *MemoryCountCache) Unread(_ context.Context, user string) (int, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.counts[user]
	return n, ok, nil
}

// RedisCountCache implements CountCache on Redis, so every client process of
// the same user shares one badge.
type RedisCountCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCountCache creates a Redis-backed cache. A ttl of zero uses
// DefaultCountTTL.
func NewRedisCountCache(client *redis.Client, ttl time.Duration) *RedisCountCache {
	if ttl <= 0 {
		ttl = DefaultCountTTL
	}
	return &RedisCountCache{
		client: client,
		prefix: "shotonme:notifications:unread:",
		ttl:    ttl,
	}
}

func (c *RedisCountCache) key(user string) string {
	return c.prefix + user
}

// SetUnread implements CountCache.
func (c *RedisCountCache) SetUnread(ctx context.Context, user string, n int) error {
	if err := c.client.Set(ctx, c.key(user), n, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache unread count: %w", err)
	}
	return nil
}

// Unread implements CountCache.
func (c *RedisCountCache) Unread(ctx context.Context, user string) (int, bool, error) {
	v, err := c.client.Get(ctx, c.key(user)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read cached unread count: %w", err)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt cached unread count %q: %w", v, err)
	}
	return n, true, nil
}
