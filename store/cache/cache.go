// Package cache provides a Redis-backed distributed lock and short-lived
// value cache, grounded on queue/redis's Queue client construction and key
// conventions. It backs connector.CredentialCache's cross-instance
// coordination: when multiple ingestd processes share one org's connector
// instance, this prevents every instance from refreshing the same OAuth
// token concurrently (§5, §9 "Shared resources").
package cache

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config configures the Redis-backed cache.
type Config struct {
	RedisURL  string // defaults to INGEST_REDIS_URL or redis://localhost:6379/0
	KeyPrefix string // defaults to "cred:"
}

// Cache wraps a Redis client scoped to one key prefix.
type Cache struct {
	client *redis.Client
	prefix string
}

// New connects to Redis and verifies the connection with a Ping, the same
// shape as queue/redis.NewQueue.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	redisURL := cfg.RedisURL
	if redisURL == "" {
		redisURL = os.Getenv("INGEST_REDIS_URL")
	}
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "cred:"
	}
	return &Cache{client: client, prefix: prefix}, nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}

// AcquireRefreshLock claims the distributed right to refresh one credential
// key for ttl, via SET NX. Returns false, nil if another instance already
// holds it rather than erroring, since losing the race is the expected,
// common case under concurrent load.
func (c *Cache) AcquireRefreshLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, c.lockKey(key), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cache: acquire lock %s: %w", key, err)
	}
	return ok, nil
}

// ReleaseRefreshLock frees the lock early once the refresh that held it
// completes, instead of waiting out the full ttl.
func (c *Cache) ReleaseRefreshLock(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.lockKey(key)).Err(); err != nil {
		return fmt.Errorf("cache: release lock %s: %w", key, err)
	}
	return nil
}

// MarkScopeInProgress records that a full-sync scope is currently running,
// so a second trigger (e.g. an overlapping webhook-driven and scheduled run)
// can skip instead of racing the same scope (§5).
func (c *Cache) MarkScopeInProgress(ctx context.Context, scope string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, c.scopeKey(scope), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cache: mark scope %s: %w", scope, err)
	}
	return ok, nil
}

// ClearScopeInProgress releases a scope marker once its run finishes.
func (c *Cache) ClearScopeInProgress(ctx context.Context, scope string) error {
	if err := c.client.Del(ctx, c.scopeKey(scope)).Err(); err != nil {
		return fmt.Errorf("cache: clear scope %s: %w", scope, err)
	}
	return nil
}

func (c *Cache) lockKey(key string) string  { return c.prefix + "lock:" + key }
func (c *Cache) scopeKey(scope string) string { return c.prefix + "scope:" + scope }
