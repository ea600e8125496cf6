// Package cache provides Redis-backed memoization of orchestrator results.
//
// The cache is optional: when no Redis URL is configured the orchestrator runs
// without it and every request pays the full cascade cost.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is applied when Set is called with a non-positive TTL.
const DefaultTTL = time.Hour

// Cache is a namespaced key-value cache over Redis.
type Cache struct {
	client     *redis.Client
	namespace  string
	defaultTTL time.Duration
}

// New connects to Redis and verifies the connection with a ping.
// defaultTTL <= 0 falls back to DefaultTTL.
func New(ctx context.Context, url, namespace string, defaultTTL time.Duration) (*Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: ping redis: %w", err)
	}

	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}

	return &Cache{client: client, namespace: namespace, defaultTTL: defaultTTL}, nil
}

func (c *Cache) key(k string) string {
	if c.namespace == "" {
		return k
	}
	return c.namespace + ":" + k
}

// Get returns the cached value, or (nil, nil) on a miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: get %q: %w", key, err)
	}
	return val, nil
}

// Set stores a value with the given TTL. A non-positive TTL uses the default.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if err := c.client.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %q: %w", key, err)
	}
	return nil
}

// Healthy returns nil if Redis responds to a ping.
func (c *Cache) Healthy(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cache: redis unhealthy: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}
