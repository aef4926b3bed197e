package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 200

// ErrCacheMiss is returned by Get when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

// Cache stores namespaced response bodies under "prefix:namespace:key".
type Cache struct {
	client redis.UniversalClient
	prefix string
}

// NewCache wraps client; every key is placed under prefix.
func NewCache(client redis.UniversalClient, prefix string) *Cache {
	return &Cache{client: client, prefix: prefix}
}

// Key returns the full redis key of an entry.
func (c *Cache) Key(namespace, key string) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, namespace, key)
}

func (c *Cache) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.Key(namespace, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get: %w", err)
	}
	return val, nil
}

func (c *Cache) Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.Key(namespace, key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set: %w", err)
	}
	return nil
}

// Invalidate drops one entry. Dropping a missing entry is not an error.
func (c *Cache) Invalidate(ctx context.Context, namespace, key string) error {
	if err := c.client.Del(ctx, c.Key(namespace, key)).Err(); err != nil {
		return fmt.Errorf("redis: del: %w", err)
	}
	return nil
}

// InvalidateNamespace drops every entry of namespace using SCAN so large
// keyspaces never block the server.
func (c *Cache) InvalidateNamespace(ctx context.Context, namespace string) error {
	pattern := fmt.Sprintf("%s:%s:*", c.prefix, namespace)
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return fmt.Errorf("redis: scan: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis: del: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Ping reports whether redis is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
