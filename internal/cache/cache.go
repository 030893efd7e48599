// Package cache provides a Redis-backed read-through cache for the control
// plane's read-heavy session and template lookups, with a degrade-to-no-op
// mode when Redis isn't configured.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps a Redis client. A Cache with Enabled() false performs every
// operation as a silent no-op so callers never need a nil check.
type Cache struct {
	client *redis.Client
}

// Config holds the Redis connection settings.
type Config struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// New creates a Cache. With Enabled false it returns a disabled cache
// without dialing Redis at all.
func New(cfg Config) (*Cache, error) {
	if !cfg.Enabled {
		return &Cache{}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:        25,
		MinIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: time.Minute,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Cache{client: client}, nil
}

func (c *Cache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Cache) Enabled() bool {
	return c.client != nil
}

// Get unmarshals the cached value for key into target. Returns redis.Nil
// on a cache miss so callers can branch with errors.Is.
func (c *Cache) Get(ctx context.Context, key string, target interface{}) error {
	if !c.Enabled() {
		return redis.Nil
	}
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(val), target)
}

// Set stores value under key with the given TTL. A disabled cache silently
// skips the write.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !c.Enabled() {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if !c.Enabled() || len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// DeletePattern scans and deletes every key matching pattern, used to
// invalidate a resource's cache entries after a mutation.
func (c *Cache) DeletePattern(ctx context.Context, pattern string) error {
	if !c.Enabled() {
		return nil
	}
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan pattern %s: %w", pattern, err)
	}
	return c.Delete(ctx, keys...)
}

// SetNX acquires a short-lived distributed lock: it stores value under key
// only if key is absent and reports whether it did. A disabled cache always
// reports success.
func (c *Cache) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	if !c.Enabled() {
		return true, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("marshal lock value: %w", err)
	}
	return c.client.SetNX(ctx, key, data, ttl).Result()
}
