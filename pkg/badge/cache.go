package badge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores resolved badge keys for a short time.
type Cache interface {
	Get(ctx context.Context, key string) (Key, bool, error)
	Set(ctx context.Context, key string, value Key, ttl time.Duration) error
}

// RedisCache keeps resolved keys in Redis under a "badge:" prefix.
type RedisCache struct {
	redis *redis.Client
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(ctx context.Context, redisURL string) (*RedisCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisCache{redis: client}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (Key, bool, error) {
	val, err := c.redis.Get(ctx, "badge:"+key).Result()
	if errors.Is(err, redis.Nil) {
		return NoStatus, false, nil
	}
	if err != nil {
		return NoStatus, false, err
	}
	k := Key(val)
	if !k.Valid() {
		return NoStatus, false, nil
	}
	return k, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value Key, ttl time.Duration) error {
	return c.redis.Set(ctx, "badge:"+key, string(value), ttl).Err()
}

// Ping reports whether Redis is reachable.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.redis.Close()
}
