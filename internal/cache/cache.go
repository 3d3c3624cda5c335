// Package cache is a small JSON read cache over redis, used by the API for
// chart payloads. A nil *Cache is a valid no-op, so callers never branch on
// whether redis is configured.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Cache wraps a redis client with a fixed TTL and JSON codec.
type Cache struct {
	client redis.UniversalClient
	ttl    time.Duration
	log    *zap.Logger
}

// New connects to redis. TTL <= 0 gets a 60s default.
func New(addr, password string, db int, ttl time.Duration) *Cache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewWithClient(client, ttl)
}

// NewWithClient wraps an existing client. Tests inject fakes here.
func NewWithClient(client redis.UniversalClient, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Cache{
		client: client,
		ttl:    ttl,
		log:    zap.L().With(zap.String("component", "cache")),
	}
}

// Get unmarshals the cached value into dest. Returns false on miss or any
// redis error; errors are logged, not surfaced, so the caller just rebuilds.
func (c *Cache) Get(ctx context.Context, key string, dest any) bool {
	if c == nil {
		return false
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		c.log.Warn("cache payload corrupt", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Set stores the value under the cache TTL. Failures are logged only.
func (c *Cache) Set(ctx context.Context, key string, value any) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		c.log.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.log.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Ping checks connectivity for health reporting.
func (c *Cache) Ping(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if err := c.client.Ping(ctx).Err(); err != nil {
		return eris.Wrap(err, "cache: ping")
	}
	return nil
}

// Close releases the client.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

// ChartKey builds the cache key for one product chart.
func ChartKey(productID int64, rangeName string) string {
	return fmt.Sprintf("chart:%d:%s", productID, rangeName)
}
