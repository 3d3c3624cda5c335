package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNilCacheIsNoOp(t *testing.T) {
	var c *Cache
	ctx := context.Background()

	var dest map[string]int
	assert.False(t, c.Get(ctx, "k", &dest))
	c.Set(ctx, "k", map[string]int{"a": 1})
	assert.NoError(t, c.Ping(ctx))
	assert.NoError(t, c.Close())
}

func TestUnreachableRedisDegradesToMiss(t *testing.T) {
	// Closed port; every operation fails fast and reads behave as misses.
	c := New("127.0.0.1:1", "", 0, time.Second)
	defer c.Close() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var dest map[string]int
	assert.False(t, c.Get(ctx, "k", &dest))
	c.Set(ctx, "k", map[string]int{"a": 1})
	assert.Error(t, c.Ping(ctx))
}

func TestChartKey(t *testing.T) {
	assert.Equal(t, "chart:42:30d", ChartKey(42, "30d"))
}
