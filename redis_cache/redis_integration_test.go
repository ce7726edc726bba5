//go:build integration

package redis_cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/t2bot/image-loader/cache_key"
	"github.com/t2bot/image-loader/common/config"
)

func TestRedisCache_Integration(t *testing.T) {
	addr := os.Getenv("IL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("IL_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)

	c, err := NewCache(ctx, config.RedisConfig{Address: addr, KeyPrefix: "il-test:"}, time.Minute, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	k := cache_key.Derive("https://example.org/a.png", nil, 10, 10, 1)

	t.Run("Round trip", func(t *testing.T) {
		require.NoError(t, c.Write(ctx, k, []byte("hello")))
		b, ok, err := c.Read(ctx, k)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte("hello"), b)
	})

	t.Run("Clear", func(t *testing.T) {
		require.NoError(t, c.Clear(ctx))
		_, ok, err := c.Read(ctx, k)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("TTL", func(t *testing.T) {
		c.Reconfigure(0, 100*time.Millisecond)
		require.NoError(t, c.Write(ctx, k, []byte("short")))
		time.Sleep(300 * time.Millisecond)
		_, ok, err := c.Read(ctx, k)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
