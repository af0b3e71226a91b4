package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oslsr/kestrel/internal/domain"
)

func setupRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := NewRedisCacheFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()

	t.Run("set get delete", func(t *testing.T) {
		c, mr := setupRedis(t)

		require.NoError(t, c.Set(ctx, "thresholds:snapshot", []byte("v1"), time.Minute))
		assert.True(t, mr.Exists("kestrel:thresholds:snapshot"))

		val, err := c.Get(ctx, "thresholds:snapshot")
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), val)

		require.NoError(t, c.Delete(ctx, "thresholds:snapshot"))
		val, err = c.Get(ctx, "thresholds:snapshot")
		require.NoError(t, err)
		assert.Nil(t, val)
	})

	t.Run("ttl", func(t *testing.T) {
		c, mr := setupRedis(t)

		require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
		mr.FastForward(2 * time.Minute)

		val, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.Nil(t, val)
	})

	t.Run("setnx claims once", func(t *testing.T) {
		c, mr := setupRedis(t)

		ok, err := c.SetNX(ctx, "fraud-detection:s1", []byte("1"), time.Hour)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = c.SetNX(ctx, "fraud-detection:s1", []byte("2"), time.Hour)
		require.NoError(t, err)
		assert.False(t, ok)

		mr.FastForward(2 * time.Hour)
		ok, err = c.SetNX(ctx, "fraud-detection:s1", []byte("3"), time.Hour)
		require.NoError(t, err)
		assert.True(t, ok, "an expired claim can be taken again")
	})

	t.Run("empty key", func(t *testing.T) {
		c, _ := setupRedis(t)
		_, err := c.SetNX(ctx, "", nil, time.Second)
		assert.Error(t, err)
	})

	t.Run("unavailable server", func(t *testing.T) {
		c, mr := setupRedis(t)
		mr.Close()

		_, err := c.Get(ctx, "k")
		assert.Error(t, err)
		assert.Error(t, c.Ping(ctx))
	})
}

func TestTwoPhaseCache(t *testing.T) {
	ctx := context.Background()

	t.Run("l1 is populated from l2", func(t *testing.T) {
		remote, mr := setupRedis(t)
		c := newTwoPhase(NewLRUCache(10), remote, time.Minute)

		require.NoError(t, mr.Set("kestrel:k", "remote"))

		val, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("remote"), val)

		mr.Del("kestrel:k")
		val, err = c.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("remote"), val, "served from l1")

		size, _ := c.Stats()
		assert.Equal(t, 1, size)
	})

	t.Run("delete invalidates both tiers", func(t *testing.T) {
		remote, mr := setupRedis(t)
		c := newTwoPhase(NewLRUCache(10), remote, time.Minute)

		require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
		require.NoError(t, c.Delete(ctx, "k"))

		assert.False(t, mr.Exists("kestrel:k"))
		val, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.Nil(t, val)
	})

	t.Run("setnx is decided by redis", func(t *testing.T) {
		remote, mr := setupRedis(t)
		a := newTwoPhase(NewLRUCache(10), remote, time.Minute)
		b := newTwoPhase(NewLRUCache(10), remote, time.Minute)

		ok, err := a.SetNX(ctx, "job", []byte("a"), time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = b.SetNX(ctx, "job", []byte("b"), time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := mr.Get("kestrel:job")
		require.NoError(t, err)
		assert.Equal(t, "a", got)

		require.NoError(t, a.Ping(ctx))
	})

	t.Run("new from config", func(t *testing.T) {
		mr := miniredis.RunT(t)
		c, err := New(domain.CacheConfig{Type: "redis", RedisAddr: mr.Addr(), EnableTwoPhase: true})
		require.NoError(t, err)
		defer c.Close()
		assert.IsType(t, &TwoPhaseCache{}, c)

		c2, err := New(domain.CacheConfig{Type: "redis", RedisAddr: mr.Addr()})
		require.NoError(t, err)
		defer c2.Close()
		assert.IsType(t, &RedisCache{}, c2)
	})
}
