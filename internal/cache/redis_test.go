// SPDX-License-Identifier: MIT

package cache

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupMiniRedis creates a test Redis server using miniredis.
func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()

	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return mr, &RedisCache{
		client: client,
		logger: zerolog.Nop(),
	}
}

func TestRedisCache_SetGet(t *testing.T) {
	mr, c := setupMiniRedis(t)
	defer mr.Close()

	c.Set("test-key", []byte("test-value"), 5*time.Minute)

	val, found := c.Get("test-key")
	require.True(t, found)
	assert.Equal(t, []byte("test-value"), val)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Sets)
}

func TestRedisCache_GetMissing(t *testing.T) {
	mr, c := setupMiniRedis(t)
	defer mr.Close()

	_, found := c.Get("nope")
	assert.False(t, found)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestRedisCache_TTLExpiry(t *testing.T) {
	mr, c := setupMiniRedis(t)
	defer mr.Close()

	c.Set("short", []byte("lived"), time.Second)
	mr.FastForward(2 * time.Second)

	_, found := c.Get("short")
	assert.False(t, found, "entry must expire after TTL")
}

func TestRedisCache_DeleteAndClear(t *testing.T) {
	mr, c := setupMiniRedis(t)
	defer mr.Close()

	c.Set("a", []byte("1"), time.Minute)
	c.Set("b", []byte("2"), time.Minute)

	c.Delete("a")
	_, found := c.Get("a")
	assert.False(t, found)

	c.Clear()
	_, found = c.Get("b")
	assert.False(t, found)
}

func TestRedisCache_Unreachable(t *testing.T) {
	_, err := NewRedisCache(RedisConfig{Addr: "127.0.0.1:1"}, zerolog.Nop())
	require.Error(t, err, "connection failure surfaces instead of a broken cache")
}
