package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestMemoryGetSetDelete(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	val, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), val)

	require.NoError(t, c.Delete(ctx, "k"))
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client)
}

func TestRedisGetSetDelete(t *testing.T) {
	ctx := context.Background()
	c := newTestRedis(t)

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	val, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), val)

	require.NoError(t, c.Delete(ctx, "k"))
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func testKVContract(t *testing.T, c Cache) {
	t.Helper()
	ctx := context.Background()

	ok, err := c.SetIfAbsent(ctx, "sia", []byte("first"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = c.SetIfAbsent(ctx, "sia", []byte("second"), time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
	val, _, err := c.Get(ctx, "sia")
	require.NoError(t, err)
	require.Equal(t, []byte("first"), val)

	exists, err := c.Exists(ctx, "sia")
	require.NoError(t, err)
	require.True(t, exists)
	exists, err = c.Exists(ctx, "nope")
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, c.Set(ctx, "pattern:a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "pattern:b", []byte("2"), time.Minute))
	require.NoError(t, c.Set(ctx, "other", []byte("3"), time.Minute))
	n, err := c.DeletePattern(ctx, "pattern:*")
	require.NoError(t, err)
	require.Equal(t, 2, n)
	exists, _ = c.Exists(ctx, "other")
	require.True(t, exists)

	n64, err := c.Increment(ctx, "counter", 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), n64)
	n64, err = c.Increment(ctx, "counter", 4)
	require.NoError(t, err)
	require.Equal(t, int64(5), n64)

	require.NoError(t, c.Expire(ctx, "sia", time.Hour))
	ttl, ok, err := c.TTL(ctx, "sia")
	require.NoError(t, err)
	require.True(t, ok)
	require.Greater(t, ttl, time.Minute)

	size, err := c.Size(ctx)
	require.NoError(t, err)
	require.Greater(t, size, 0)

	require.NoError(t, c.Clear(ctx))
	size, err = c.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, size)
}

func TestMemoryKVContract(t *testing.T) {
	testKVContract(t, NewMemory())
}

func TestRedisKVContract(t *testing.T) {
	testKVContract(t, newTestRedis(t))
}
