package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestCache(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, ttl), mr
}

func TestRedis_SetGet(t *testing.T) {
	c, mr := setupTestCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "kpis|24h||", []byte(`{"sessions":3}`)))

	got, ok, err := c.Get(ctx, "kpis|24h||")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"sessions":3}`, string(got))
	assert.True(t, mr.Exists(keyPrefix+"kpis|24h||"))
	assert.Equal(t, time.Minute, mr.TTL(keyPrefix+"kpis|24h||"))
}

func TestRedis_Miss(t *testing.T) {
	c, _ := setupTestCache(t, time.Minute)

	got, ok, err := c.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestRedis_Expiry(t *testing.T) {
	c, mr := setupTestCache(t, 30*time.Second)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []byte("v")))

	mr.FastForward(31 * time.Second)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "entry should expire after the TTL")
}

func TestRedis_GetError(t *testing.T) {
	c, mr := setupTestCache(t, time.Minute)
	mr.Close()

	_, ok, err := c.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	c, err := Open(ctx, "redis://"+mr.Addr(), time.Minute)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Set(ctx, "k", []byte("v")))

	_, err = Open(ctx, "not-a-url://x", time.Minute)
	assert.Error(t, err)
}
