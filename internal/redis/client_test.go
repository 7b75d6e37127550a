package redisclient

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/config"
)

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.Config{
		RedisAddr:         "cache:6379",
		RedisUsername:     "clinic",
		RedisPassword:     "secret",
		RedisPoolSize:     25,
		RedisMinIdleConns: 3,
		RedisTimeout:      500 * time.Millisecond,
	})

	assert.Equal(t, Options{
		Addr:         "cache:6379",
		Username:     "clinic",
		Password:     "secret",
		PoolSize:     25,
		MinIdleConns: 3,
		Timeout:      500 * time.Millisecond,
	}, opts)
}

func TestNewRedisClient_AppliesOptions(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := NewRedisClient(context.Background(), Options{
		Addr:         mr.Addr(),
		PoolSize:     7,
		MinIdleConns: 0,
		Timeout:      time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	assert.Equal(t, 7, rdb.Options().PoolSize)
	assert.Equal(t, time.Second, rdb.Options().ReadTimeout)
	assert.Equal(t, time.Second, rdb.Options().WriteTimeout)
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisClient(context.Background(), Options{Addr: addr, PoolSize: 1, Timeout: 200 * time.Millisecond})
	assert.ErrorContains(t, err, "ping redis")
}
