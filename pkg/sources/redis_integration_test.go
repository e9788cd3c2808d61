//go:build integration

package sources_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/illmade-knight/go-querycache/pkg/sources"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type redisTestValue struct {
	ID   string
	Data []byte
}

func TestRedisSource_Integration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set; skipping Redis integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)

	// Seed the key through a plain client.
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	value := redisTestValue{ID: "test-id", Data: []byte("hello world")}
	payload, err := json.Marshal(value)
	require.NoError(t, err)
	require.NoError(t, rdb.Set(ctx, "querycache-test-key", payload, time.Minute).Err())

	src, err := sources.NewRedisSource[redisTestValue](ctx, &sources.RedisConfig{Addr: addr}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })

	t.Run("Hit", func(t *testing.T) {
		got, err := src.Key("querycache-test-key")(ctx)
		require.NoError(t, err)
		assert.Equal(t, value, got)
	})

	t.Run("Miss", func(t *testing.T) {
		_, err := src.Get(ctx, "querycache-non-existent-key")
		require.Error(t, err)
		assert.ErrorIs(t, err, sources.ErrNotFound)
	})
}
