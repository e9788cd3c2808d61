package sources_test

import (
	"context"
	"testing"

	"github.com/illmade-knight/go-querycache/pkg/sources"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceConstructors_Validation(t *testing.T) {
	t.Run("Firestore requires a client", func(t *testing.T) {
		_, err := sources.NewFirestoreSource[map[string]any](&sources.FirestoreConfig{CollectionName: "users"}, nil, zerolog.Nop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "firestore client cannot be nil")
	})

	t.Run("Redis requires an address", func(t *testing.T) {
		_, err := sources.NewRedisSource[string](context.Background(), &sources.RedisConfig{}, zerolog.Nop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "redis address cannot be empty")
	})

	t.Run("Redis reports an unreachable server", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := sources.NewRedisSource[string](ctx, &sources.RedisConfig{Addr: "127.0.0.1:1"}, zerolog.Nop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to connect to redis")
	})
}
