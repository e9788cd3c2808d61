package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-querycache/pkg/querycache"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RedisSource reads JSON values stored under Redis keys.
type RedisSource[V any] struct {
	redisClient *redis.Client
	logger      zerolog.Logger
}

// NewRedisSource creates and connects a RedisSource. It pings the server to
// ensure connectivity before returning.
func NewRedisSource[V any](
	ctx context.Context,
	cfg *RedisConfig,
	logger zerolog.Logger,
) (*RedisSource[V], error) {
	if cfg == nil || cfg.Addr == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")

	return &RedisSource[V]{
		redisClient: rdb,
		logger:      logger.With().Str("component", "RedisSource").Logger(),
	}, nil
}

// Get reads and unmarshals the value stored under key.
func (s *RedisSource[V]) Get(ctx context.Context, key string) (V, error) {
	var zero V
	data, err := s.redisClient.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, fmt.Errorf("%w: redis key %s", ErrNotFound, key)
		}
		s.logger.Error().Err(err).Str("key", key).Msg("Unexpected Redis error during fetch.")
		return zero, fmt.Errorf("redis get failed for key %s: %w", key, err)
	}

	var value V
	if err := json.Unmarshal([]byte(data), &value); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to unmarshal stored data.")
		return zero, fmt.Errorf("failed to unmarshal data for key %s: %w", key, err)
	}

	s.logger.Debug().Str("key", key).Msg("Redis read succeeded.")
	return value, nil
}

// Key returns a fetch function for one Redis key.
func (s *RedisSource[V]) Key(key string) querycache.FetchFunc {
	return querycache.Typed(func(ctx context.Context) (V, error) {
		return s.Get(ctx, key)
	})
}

// Close closes the Redis client connection.
func (s *RedisSource[V]) Close() error {
	if s.redisClient != nil {
		s.logger.Info().Msg("Closing Redis client connection...")
		return s.redisClient.Close()
	}
	return nil
}
