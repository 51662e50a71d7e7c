package capturestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Key under which the latest record is kept.
	Key string
	// TTL expires the record when no new capture replaces it. Zero keeps it forever.
	TTL time.Duration
}

// RedisStore keeps the latest record as a JSON string in Redis.
type RedisStore struct {
	redisClient *redis.Client
	key         string
	ttl         time.Duration
	logger      zerolog.Logger
}

// NewRedisStore connects to Redis and pings it before returning.
func NewRedisStore(ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisStore, error) {
	if cfg.Key == "" {
		return nil, errors.New("redis key is required")
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

	logger.Info().Str("redis_address", cfg.Addr).Str("key", cfg.Key).Msg("Successfully connected to Redis.")

	return &RedisStore{
		redisClient: rdb,
		key:         cfg.Key,
		ttl:         cfg.TTL,
		logger:      logger.With().Str("component", "RedisStore").Logger(),
	}, nil
}

// Put overwrites the stored record.
func (s *RedisStore) Put(ctx context.Context, rec Record) error {
	jsonData, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if err := s.redisClient.Set(ctx, s.key, jsonData, s.ttl).Err(); err != nil {
		s.logger.Error().Err(err).Str("key", s.key).Msg("Failed to store latest capture in Redis.")
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	s.logger.Debug().Str("key", s.key).Str("run_id", rec.RunID).Msg("Stored latest capture.")
	return nil
}

// Latest reads the stored record. A missing key is ErrNotFound.
func (s *RedisStore) Latest(ctx context.Context) (Record, error) {
	data, err := s.redisClient.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("failed to get from redis: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Error().Err(err).Str("key", s.key).Msg("Failed to unmarshal stored capture.")
		return Record{}, fmt.Errorf("failed to unmarshal data: %w", err)
	}
	return rec, nil
}

// Close closes the Redis client connection.
func (s *RedisStore) Close() error {
	if s.redisClient != nil {
		s.logger.Info().Msg("Closing Redis client connection...")
		return s.redisClient.Close()
	}
	return nil
}
