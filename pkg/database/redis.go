package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// ConnectAttempts bounds the startup ping retries; zero means 3.
	ConnectAttempts int
	// SlowCommand logs commands slower than this; zero disables it.
	SlowCommand time.Duration
}

// DefaultRedisConfig returns sensible defaults for Redis.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:            "localhost:6379",
		ConnectAttempts: defaultRetryAttempts,
	}
}

// NewRedisClient creates a traced Redis client and verifies the connection,
// retrying transient dial failures.
func NewRedisClient(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	client.AddHook(NewRedisTracingHook(cfg.SlowCommand, logger))

	err := retryConnect(ctx, "redis", cfg.ConnectAttempts, logger, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}
