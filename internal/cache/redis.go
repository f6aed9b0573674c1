package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/emberfed/emberauth/internal/config"
	"github.com/redis/go-redis/v9"
)

// RedisClient is the global Redis client instance
var RedisClient *redis.Client

// ConnectRedis initializes the package-level RedisClient and verifies
// connectivity with a short ping.
func ConnectRedis(cfg *config.RedisConfig) error {
	RedisClient = redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := RedisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	slog.Info("Redis connected successfully", "address", cfg.Address())
	return nil
}

// CloseRedis closes the global RedisClient if it is initialized.
func CloseRedis() error {
	if RedisClient != nil {
		return RedisClient.Close()
	}
	return nil
}
