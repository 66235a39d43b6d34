package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/config"
)

// NewRedisClient connects to the configured Redis and pings it. It returns
// (nil, nil) when Redis is disabled.
func NewRedisClient(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	if !cfg.RedisEnabled {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Username:     cfg.RedisUsername,
		Password:     cfg.RedisPassword,
		DB:           0,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 1,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", cfg.RedisAddr, err)
	}

	return rdb, nil
}

// Guards picks the claim locker and event publisher for a possibly nil client.
func Guards(rdb *redis.Client, cfg config.Config, log zerolog.Logger) (Locker, Publisher) {
	if rdb == nil {
		return NoopLocker{}, NoopPublisher{}
	}
	return NewRedisClaimLocker(rdb, cfg.LockTTL, cfg.LockWait, log), NewRedisPublisher(rdb)
}
