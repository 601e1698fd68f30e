package db

import (
	"github.com/redis/go-redis/v9"

	"github.com/fluxpay/engine/pkg/config"
)

// ConnectRedis builds a Redis client for the idempotency cache tier.
func ConnectRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}
