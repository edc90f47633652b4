package utils

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to url, which is either a redis:// URL or a
// bare host:port, and pings it once.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		opts = &redis.Options{Addr: url}
	}

	// A CLI session needs few connections.
	opts.PoolSize = 4
	opts.MinIdleConns = 1
	opts.MaxRetries = 3

	client := redis.NewClient(opts)
	if err := RedisHealthCheck(ctx, client); err != nil {
		client.Close()
		return nil, err
	}

	slog.Debug("connected to redis", "addr", opts.Addr, "db", opts.DB)
	return client, nil
}

// RedisHealthCheck pings client with a short deadline.
func RedisHealthCheck(ctx context.Context, client *redis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}
