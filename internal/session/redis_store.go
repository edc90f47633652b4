package session

import (
	"context"
	"errors"
	"fmt"

	"smart-queue/internal/status"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "queuectl:session:"

// RedisStore shares one session between processes, keyed by profile.
type RedisStore struct {
	rdb    *redis.Client
	key    string
	sealer *Sealer
}

func NewRedisStore(rdb *redis.Client, profile string, sealer *Sealer) *RedisStore {
	if profile == "" {
		profile = "default"
	}
	return &RedisStore{
		rdb:    rdb,
		key:    keyPrefix + profile,
		sealer: sealer,
	}
}

func (s *RedisStore) Load(ctx context.Context) (Credentials, error) {
	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Credentials{}, status.ErrNoCredential
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("redis store: load: %w", err)
	}
	return decode(data, s.sealer)
}

func (s *RedisStore) Save(ctx context.Context, creds Credentials) error {
	data, err := encode(creds, s.sealer)
	if err != nil {
		return fmt.Errorf("redis store: save: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key, string(data), 0).Err(); err != nil {
		return fmt.Errorf("redis store: save: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis store: clear: %w", err)
	}
	return nil
}
