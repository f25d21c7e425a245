package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the cache with redis so multiple instances share one
// generation counter per namespace. INCR gives the atomicity the contract needs.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "copilot"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + ":" + k
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.key(key), value, ttl).Err()
}

func (s *RedisStore) IncrementVersion(ctx context.Context, namespace string) (int64, error) {
	key := s.key("ver:" + namespace)
	// Entries written before any bump live under the implicit version 1.
	// Seed the counter at 1 first so the first INCR yields 2 and orphans
	// them; a bare INCR on a missing key would also report 1.
	if err := s.client.SetNX(ctx, key, 1, 0).Err(); err != nil {
		return 0, err
	}
	return s.client.Incr(ctx, key).Result()
}

func (s *RedisStore) Version(ctx context.Context, namespace string) (int64, error) {
	v, err := s.client.Get(ctx, s.key("ver:"+namespace)).Int64()
	if errors.Is(err, redis.Nil) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	if v < 1 {
		return 1, nil
	}
	return v, nil
}
