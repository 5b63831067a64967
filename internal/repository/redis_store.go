package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ComUnity/voiceid-service/internal/client"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements SessionStore and CounterStore on one Redis client.
type RedisStore struct {
	rc     *client.RedisClient
	prefix string
}

// NewRedisStore namespaces every key with prefix.
func NewRedisStore(rc *client.RedisClient, prefix string) *RedisStore {
	return &RedisStore{rc: rc, prefix: prefix}
}

func (s *RedisStore) key(k string) string { return s.prefix + k }

func (s *RedisStore) Put(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := s.rc.SetJSON(ctx, s.key(key), value, ttl); err != nil {
		return fmt.Errorf("redis put %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string, dest any) error {
	return mapNil(s.rc.GetJSON(ctx, s.key(key), dest), "get", key)
}

func (s *RedisStore) Take(ctx context.Context, key string, dest any) error {
	return mapNil(s.rc.GetDelJSON(ctx, s.key(key), dest), "take", key)
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.rc.InstrumentedDo(ctx, "del", func(ctx context.Context) error {
		return s.rc.Del(ctx, s.key(key)).Err()
	})
}

func (s *RedisStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return s.rc.IncrementWithTTL(ctx, s.key(key), ttl)
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	return s.Delete(ctx, key)
}

func (s *RedisStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	created, err := s.rc.SetIfAbsent(ctx, s.key(key), value, ttl)
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return created, nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	var n int64
	err := s.rc.InstrumentedDo(ctx, "exists", func(ctx context.Context) error {
		var err error
		n, err = s.rc.Client.Exists(ctx, s.key(key)).Result()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", key, err)
	}
	return n > 0, nil
}

func mapNil(err error, op, key string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return ErrNotFound
	default:
		return fmt.Errorf("redis %s %s: %w", op, key, err)
	}
}
