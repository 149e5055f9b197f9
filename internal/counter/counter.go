package counter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable is returned when the backing counter service cannot be
// reached or answers with a protocol error. Callers decide whether to
// fail open or closed; the adapter itself never retries.
var ErrUnavailable = errors.New("counter store unavailable")

// Store is the atomic counter interface. All window bookkeeping goes
// through here. Implementations must be safe for concurrent use; each
// operation is individually atomic but no two operations compose
// atomically.
type Store interface {
	// Incr atomically increments key and returns the new count,
	// creating the key at 1 if absent.
	Incr(ctx context.Context, key string) (int64, error)
	// Expire sets a time-to-live on an existing key. Returns false
	// if the key does not exist.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Get reads the current count, reporting false if the key is absent.
	Get(ctx context.Context, key string) (int64, bool, error)
	// Delete removes a key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// RedisStore implements Store using go-redis/v9.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a RedisStore from a Redis URL.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	return count, nil
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return ok, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (int64, bool, error) {
	count, err := s.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, unavailable(err)
	}
	return count, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
