package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps entities as string values under prefix:collection:id.
// Every write refreshes the TTL so idle entities age out.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a new RedisStore; ttl 0 keeps keys forever
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// NewRedisClient dials Redis and verifies connectivity
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func (s *RedisStore) key(collection, id string) string {
	return s.prefix + ":" + collection + ":" + id
}

func (s *RedisStore) Get(ctx context.Context, collection, id string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(collection, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s/%s: %w", collection, id, err)
	}
	return data, nil
}

func (s *RedisStore) Put(ctx context.Context, collection, id string, data []byte) error {
	if err := s.client.Set(ctx, s.key(collection, id), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, collection, id string) error {
	n, err := s.client.Del(ctx, s.key(collection, id)).Result()
	if err != nil {
		return fmt.Errorf("redis del %s/%s: %w", collection, id, err)
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// HealthCheck pings Redis
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}
