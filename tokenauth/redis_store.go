package tokenauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the key under which the JWKS document is shared
const DefaultRedisKey = "tokenauth:jwks"

// RedisKeySetStore shares the raw JWKS document between replicas
type RedisKeySetStore struct {
	client redis.Cmdable
	key    string
}

// NewRedisKeySetStore creates a store using client; an empty key uses DefaultRedisKey
func NewRedisKeySetStore(client redis.Cmdable, key string) *RedisKeySetStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisKeySetStore{client: client, key: key}
}

// NewRedisKeySetStoreFromURL parses a redis:// URL and creates a store
func NewRedisKeySetStoreFromURL(url, key string) (*RedisKeySetStore, *redis.Client, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(options)
	return NewRedisKeySetStore(client, key), client, nil
}

// Get returns the stored document or (nil, nil) when absent
func (s *RedisKeySetStore) Get(ctx context.Context) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// Set stores the document with the given TTL
func (s *RedisKeySetStore) Set(ctx context.Context, document []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.key, document, ttl).Err()
}
