package cache

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds configuration for RedisStore
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	// TTL expires entries; zero keeps them
	TTL time.Duration
}

// RedisStore keeps entries as redis strings
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a redis-backed cache store
func NewRedisStore(cfg RedisConfig) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisStoreWithClient(client, cfg.Prefix, cfg.TTL)
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "goalrun:cache:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) Put(ctx context.Context, key string, data []byte) error {
	if err := s.client.Set(ctx, s.prefix+key, data, s.ttl).Err(); err != nil {
		return backendErr("redis", "put", key, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, miss(key)
	}
	if err != nil {
		return nil, backendErr("redis", "get", key, err)
	}
	return data, nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+key).Result()
	if err != nil {
		return false, backendErr("redis", "exists", key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return backendErr("redis", "delete", key, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
