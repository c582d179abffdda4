package limits

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a CounterStore backed by a shared Redis instance so that
// every router replica draws from the same rate windows and cost ledger.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisConfig configures the shared counter store.
type RedisConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// NewRedisStore connects and pings the Redis backend.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "llmrouter"
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) key(key string) string {
	return s.prefix + ":" + key
}

// IncrBy implements CounterStore. The expiry is set only when the increment
// created the key, so refills within a window never extend it.
func (s *RedisStore) IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	k := s.key(key)
	val, err := s.client.IncrBy(ctx, k, delta).Result()
	if err != nil {
		return 0, err
	}
	if val == delta {
		// First writer for this window sets the TTL.
		s.client.Expire(ctx, k, ttl)
	}
	return val, nil
}

// Get implements CounterStore.
func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	val, err := s.client.Get(ctx, s.key(key)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}

// IncrCost implements CounterStore.
func (s *RedisStore) IncrCost(ctx context.Context, key string, usd float64, ttl time.Duration) (float64, error) {
	k := s.key(key)
	val, err := s.client.IncrByFloat(ctx, k, usd).Result()
	if err != nil {
		return 0, err
	}
	if val == usd {
		s.client.Expire(ctx, k, ttl)
	}
	return val, nil
}

// GetCost implements CounterStore.
func (s *RedisStore) GetCost(ctx context.Context, key string) (float64, error) {
	val, err := s.client.Get(ctx, s.key(key)).Float64()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}

// Close implements CounterStore.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
