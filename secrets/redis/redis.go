// Package redis provides a Redis-backed secrets.Store, for hosts that share
// secrets across editor processes.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/agentbridge/secrets"
	"github.com/redis/go-redis/v9"
)

// Config contains configuration options for the Redis store.
type Config struct {
	// Client is the Redis client instance.
	Client *redis.Client

	// KeyPrefix is the prefix for all Redis keys.
	// Default: "agentbridge:secrets:"
	KeyPrefix string
}

// Store implements secrets.Store using Redis.
type Store struct {
	client    *redis.Client
	keyPrefix string
}

// storedSecret is the value written under each key.
type storedSecret struct {
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a Redis-backed store.
func New(config Config) (*Store, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "agentbridge:secrets:"
	}
	return &Store{client: config.Client, keyPrefix: config.KeyPrefix}, nil
}

// Dial connects to the Redis server at addr and returns a store using
// keyPrefix.
func Dial(ctx context.Context, addr, keyPrefix string) (*Store, error) {
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(ctx).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(Config{Client: cl, KeyPrefix: keyPrefix})
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if err := secrets.CheckKey(key); err != nil {
		return "", false, err
	}
	redisKey := s.keyPrefix + key
	raw, err := s.client.Get(ctx, redisKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get key %s: %w", redisKey, err)
	}

	var item storedSecret
	if err := json.Unmarshal(raw, &item); err != nil {
		return "", false, fmt.Errorf("failed to unmarshal secret %s: %w", redisKey, err)
	}
	return item.Value, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := secrets.CheckKey(key); err != nil {
		return err
	}
	redisKey := s.keyPrefix + key
	data, err := json.Marshal(storedSecret{Value: value, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal secret: %w", err)
	}
	if err := s.client.Set(ctx, redisKey, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", redisKey, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := secrets.CheckKey(key); err != nil {
		return err
	}
	redisKey := s.keyPrefix + key
	if err := s.client.Del(ctx, redisKey).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", redisKey, err)
	}
	return nil
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

var _ secrets.Store = (*Store)(nil)
