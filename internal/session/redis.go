package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kalambet/shopbot/internal/intent"
)

const (
	DefaultRedisPrefix = "shopbot:session:"
	DefaultRedisTTL    = 24 * time.Hour
)

// RedisStore keeps session memory in Redis as JSON values that expire
// after ttl of inactivity.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to addr and verifies the connection.
func NewRedisStore(ctx context.Context, addr, password string, db int, prefix string, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: 10,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return NewRedisStoreWithClient(client, prefix, ttl), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(id string) string { return s.prefix + id }

func (s *RedisStore) GetMemory(ctx context.Context, id string) (intent.Memory, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return intent.Memory{}, nil
	}
	if err != nil {
		return intent.Memory{}, fmt.Errorf("redis get: %w", err)
	}

	var mem intent.Memory
	if err := json.Unmarshal(data, &mem); err != nil {
		return intent.Memory{}, fmt.Errorf("decoding session %s: %w", id, err)
	}
	return mem, nil
}

func (s *RedisStore) SaveMemory(ctx context.Context, id string, mem intent.Memory) error {
	data, err := json.Marshal(mem)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", id, err)
	}
	if err := s.client.Set(ctx, s.key(id), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes a session's memory.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.key(id)).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
