// Package redis is the Redis backend of store.Storage, for deployments that
// run more than one replica.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rmax-ai/acebot/pkg/store"
)

const defaultPrefix = "acebot:kv:"

// Storage keeps values under prefixed keys.
type Storage struct {
	client *redis.Client
	prefix string
}

// NewStorage wraps client. prefix defaults to "acebot:kv:".
func NewStorage(client *redis.Client, prefix string) *Storage {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Storage{client: client, prefix: prefix}
}

// Dial connects to addr and pings it.
func Dial(ctx context.Context, addr, password string, db int) (*Storage, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", addr, err)
	}
	return NewStorage(client, ""), nil
}

func (s *Storage) makeKey(key string) string {
	return s.prefix + key
}

func (s *Storage) Read(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		if k == "" {
			return nil, store.ErrEmptyKey
		}
		full[i] = s.makeKey(k)
	}
	values, err := s.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to MGET keys: %w", err)
	}
	for i, val := range values {
		if val == nil {
			continue
		}
		str, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("MGET returned non-string for key %s", keys[i])
		}
		out[keys[i]] = []byte(str)
	}
	return out, nil
}

// Write sets every change in one MULTI/EXEC.
func (s *Storage) Write(ctx context.Context, changes map[string][]byte) error {
	if len(changes) == 0 {
		return nil
	}
	for k := range changes {
		if k == "" {
			return store.ErrEmptyKey
		}
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range changes {
			pipe.Set(ctx, s.makeKey(k), v, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write keys: %w", err)
	}
	return nil
}

func (s *Storage) Delete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		if k == "" {
			return store.ErrEmptyKey
		}
		full[i] = s.makeKey(k)
	}
	if err := s.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("failed to DEL keys: %w", err)
	}
	return nil
}

func (s *Storage) Close() error {
	return s.client.Close()
}
