package store

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// Memory keeps values in process. Nothing survives a restart.
type Memory struct {
	c *cache.Cache
}

// NewMemory creates a memory store. Expired claims are purged every
// cleanupInterval.
func NewMemory(cleanupInterval time.Duration) *Memory {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	return &Memory{c: cache.New(cache.NoExpiration, cleanupInterval)}
}

func (m *Memory) Read(ctx context.Context, keys []string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkKeys(keys); err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := m.c.Get(k); ok {
			out[k] = append([]byte(nil), v.([]byte)...)
		}
	}
	return out, nil
}

func (m *Memory) Write(ctx context.Context, changes map[string][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for k, v := range changes {
		if k == "" {
			return ErrEmptyKey
		}
		m.c.Set(k, append([]byte(nil), v...), cache.NoExpiration)
	}
	return nil
}

func (m *Memory) Delete(ctx context.Context, keys []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkKeys(keys); err != nil {
		return err
	}
	for _, k := range keys {
		m.c.Delete(k)
	}
	return nil
}

// Claim uses the cache's Add, which fails while an unexpired item exists.
func (m *Memory) Claim(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if key == "" {
		return false, ErrEmptyKey
	}
	if err := m.c.Add(key, append([]byte(nil), value...), ttl); err != nil {
		return false, nil
	}
	return true, nil
}

func (m *Memory) Close() error {
	m.c.Flush()
	return nil
}
