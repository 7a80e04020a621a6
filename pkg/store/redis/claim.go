package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/rmax-ai/acebot/pkg/store"
)

// Claim sets key only if it does not exist, expiring after ttl.
func (s *Storage) Claim(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, store.ErrEmptyKey
	}

	// NX: Only set if not exists
	// Expiration: Set the TTL
	success, err := s.client.SetNX(ctx, s.makeKey(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim key %s: %w", key, err)
	}
	return success, nil
}
