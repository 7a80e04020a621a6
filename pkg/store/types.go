// Package store is the session key/value storage used by the SSO token
// exchange. Writes are last-write-wins; Claim adds a first-writer-wins
// insert with a time to live for de-duplication.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyKey is returned for an empty key.
var ErrEmptyKey = errors.New("empty storage key")

// Storage is implemented by every backend.
type Storage interface {
	// Read returns the values of the keys that exist. Missing keys are
	// absent from the result.
	Read(ctx context.Context, keys []string) (map[string][]byte, error)
	// Write stores every change. A key written twice keeps the last value.
	Write(ctx context.Context, changes map[string][]byte) error
	Delete(ctx context.Context, keys []string) error
}

// Claimer stores a value only if the key is absent or expired.
type Claimer interface {
	Claim(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}

// ClaimingStorage is a Storage that can also Claim. Every backend here is one.
type ClaimingStorage interface {
	Storage
	Claimer
	Close() error
}

func checkKeys(keys []string) error {
	for _, k := range keys {
		if k == "" {
			return ErrEmptyKey
		}
	}
	return nil
}
