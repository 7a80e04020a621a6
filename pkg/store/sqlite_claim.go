package store

import (
	"context"
	"fmt"
	"time"
)

// Claim stores value under key if the key is absent or its previous claim
// has expired. Returns true if this call won.
func (s *Store) Claim(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	now := time.Now().UTC()
	expiry := now.Add(ttl)
	if value == nil {
		value = []byte{}
	}

	// 1. Try to insert (if it doesn't exist)
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO kv (key, value, expires_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, key, value, expiry, now)
	if err != nil {
		return false, fmt.Errorf("failed to insert claim: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows > 0 {
		return true, nil
	}

	// 2. Take over an expired claim in a single atomic UPDATE.
	res, err = s.db.ExecContext(ctx, `
		UPDATE kv
		SET value = ?, expires_at = ?, updated_at = ?
		WHERE key = ? AND expires_at IS NOT NULL AND expires_at < ?
	`, value, expiry, now, key, now)
	if err != nil {
		return false, fmt.Errorf("failed to update claim: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}

	return rows > 0, nil
}

// PruneExpired deletes expired claims and returns how many were removed.
func (s *Store) PruneExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM kv WHERE expires_at IS NOT NULL AND expires_at < ?
	`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune claims: %w", err)
	}
	return res.RowsAffected()
}
