package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// GetState returns a small persisted sensor-wide value (e.g. the learning-
// mode start timestamp), or ErrNotFound if key has never been set.
func (s *Store) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM sensor_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: get state %q: %v", ErrTransient, key, err)
	}
	return value, nil
}

// SetState upserts a sensor-wide key/value pair.
func (s *Store) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sensor_state (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("%w: set state %q: %v", ErrTransient, key, err)
	}
	return nil
}
