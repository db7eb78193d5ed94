// Package sqlite implements kv.Store on top of an SQLite database.
//
// This is the durable scope of the auth subsystem, the equivalent of the
// browser's localStorage: a single keyval table holding every named map.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/creatordash/authsim/internal/errorz"
)

// Store provides durable key/value storage.
type Store struct {
	db *sql.DB
}

// New creates a new Store on top of the provided database. The database
// is expected to be migrated.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Get(ctx context.Context, name, key string) ([]byte, bool, error) {
	const q = `SELECT value FROM keyval WHERE map_name = ? AND map_key = ?`

	var value []byte
	err := s.db.QueryRowContext(ctx, q, name, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get %s/%s: %w", name, key, errorz.MapDBErr(err))
	}

	return value, true, nil
}

func (s *Store) Set(ctx context.Context, name, key string, value []byte) error {
	const q = `INSERT INTO keyval (map_name, map_key, value) VALUES (?, ?, ?)
ON CONFLICT (map_name, map_key) DO UPDATE SET value = excluded.value`

	_, err := s.db.ExecContext(ctx, q, name, key, value)
	if err != nil {
		return fmt.Errorf("failed to set %s/%s: %w", name, key, errorz.MapDBErr(err))
	}

	return nil
}

func (s *Store) Delete(ctx context.Context, name, key string) error {
	const q = `DELETE FROM keyval WHERE map_name = ? AND map_key = ?`

	_, err := s.db.ExecContext(ctx, q, name, key)
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", name, key, errorz.MapDBErr(err))
	}

	return nil
}

func (s *Store) All(ctx context.Context, name string) (map[string][]byte, error) {
	const q = `SELECT map_key, value FROM keyval WHERE map_name = ?`

	rows, err := s.db.QueryContext(ctx, q, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query map %s: %w", name, errorz.MapDBErr(err))
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var (
			key   string
			value []byte
		)
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan map %s: %w", name, err)
		}
		out[key] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate over map %s: %w", name, err)
	}

	return out, nil
}
