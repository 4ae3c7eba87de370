// Package storage provides the narrow object-storage contract the core
// consumes. The core only ever stores and deletes key references on a
// document; it never interprets the bytes.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates an unknown object key.
var ErrNotFound = errors.New("storage: object not found")

// Store is the object-storage collaborator.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

var _ Store = (*PGStore)(nil)

// PGStore keeps objects in a postgres bytea table. Good enough for attachment
// sizes this system sees; the interface leaves room for an external blob
// service later.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs a PGStore.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Put stores data under a fresh key.
func (s *PGStore) Put(ctx context.Context, data []byte) (string, error) {
	key := uuid.NewString()
	_, err := s.pool.Exec(ctx, `INSERT INTO blobs (key, data, created_at) VALUES ($1, $2, NOW())`, key, data)
	if err != nil {
		return "", fmt.Errorf("storage: put: %w", err)
	}
	return key, nil
}

// Get fetches the bytes for key.
func (s *PGStore) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM blobs WHERE key=$1`, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get: %w", err)
	}
	return data, nil
}

// Delete removes the object. Deleting an unknown key is a no-op.
func (s *PGStore) Delete(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM blobs WHERE key=$1`, key)
	if err != nil {
		return fmt.Errorf("storage: delete: %w", err)
	}
	return nil
}
