package repository

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/cockroachdb/pebble"
)

// PebbleRepository stores blobs in a local Pebble database. It is the default
// backend for a single-user console.
type PebbleRepository struct {
	db *pebble.DB
}

// OpenPebbleRepository opens (or creates) a Pebble database in dir.
func OpenPebbleRepository(dir string) (*PebbleRepository, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create pebble dir: %w", err)
	}

	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}

	return &PebbleRepository{db: db}, nil
}

// GetBlob returns the value stored under key.
func (r *PebbleRepository) GetBlob(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	value, closer, err := r.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get blob %q: %w", key, err)
	}
	// value is only valid until closer is closed.
	out := string(value)
	if err := closer.Close(); err != nil {
		return "", false, fmt.Errorf("release blob %q: %w", key, err)
	}

	return out, true, nil
}

// PutBlob writes value under key and syncs it to disk.
func (r *PebbleRepository) PutBlob(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := r.db.Set([]byte(key), []byte(value), pebble.Sync); err != nil {
		return fmt.Errorf("set blob %q: %w", key, err)
	}

	return nil
}

// DeleteBlob removes key.
func (r *PebbleRepository) DeleteBlob(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := r.db.Delete([]byte(key), pebble.Sync); err != nil {
		return fmt.Errorf("delete blob %q: %w", key, err)
	}

	return nil
}

// Close flushes and closes the database.
func (r *PebbleRepository) Close() error {
	return r.db.Close()
}
