package repository

import (
	"context"
	"sync"
)

// MemoryRepository keeps blobs in process memory. Nothing survives a restart.
type MemoryRepository struct {
	mu    sync.RWMutex
	blobs map[string]string
}

// NewMemoryRepository returns an empty [MemoryRepository].
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{blobs: make(map[string]string)}
}

// GetBlob returns the value stored under key.
func (r *MemoryRepository) GetBlob(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	r.mu.RLock()
	value, ok := r.blobs[key]
	r.mu.RUnlock()

	return value, ok, nil
}

// PutBlob stores value under key.
func (r *MemoryRepository) PutBlob(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	r.blobs[key] = value
	r.mu.Unlock()

	return nil
}

// DeleteBlob removes key.
func (r *MemoryRepository) DeleteBlob(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.blobs, key)
	r.mu.Unlock()

	return nil
}
