package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisRepository stores blobs as plain Redis string keys with no expiry.
type RedisRepository struct {
	client *redis.Client
}

// NewRedisRepository wraps an existing client.
func NewRedisRepository(client *redis.Client) *RedisRepository {
	return &RedisRepository{client: client}
}

// OpenRedisRepository parses a redis:// URL and connects to it.
func OpenRedisRepository(ctx context.Context, url string) (*RedisRepository, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisRepository{client: client}, nil
}

// GetBlob returns the value stored under key.
func (r *RedisRepository) GetBlob(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get blob %q: %w", key, err)
	}

	return value, true, nil
}

// PutBlob writes value under key.
func (r *RedisRepository) PutBlob(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("set blob %q: %w", key, err)
	}

	return nil
}

// DeleteBlob removes key.
func (r *RedisRepository) DeleteBlob(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("delete blob %q: %w", key, err)
	}

	return nil
}

// Close closes the underlying client.
func (r *RedisRepository) Close() error {
	return r.client.Close()
}
