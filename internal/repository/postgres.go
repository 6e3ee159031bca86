// Package repository provides the blob stores flagdeck persists its state to.
// Every backend stores opaque string values under string keys; the service
// layer keeps the whole console state under a single key.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultBlobTable = "state_blobs"

// PostgresRepository stores blobs in a key/value table managed by the goose
// migrations in the migrations directory.
type PostgresRepository struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresRepository creates a [PostgresRepository] backed by the default
// "state_blobs" table.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return NewPostgresRepositoryWithTable(pool, defaultBlobTable)
}

// NewPostgresRepositoryWithTable creates a [PostgresRepository] using the given
// table name.
func NewPostgresRepositoryWithTable(pool *pgxpool.Pool, table string) *PostgresRepository {
	return &PostgresRepository{
		pool:  pool,
		table: normalizeTable(table),
	}
}

// GetBlob returns the value stored under key. The boolean is false when no
// row exists.
func (r *PostgresRepository) GetBlob(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.pool.QueryRow(ctx, selectBlobStatement(r.table), key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("select blob %q: %w", key, err)
	}

	return value, true, nil
}

// PutBlob upserts the value stored under key.
func (r *PostgresRepository) PutBlob(ctx context.Context, key, value string) error {
	tag, err := r.pool.Exec(ctx, upsertBlobStatement(r.table), key, value)
	if err != nil {
		return fmt.Errorf("upsert blob %q: %w", key, err)
	}

	return upsertNoRows(tag)
}

// DeleteBlob removes key. Deleting a missing key is not an error.
func (r *PostgresRepository) DeleteBlob(ctx context.Context, key string) error {
	if _, err := r.pool.Exec(ctx, deleteBlobStatement(r.table), key); err != nil {
		return fmt.Errorf("delete blob %q: %w", key, err)
	}

	return nil
}

// Ping checks connectivity to the database.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func normalizeTable(table string) string {
	table = strings.TrimSpace(table)
	if table == "" {
		return defaultBlobTable
	}

	return table
}

func quoteIdentifier(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func selectBlobStatement(table string) string {
	return "SELECT value FROM " + quoteIdentifier(table) + " WHERE key = $1"
}

func upsertBlobStatement(table string) string {
	return "INSERT INTO " + quoteIdentifier(table) + ` (key, value, updated_at) VALUES ($1, $2, NOW())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`
}

func deleteBlobStatement(table string) string {
	return "DELETE FROM " + quoteIdentifier(table) + " WHERE key = $1"
}

func upsertNoRows(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}

	return nil
}
