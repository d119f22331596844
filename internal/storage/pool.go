// Package storage provides the PostgreSQL persistence layer for typelens.
//
// It manages connection pooling via pgxpool, embedded forward-only schema
// migrations, and query methods for all tables: raw and normalized answers,
// scoring reference data, profiles, calibration models and outcomes, and the
// external session records finalize updates as a side effect.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a pgxpool.Pool with typelens query methods.
type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger

	// readOnly is set while the stored results version disagrees with the
	// engine's. See CheckResultsVersion.
	readOnly atomic.Bool
}

// New creates a new DB with a connection pool and verifies connectivity.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	return &DB{pool: pool, logger: logger}, nil
}

// Pool returns the underlying connection pool for use by other packages.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// writable rejects results writes while the drift flag is set. Raw-answer
// ingestion and session creation stay open: they belong to the surrounding
// product and do not depend on the results schema.
func (db *DB) writable() error {
	if db.readOnly.Load() {
		return fmt.Errorf("storage: writes disabled: %w", ErrVersionDrift)
	}
	return nil
}
