package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// resultsVersionKey is the settings row holding the deployed results-schema
// version. Operators bump it together with code deploys.
const resultsVersionKey = "results_version"

// GetSetting returns one settings value, or ErrNotFound.
func (db *DB) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := db.pool.QueryRow(ctx,
		`SELECT value FROM settings WHERE key = $1`, key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("storage: get setting: %w", err)
	}
	return value, nil
}

// SetSetting upserts one settings value.
func (db *DB) SetSetting(ctx context.Context, key, value string) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("storage: set setting: %w", err)
	}
	return nil
}

// CheckResultsVersion compares the engine's compiled-in results-schema
// version against the configured one. A missing setting is seeded from the
// engine version (first boot); a mismatch returns ErrVersionDrift — stored
// data and code have drifted, and silently continuing would corrupt profiles.
//
// Drift also flips the DB into read-only mode: results writes fail with
// ErrVersionDrift until a later check passes (operator fixed the setting or
// redeployed), so "must stop writes" holds without a restart.
func (db *DB) CheckResultsVersion(ctx context.Context, engineVersion string) error {
	stored, err := db.GetSetting(ctx, resultsVersionKey)
	if errors.Is(err, ErrNotFound) {
		if err := db.SetSetting(ctx, resultsVersionKey, engineVersion); err != nil {
			return fmt.Errorf("storage: seed results version: %w", err)
		}
		db.logger.Info("results version seeded", "version", engineVersion)
		return nil
	}
	if err != nil {
		return err
	}
	if stored != engineVersion {
		if db.readOnly.CompareAndSwap(false, true) {
			db.logger.Error("results version drift, results writes disabled",
				"stored", stored, "engine", engineVersion)
		}
		return fmt.Errorf("%w: stored %q, engine %q", ErrVersionDrift, stored, engineVersion)
	}
	if db.readOnly.CompareAndSwap(true, false) {
		db.logger.Info("results version drift cleared, results writes re-enabled",
			"version", engineVersion)
	}
	return nil
}
