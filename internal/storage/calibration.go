package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/typelens-ai/typelens/internal/calibration"
	"github.com/typelens-ai/typelens/internal/model"
)

// InsertCalibrationModel stores one trained curve. Models are append-only;
// serving always picks the newest matching (version, stratum).
func (db *DB) InsertCalibrationModel(ctx context.Context, m model.CalibrationModel) error {
	if err := db.writable(); err != nil {
		return err
	}
	knots, err := json.Marshal(m.Knots)
	if err != nil {
		return fmt.Errorf("storage: marshal knots: %w", err)
	}
	_, err = db.pool.Exec(ctx, `
		INSERT INTO calibration_models (id, version, method, stratum, knots, trained_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)`,
		m.Version, m.Method, m.Stratum, knots, m.TrainedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert calibration model: %w", err)
	}
	return nil
}

// LatestCalibrationModel returns the most recently trained model for a
// (version, stratum) pair. Satisfies calibration.ModelStore; a missing model
// maps to calibration.ErrModelNotFound so the calibrator can fall back.
func (db *DB) LatestCalibrationModel(ctx context.Context, version, stratum string) (model.CalibrationModel, error) {
	row := db.pool.QueryRow(ctx, `
		SELECT id, version, method, stratum, knots, trained_at
		FROM calibration_models
		WHERE version = $1 AND stratum = $2
		ORDER BY trained_at DESC
		LIMIT 1`,
		version, stratum,
	)

	var (
		m     model.CalibrationModel
		knots []byte
	)
	err := row.Scan(&m.ID, &m.Version, &m.Method, &m.Stratum, &knots, &m.TrainedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.CalibrationModel{}, calibration.ErrModelNotFound
	}
	if err != nil {
		return model.CalibrationModel{}, fmt.Errorf("storage: latest calibration model: %w", err)
	}
	if err := json.Unmarshal(knots, &m.Knots); err != nil {
		return model.CalibrationModel{}, fmt.Errorf("storage: unmarshal knots: %w", err)
	}
	return m, nil
}

// InsertCalibrationOutcome records one observed (raw confidence, correctness)
// pair for offline training.
func (db *DB) InsertCalibrationOutcome(ctx context.Context, o model.CalibrationOutcome) error {
	err := db.retryWrite(ctx, func() error {
		_, err := db.pool.Exec(ctx, `
			INSERT INTO calibration_outcomes (session_id, stratum, raw_confidence, observed_correct, observed_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (session_id)
			DO UPDATE SET
				stratum          = EXCLUDED.stratum,
				raw_confidence   = EXCLUDED.raw_confidence,
				observed_correct = EXCLUDED.observed_correct,
				observed_at      = EXCLUDED.observed_at`,
			o.SessionID, o.Stratum, o.RawConfidence, o.Correct, o.ObservedAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: insert calibration outcome: %w", err)
	}
	return nil
}

// ListCalibrationOutcomes returns outcomes observed since the given time,
// newest capped at limit. Training reads its corpus through this.
func (db *DB) ListCalibrationOutcomes(ctx context.Context, since time.Time, limit int) ([]model.CalibrationOutcome, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT session_id, stratum, raw_confidence, observed_correct, observed_at
		FROM calibration_outcomes
		WHERE observed_at >= $1
		ORDER BY observed_at DESC
		LIMIT $2`,
		since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list calibration outcomes: %w", err)
	}
	defer rows.Close()

	var out []model.CalibrationOutcome
	for rows.Next() {
		var o model.CalibrationOutcome
		if err := rows.Scan(&o.SessionID, &o.Stratum, &o.RawConfidence, &o.Correct, &o.ObservedAt); err != nil {
			return nil, fmt.Errorf("storage: list calibration outcomes: scan: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list calibration outcomes: rows: %w", err)
	}
	return out, nil
}
