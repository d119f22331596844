package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/typelens-ai/typelens/internal/model"
)

// GetProfile returns the live profile for a session, or ErrNotFound.
func (db *DB) GetProfile(ctx context.Context, sessionID uuid.UUID) (model.Profile, error) {
	row := db.pool.QueryRow(ctx, `
		SELECT session_id, type_code, top_types, strengths, type_scores,
		       raw_confidence, calibrated_confidence, confidence_band,
		       calibration_fallback, top_gap, validity, results_version, scored_at
		FROM profiles
		WHERE session_id = $1`,
		sessionID,
	)
	p, err := scanProfile(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Profile{}, ErrNotFound
	}
	if err != nil {
		return model.Profile{}, fmt.Errorf("storage: get profile: %w", err)
	}
	return p, nil
}

// UpsertProfile validates and writes a profile, keyed by session id.
// Upsert semantics make the write idempotent by construction: recompute
// overwrites, never appends. Invalid payloads are rejected before any I/O.
func (db *DB) UpsertProfile(ctx context.Context, p model.Profile) error {
	if err := db.writable(); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidProfile, err)
	}

	topTypes, err := json.Marshal(p.TopTypes)
	if err != nil {
		return fmt.Errorf("storage: marshal top_types: %w", err)
	}
	strengths, err := json.Marshal(p.Strengths)
	if err != nil {
		return fmt.Errorf("storage: marshal strengths: %w", err)
	}
	typeScores, err := json.Marshal(p.TypeScores)
	if err != nil {
		return fmt.Errorf("storage: marshal type_scores: %w", err)
	}

	err = db.retryWrite(ctx, func() error {
		_, err := db.pool.Exec(ctx, `
		INSERT INTO profiles (
			session_id, type_code, top_types, strengths, type_scores,
			raw_confidence, calibrated_confidence, confidence_band,
			calibration_fallback, top_gap, validity, results_version, scored_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
		ON CONFLICT (session_id)
		DO UPDATE SET
			type_code             = EXCLUDED.type_code,
			top_types             = EXCLUDED.top_types,
			strengths             = EXCLUDED.strengths,
			type_scores           = EXCLUDED.type_scores,
			raw_confidence        = EXCLUDED.raw_confidence,
			calibrated_confidence = EXCLUDED.calibrated_confidence,
			confidence_band       = EXCLUDED.confidence_band,
			calibration_fallback  = EXCLUDED.calibration_fallback,
			top_gap               = EXCLUDED.top_gap,
			validity              = EXCLUDED.validity,
			results_version       = EXCLUDED.results_version,
			scored_at             = now()`,
			p.SessionID, p.TypeCode, topTypes, strengths, typeScores,
			p.RawConfidence, p.CalibratedConfidence, p.ConfidenceBand,
			p.CalibrationFallback, p.TopGap, p.Validity, p.ResultsVersion,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: upsert profile: %w", err)
	}
	return nil
}

// StampResultsVersion updates the stored results_version of an existing
// profile. Used on the cache-hit path to repair a prior partial write.
func (db *DB) StampResultsVersion(ctx context.Context, sessionID uuid.UUID, version string) error {
	if err := db.writable(); err != nil {
		return err
	}
	var tag pgconn.CommandTag
	err := db.retryWrite(ctx, func() error {
		var err error
		tag, err = db.pool.Exec(ctx, `
			UPDATE profiles SET results_version = $2 WHERE session_id = $1`,
			sessionID, version,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: stamp results version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanProfile(row pgx.Row) (model.Profile, error) {
	var (
		p          model.Profile
		topTypes   []byte
		strengths  []byte
		typeScores []byte
	)
	err := row.Scan(
		&p.SessionID, &p.TypeCode, &topTypes, &strengths, &typeScores,
		&p.RawConfidence, &p.CalibratedConfidence, &p.ConfidenceBand,
		&p.CalibrationFallback, &p.TopGap, &p.Validity, &p.ResultsVersion, &p.ScoredAt,
	)
	if err != nil {
		return model.Profile{}, err
	}
	if err := json.Unmarshal(topTypes, &p.TopTypes); err != nil {
		return model.Profile{}, fmt.Errorf("unmarshal top_types: %w", err)
	}
	if err := json.Unmarshal(strengths, &p.Strengths); err != nil {
		return model.Profile{}, fmt.Errorf("unmarshal strengths: %w", err)
	}
	if err := json.Unmarshal(typeScores, &p.TypeScores); err != nil {
		return model.Profile{}, fmt.Errorf("unmarshal type_scores: %w", err)
	}
	return p, nil
}
