package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/typelens-ai/typelens/internal/model"
)

// UpsertRawAnswer records a raw answer. Re-saves of the same
// (session_id, question_id) pair overwrite by recency: last write wins.
func (db *DB) UpsertRawAnswer(ctx context.Context, a model.RawAnswer) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO raw_answers (session_id, question_id, raw_value, recorded_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (session_id, question_id)
		DO UPDATE SET raw_value = EXCLUDED.raw_value, recorded_at = now()`,
		a.SessionID, a.QuestionID, a.RawValue,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert raw answer: %w", err)
	}
	return nil
}

// ListRawAnswers returns all raw answers for a session.
func (db *DB) ListRawAnswers(ctx context.Context, sessionID uuid.UUID) ([]model.RawAnswer, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT session_id, question_id, raw_value, recorded_at
		FROM raw_answers
		WHERE session_id = $1
		ORDER BY question_id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list raw answers: %w", err)
	}
	defer rows.Close()

	var out []model.RawAnswer
	for rows.Next() {
		var a model.RawAnswer
		if err := rows.Scan(&a.SessionID, &a.QuestionID, &a.RawValue, &a.RecordedAt); err != nil {
			return nil, fmt.Errorf("storage: list raw answers: scan: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list raw answers: rows: %w", err)
	}
	return out, nil
}

// UpsertNormalizedAnswers writes a batch of normalized answers in one
// transaction, keyed by (session_id, question_id, normalize_version).
// Re-running normalization for a session is side-effect free by construction.
func (db *DB) UpsertNormalizedAnswers(ctx context.Context, answers []model.NormalizedAnswer) error {
	if len(answers) == 0 {
		return nil
	}
	if err := db.writable(); err != nil {
		return err
	}

	// The whole batch re-runs on a transient conflict; the upsert keeps
	// that safe.
	err := db.retryWrite(ctx, func() error {
		batch := &pgx.Batch{}
		for _, a := range answers {
			batch.Queue(`
				INSERT INTO normalized_answers (session_id, question_id, normalized_value, reverse_applied, normalize_version)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (session_id, question_id, normalize_version)
				DO UPDATE SET
					normalized_value = EXCLUDED.normalized_value,
					reverse_applied  = EXCLUDED.reverse_applied`,
				a.SessionID, a.QuestionID, a.Value, a.ReverseApplied, a.Version,
			)
		}

		results := db.pool.SendBatch(ctx, batch)
		defer results.Close()
		for range answers {
			if _, err := results.Exec(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("storage: upsert normalized answers: %w", err)
	}
	return nil
}

// ListNormalizedAnswers returns the normalized answers for a session at a
// given normalization version.
func (db *DB) ListNormalizedAnswers(ctx context.Context, sessionID uuid.UUID, version string) ([]model.NormalizedAnswer, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT session_id, question_id, normalized_value, reverse_applied, normalize_version
		FROM normalized_answers
		WHERE session_id = $1 AND normalize_version = $2
		ORDER BY question_id`,
		sessionID, version,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list normalized answers: %w", err)
	}
	defer rows.Close()

	var out []model.NormalizedAnswer
	for rows.Next() {
		var a model.NormalizedAnswer
		if err := rows.Scan(&a.SessionID, &a.QuestionID, &a.Value, &a.ReverseApplied, &a.Version); err != nil {
			return nil, fmt.Errorf("storage: list normalized answers: scan: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list normalized answers: rows: %w", err)
	}
	return out, nil
}
