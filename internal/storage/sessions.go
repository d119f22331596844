package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/typelens-ai/typelens/internal/model"
)

// GetSession returns one assessment session, or ErrNotFound.
func (db *DB) GetSession(ctx context.Context, id uuid.UUID) (model.AssessmentSession, error) {
	row := db.pool.QueryRow(ctx, `
		SELECT id, status, completed_questions, completed_at,
		       share_token, share_token_expires_at, created_at, updated_at
		FROM assessment_sessions
		WHERE id = $1`,
		id,
	)
	var s model.AssessmentSession
	err := row.Scan(
		&s.ID, &s.Status, &s.CompletedQuestions, &s.CompletedAt,
		&s.ShareToken, &s.ShareTokenExpiresAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.AssessmentSession{}, ErrNotFound
	}
	if err != nil {
		return model.AssessmentSession{}, fmt.Errorf("storage: get session: %w", err)
	}
	return s, nil
}

// CreateSession inserts a fresh in-progress session row. The session
// lifecycle is owned by the surrounding product; this exists for that
// product's ingestion path and for tests.
func (db *DB) CreateSession(ctx context.Context, id uuid.UUID) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO assessment_sessions (id, status)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING`,
		id, model.SessionInProgress,
	)
	if err != nil {
		return fmt.Errorf("storage: create session: %w", err)
	}
	return nil
}

// MarkSessionFinalized updates the session's completion bookkeeping as a side
// effect of finalize: status, completed_at (first finalize only), and the
// completed-question count when a positive estimate is supplied.
func (db *DB) MarkSessionFinalized(ctx context.Context, id uuid.UUID, completedQuestions int) error {
	if err := db.writable(); err != nil {
		return err
	}
	var tag pgconn.CommandTag
	err := db.retryWrite(ctx, func() error {
		var err error
		tag, err = db.pool.Exec(ctx, `
			UPDATE assessment_sessions
			SET status              = $2,
			    completed_at        = COALESCE(completed_at, now()),
			    completed_questions = GREATEST(completed_questions, $3),
			    updated_at          = now()
			WHERE id = $1`,
			id, model.SessionFinalized, completedQuestions,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: mark session finalized: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// EnsureShareToken sets the session's share token if absent and returns the
// token now on the row. The first finalize wins; every later call reuses the
// stored token, so concurrent callers all see the same value.
func (db *DB) EnsureShareToken(ctx context.Context, id uuid.UUID, candidate string, expiresAt time.Time) (string, error) {
	if err := db.writable(); err != nil {
		return "", err
	}
	var token string
	err := db.retryWrite(ctx, func() error {
		return db.pool.QueryRow(ctx, `
			UPDATE assessment_sessions
			SET share_token            = COALESCE(share_token, $2),
			    share_token_expires_at = COALESCE(share_token_expires_at, $3),
			    updated_at             = now()
			WHERE id = $1
			RETURNING share_token`,
			id, candidate, expiresAt,
		).Scan(&token)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("storage: ensure share token: %w", err)
	}
	return token, nil
}

// GetSessionByShareToken resolves a share token back to its session.
// Expiry is stored but informational; this core does not enforce it.
func (db *DB) GetSessionByShareToken(ctx context.Context, token string) (model.AssessmentSession, error) {
	row := db.pool.QueryRow(ctx, `
		SELECT id, status, completed_questions, completed_at,
		       share_token, share_token_expires_at, created_at, updated_at
		FROM assessment_sessions
		WHERE share_token = $1`,
		token,
	)
	var s model.AssessmentSession
	err := row.Scan(
		&s.ID, &s.Status, &s.CompletedQuestions, &s.CompletedAt,
		&s.ShareToken, &s.ShareTokenExpiresAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.AssessmentSession{}, ErrNotFound
	}
	if err != nil {
		return model.AssessmentSession{}, fmt.Errorf("storage: get session by share token: %w", err)
	}
	return s, nil
}

// ListFinalizedSessionIDs returns ids of finalized sessions, newest first,
// for batch recompute after a scoring-logic change.
func (db *DB) ListFinalizedSessionIDs(ctx context.Context, limit int) ([]uuid.UUID, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT id
		FROM assessment_sessions
		WHERE status = $1
		ORDER BY completed_at DESC NULLS LAST
		LIMIT $2`,
		model.SessionFinalized, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list finalized sessions: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: list finalized sessions: scan: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
