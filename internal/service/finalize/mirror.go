package finalize

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/typelens-ai/typelens/internal/model"
)

// Sink receives a copy of every freshly scored profile. Sinks are best
// effort: the orchestrator logs and ignores their failures.
type Sink interface {
	Record(ctx context.Context, p model.Profile, shareToken string) error
	Close() error
}

// SQLiteMirror writes scored profiles into a local SQLite file consumed by
// the legacy reporting exporter. It exists for the migration window while the
// old reporting stack still reads its own format; remove once that exporter
// is retired.
type SQLiteMirror struct {
	db *sql.DB
}

// NewSQLiteMirror opens (and if needed initializes) the mirror database at
// path.
func NewSQLiteMirror(path string) (*SQLiteMirror, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("mirror: open %s: %w", path, err)
	}
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS scored_profiles (
			session_id  TEXT PRIMARY KEY,
			type_code   TEXT NOT NULL,
			confidence  REAL NOT NULL,
			band        TEXT NOT NULL,
			share_token TEXT NOT NULL,
			payload     TEXT NOT NULL,
			scored_at   TEXT NOT NULL
		)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("mirror: init schema: %w", err)
	}
	return &SQLiteMirror{db: db}, nil
}

// Record upserts one profile row, matching the main store's
// one-live-profile-per-session shape.
func (m *SQLiteMirror) Record(ctx context.Context, p model.Profile, shareToken string) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("mirror: marshal profile: %w", err)
	}
	_, err = m.db.ExecContext(ctx, `
		INSERT INTO scored_profiles (session_id, type_code, confidence, band, share_token, payload, scored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			type_code   = excluded.type_code,
			confidence  = excluded.confidence,
			band        = excluded.band,
			share_token = excluded.share_token,
			payload     = excluded.payload,
			scored_at   = excluded.scored_at`,
		p.SessionID.String(), string(p.TypeCode), p.CalibratedConfidence,
		string(p.ConfidenceBand), shareToken, string(payload),
		p.ScoredAt.UTC().Format("2006-01-02T15:04:05Z"),
	)
	if err != nil {
		return fmt.Errorf("mirror: upsert profile: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (m *SQLiteMirror) Close() error {
	return m.db.Close()
}
