package storage

import (
	"context"
	"fmt"

	"github.com/typelens-ai/typelens/internal/model"
)

// LoadScoringKey reads the full scoring key table: per question, its scale,
// reverse-keying, and function tag. The table is externally editable
// reference data; an empty result is surfaced to the caller, which treats it
// as fatal for scoring rather than guessing.
func (db *DB) LoadScoringKey(ctx context.Context) (model.ScoringKey, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT question_id, scale_type, reverse_scored, function_code
		FROM scoring_key`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: load scoring key: %w", err)
	}
	defer rows.Close()

	key := make(model.ScoringKey)
	for rows.Next() {
		var e model.ScoringKeyEntry
		if err := rows.Scan(&e.QuestionID, &e.Scale, &e.ReverseScored, &e.Function); err != nil {
			return nil, fmt.Errorf("storage: load scoring key: scan: %w", err)
		}
		key[e.QuestionID] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: load scoring key: rows: %w", err)
	}
	return key, nil
}

// LoadPrototypes reads the type-prototype reference table. Completeness is
// validated by the scoring engine, not here.
func (db *DB) LoadPrototypes(ctx context.Context) (model.PrototypeTable, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT type_code, function_code, block_role
		FROM type_prototypes`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: load prototypes: %w", err)
	}
	defer rows.Close()

	table := make(model.PrototypeTable)
	for rows.Next() {
		var (
			tc   model.TypeCode
			fn   model.FunctionCode
			role model.BlockRole
		)
		if err := rows.Scan(&tc, &fn, &role); err != nil {
			return nil, fmt.Errorf("storage: load prototypes: scan: %w", err)
		}
		if table[tc] == nil {
			table[tc] = make(model.Prototype, 8)
		}
		table[tc][fn] = role
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: load prototypes: rows: %w", err)
	}
	return table, nil
}

// SeedPrototypes fills an empty type_prototypes table from the given table.
// Existing rows are left untouched so operator edits survive restarts.
func (db *DB) SeedPrototypes(ctx context.Context, table model.PrototypeTable) error {
	for tc, proto := range table {
		for fn, role := range proto {
			if _, err := db.pool.Exec(ctx, `
				INSERT INTO type_prototypes (type_code, function_code, block_role)
				VALUES ($1, $2, $3)
				ON CONFLICT (type_code, function_code) DO NOTHING`,
				tc, fn, role,
			); err != nil {
				return fmt.Errorf("storage: seed prototypes: %w", err)
			}
		}
	}
	return nil
}

// UpsertScoringKeyEntry writes one scoring-key row. Used by seeding and
// admin tooling.
func (db *DB) UpsertScoringKeyEntry(ctx context.Context, e model.ScoringKeyEntry) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO scoring_key (question_id, scale_type, reverse_scored, function_code)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (question_id)
		DO UPDATE SET
			scale_type     = EXCLUDED.scale_type,
			reverse_scored = EXCLUDED.reverse_scored,
			function_code  = EXCLUDED.function_code`,
		e.QuestionID, e.Scale, e.ReverseScored, e.Function,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert scoring key entry: %w", err)
	}
	return nil
}
