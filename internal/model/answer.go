package model

import (
	"time"

	"github.com/google/uuid"
)

// ScaleType enumerates the response scales a question can use.
type ScaleType string

const (
	// ScaleLikert5 is the common 1-5 agreement scale all answers normalize to.
	ScaleLikert5 ScaleType = "likert5"
	// ScaleLikert7 is a 1-7 agreement scale, rescaled onto 1-5 during normalization.
	ScaleLikert7 ScaleType = "likert7"
	// ScaleForced marks forced-choice items whose raw value is the picked
	// function code. They bypass Likert normalization and feed the
	// forced-choice sub-scorer instead.
	ScaleForced ScaleType = "forced"
)

// Bounds returns the native (min, max) of the scale. Forced-choice items have
// no numeric bounds and return (0, 0).
func (s ScaleType) Bounds() (float64, float64) {
	switch s {
	case ScaleLikert5:
		return 1, 5
	case ScaleLikert7:
		return 1, 7
	default:
		return 0, 0
	}
}

// RawAnswer is a single as-submitted response. Re-saves of the same
// (session_id, question_id) pair overwrite by recency; nothing else mutates it.
type RawAnswer struct {
	SessionID  uuid.UUID `json:"session_id"`
	QuestionID string    `json:"question_id"`
	RawValue   string    `json:"raw_value"` // Numeric string or categorical label.
	RecordedAt time.Time `json:"recorded_at"`
}

// NormalizedAnswer is a RawAnswer mapped onto the common 1-5 scale.
// Value is nil when the raw value failed to parse; such rows are kept for
// auditability but never contribute to aggregation.
type NormalizedAnswer struct {
	SessionID      uuid.UUID `json:"session_id"`
	QuestionID     string    `json:"question_id"`
	Value          *float64  `json:"normalized_value"`
	ReverseApplied bool      `json:"reverse_applied"`
	Version        string    `json:"normalize_version"`
}

// ScoringKeyEntry describes how one question is scored: its scale, whether it
// is reverse-keyed, and which function its answers load onto.
// The scoring key is externally editable reference data.
type ScoringKeyEntry struct {
	QuestionID    string       `json:"question_id"`
	Scale         ScaleType    `json:"scale_type"`
	ReverseScored bool         `json:"reverse_scored"`
	Function      FunctionCode `json:"function_code"`
}

// ScoringKey maps question ids to their key entries.
type ScoringKey map[string]ScoringKeyEntry
