// Package normalize converts raw questionnaire answers onto the common 1-5
// scale used by the scoring engine. Normalized answers are derived data:
// recomputable at any time from raw answers plus the scoring key, and never
// hand-edited.
package normalize

import (
	"strconv"
	"strings"

	"github.com/typelens-ai/typelens/internal/model"
)

// Version tags normalized rows so a scoring-key or algorithm change can be
// told apart from rows produced by an older pass. Bump on any semantic change.
const Version = "v2"

// likert5Labels maps categorical answers on the 1-5 agreement scale.
var likert5Labels = map[string]float64{
	"strongly disagree": 1,
	"disagree":          2,
	"neutral":           3,
	"neither":           3,
	"agree":             4,
	"strongly agree":    5,
}

// likert7Labels maps categorical answers on the 1-7 agreement scale.
var likert7Labels = map[string]float64{
	"strongly disagree": 1,
	"disagree":          2,
	"somewhat disagree": 3,
	"neutral":           4,
	"neither":           4,
	"somewhat agree":    5,
	"agree":             6,
	"strongly agree":    7,
}

// Answer normalizes a single raw answer against its scoring-key entry.
// The returned NormalizedAnswer carries a nil Value when the raw value does
// not parse; such answers must not contribute to downstream aggregation.
//
// Order of operations matters: reverse-scoring inverts on the question's
// native scale (6-v for 1-5, 8-v for 1-7) before any cross-scale rescaling.
func Answer(raw model.RawAnswer, key model.ScoringKeyEntry) model.NormalizedAnswer {
	out := model.NormalizedAnswer{
		SessionID:  raw.SessionID,
		QuestionID: raw.QuestionID,
		Version:    Version,
	}

	v, ok := parse(raw.RawValue, key.Scale)
	if !ok {
		return out
	}

	lo, hi := key.Scale.Bounds()
	v = clamp(v, lo, hi)

	if key.ReverseScored {
		v = lo + hi - v
		out.ReverseApplied = true
	}

	if key.Scale == model.ScaleLikert7 {
		// Linear map of [1,7] onto [1,5].
		v = 1 + (v-1)*4/6
	}

	v = clamp(v, 1, 5)
	out.Value = &v
	return out
}

// Session normalizes every raw answer that has a Likert scoring-key entry.
// Answers without a key entry and forced-choice items are skipped; the former
// cannot be attributed to a function, the latter are consumed by the
// forced-choice sub-scorer on their native representation.
func Session(raws []model.RawAnswer, key model.ScoringKey) []model.NormalizedAnswer {
	out := make([]model.NormalizedAnswer, 0, len(raws))
	for _, raw := range raws {
		entry, ok := key[raw.QuestionID]
		if !ok || entry.Scale == model.ScaleForced {
			continue
		}
		out = append(out, Answer(raw, entry))
	}
	return out
}

// parse interprets a raw value as a number on the given scale, accepting
// direct numeric values and the scale's categorical labels.
func parse(raw string, scale model.ScaleType) (float64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, true
	}

	label := strings.ToLower(s)
	switch scale {
	case model.ScaleLikert5:
		v, ok := likert5Labels[label]
		return v, ok
	case model.ScaleLikert7:
		v, ok := likert7Labels[label]
		return v, ok
	}
	return 0, false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
