package scoring

import (
	"strings"

	"github.com/typelens-ai/typelens/internal/model"
)

// ForcedChoiceScores derives 0-100 per-function sub-scores from the
// forced-choice section: for each function, the percentage of forced-choice
// items in which the respondent picked it.
//
// This is an optional enrichment. Sessions without forced-choice answers
// return nil and scoring proceeds on Likert data alone.
func ForcedChoiceScores(raws []model.RawAnswer, key model.ScoringKey) map[model.FunctionCode]float64 {
	picks := make(map[model.FunctionCode]int)
	total := 0

	for _, raw := range raws {
		entry, ok := key[raw.QuestionID]
		if !ok || entry.Scale != model.ScaleForced {
			continue
		}
		fn, ok := parseFunctionCode(raw.RawValue)
		if !ok {
			continue // Malformed pick; skip rather than guess.
		}
		picks[fn]++
		total++
	}

	if total == 0 {
		return nil
	}

	scores := make(map[model.FunctionCode]float64, len(model.Functions))
	for _, fn := range model.Functions {
		scores[fn] = float64(picks[fn]) / float64(total) * 100
	}
	return scores
}

func parseFunctionCode(raw string) (model.FunctionCode, bool) {
	s := strings.TrimSpace(raw)
	for _, fn := range model.Functions {
		if strings.EqualFold(s, string(fn)) {
			return fn, true
		}
	}
	return "", false
}
