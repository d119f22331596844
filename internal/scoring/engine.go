// Package scoring turns normalized answers into a typed result: 8 function
// strengths, 16 prototype match scores, softmax shares, a ranked top-3, and a
// raw confidence signal. Everything here is pure computation; persistence and
// calibration live elsewhere.
package scoring

import (
	"fmt"
	"math"
	"sort"

	"github.com/typelens-ai/typelens/internal/model"
)

// Config holds the engine's tunables. Zero values are replaced with defaults
// by Normalize, so an empty Config is usable.
type Config struct {
	// Temperature of the share softmax. Higher flattens the distribution.
	Temperature float64
	// MinAnswersPerFunction is the coverage floor below which a function's
	// strength is still computed from whatever is present, but the session is
	// flagged with a partial-validity warning.
	MinAnswersPerFunction int
	// Raw confidence signal coefficients:
	// sigmoid(GapWeight*score_gap + MarginWeight*share_margin - EntropyWeight*entropy).
	GapWeight     float64
	MarginWeight  float64
	EntropyWeight float64
}

// DefaultConfig returns the production engine configuration.
func DefaultConfig() Config {
	return Config{
		Temperature:           2.0,
		MinAnswersPerFunction: 3,
		GapWeight:             0.25,
		MarginWeight:          0.35,
		EntropyWeight:         0.20,
	}
}

// Normalize fills zero fields with defaults.
func (c Config) Normalize() Config {
	d := DefaultConfig()
	if c.Temperature <= 0 {
		c.Temperature = d.Temperature
	}
	if c.MinAnswersPerFunction <= 0 {
		c.MinAnswersPerFunction = d.MinAnswersPerFunction
	}
	if c.GapWeight == 0 {
		c.GapWeight = d.GapWeight
	}
	if c.MarginWeight == 0 {
		c.MarginWeight = d.MarginWeight
	}
	if c.EntropyWeight == 0 {
		c.EntropyWeight = d.EntropyWeight
	}
	return c
}

// ErrNoAnswers is returned when a session has no usable normalized answers.
// It is an input error: nothing is persisted and the caller may retry after
// responses arrive.
var ErrNoAnswers = fmt.Errorf("scoring: no usable answers for session")

// ReferenceDataError indicates the scoring key or prototype table is missing
// or incomplete. Fatal for the session's scoring; never defaulted around.
type ReferenceDataError struct {
	Detail string
}

func (e *ReferenceDataError) Error() string {
	return "scoring: reference data: " + e.Detail
}

// Result is the full output of one engine run.
type Result struct {
	Strengths     map[model.FunctionCode]float64
	TypeScores    map[model.TypeCode]float64
	Shares        map[model.TypeCode]float64
	TopTypes      []model.TopType
	TopGap        float64
	RawConfidence float64
	Validity      string
	Stratum       model.Stratum
}

// Engine scores sessions against a prototype table.
type Engine struct {
	cfg        Config
	prototypes model.PrototypeTable
}

// NewEngine builds an engine. An empty prototype table falls back to the
// compiled-in defaults; a partially filled one is rejected.
func NewEngine(cfg Config, prototypes model.PrototypeTable) (*Engine, error) {
	if len(prototypes) == 0 {
		prototypes = DefaultPrototypes
	}
	if err := validatePrototypes(prototypes); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg.Normalize(), prototypes: prototypes}, nil
}

// Score runs the full pipeline over one session's normalized answers.
// forcedChoice, if non-nil, supplies 0-100 per-function sub-scores that are
// blended 50/50 with the Likert-derived means.
func (e *Engine) Score(answers []model.NormalizedAnswer, key model.ScoringKey, forcedChoice map[model.FunctionCode]float64) (Result, error) {
	if len(key) == 0 {
		return Result{}, &ReferenceDataError{Detail: "scoring key is empty"}
	}

	strengths, counts, usable := e.aggregateStrengths(answers, key, forcedChoice)
	if usable == 0 {
		return Result{}, ErrNoAnswers
	}

	scores := e.matchTypes(strengths)
	shares := softmax(scores, e.cfg.Temperature)
	top, topGap := rank(scores, shares)

	validity := model.ValidityOK
	covered := 0
	for _, fn := range model.Functions {
		if counts[fn] >= e.cfg.MinAnswersPerFunction {
			covered++
		}
	}
	if covered < len(model.Functions) {
		validity = model.ValidityPartial
	}

	return Result{
		Strengths:     strengths,
		TypeScores:    scores,
		Shares:        shares,
		TopTypes:      top[:3],
		TopGap:        topGap,
		RawConfidence: e.rawConfidence(scores, shares, top),
		Validity:      validity,
		Stratum: model.Stratum{
			Band:    dimBand(covered),
			Overlay: overlaySign(e.prototypes, top),
		},
	}, nil
}

// aggregateStrengths averages normalized answers per function tag and blends
// in forced-choice sub-scores where present. Returns per-function answer
// counts and the total number of usable answers.
func (e *Engine) aggregateStrengths(answers []model.NormalizedAnswer, key model.ScoringKey, forcedChoice map[model.FunctionCode]float64) (map[model.FunctionCode]float64, map[model.FunctionCode]int, int) {
	sums := make(map[model.FunctionCode]float64, len(model.Functions))
	counts := make(map[model.FunctionCode]int, len(model.Functions))
	usable := 0

	for _, a := range answers {
		if a.Value == nil {
			continue
		}
		entry, ok := key[a.QuestionID]
		if !ok {
			continue
		}
		sums[entry.Function] += *a.Value
		counts[entry.Function]++
		usable++
	}

	strengths := make(map[model.FunctionCode]float64, len(model.Functions))
	for _, fn := range model.Functions {
		var likert float64
		if counts[fn] > 0 {
			likert = sums[fn] / float64(counts[fn])
		}
		if fc, ok := forcedChoice[fn]; ok {
			// Rescale 0-100 onto 1-5, then blend 50/50 with the Likert mean.
			// With no Likert answers at all the forced-choice score stands alone.
			fcScaled := 1 + clampFloat(fc, 0, 100)*4/100
			if counts[fn] > 0 {
				strengths[fn] = (likert + fcScaled) / 2
			} else {
				strengths[fn] = fcScaled
			}
			continue
		}
		strengths[fn] = likert
	}
	return strengths, counts, usable
}

// matchTypes computes the weighted prototype sum for each of the 16 types.
func (e *Engine) matchTypes(strengths map[model.FunctionCode]float64) map[model.TypeCode]float64 {
	scores := make(map[model.TypeCode]float64, len(model.Types))
	for _, tc := range model.Types {
		proto := e.prototypes[tc]
		var sum float64
		for _, fn := range model.Functions {
			sum += roleWeight(proto[fn]) * strengths[fn]
		}
		scores[tc] = sum
	}
	return scores
}

// rawConfidence computes sigmoid(a*score_gap + b*share_margin - c*entropy),
// where share_margin is in percentage points and entropy is base-2 Shannon
// entropy over the nonzero shares. Clamped to [0,1] (sigmoid already is, but
// the clamp guards against NaN from degenerate inputs).
func (e *Engine) rawConfidence(scores map[model.TypeCode]float64, shares map[model.TypeCode]float64, top []model.TopType) float64 {
	scoreGap := top[0].Score - top[1].Score
	shareMargin := (top[0].Share - top[1].Share) * 100

	var entropy float64
	for _, s := range shares {
		if s > 0 {
			entropy -= s * math.Log2(s)
		}
	}

	z := e.cfg.GapWeight*scoreGap + e.cfg.MarginWeight*shareMargin - e.cfg.EntropyWeight*entropy
	v := sigmoid(z)
	if math.IsNaN(v) {
		return 0
	}
	return clampFloat(v, 0, 1)
}

// softmax converts raw scores into shares summing to 1, using the given
// temperature. Scores are shifted by their max before exponentiation for
// numeric stability.
func softmax(scores map[model.TypeCode]float64, temperature float64) map[model.TypeCode]float64 {
	maxScore := math.Inf(-1)
	for _, s := range scores {
		if s > maxScore {
			maxScore = s
		}
	}

	shares := make(map[model.TypeCode]float64, len(scores))
	var total float64
	for tc, s := range scores {
		v := math.Exp((s - maxScore) / temperature)
		shares[tc] = v
		total += v
	}
	for tc := range shares {
		shares[tc] /= total
	}
	return shares
}

// rank orders all 16 types by share descending, breaking near-ties
// (share difference < 1e-9) by raw score descending.
func rank(scores map[model.TypeCode]float64, shares map[model.TypeCode]float64) ([]model.TopType, float64) {
	ranked := make([]model.TopType, 0, len(model.Types))
	for _, tc := range model.Types {
		ranked = append(ranked, model.TopType{TypeCode: tc, Share: shares[tc], Score: scores[tc]})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if math.Abs(ranked[i].Share-ranked[j].Share) < 1e-9 {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Share > ranked[j].Share
	})
	return ranked, ranked[0].Share - ranked[1].Share
}

// dimBand buckets function coverage into the calibration stratum's
// dimensionality axis.
func dimBand(coveredFunctions int) model.DimBand {
	switch {
	case coveredFunctions >= 6:
		return model.DimBandHigh
	case coveredFunctions >= 4:
		return model.DimBandMid
	default:
		return model.DimBandLow
	}
}

// overlaySign is "+" when the top two candidates lead with same-attitude base
// functions (both extraverted or both introverted), "-" otherwise. Same-sign
// overlaps calibrate differently from opposed ones.
func overlaySign(table model.PrototypeTable, top []model.TopType) string {
	baseOf := func(tc model.TypeCode) model.FunctionCode {
		for fn, role := range table[tc] {
			if role == model.RoleBase {
				return fn
			}
		}
		return ""
	}
	a, b := baseOf(top[0].TypeCode), baseOf(top[1].TypeCode)
	if a != "" && b != "" && a.Extraverted() == b.Extraverted() {
		return "+"
	}
	return "-"
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
