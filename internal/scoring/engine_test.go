package scoring

import (
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/typelens-ai/typelens/internal/model"
)

// buildKey creates n Likert questions per function, ids like "Ti-0".
func buildKey(perFunction int) model.ScoringKey {
	key := make(model.ScoringKey)
	for _, fn := range model.Functions {
		for i := 0; i < perFunction; i++ {
			id := string(fn) + "-" + string(rune('0'+i))
			key[id] = model.ScoringKeyEntry{QuestionID: id, Scale: model.ScaleLikert5, Function: fn}
		}
	}
	return key
}

func answersFor(sid uuid.UUID, key model.ScoringKey, values map[model.FunctionCode]float64) []model.NormalizedAnswer {
	var out []model.NormalizedAnswer
	for id, entry := range key {
		v, ok := values[entry.Function]
		if !ok {
			continue
		}
		val := v
		out = append(out, model.NormalizedAnswer{
			SessionID: sid, QuestionID: id, Value: &val, Version: "v2",
		})
	}
	return out
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(Config{}, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestScoreShareInvariants(t *testing.T) {
	e := newTestEngine(t)
	key := buildKey(3)
	answers := answersFor(uuid.New(), key, map[model.FunctionCode]float64{
		model.FnNe: 4.5, model.FnNi: 2, model.FnSe: 3, model.FnSi: 1.5,
		model.FnTe: 2.5, model.FnTi: 5, model.FnFe: 1, model.FnFi: 3.5,
	})

	res, err := e.Score(answers, key, nil)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	var sum float64
	for _, s := range res.Shares {
		if s < 0 {
			t.Errorf("negative share %v", s)
		}
		sum += s
	}
	if math.Abs(sum-1) > 1e-6 {
		t.Errorf("shares sum to %v, want 1±1e-6", sum)
	}

	if len(res.TopTypes) != 3 {
		t.Fatalf("top_3 has %d entries", len(res.TopTypes))
	}
	for i := 1; i < 3; i++ {
		prev, cur := res.TopTypes[i-1], res.TopTypes[i]
		if cur.Share > prev.Share+1e-12 {
			t.Errorf("top_3 not descending by share at %d: %v > %v", i, cur.Share, prev.Share)
		}
		if math.Abs(cur.Share-prev.Share) < 1e-9 && cur.Score > prev.Score {
			t.Errorf("tie at %d not broken by raw score", i)
		}
	}

	gap := res.TopTypes[0].Share - res.TopTypes[1].Share
	if math.Abs(res.TopGap-gap) > 1e-12 {
		t.Errorf("TopGap = %v, want %v", res.TopGap, gap)
	}
	if res.RawConfidence < 0 || res.RawConfidence > 1 {
		t.Errorf("raw confidence %v outside [0,1]", res.RawConfidence)
	}
	if res.Validity != model.ValidityOK {
		t.Errorf("validity = %q, want ok for full coverage", res.Validity)
	}
}

// Answers only for Ti/Te/Ni/Ne (all 5s) must rank a type whose base function
// is one of those four first.
func TestScoreRationalIntuitiveDominance(t *testing.T) {
	e := newTestEngine(t)
	key := buildKey(3)
	answers := answersFor(uuid.New(), key, map[model.FunctionCode]float64{
		model.FnTi: 5, model.FnTe: 5, model.FnNi: 5, model.FnNe: 5,
	})

	res, err := e.Score(answers, key, nil)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	winner := res.TopTypes[0].TypeCode
	var base model.FunctionCode
	for fn, role := range DefaultPrototypes[winner] {
		if role == model.RoleBase {
			base = fn
		}
	}
	switch base {
	case model.FnTi, model.FnTe, model.FnNi, model.FnNe:
	default:
		t.Errorf("winner %s has base %s, want one of Ti/Te/Ni/Ne", winner, base)
	}
	if res.Validity != model.ValidityPartial {
		t.Errorf("validity = %q, want partial (4 of 8 functions covered)", res.Validity)
	}
	if res.Stratum.Band != model.DimBandMid {
		t.Errorf("band = %q, want mid for 4 covered functions", res.Stratum.Band)
	}
}

func TestScoreNoAnswers(t *testing.T) {
	e := newTestEngine(t)
	key := buildKey(1)

	_, err := e.Score(nil, key, nil)
	if !errors.Is(err, ErrNoAnswers) {
		t.Errorf("Score(nil) error = %v, want ErrNoAnswers", err)
	}

	// Nil-valued answers don't count as usable.
	_, err = e.Score([]model.NormalizedAnswer{{QuestionID: "Ti-0"}}, key, nil)
	if !errors.Is(err, ErrNoAnswers) {
		t.Errorf("Score(nil values) error = %v, want ErrNoAnswers", err)
	}
}

func TestScoreEmptyKey(t *testing.T) {
	e := newTestEngine(t)
	var refErr *ReferenceDataError
	_, err := e.Score(nil, model.ScoringKey{}, nil)
	if !errors.As(err, &refErr) {
		t.Errorf("Score(empty key) error = %v, want ReferenceDataError", err)
	}
}

func TestNewEngineRejectsIncompletePrototypes(t *testing.T) {
	broken := model.PrototypeTable{}
	for tc, proto := range DefaultPrototypes {
		broken[tc] = proto
	}
	delete(broken, model.TypeSLI)

	var refErr *ReferenceDataError
	if _, err := NewEngine(Config{}, broken); !errors.As(err, &refErr) {
		t.Errorf("NewEngine(incomplete) error = %v, want ReferenceDataError", err)
	}
}

func TestForcedChoiceBlend(t *testing.T) {
	e := newTestEngine(t)
	key := buildKey(3)
	answers := answersFor(uuid.New(), key, map[model.FunctionCode]float64{
		model.FnTi: 3, model.FnTe: 3, model.FnNi: 3, model.FnNe: 3,
		model.FnSe: 3, model.FnSi: 3, model.FnFe: 3, model.FnFi: 3,
	})

	// Forced-choice: Ti picked every time.
	fc := map[model.FunctionCode]float64{model.FnTi: 100}
	for _, fn := range model.Functions {
		if _, ok := fc[fn]; !ok {
			fc[fn] = 0
		}
	}

	res, err := e.Score(answers, key, fc)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	// Ti: (3 + 5)/2 = 4; everything else: (3 + 1)/2 = 2.
	if got := res.Strengths[model.FnTi]; math.Abs(got-4) > 1e-9 {
		t.Errorf("Ti strength = %v, want 4", got)
	}
	if got := res.Strengths[model.FnFe]; math.Abs(got-2) > 1e-9 {
		t.Errorf("Fe strength = %v, want 2", got)
	}
}

func TestForcedChoiceScores(t *testing.T) {
	sid := uuid.New()
	key := model.ScoringKey{
		"fc1": {QuestionID: "fc1", Scale: model.ScaleForced},
		"fc2": {QuestionID: "fc2", Scale: model.ScaleForced},
		"fc3": {QuestionID: "fc3", Scale: model.ScaleForced},
		"fc4": {QuestionID: "fc4", Scale: model.ScaleForced},
		"q1":  {QuestionID: "q1", Scale: model.ScaleLikert5, Function: model.FnTi},
	}
	raws := []model.RawAnswer{
		{SessionID: sid, QuestionID: "fc1", RawValue: "Ti"},
		{SessionID: sid, QuestionID: "fc2", RawValue: "ti"}, // case-insensitive
		{SessionID: sid, QuestionID: "fc3", RawValue: "Ne"},
		{SessionID: sid, QuestionID: "fc4", RawValue: "???"}, // malformed, skipped
		{SessionID: sid, QuestionID: "q1", RawValue: "5"},    // likert, ignored here
	}

	scores := ForcedChoiceScores(raws, key)
	if scores == nil {
		t.Fatal("ForcedChoiceScores returned nil")
	}
	if math.Abs(scores[model.FnTi]-200.0/3) > 1e-9 {
		t.Errorf("Ti = %v, want %v", scores[model.FnTi], 200.0/3)
	}
	if math.Abs(scores[model.FnNe]-100.0/3) > 1e-9 {
		t.Errorf("Ne = %v, want %v", scores[model.FnNe], 100.0/3)
	}
	if scores[model.FnFi] != 0 {
		t.Errorf("Fi = %v, want 0", scores[model.FnFi])
	}

	if got := ForcedChoiceScores(nil, key); got != nil {
		t.Errorf("no forced answers should yield nil, got %v", got)
	}
}

func TestSoftmaxTemperature(t *testing.T) {
	scores := map[model.TypeCode]float64{}
	for i, tc := range model.Types {
		scores[tc] = float64(i)
	}

	sharp := softmax(scores, 0.5)
	flat := softmax(scores, 10)

	top := model.Types[len(model.Types)-1]
	if sharp[top] <= flat[top] {
		t.Errorf("lower temperature should concentrate the winner: sharp=%v flat=%v", sharp[top], flat[top])
	}
}
