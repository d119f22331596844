package normalize

import (
	"strconv"
	"testing"

	"github.com/google/uuid"

	"github.com/typelens-ai/typelens/internal/model"
)

func likertKey(scale model.ScaleType, reverse bool) model.ScoringKeyEntry {
	return model.ScoringKeyEntry{QuestionID: "q1", Scale: scale, ReverseScored: reverse, Function: model.FnTi}
}

func rawAnswer(v string) model.RawAnswer {
	return model.RawAnswer{SessionID: uuid.New(), QuestionID: "q1", RawValue: v}
}

func TestAnswerNumeric(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		scale   model.ScaleType
		reverse bool
		want    float64
	}{
		{"likert5 direct", "4", model.ScaleLikert5, false, 4},
		{"likert5 reverse", "4", model.ScaleLikert5, true, 2},
		{"likert5 float", "3.5", model.ScaleLikert5, false, 3.5},
		{"likert5 clamped high", "9", model.ScaleLikert5, false, 5},
		{"likert5 clamped low", "0", model.ScaleLikert5, false, 1},
		{"likert7 min maps to 1", "1", model.ScaleLikert7, false, 1},
		{"likert7 max maps to 5", "7", model.ScaleLikert7, false, 5},
		{"likert7 midpoint maps to 3", "4", model.ScaleLikert7, false, 3},
		{"likert7 reverse then rescale", "6", model.ScaleLikert7, true, 1 + 1.0*4/6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Answer(rawAnswer(tt.raw), likertKey(tt.scale, tt.reverse))
			if got.Value == nil {
				t.Fatalf("Answer() returned nil value for %q", tt.raw)
			}
			if diff := *got.Value - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Answer(%q) = %v, want %v", tt.raw, *got.Value, tt.want)
			}
			if got.ReverseApplied != tt.reverse {
				t.Errorf("ReverseApplied = %v, want %v", got.ReverseApplied, tt.reverse)
			}
		})
	}
}

func TestAnswerLabels(t *testing.T) {
	got := Answer(rawAnswer("Strongly Agree"), likertKey(model.ScaleLikert5, false))
	if got.Value == nil || *got.Value != 5 {
		t.Fatalf("Strongly Agree on likert5 = %v, want 5", got.Value)
	}

	got = Answer(rawAnswer("somewhat agree"), likertKey(model.ScaleLikert7, false))
	want := 1 + 4.0*4/6 // 5 on the native 1-7 scale.
	if got.Value == nil || *got.Value-want > 1e-9 || want-*got.Value > 1e-9 {
		t.Fatalf("somewhat agree on likert7 = %v, want %v", got.Value, want)
	}
}

func TestAnswerUnparseable(t *testing.T) {
	for _, raw := range []string{"", "   ", "banana", "Mostly Agree"} {
		got := Answer(rawAnswer(raw), likertKey(model.ScaleLikert5, false))
		if got.Value != nil {
			t.Errorf("Answer(%q).Value = %v, want nil", raw, *got.Value)
		}
	}
}

// Reverse-scoring a value and its counterpart must sum to the scale's
// endpoints (6 on 1-5, 8 on 1-7) before cross-scale rescaling.
func TestReverseRoundTrip(t *testing.T) {
	for v := 1.0; v <= 5; v++ {
		fwd := Answer(rawAnswer(formatFloat(v)), likertKey(model.ScaleLikert5, false))
		rev := Answer(rawAnswer(formatFloat(v)), likertKey(model.ScaleLikert5, true))
		if sum := *fwd.Value + *rev.Value; sum != 6 {
			t.Errorf("likert5 v=%v: fwd+rev = %v, want 6", v, sum)
		}
	}

	// On likert7 the round-trip property holds on the native scale. Undo the
	// 1-5 rescale to check it.
	toNative := func(norm float64) float64 { return 1 + (norm-1)*6/4 }
	for v := 1.0; v <= 7; v++ {
		fwd := Answer(rawAnswer(formatFloat(v)), likertKey(model.ScaleLikert7, false))
		rev := Answer(rawAnswer(formatFloat(v)), likertKey(model.ScaleLikert7, true))
		sum := toNative(*fwd.Value) + toNative(*rev.Value)
		if sum > 8+1e-9 || sum < 8-1e-9 {
			t.Errorf("likert7 v=%v: native fwd+rev = %v, want 8", v, sum)
		}
	}
}

func TestSessionSkipsUnkeyedAndForced(t *testing.T) {
	sid := uuid.New()
	raws := []model.RawAnswer{
		{SessionID: sid, QuestionID: "q1", RawValue: "5"},
		{SessionID: sid, QuestionID: "q2", RawValue: "Ti"},      // forced-choice
		{SessionID: sid, QuestionID: "unknown", RawValue: "3"},  // no key entry
		{SessionID: sid, QuestionID: "q3", RawValue: "garbage"}, // keyed, unparseable
	}
	key := model.ScoringKey{
		"q1": {QuestionID: "q1", Scale: model.ScaleLikert5, Function: model.FnTi},
		"q2": {QuestionID: "q2", Scale: model.ScaleForced, Function: model.FnTi},
		"q3": {QuestionID: "q3", Scale: model.ScaleLikert5, Function: model.FnNe},
	}

	out := Session(raws, key)
	if len(out) != 2 {
		t.Fatalf("Session() returned %d rows, want 2", len(out))
	}
	if out[0].QuestionID != "q1" || out[0].Value == nil {
		t.Errorf("q1 not normalized: %+v", out[0])
	}
	if out[1].QuestionID != "q3" || out[1].Value != nil {
		t.Errorf("q3 should be kept with nil value: %+v", out[1])
	}
	for _, n := range out {
		if n.Version != Version {
			t.Errorf("row %s version = %q, want %q", n.QuestionID, n.Version, Version)
		}
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
