package calibration

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/typelens-ai/typelens/internal/model"
)

// fakeStore serves canned models keyed by version+stratum.
type fakeStore struct {
	models map[string]model.CalibrationModel
	err    error
}

func (f *fakeStore) LatestCalibrationModel(_ context.Context, version, stratum string) (model.CalibrationModel, error) {
	if f.err != nil {
		return model.CalibrationModel{}, f.err
	}
	m, ok := f.models[version+"|"+stratum]
	if !ok {
		return model.CalibrationModel{}, ErrModelNotFound
	}
	return m, nil
}

func testStratum() model.Stratum {
	return model.Stratum{Band: model.DimBandHigh, Overlay: "+"}
}

func TestApplyWithTrainedModel(t *testing.T) {
	store := &fakeStore{models: map[string]model.CalibrationModel{
		"cal-v1|high/+": {
			Version: "cal-v1",
			Stratum: "high/+",
			Knots:   []model.Knot{{X: 0, Y: 0.2}, {X: 0.5, Y: 0.6}, {X: 1, Y: 0.9}},
		},
	}}
	c := New(store, DefaultConfig(), discardLogger())

	out := c.Apply(context.Background(), 0.25, testStratum())
	if out.Fallback {
		t.Fatal("expected trained model, got fallback")
	}
	if math.Abs(out.Value-0.4) > 1e-9 {
		t.Errorf("Apply(0.25) = %v, want 0.4", out.Value)
	}
	if out.Band != model.BandLow {
		t.Errorf("band = %q, want low", out.Band)
	}
}

func TestApplyMissingModelUsesFallback(t *testing.T) {
	c := New(&fakeStore{}, DefaultConfig(), discardLogger())

	out := c.Apply(context.Background(), 0.6, testStratum())
	if !out.Fallback {
		t.Fatal("expected fallback=true")
	}
	want := 1 / (1 + math.Exp(-(-0.5 + 1.2*0.6)))
	if math.Abs(out.Value-want) > 1e-9 {
		t.Errorf("fallback value = %v, want fixed sigmoid %v", out.Value, want)
	}
	if out.Value == 0.6 {
		t.Error("fallback must not pass the raw value through unmodified")
	}
}

func TestApplyStoreErrorUsesFallback(t *testing.T) {
	c := New(&fakeStore{err: fmt.Errorf("connection refused")}, DefaultConfig(), discardLogger())
	out := c.Apply(context.Background(), 0.5, testStratum())
	if !out.Fallback {
		t.Error("storage error should recover via fallback")
	}
}

// Two calibrator instances with different versions see different models from
// the same store; no process-wide state.
func TestVersionsSideBySide(t *testing.T) {
	store := &fakeStore{models: map[string]model.CalibrationModel{
		"cal-v1|high/+": {Knots: []model.Knot{{X: 0, Y: 0.1}, {X: 1, Y: 0.1}}},
		"cal-v2|high/+": {Knots: []model.Knot{{X: 0, Y: 0.9}, {X: 1, Y: 0.9}}},
	}}

	c1 := New(store, Config{Version: "cal-v1", HighCut: 0.75, ModerateCut: 0.55}, discardLogger())
	c2 := New(store, Config{Version: "cal-v2", HighCut: 0.75, ModerateCut: 0.55}, discardLogger())

	if v := c1.Apply(context.Background(), 0.5, testStratum()).Value; v != 0.1 {
		t.Errorf("cal-v1 value = %v, want 0.1", v)
	}
	if v := c2.Apply(context.Background(), 0.5, testStratum()).Value; v != 0.9 {
		t.Errorf("cal-v2 value = %v, want 0.9", v)
	}
}

func TestBandCutPointsConfigurable(t *testing.T) {
	c := New(nil, Config{Version: "x", HighCut: 0.9, ModerateCut: 0.2}, discardLogger())

	tests := []struct {
		v    float64
		want model.ConfidenceBand
	}{
		{0.95, model.BandHigh},
		{0.9, model.BandHigh},
		{0.5, model.BandModerate},
		{0.2, model.BandModerate},
		{0.1, model.BandLow},
	}
	for _, tt := range tests {
		if got := c.band(tt.v); got != tt.want {
			t.Errorf("band(%v) = %q, want %q", tt.v, got, tt.want)
		}
	}
}

func TestInterpolateBounded(t *testing.T) {
	models := [][]model.Knot{
		{{X: 0.2, Y: 0.3}, {X: 0.8, Y: 0.7}},
		{{X: 0, Y: 0}, {X: 1, Y: 1}},
		{{X: 0.5, Y: 0.5}},
		{{X: 0.3, Y: 1.4}, {X: 0.9, Y: -0.2}}, // out-of-range knots still clamp
	}
	for _, knots := range models {
		for x := 0.0; x <= 1.0001; x += 0.05 {
			v := Interpolate(knots, x)
			if v < 0 || v > 1 {
				t.Errorf("Interpolate(%v, %v) = %v outside [0,1]", knots, x, v)
			}
		}
	}
}

func TestInterpolateClampsOutsideEnds(t *testing.T) {
	knots := []model.Knot{{X: 0.3, Y: 0.4}, {X: 0.7, Y: 0.8}}
	if v := Interpolate(knots, 0.1); v != 0.4 {
		t.Errorf("below first knot: %v, want 0.4", v)
	}
	if v := Interpolate(knots, 0.95); v != 0.8 {
		t.Errorf("beyond last knot: %v, want 0.8", v)
	}
	if v := Interpolate(knots, 0.5); math.Abs(v-0.6) > 1e-9 {
		t.Errorf("midpoint: %v, want 0.6", v)
	}
}
