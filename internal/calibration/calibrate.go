// Package calibration maps raw confidence signals onto calibrated
// probabilities using per-stratum monotonic models, with a fixed sigmoid
// fallback when no trained model exists. Training lives in train.go and runs
// offline; nothing here blocks a result.
package calibration

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"

	"github.com/typelens-ai/typelens/internal/model"
)

// ErrModelNotFound is returned by ModelStore implementations when no model
// matches the requested (version, stratum).
var ErrModelNotFound = errors.New("calibration: model not found")

// ModelStore looks up trained calibration models. Implemented by storage.DB;
// an interface so tests can exercise multiple model versions side by side
// without a database.
type ModelStore interface {
	LatestCalibrationModel(ctx context.Context, version, stratum string) (model.CalibrationModel, error)
}

// Config carries the calibration version and band cut points. Injected at
// construction so no process-wide state decides which models serve.
type Config struct {
	Version     string
	HighCut     float64 // Calibrated confidence >= HighCut maps to the high band.
	ModerateCut float64 // >= ModerateCut maps to moderate; below is low.
}

// DefaultConfig returns the production calibration configuration.
func DefaultConfig() Config {
	return Config{Version: "cal-v1", HighCut: 0.75, ModerateCut: 0.55}
}

// Outcome is the result of applying calibration to one raw confidence value.
type Outcome struct {
	Value    float64
	Band     model.ConfidenceBand
	Fallback bool
}

// Calibrator applies per-stratum calibration models.
type Calibrator struct {
	store  ModelStore
	cfg    Config
	logger *slog.Logger
}

// New creates a Calibrator. A nil store always falls back to the fixed curve.
func New(store ModelStore, cfg Config, logger *slog.Logger) *Calibrator {
	if cfg.Version == "" {
		cfg = DefaultConfig()
	}
	return &Calibrator{store: store, cfg: cfg, logger: logger}
}

// Apply calibrates a raw confidence for the given stratum. Lookup failures of
// any kind recover locally via the fixed fallback sigmoid and are flagged;
// they never block a result.
func (c *Calibrator) Apply(ctx context.Context, raw float64, stratum model.Stratum) Outcome {
	raw = clamp(raw, 0, 1)

	if c.store != nil {
		m, err := c.store.LatestCalibrationModel(ctx, c.cfg.Version, stratum.String())
		switch {
		case err == nil && len(m.Knots) > 0:
			v := Interpolate(m.Knots, raw)
			return Outcome{Value: v, Band: c.band(v)}
		case errors.Is(err, ErrModelNotFound):
			c.logger.Debug("calibration: no model for stratum, using fallback",
				"stratum", stratum.String(), "version", c.cfg.Version)
		case err != nil:
			c.logger.Warn("calibration: model lookup failed, using fallback",
				"stratum", stratum.String(), "version", c.cfg.Version, "error", err)
		default:
			c.logger.Warn("calibration: model has no knots, using fallback",
				"stratum", stratum.String(), "version", c.cfg.Version)
		}
	}

	v := FallbackCurve(raw)
	return Outcome{Value: v, Band: c.band(v), Fallback: true}
}

// band maps a calibrated probability onto its presentation band using the
// configured cut points.
func (c *Calibrator) band(v float64) model.ConfidenceBand {
	switch {
	case v >= c.cfg.HighCut:
		return model.BandHigh
	case v >= c.cfg.ModerateCut:
		return model.BandModerate
	default:
		return model.BandLow
	}
}

// FallbackCurve is the fixed Platt-style sigmoid used when no trained model
// exists for a stratum: sigmoid(-0.5 + 1.2*raw).
func FallbackCurve(raw float64) float64 {
	return sigmoid(-0.5 + 1.2*clamp(raw, 0, 1))
}

// Interpolate evaluates a knot curve at x: values at or beyond either end
// clamp to the boundary y, interior values interpolate linearly between the
// two bracketing knots. The result is clamped to [0,1].
func Interpolate(knots []model.Knot, x float64) float64 {
	if len(knots) == 0 {
		return clamp(x, 0, 1)
	}

	sorted := make([]model.Knot, len(knots))
	copy(sorted, knots)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].X < sorted[j].X })

	if x <= sorted[0].X {
		return clamp(sorted[0].Y, 0, 1)
	}
	last := sorted[len(sorted)-1]
	if x >= last.X {
		return clamp(last.Y, 0, 1)
	}

	for i := 1; i < len(sorted); i++ {
		if x > sorted[i].X {
			continue
		}
		lo, hi := sorted[i-1], sorted[i]
		if hi.X == lo.X {
			return clamp(hi.Y, 0, 1)
		}
		t := (x - lo.X) / (hi.X - lo.X)
		return clamp(lo.Y+t*(hi.Y-lo.Y), 0, 1)
	}
	return clamp(last.Y, 0, 1)
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
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
