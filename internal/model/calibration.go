package model

import (
	"time"

	"github.com/google/uuid"
)

// CalibrationMethod identifies how a calibration model was trained.
type CalibrationMethod string

const (
	MethodIsotonic CalibrationMethod = "isotonic"
	MethodPlatt    CalibrationMethod = "platt"
)

// DimBand buckets how much of the questionnaire a session actually covered.
// It is one axis of the calibration stratum.
type DimBand string

const (
	DimBandLow  DimBand = "low"
	DimBandMid  DimBand = "mid"
	DimBandHigh DimBand = "high"
)

// Stratum selects which calibration model applies to a session:
// a dimensionality band crossed with an overlay sign.
type Stratum struct {
	Band    DimBand `json:"band"`
	Overlay string  `json:"overlay"` // "+" when top-1/top-2 base attitudes agree, "-" otherwise.
}

// String renders the stratum in its stored form, e.g. "high/+".
func (s Stratum) String() string {
	return string(s.Band) + "/" + s.Overlay
}

// Knot is one (x, y) point of a monotonic calibration curve.
type Knot struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CalibrationModel is one trained curve for a (version, stratum) pair.
// Multiple versions may coexist; lookups take the most recently trained
// model matching both.
type CalibrationModel struct {
	ID        uuid.UUID         `json:"id"`
	Version   string            `json:"version"`
	Method    CalibrationMethod `json:"method"`
	Stratum   string            `json:"stratum"`
	Knots     []Knot            `json:"knots"`
	TrainedAt time.Time         `json:"trained_at"`
}

// CalibrationOutcome is one historical (raw confidence, observed correctness)
// pair used as training data. The surrounding product records these when a
// respondent confirms or corrects their result.
type CalibrationOutcome struct {
	SessionID     uuid.UUID `json:"session_id"`
	Stratum       string    `json:"stratum"`
	RawConfidence float64   `json:"raw_confidence"`
	Correct       bool      `json:"observed_correct"`
	ObservedAt    time.Time `json:"observed_at"`
}
