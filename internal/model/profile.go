package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ResultsVersion is the compiled-in result-schema version. It is stamped onto
// every profile this engine writes and compared against the version stored in
// settings at startup; a mismatch means stored data and code have drifted and
// is treated as fatal.
const ResultsVersion = "v3"

// FunctionCode identifies one of the 8 cognitive functions.
type FunctionCode string

const (
	FnNe FunctionCode = "Ne"
	FnNi FunctionCode = "Ni"
	FnSe FunctionCode = "Se"
	FnSi FunctionCode = "Si"
	FnTe FunctionCode = "Te"
	FnTi FunctionCode = "Ti"
	FnFe FunctionCode = "Fe"
	FnFi FunctionCode = "Fi"
)

// Functions lists all 8 function codes in canonical order.
var Functions = []FunctionCode{FnNe, FnNi, FnSe, FnSi, FnTe, FnTi, FnFe, FnFi}

// Extraverted reports whether the function's attitude is extraverted.
func (f FunctionCode) Extraverted() bool {
	switch f {
	case FnNe, FnSe, FnTe, FnFe:
		return true
	}
	return false
}

// BlockRole is the position a function occupies within a type prototype.
// The role determines the function's weight during type matching.
type BlockRole string

const (
	RoleBase          BlockRole = "base"
	RoleCreative      BlockRole = "creative"
	RoleRole          BlockRole = "role"
	RoleVulnerable    BlockRole = "vulnerable"
	RoleSuggestive    BlockRole = "suggestive"
	RoleMobilizing    BlockRole = "mobilizing"
	RoleIgnoring      BlockRole = "ignoring"
	RoleDemonstrative BlockRole = "demonstrative"
)

// TypeCode identifies one of the 16 type prototypes.
type TypeCode string

const (
	TypeILE TypeCode = "ILE"
	TypeSEI TypeCode = "SEI"
	TypeESE TypeCode = "ESE"
	TypeLII TypeCode = "LII"
	TypeEIE TypeCode = "EIE"
	TypeLSI TypeCode = "LSI"
	TypeSLE TypeCode = "SLE"
	TypeIEI TypeCode = "IEI"
	TypeSEE TypeCode = "SEE"
	TypeILI TypeCode = "ILI"
	TypeLIE TypeCode = "LIE"
	TypeESI TypeCode = "ESI"
	TypeLSE TypeCode = "LSE"
	TypeEII TypeCode = "EII"
	TypeIEE TypeCode = "IEE"
	TypeSLI TypeCode = "SLI"
)

// Types lists all 16 type codes in canonical order.
var Types = []TypeCode{
	TypeILE, TypeSEI, TypeESE, TypeLII,
	TypeEIE, TypeLSI, TypeSLE, TypeIEI,
	TypeSEE, TypeILI, TypeLIE, TypeESI,
	TypeLSE, TypeEII, TypeIEE, TypeSLI,
}

// Prototype maps each function to its block role for one type.
type Prototype map[FunctionCode]BlockRole

// PrototypeTable holds the prototypes for all 16 types.
// Swappable reference data; the scoring engine validates completeness.
type PrototypeTable map[TypeCode]Prototype

// TopType is one entry of a profile's ranked top-3.
type TopType struct {
	TypeCode TypeCode `json:"type_code"`
	Share    float64  `json:"share"`
	Score    float64  `json:"score"`
}

// ConfidenceBand buckets calibrated confidence for presentation.
type ConfidenceBand string

const (
	BandHigh     ConfidenceBand = "high"
	BandModerate ConfidenceBand = "moderate"
	BandLow      ConfidenceBand = "low"
)

// Validity statuses for a scored profile.
const (
	ValidityOK      = "ok"
	ValidityPartial = "partial" // Below-minimum answer coverage on one or more functions.
)

// Profile is the scored result for one session. Exactly one live profile
// exists per session; the finalize orchestrator protects that invariant.
type Profile struct {
	SessionID            uuid.UUID                `json:"session_id"`
	TypeCode             TypeCode                 `json:"type_code"`
	TopTypes             []TopType                `json:"top_3"`
	Strengths            map[FunctionCode]float64 `json:"strengths"`
	TypeScores           map[TypeCode]float64     `json:"type_scores"`
	RawConfidence        float64                  `json:"raw_confidence"`
	CalibratedConfidence float64                  `json:"calibrated_confidence"`
	ConfidenceBand       ConfidenceBand           `json:"confidence_band"`
	CalibrationFallback  bool                     `json:"calibration_fallback"`
	TopGap               float64                  `json:"top_gap"`
	Validity             string                   `json:"validity"`
	ResultsVersion       string                   `json:"results_version"`
	ScoredAt             time.Time                `json:"scored_at"`
}

// Validate checks the fields the persistence layer requires before a write.
// Invalid payloads are rejected, never silently coerced.
func (p Profile) Validate() error {
	if p.SessionID == uuid.Nil {
		return fmt.Errorf("profile: session_id is required")
	}
	if p.TypeCode == "" {
		return fmt.Errorf("profile: type_code is required")
	}
	if p.CalibratedConfidence < 0 || p.CalibratedConfidence > 1 {
		return fmt.Errorf("profile: calibrated_confidence %v outside [0,1]", p.CalibratedConfidence)
	}
	if p.ResultsVersion == "" {
		return fmt.Errorf("profile: results_version is required")
	}
	return nil
}
