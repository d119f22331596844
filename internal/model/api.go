package model

// Finalize result paths.
const (
	PathCacheHit = "cache_hit"
	PathScored   = "scored"
)

// FinalizeResponse is returned by the finalize endpoint. Callers always
// receive either a complete profile or an explicit error; never a partial
// state presented as success.
type FinalizeResponse struct {
	OK             bool     `json:"ok"`
	Profile        *Profile `json:"profile"`
	ShareToken     string   `json:"share_token"`
	ResultsURL     string   `json:"results_url"`
	ResultsVersion string   `json:"results_version"`
	Path           string   `json:"path"`
}

// RecomputeResult summarizes a single-session recompute.
type RecomputeResult struct {
	SessionID       string   `json:"session_id"`
	NormalizedCount int      `json:"normalized_count"`
	Scored          bool     `json:"scored"`
	Version         string   `json:"version"`
	TypeCode        TypeCode `json:"type_code"`
	Confidence      float64  `json:"confidence"`
	DryRun          bool     `json:"dry_run"`
}

// BatchRecomputeResult summarizes a bulk recompute run.
type BatchRecomputeResult struct {
	Processed int      `json:"processed"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// TrainResult summarizes a calibration training run.
type TrainResult struct {
	TrainedStrata []string       `json:"trained_strata"`
	KnotCounts    map[string]int `json:"knot_counts"`
	SkippedStrata []string       `json:"skipped_strata,omitempty"`
}

// ErrorResponse is the uniform error payload for all endpoints.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}
