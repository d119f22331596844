package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/typelens-ai/typelens/internal/auth"
	"github.com/typelens-ai/typelens/internal/model"
	"github.com/typelens-ai/typelens/internal/scoring"
	"github.com/typelens-ai/typelens/internal/service/finalize"
	"github.com/typelens-ai/typelens/internal/service/recompute"
	"github.com/typelens-ai/typelens/internal/storage"
)

// Handlers bundles the HTTP handlers and their dependencies.
type Handlers struct {
	db              *storage.DB
	jwtMgr          *auth.JWTManager
	finalizeSvc     *finalize.Service
	recomputeSvc    *recompute.Service
	adminAPIKeyHash string
	logger          *slog.Logger
	version         string
	maxBodyBytes    int64
}

// HandleAuthToken exchanges the admin API key for a JWT.
// POST /auth/token {"api_key": "..."}
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey string `json:"api_key"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	if h.adminAPIKeyHash == "" || req.APIKey == "" {
		// Burn the same time as a real check so probes cannot tell whether
		// the admin surface is configured.
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}

	ok, err := auth.VerifyAPIKey(req.APIKey, h.adminAPIKeyHash)
	if err != nil || !ok {
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken()
	if err != nil {
		h.logger.Error("auth: issue token failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
}

// HandleFinalize runs the idempotent finalize pipeline for one session.
// POST /v1/sessions/{session_id}/finalize
//
// The body is optional. When the surrounding product forwards its submission
// payload, the top-level "responses" field (array or object) is counted and
// used as the session's completed-question estimate; everything else in the
// body is ignored.
func (h *Handlers) HandleFinalize(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(r.PathValue("session_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid session id")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "request body too large")
		return
	}
	completed := countResponses(body)

	resp, err := h.finalizeSvc.Finalize(r.Context(), sessionID, completed)
	if err != nil {
		h.writePipelineError(w, r, sessionID, "finalize", err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// countResponses counts entries in the body's "responses" field. Payload
// shapes differ across product versions (object keyed by question id vs.
// array), so the count is taken leniently and never fails the request.
func countResponses(body []byte) int {
	if len(body) == 0 {
		return 0
	}
	responses := gjson.GetBytes(body, "responses")
	switch {
	case responses.IsArray():
		return len(responses.Array())
	case responses.IsObject():
		return len(responses.Map())
	default:
		return 0
	}
}

// HandleGetResults resolves a share token to its stored profile.
// GET /v1/results/{token}
func (h *Handlers) HandleGetResults(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	if token == "" {
		writeError(w, r, http.StatusBadRequest, "missing token")
		return
	}

	sess, err := h.db.GetSessionByShareToken(r.Context(), token)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "results not found")
		return
	}
	if err != nil {
		h.logger.Error("results: session lookup failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	profile, err := h.db.GetProfile(r.Context(), sess.ID)
	if errors.Is(err, storage.ErrNotFound) {
		// Token exists but scoring never completed; treat as not found
		// rather than exposing a half-finalized session.
		writeError(w, r, http.StatusNotFound, "results not found")
		return
	}
	if err != nil {
		h.logger.Error("results: profile lookup failed", "error", err, "session_id", sess.ID)
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"ok":              true,
		"profile":         profile,
		"session_status":  sess.Status,
		"results_version": profile.ResultsVersion,
	})
}

// HandleRecomputeSession re-scores one session.
// POST /v1/admin/sessions/{session_id}/recompute?dry_run=true
// A {"dry_run": bool} body is accepted as an alternative to the query param.
func (h *Handlers) HandleRecomputeSession(w http.ResponseWriter, r *http.Request) {
	if h.recomputeSvc == nil {
		writeError(w, r, http.StatusServiceUnavailable, "recompute not configured")
		return
	}
	sessionID, err := uuid.Parse(r.PathValue("session_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid session id")
		return
	}

	var req struct {
		DryRun bool `json:"dry_run"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	dryRun := req.DryRun || r.URL.Query().Get("dry_run") == "true"

	res, err := h.recomputeSvc.Recompute(r.Context(), sessionID, dryRun)
	if err != nil {
		h.writePipelineError(w, r, sessionID, "recompute", err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// HandleRecomputeBatch re-scores finalized sessions in bulk.
// POST /v1/admin/recompute {"limit": int, "dry_run": bool}
func (h *Handlers) HandleRecomputeBatch(w http.ResponseWriter, r *http.Request) {
	if h.recomputeSvc == nil {
		writeError(w, r, http.StatusServiceUnavailable, "recompute not configured")
		return
	}

	req := struct {
		Limit  int  `json:"limit"`
		DryRun bool `json:"dry_run"`
	}{Limit: 1000}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Limit <= 0 {
		writeError(w, r, http.StatusBadRequest, "limit must be positive")
		return
	}

	res, err := h.recomputeSvc.RecomputeBatch(r.Context(), req.Limit, req.DryRun)
	if err != nil {
		h.logger.Error("admin: batch recompute failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// HandleTrainCalibration trains calibration models from stored outcomes.
// POST /v1/admin/calibration/train {"method": "isotonic"|"platt"}
func (h *Handlers) HandleTrainCalibration(w http.ResponseWriter, r *http.Request) {
	if h.recomputeSvc == nil {
		writeError(w, r, http.StatusServiceUnavailable, "training not configured")
		return
	}

	req := struct {
		Method string `json:"method"`
	}{Method: string(model.MethodIsotonic)}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	method := model.CalibrationMethod(req.Method)
	if method != model.MethodIsotonic && method != model.MethodPlatt {
		writeError(w, r, http.StatusBadRequest, "method must be isotonic or platt")
		return
	}

	res, err := h.recomputeSvc.TrainCalibration(r.Context(), method)
	if err != nil {
		h.logger.Error("admin: calibration training failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// HandleHealth reports liveness plus the results-version drift check.
// GET /healthz
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		writeJSON(w, r, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable", "version": h.version,
		})
		return
	}
	if err := h.db.CheckResultsVersion(r.Context(), model.ResultsVersion); err != nil {
		if errors.Is(err, storage.ErrVersionDrift) {
			writeJSON(w, r, http.StatusServiceUnavailable, map[string]any{
				"status": "version_drift", "version": h.version,
			})
			return
		}
		writeJSON(w, r, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable", "version": h.version,
		})
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status": "ok", "version": h.version, "results_version": model.ResultsVersion,
	})
}

// writePipelineError maps pipeline errors onto HTTP statuses: missing session
// 404, unusable input 422, broken reference data or anything else 500.
func (h *Handlers) writePipelineError(w http.ResponseWriter, r *http.Request, sessionID uuid.UUID, op string, err error) {
	var refErr *scoring.ReferenceDataError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "session not found")
	case errors.Is(err, scoring.ErrNoAnswers):
		writeError(w, r, http.StatusUnprocessableEntity, "session has no usable answers")
	case errors.As(err, &refErr):
		h.logger.Error(op+": reference data broken", "error", err, "session_id", sessionID)
		writeError(w, r, http.StatusInternalServerError, "scoring reference data unavailable")
	default:
		h.logger.Error(op+" failed", "error", err, "session_id", sessionID)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
