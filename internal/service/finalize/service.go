// Package finalize orchestrates the scoring pipeline for one session: it is
// the only writer of profiles and the only component allowed to decide between
// the cache-hit and scoring paths. Both the HTTP API and the batch recompute
// job delegate to this service so the idempotency guarantees hold on every
// entry point.
package finalize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/typelens-ai/typelens/internal/calibration"
	"github.com/typelens-ai/typelens/internal/model"
	"github.com/typelens-ai/typelens/internal/normalize"
	"github.com/typelens-ai/typelens/internal/scoring"
	"github.com/typelens-ai/typelens/internal/storage"
	"github.com/typelens-ai/typelens/internal/telemetry"
)

// Store is the persistence surface the orchestrator needs. Implemented by
// storage.DB; an interface so the idempotency and concurrency behavior can be
// tested without a database.
type Store interface {
	GetSession(ctx context.Context, id uuid.UUID) (model.AssessmentSession, error)
	GetProfile(ctx context.Context, sessionID uuid.UUID) (model.Profile, error)
	ListRawAnswers(ctx context.Context, sessionID uuid.UUID) ([]model.RawAnswer, error)
	LoadScoringKey(ctx context.Context) (model.ScoringKey, error)
	LoadPrototypes(ctx context.Context) (model.PrototypeTable, error)
	UpsertNormalizedAnswers(ctx context.Context, answers []model.NormalizedAnswer) error
	UpsertProfile(ctx context.Context, p model.Profile) error
	StampResultsVersion(ctx context.Context, sessionID uuid.UUID, version string) error
	EnsureShareToken(ctx context.Context, id uuid.UUID, candidate string, expiresAt time.Time) (string, error)
	MarkSessionFinalized(ctx context.Context, id uuid.UUID, completedQuestions int) error
	AcquireSessionLock(ctx context.Context, sessionID uuid.UUID) (func(), error)
}

var _ Store = (*storage.DB)(nil)

// Config holds the orchestrator's tunables.
type Config struct {
	// BaseURL is the public results origin, e.g. "https://typelens.app".
	BaseURL string
	// ShareTokenTTL bounds how long a freshly minted share token is presented
	// as valid. Stored but not enforced here.
	ShareTokenTTL time.Duration
	// Scoring is passed through to the engine on every scoring run.
	Scoring scoring.Config
}

// Service runs finalize for sessions.
type Service struct {
	store      Store
	calibrator *calibration.Calibrator
	mirror     Sink
	cfg        Config
	logger     *slog.Logger
	locks      sessionLocks

	finalizeDuration metric.Float64Histogram
	scoreDuration    metric.Float64Histogram
	fallbackCount    metric.Int64Counter
}

// New creates a finalize Service. mirror may be nil when no legacy sink is
// configured.
func New(store Store, calibrator *calibration.Calibrator, mirror Sink, cfg Config, logger *slog.Logger) *Service {
	if cfg.ShareTokenTTL <= 0 {
		cfg.ShareTokenTTL = 30 * 24 * time.Hour
	}
	meter := telemetry.Meter("typelens/finalize")
	finDur, _ := meter.Float64Histogram("typelens.finalize.duration",
		metric.WithDescription("End-to-end finalize time (ms)"),
		metric.WithUnit("ms"),
	)
	scoreDur, _ := meter.Float64Histogram("typelens.score.duration",
		metric.WithDescription("Scoring pipeline time on the non-cached path (ms)"),
		metric.WithUnit("ms"),
	)
	fallbacks, _ := meter.Int64Counter("typelens.calibration.fallback_count",
		metric.WithDescription("Profiles scored with the fixed fallback sigmoid instead of a trained model"),
	)
	return &Service{
		store:            store,
		calibrator:       calibrator,
		mirror:           mirror,
		cfg:              cfg,
		logger:           logger,
		finalizeDuration: finDur,
		scoreDuration:    scoreDur,
		fallbackCount:    fallbacks,
	}
}

// Finalize runs the idempotent finalize state machine for one session.
//
// Exactly one caller at a time proceeds per session: an in-process lock
// serializes goroutines and a database advisory lock serializes instances.
// If a profile already exists the stored result is returned as-is (cache-hit
// path); otherwise the full scoring pipeline runs and persists exactly one
// profile. completedQuestions is the caller's estimate of how many questions
// the respondent answered; zero means "derive from stored answers".
func (s *Service) Finalize(ctx context.Context, sessionID uuid.UUID, completedQuestions int) (model.FinalizeResponse, error) {
	start := time.Now()

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("typelens.session_id", sessionID.String()))

	unlock := s.locks.acquire(sessionID)
	defer unlock()

	releaseDB, err := s.store.AcquireSessionLock(ctx, sessionID)
	if err != nil {
		return model.FinalizeResponse{}, fmt.Errorf("finalize: session lock: %w", err)
	}
	defer releaseDB()

	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.FinalizeResponse{}, err
		}
		return model.FinalizeResponse{}, fmt.Errorf("finalize: load session: %w", err)
	}

	profile, err := s.store.GetProfile(ctx, sessionID)
	switch {
	case err == nil:
		resp, err := s.cacheHit(ctx, profile, completedQuestions)
		if err == nil {
			s.finalizeDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
				metric.WithAttributes(attribute.String("path", model.PathCacheHit)))
		}
		return resp, err
	case errors.Is(err, storage.ErrNotFound):
		// First finalize for this session; fall through to scoring.
	default:
		return model.FinalizeResponse{}, fmt.Errorf("finalize: load profile: %w", err)
	}

	resp, err := s.score(ctx, sessionID, completedQuestions)
	if err != nil {
		return model.FinalizeResponse{}, err
	}
	s.finalizeDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.String("path", model.PathScored)))
	return resp, nil
}

// cacheHit returns the stored profile without rescoring. Bookkeeping still
// runs so that repeated finalizes converge: the share token is ensured and the
// session marked finalized even if an earlier call crashed between steps.
func (s *Service) cacheHit(ctx context.Context, profile model.Profile, completedQuestions int) (model.FinalizeResponse, error) {
	if profile.ResultsVersion != model.ResultsVersion {
		// The stored profile predates the current results schema. Re-stamp so
		// readers see a consistent version; recomputing old sessions is the
		// admin recompute job's call, not finalize's.
		s.logger.Info("finalize: re-stamping profile results version",
			"session_id", profile.SessionID,
			"stored", profile.ResultsVersion,
			"current", model.ResultsVersion,
		)
		if err := s.store.StampResultsVersion(ctx, profile.SessionID, model.ResultsVersion); err != nil {
			return model.FinalizeResponse{}, fmt.Errorf("finalize: stamp results version: %w", err)
		}
		profile.ResultsVersion = model.ResultsVersion
	}

	token, err := s.ensureToken(ctx, profile.SessionID)
	if err != nil {
		return model.FinalizeResponse{}, err
	}
	if err := s.store.MarkSessionFinalized(ctx, profile.SessionID, completedQuestions); err != nil {
		return model.FinalizeResponse{}, fmt.Errorf("finalize: mark finalized: %w", err)
	}

	s.logger.Info("finalize: cache hit",
		"session_id", profile.SessionID,
		"type_code", profile.TypeCode,
	)
	return s.response(profile, token, model.PathCacheHit), nil
}

// score runs the full pipeline: normalize, aggregate, match, rank, calibrate,
// persist. Nothing is written until the engine has produced a complete result,
// so an engine failure leaves no partial state behind.
func (s *Service) score(ctx context.Context, sessionID uuid.UUID, completedQuestions int) (model.FinalizeResponse, error) {
	scoreStart := time.Now()

	raws, err := s.store.ListRawAnswers(ctx, sessionID)
	if err != nil {
		return model.FinalizeResponse{}, fmt.Errorf("finalize: load answers: %w", err)
	}
	key, err := s.store.LoadScoringKey(ctx)
	if err != nil {
		return model.FinalizeResponse{}, fmt.Errorf("finalize: load scoring key: %w", err)
	}
	prototypes, err := s.store.LoadPrototypes(ctx)
	if err != nil {
		return model.FinalizeResponse{}, fmt.Errorf("finalize: load prototypes: %w", err)
	}

	engine, err := scoring.NewEngine(s.cfg.Scoring, prototypes)
	if err != nil {
		return model.FinalizeResponse{}, err
	}

	normalized := normalize.Session(raws, key)
	forced := scoring.ForcedChoiceScores(raws, key)

	result, err := engine.Score(normalized, key, forced)
	if err != nil {
		// ErrNoAnswers and ReferenceDataError pass through typed so the
		// transport layer can map them; nothing has been persisted.
		return model.FinalizeResponse{}, err
	}

	if err := s.store.UpsertNormalizedAnswers(ctx, normalized); err != nil {
		return model.FinalizeResponse{}, fmt.Errorf("finalize: persist normalized answers: %w", err)
	}

	cal := s.calibrator.Apply(ctx, result.RawConfidence, result.Stratum)
	if cal.Fallback {
		s.fallbackCount.Add(ctx, 1, metric.WithAttributes(attribute.String("stratum", result.Stratum.String())))
	}

	profile := model.Profile{
		SessionID:            sessionID,
		TypeCode:             result.TopTypes[0].TypeCode,
		TopTypes:             result.TopTypes,
		Strengths:            result.Strengths,
		TypeScores:           result.TypeScores,
		RawConfidence:        result.RawConfidence,
		CalibratedConfidence: cal.Value,
		ConfidenceBand:       cal.Band,
		CalibrationFallback:  cal.Fallback,
		TopGap:               result.TopGap,
		Validity:             result.Validity,
		ResultsVersion:       model.ResultsVersion,
		ScoredAt:             time.Now().UTC(),
	}
	if err := s.store.UpsertProfile(ctx, profile); err != nil {
		return model.FinalizeResponse{}, fmt.Errorf("finalize: persist profile: %w", err)
	}

	token, err := s.ensureToken(ctx, sessionID)
	if err != nil {
		return model.FinalizeResponse{}, err
	}

	if completedQuestions <= 0 {
		completedQuestions = len(raws)
	}
	if err := s.store.MarkSessionFinalized(ctx, sessionID, completedQuestions); err != nil {
		return model.FinalizeResponse{}, fmt.Errorf("finalize: mark finalized: %w", err)
	}

	if s.mirror != nil {
		// Legacy mirror is best effort: a sink failure never fails finalize.
		if err := s.mirror.Record(ctx, profile, token); err != nil {
			s.logger.Warn("finalize: legacy mirror write failed",
				"session_id", sessionID, "error", err)
		}
	}

	s.scoreDuration.Record(ctx, float64(time.Since(scoreStart).Milliseconds()))
	s.logger.Info("finalize: session scored",
		"session_id", sessionID,
		"type_code", profile.TypeCode,
		"confidence_band", profile.ConfidenceBand,
		"calibration_fallback", profile.CalibrationFallback,
		"validity", profile.Validity,
		"answers", len(raws),
	)
	return s.response(profile, token, model.PathScored), nil
}

// ensureToken mints a candidate share token and lets the storage layer keep
// whichever token got there first.
func (s *Service) ensureToken(ctx context.Context, sessionID uuid.UUID) (string, error) {
	candidate := nuid.Next()
	token, err := s.store.EnsureShareToken(ctx, sessionID, candidate, time.Now().UTC().Add(s.cfg.ShareTokenTTL))
	if err != nil {
		return "", fmt.Errorf("finalize: ensure share token: %w", err)
	}
	return token, nil
}

func (s *Service) response(profile model.Profile, token, path string) model.FinalizeResponse {
	return model.FinalizeResponse{
		OK:             true,
		Profile:        &profile,
		ShareToken:     token,
		ResultsURL:     s.cfg.BaseURL + "/r/" + token,
		ResultsVersion: profile.ResultsVersion,
		Path:           path,
	}
}
