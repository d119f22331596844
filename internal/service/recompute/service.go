// Package recompute hosts the offline jobs: re-scoring already finalized
// sessions after a scoring or normalization change, and training fresh
// calibration models from observed outcomes. Both are admin operations; the
// request path never runs them.
package recompute

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/typelens-ai/typelens/internal/calibration"
	"github.com/typelens-ai/typelens/internal/model"
	"github.com/typelens-ai/typelens/internal/normalize"
	"github.com/typelens-ai/typelens/internal/scoring"
	"github.com/typelens-ai/typelens/internal/storage"
)

// Store is the persistence surface the jobs need. Implemented by storage.DB.
type Store interface {
	ListRawAnswers(ctx context.Context, sessionID uuid.UUID) ([]model.RawAnswer, error)
	LoadScoringKey(ctx context.Context) (model.ScoringKey, error)
	LoadPrototypes(ctx context.Context) (model.PrototypeTable, error)
	UpsertNormalizedAnswers(ctx context.Context, answers []model.NormalizedAnswer) error
	UpsertProfile(ctx context.Context, p model.Profile) error
	ListFinalizedSessionIDs(ctx context.Context, limit int) ([]uuid.UUID, error)
	ListCalibrationOutcomes(ctx context.Context, since time.Time, limit int) ([]model.CalibrationOutcome, error)
	InsertCalibrationModel(ctx context.Context, m model.CalibrationModel) error
	AcquireSessionLock(ctx context.Context, sessionID uuid.UUID) (func(), error)
}

var _ Store = (*storage.DB)(nil)

// Config holds the jobs' tunables.
type Config struct {
	// Scoring is passed through to the engine, exactly as finalize does.
	Scoring scoring.Config
	// Calibration supplies the model version trained models are stored under.
	Calibration calibration.Config
	// BatchConcurrency bounds parallel sessions during a batch recompute.
	BatchConcurrency int
	// OutcomeWindow is how far back training reads outcomes. Zero means 180 days.
	OutcomeWindow time.Duration
	// OutcomeLimit caps the training corpus size. Zero means 100000.
	OutcomeLimit int
}

// Service runs recompute and training jobs.
type Service struct {
	store      Store
	calibrator *calibration.Calibrator
	cfg        Config
	logger     *slog.Logger
}

// New creates a recompute Service.
func New(store Store, calibrator *calibration.Calibrator, cfg Config, logger *slog.Logger) *Service {
	if cfg.Calibration.Version == "" {
		cfg.Calibration = calibration.DefaultConfig()
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 4
	}
	if cfg.OutcomeWindow <= 0 {
		cfg.OutcomeWindow = 180 * 24 * time.Hour
	}
	if cfg.OutcomeLimit <= 0 {
		cfg.OutcomeLimit = 100000
	}
	return &Service{store: store, calibrator: calibrator, cfg: cfg, logger: logger}
}

// Recompute re-runs the scoring pipeline for one session and overwrites its
// profile. Unlike finalize it never takes the cache-hit path: the point is to
// replace a stale result. With dryRun the result is computed and reported but
// nothing is written.
func (s *Service) Recompute(ctx context.Context, sessionID uuid.UUID, dryRun bool) (model.RecomputeResult, error) {
	release, err := s.store.AcquireSessionLock(ctx, sessionID)
	if err != nil {
		return model.RecomputeResult{}, fmt.Errorf("recompute: session lock: %w", err)
	}
	defer release()

	raws, err := s.store.ListRawAnswers(ctx, sessionID)
	if err != nil {
		return model.RecomputeResult{}, fmt.Errorf("recompute: load answers: %w", err)
	}
	key, err := s.store.LoadScoringKey(ctx)
	if err != nil {
		return model.RecomputeResult{}, fmt.Errorf("recompute: load scoring key: %w", err)
	}
	prototypes, err := s.store.LoadPrototypes(ctx)
	if err != nil {
		return model.RecomputeResult{}, fmt.Errorf("recompute: load prototypes: %w", err)
	}
	engine, err := scoring.NewEngine(s.cfg.Scoring, prototypes)
	if err != nil {
		return model.RecomputeResult{}, err
	}

	normalized := normalize.Session(raws, key)
	forced := scoring.ForcedChoiceScores(raws, key)

	result, err := engine.Score(normalized, key, forced)
	if err != nil {
		return model.RecomputeResult{}, err
	}
	cal := s.calibrator.Apply(ctx, result.RawConfidence, result.Stratum)

	out := model.RecomputeResult{
		SessionID:       sessionID.String(),
		NormalizedCount: len(normalized),
		Scored:          true,
		Version:         model.ResultsVersion,
		TypeCode:        result.TopTypes[0].TypeCode,
		Confidence:      cal.Value,
		DryRun:          dryRun,
	}
	if dryRun {
		return out, nil
	}

	if err := s.store.UpsertNormalizedAnswers(ctx, normalized); err != nil {
		return model.RecomputeResult{}, fmt.Errorf("recompute: persist normalized answers: %w", err)
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
		return model.RecomputeResult{}, fmt.Errorf("recompute: persist profile: %w", err)
	}

	s.logger.Info("recompute: session rescored",
		"session_id", sessionID,
		"type_code", profile.TypeCode,
		"confidence_band", profile.ConfidenceBand,
	)
	return out, nil
}

// RecomputeBatch re-scores up to limit finalized sessions with bounded
// parallelism. Individual session failures are collected, not fatal: one bad
// session must not sink a fleet-wide recompute after a scoring change.
func (s *Service) RecomputeBatch(ctx context.Context, limit int, dryRun bool) (model.BatchRecomputeResult, error) {
	ids, err := s.store.ListFinalizedSessionIDs(ctx, limit)
	if err != nil {
		return model.BatchRecomputeResult{}, fmt.Errorf("recompute: list sessions: %w", err)
	}

	var (
		mu        sync.Mutex
		processed int
		failures  []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.BatchConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			if _, err := s.Recompute(gctx, id, dryRun); err != nil {
				mu.Lock()
				failures = append(failures, fmt.Sprintf("%s: %v", id, err))
				mu.Unlock()
				return nil
			}
			mu.Lock()
			processed++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return model.BatchRecomputeResult{}, err
	}

	sort.Strings(failures)
	s.logger.Info("recompute: batch finished",
		"processed", processed,
		"failed", len(failures),
		"dry_run", dryRun,
	)
	return model.BatchRecomputeResult{
		Processed: processed,
		Failed:    len(failures),
		Errors:    failures,
	}, nil
}

// TrainCalibration trains one model per sufficiently populated stratum from
// the recent outcome corpus and stores them under the configured calibration
// version. Strata below the sample floor are reported as skipped; serving for
// them keeps using the fallback curve.
func (s *Service) TrainCalibration(ctx context.Context, method model.CalibrationMethod) (model.TrainResult, error) {
	since := time.Now().UTC().Add(-s.cfg.OutcomeWindow)
	outcomes, err := s.store.ListCalibrationOutcomes(ctx, since, s.cfg.OutcomeLimit)
	if err != nil {
		return model.TrainResult{}, fmt.Errorf("recompute: load outcomes: %w", err)
	}

	curves, skipped := calibration.TrainStrata(outcomes, method)

	trainedAt := time.Now().UTC()
	trained := make([]string, 0, len(curves))
	knotCounts := make(map[string]int, len(curves))
	for stratum, knots := range curves {
		m := model.CalibrationModel{
			Version:   s.cfg.Calibration.Version,
			Method:    method,
			Stratum:   stratum,
			Knots:     knots,
			TrainedAt: trainedAt,
		}
		if err := s.store.InsertCalibrationModel(ctx, m); err != nil {
			return model.TrainResult{}, fmt.Errorf("recompute: store model for %s: %w", stratum, err)
		}
		trained = append(trained, stratum)
		knotCounts[stratum] = len(knots)
	}
	sort.Strings(trained)

	s.logger.Info("recompute: calibration trained",
		"method", method,
		"version", s.cfg.Calibration.Version,
		"strata", len(trained),
		"skipped", len(skipped),
		"outcomes", len(outcomes),
	)
	return model.TrainResult{
		TrainedStrata: trained,
		KnotCounts:    knotCounts,
		SkippedStrata: skipped,
	}, nil
}
