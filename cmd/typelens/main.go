package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/typelens-ai/typelens/internal/auth"
	"github.com/typelens-ai/typelens/internal/calibration"
	"github.com/typelens-ai/typelens/internal/config"
	"github.com/typelens-ai/typelens/internal/model"
	"github.com/typelens-ai/typelens/internal/ratelimit"
	"github.com/typelens-ai/typelens/internal/scoring"
	"github.com/typelens-ai/typelens/internal/server"
	"github.com/typelens-ai/typelens/internal/service/finalize"
	"github.com/typelens-ai/typelens/internal/service/recompute"
	"github.com/typelens-ai/typelens/internal/storage"
	"github.com/typelens-ai/typelens/internal/telemetry"
	"github.com/typelens-ai/typelens/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("TYPELENS_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("typelens starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Connect to database and bring the schema up.
	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	// Refuse to serve against a store written by a different results schema.
	// Operators must recompute (or roll back) before this build takes traffic.
	if err := db.CheckResultsVersion(ctx, model.ResultsVersion); err != nil {
		return fmt.Errorf("results version check: %w", err)
	}
	if cfg.VersionCheckInterval > 0 {
		go versionCheckLoop(ctx, db, logger, cfg.VersionCheckInterval)
	}

	// Seed the prototype table on first boot. DO NOTHING semantics keep
	// operator edits intact on every later start.
	if err := db.SeedPrototypes(ctx, scoring.DefaultPrototypes); err != nil {
		slog.Warn("prototype seed failed", "error", err)
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	var adminKeyHash string
	if cfg.AdminAPIKey != "" {
		adminKeyHash, err = auth.HashAPIKey(cfg.AdminAPIKey)
		if err != nil {
			return fmt.Errorf("auth: hash admin key: %w", err)
		}
	} else {
		slog.Warn("no admin API key configured, admin surface disabled")
	}

	scoringCfg := scoring.Config{
		Temperature:           cfg.ScoringTemperature,
		MinAnswersPerFunction: cfg.MinAnswersPerFunction,
		GapWeight:             cfg.ConfidenceGapWeight,
		MarginWeight:          cfg.ConfidenceMarginWeight,
		EntropyWeight:         cfg.ConfidenceEntropyWeight,
	}
	calibrator := calibration.New(db, calibration.Config{
		Version:     cfg.CalibrationVersion,
		HighCut:     cfg.ConfidenceHighCut,
		ModerateCut: cfg.ConfidenceModerateCut,
	}, logger)

	// Optional legacy mirror sink.
	var mirror finalize.Sink
	if cfg.LegacyMirrorPath != "" {
		m, err := finalize.NewSQLiteMirror(cfg.LegacyMirrorPath)
		if err != nil {
			slog.Warn("legacy mirror disabled", "path", cfg.LegacyMirrorPath, "error", err)
		} else {
			slog.Info("legacy mirror enabled", "path", cfg.LegacyMirrorPath)
			mirror = m
			defer func() { _ = m.Close() }()
		}
	}

	finalizeSvc := finalize.New(db, calibrator, mirror, finalize.Config{
		BaseURL:       cfg.BaseURL,
		ShareTokenTTL: cfg.ShareTokenTTL,
		Scoring:       scoringCfg,
	}, logger)
	recomputeSvc := recompute.New(db, calibrator, recompute.Config{
		Scoring: scoringCfg,
		Calibration: calibration.Config{
			Version:     cfg.CalibrationVersion,
			HighCut:     cfg.ConfidenceHighCut,
			ModerateCut: cfg.ConfidenceModerateCut,
		},
		BatchConcurrency: cfg.RecomputeConcurrency,
		OutcomeWindow:    time.Duration(cfg.CalibrationOutcomeDays) * 24 * time.Hour,
	}, logger)

	var limiter ratelimit.Limiter
	if cfg.RateLimitRPS > 0 {
		ml := ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		defer func() { _ = ml.Close() }()
		limiter = ml
	}

	srv := server.New(server.ServerConfig{
		DB:                  db,
		JWTMgr:              jwtMgr,
		Limiter:             limiter,
		FinalizeSvc:         finalizeSvc,
		RecomputeSvc:        recomputeSvc,
		AdminAPIKeyHash:     adminKeyHash,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		Logger:              logger,
	})

	// Start HTTP server in background.
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Graceful shutdown: stop accepting requests and drain in-flight
	// finalizes. The mirror and database close via defers afterwards.
	slog.Info("typelens shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	slog.Info("typelens stopped")
	return nil
}

// versionCheckLoop re-runs the results-version drift check periodically so a
// concurrent deploy of a newer schema shows up without waiting for a restart:
// the storage layer disables results writes while drift persists and
// re-enables them once a check passes, and /healthz flips alongside.
func versionCheckLoop(ctx context.Context, db *storage.DB, logger *slog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := db.CheckResultsVersion(ctx, model.ResultsVersion); err != nil {
				logger.Error("results version drift detected, results writes disabled", "error", err)
			}
		}
	}
}
