// Package main is the entrypoint for the Gatekeeper admission server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openadmission/gatekeeper/internal/admission"
	"github.com/openadmission/gatekeeper/internal/api"
	"github.com/openadmission/gatekeeper/internal/api/handler"
	"github.com/openadmission/gatekeeper/internal/api/response"
	"github.com/openadmission/gatekeeper/internal/apikey"
	"github.com/openadmission/gatekeeper/internal/config"
	"github.com/openadmission/gatekeeper/internal/counter"
	"github.com/openadmission/gatekeeper/internal/metrics"
	"github.com/openadmission/gatekeeper/internal/ratelimit"
	"github.com/openadmission/gatekeeper/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Error().Err(err).Msg("server failed")
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	log.Info().Str("env", cfg.Env).Dur("window", cfg.RateLimitWindow).Msg("config loaded")

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	log.Info().Msg("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.DatabaseURL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("database migrations applied")

	// 4. Connect to the counter store
	counterStore, err := counter.NewRedisStore(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("create counter store: %w", err)
	}
	defer counterStore.Close()

	if err := counterStore.Ping(ctx); err != nil {
		return fmt.Errorf("ping counter store: %w", err)
	}
	log.Info().Msg("counter store connected")

	// 5. Assemble the admission core
	pgStore := store.NewPostgresStore(pool)
	m := metrics.New()
	manager := apikey.NewManager(pgStore)
	limiter := ratelimit.NewLimiter(counterStore, cfg.RateLimitWindow, cfg.StoreTimeout, m)

	resolvers := admission.DefaultResolvers()
	gate := admission.NewGate(admission.GateConfig{
		Classifier:     admission.NewClassifier(cfg.PublicPaths, cfg.SessionPaths, cfg.RateLimitedPaths),
		Manager:        manager,
		Limiter:        limiter,
		Metrics:        m,
		Resolvers:      resolvers,
		Realm:          cfg.Realm,
		LoginPath:      cfg.LoginPath,
		APILimit:       cfg.APIRateLimit,
		AnonymousLimit: cfg.AnonymousRateLimit,
		StoreTimeout:   cfg.StoreTimeout,
	})

	deps := api.Dependencies{
		Gate:        gate,
		CORSOrigins: cfg.CORSOrigins,

		HealthHandler:     healthHandler(pgStore, counterStore),
		CreateKeyHandler:  handler.NewCreateKeyHandler(manager),
		ListKeysHandler:   handler.NewListKeysHandler(manager),
		RevokeKeyHandler:  handler.NewRevokeKeyHandler(manager),
		UsageHandler:      handler.NewUsageHandler(limiter, cfg.APIRateLimit, cfg.AnonymousRateLimit, resolvers),
		ResetLimitHandler: handler.NewResetLimitHandler(limiter, cfg.AdminUserIDs),
	}

	router := api.NewRouter(deps)

	// 6. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received, draining connections")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	log.Info().Msg("server stopped gracefully")
	return nil
}

// healthHandler checks database and counter store connectivity.
func healthHandler(s store.Store, c counter.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"counter":  "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["counter"] = "degraded"
		}

		if checks["database"] != "ok" || checks["counter"] != "ok" {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
