// Package main is the entry point for the trip log API server.
// Its sole responsibility is wiring dependencies together and starting the server.
// No business logic belongs here.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/pkordes/triplog/apidoc"
	"github.com/pkordes/triplog/internal/config"
	"github.com/pkordes/triplog/internal/geocode"
	"github.com/pkordes/triplog/internal/handler"
	"github.com/pkordes/triplog/internal/logging"
	"github.com/pkordes/triplog/internal/middleware"
	"github.com/pkordes/triplog/internal/reconcile"
	"github.com/pkordes/triplog/internal/repo"
	"github.com/pkordes/triplog/internal/routing"
	"github.com/pkordes/triplog/internal/service"
	"github.com/pkordes/triplog/migrations"
)

func main() {
	// --- Config -----------------------------------------------------------
	dotenv, err := config.LoadDotEnv(".env")
	if err != nil {
		// Use plain stderr before the logger is configured.
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	// --- Logger -----------------------------------------------------------
	logger, logCloser := logging.New(cfg.LogLevel, cfg.LogFile, os.Stdout)
	defer logCloser.Close()
	slog.SetDefault(logger)
	if !dotenv {
		slog.Debug("no .env file, relying on environment variables")
	}

	ctx := context.Background()

	// --- Remote store -----------------------------------------------------
	// New() does not open connections immediately; the first query does.
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Verify the DB is reachable before accepting traffic.
	if err := pool.Ping(ctx); err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	slog.Info("database connection established")

	migrationDB := stdlib.OpenDBFromPool(pool)
	err = migrations.Up(ctx, goose.DialectPostgres, migrationDB, migrations.Remote)
	_ = migrationDB.Close()
	if err != nil {
		slog.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	// --- Local cache ------------------------------------------------------
	cache, err := repo.OpenLocalCache(ctx, cfg.CachePath)
	if err != nil {
		slog.Error("failed to open local cache", "path", cfg.CachePath, "error", err)
		os.Exit(1)
	}
	defer cache.Close()

	// --- Services ---------------------------------------------------------
	store := repo.NewTripStore(pool)

	provider, err := routing.New(routing.ProviderConfig{
		Name:     cfg.Routing.Provider,
		Endpoint: cfg.Routing.Endpoint,
		APIKey:   cfg.Routing.APIKey,
		Timeout:  cfg.Routing.Timeout,
	})
	if err != nil {
		slog.Error("routing configuration error", "error", err)
		os.Exit(1)
	}
	resolver := routing.NewResolver(provider, routing.ResolverConfig{
		Enabled:      cfg.Routing.Enabled,
		ReadyTimeout: cfg.Routing.ReadyTimeout,
	}, logger)
	geocoder := geocode.NewNominatim(cfg.Geocoder.Endpoint, cfg.Geocoder.Enabled, cfg.Geocoder.Timeout, logger)

	reconciler := reconcile.New(store, cache, resolver, cfg.ReconcileDelay, logger)
	trips := service.NewTripService(store, cache, reconciler, cfg.Location, logger)
	odometer := service.NewOdometerService(store, trips, cfg.Location, logger)
	export := service.NewExportService(trips, cfg.Location)
	sessions := service.NewSessions(service.SessionDeps{
		Geocoder:  geocoder,
		Routes:    resolver,
		Remote:    store,
		Local:     cache,
		FixMaxAge: cfg.FixMaxAge,
	}, logger)

	slog.Info("services ready",
		"routing_provider", provider.Name(),
		"routing_enabled", resolver.Enabled(),
		"geocoder_enabled", cfg.Geocoder.Enabled,
		"timezone", cfg.Location.String(),
	)

	// --- Router -----------------------------------------------------------
	// Middleware is applied in order: RequestID → RealIP → CORS → UserScope →
	// Logger → Recoverer → MaxBodySize.
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewCORSHandler(cfg.CORSOrigins))
	r.Use(middleware.NewUserScope(cfg.DefaultUser))
	r.Use(middleware.NewSlogLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.NewMaxBodySizeHandler(cfg.MaxBodyBytes))

	handler.NewServer(sessions, trips, odometer, export, apidoc.OpenAPI, logger).Routes(r)

	// --- HTTP Server ------------------------------------------------------
	// POST /reconcile paces routing calls, so writes get a longer timeout
	// than reads.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown: wait for OS signal, then give in-flight requests
	// up to 15 seconds to complete before forcefully closing.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-stop
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
