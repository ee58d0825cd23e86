// Package main is the entry point for the ID allocation API server.
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

	"portalid/internal/bootstrap"
	"portalid/internal/config"
	"portalid/internal/domain/auth"
	v1 "portalid/internal/infrastructure/http/v1"
	"portalid/internal/worker"
	"portalid/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.IsDevelopment(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx := logger.WithLogger(context.Background(), log)
	log.Infow("starting portalid server", "store", cfg.Store, "timezone", cfg.Timezone)

	// --- Counter store ---
	backend, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		log.Fatalw("failed to open counter store", "store", cfg.Store, "error", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Warnw("failed to close counter store", "error", err)
		}
	}()

	svc, err := backend.Service(cfg, log)
	if err != nil {
		log.Fatalw("failed to build sequence service", "error", err)
	}

	// --- Maintenance ---
	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go backend.Janitor(worker.Config{
		CleanupInterval: cfg.CleanupInterval,
		StatsInterval:   cfg.StatsInterval,
	}, log).Run(janitorCtx)

	// --- JWT ---
	jwtConfig := auth.DefaultJWTConfig(cfg.JWTSecret)
	jwtConfig.Issuer = cfg.JWTIssuer
	jwtConfig.AccessTokenTTL = cfg.JWTTTL
	jwtService := auth.NewJWTService(jwtConfig)

	// --- Router ---
	routerCfg := v1.RouterConfig{
		Logger:       log,
		JWTValidator: jwtService,
		Sequences:    svc,
		Store:        backend.Store,
		StoreKind:    backend.Kind,
	}
	if cfg.IdempotencyEnabled {
		routerCfg.Idempotency = backend.Idempotency
	}
	router := v1.NewRouter(routerCfg)

	// --- HTTP Server ---
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "port", cfg.Port, "idempotency", cfg.IdempotencyEnabled)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")
	stopJanitor()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}
