// Package main is the entry point for the standalone maintenance worker.
// It is useful when several API replicas share one postgres store and the
// expiry sweep should run once rather than in every replica.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"portalid/internal/bootstrap"
	"portalid/internal/config"
	"portalid/internal/worker"
	"portalid/pkg/logger"
)

func main() {
	var cfg config.Config
	if err := config.ParseEnv(&cfg); err != nil {
		fmt.Printf("invalid configuration: %v\n", err)
		os.Exit(1)
	}
	cfg.Normalize()
	if err := cfg.ValidateStore(); err != nil {
		fmt.Printf("invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.IsDevelopment(),
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(logger.WithLogger(context.Background(), log))
	defer cancel()

	log.Infow("starting portalid worker", "store", cfg.Store)

	backend, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		log.Fatalw("failed to open counter store", "store", cfg.Store, "error", err)
	}
	defer func() { _ = backend.Close() }()

	janitor := backend.Janitor(worker.Config{
		CleanupInterval: cfg.CleanupInterval,
		StatsInterval:   cfg.StatsInterval,
	}, log)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		janitor.Run(ctx)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	cancel()

	wg.Wait()
	log.Info("worker stopped")
}
