// Package worker runs periodic maintenance next to the allocator:
// expiring idempotency keys and reporting pool health.
package worker

import (
	"context"
	"sync"
	"time"

	"portalid/pkg/logger"
)

// Cleaner drops records that outlived their TTL.
type Cleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// StatsReporter logs connection pool statistics.
type StatsReporter interface {
	LogStats(ctx context.Context)
}

// Config controls the janitor cadence.
type Config struct {
	CleanupInterval time.Duration
	StatsInterval   time.Duration
}

// DefaultConfig cleans hourly and reports stats every minute.
func DefaultConfig() Config {
	return Config{
		CleanupInterval: time.Hour,
		StatsInterval:   time.Minute,
	}
}

// Janitor owns the maintenance tickers.
type Janitor struct {
	cfg      Config
	cleaners map[string]Cleaner
	stats    StatsReporter
	log      *logger.Logger
}

// NewJanitor creates a janitor. stats may be nil.
func NewJanitor(cfg Config, log *logger.Logger, stats StatsReporter) *Janitor {
	def := DefaultConfig()
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = def.StatsInterval
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Janitor{
		cfg:      cfg,
		cleaners: make(map[string]Cleaner),
		stats:    stats,
		log:      log.WithComponent("janitor"),
	}
}

// Register adds a cleaner under name. Nil cleaners are ignored.
func (j *Janitor) Register(name string, c Cleaner) {
	if c == nil {
		return
	}
	j.cleaners[name] = c
}

// Run blocks until ctx is cancelled. Cleanup runs once on start.
func (j *Janitor) Run(ctx context.Context) {
	cleanupTicker := time.NewTicker(j.cfg.CleanupInterval)
	defer cleanupTicker.Stop()

	var statsC <-chan time.Time
	if j.stats != nil {
		statsTicker := time.NewTicker(j.cfg.StatsInterval)
		defer statsTicker.Stop()
		statsC = statsTicker.C
	}

	j.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			j.log.Info("janitor stopped")
			return
		case <-cleanupTicker.C:
			j.Sweep(ctx)
		case <-statsC:
			j.stats.LogStats(logger.WithLogger(ctx, j.log))
		}
	}
}

// Sweep runs every registered cleaner concurrently and returns the number of
// removed records per cleaner. Failed cleaners are logged and omitted.
func (j *Janitor) Sweep(ctx context.Context) map[string]int64 {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		removed = make(map[string]int64, len(j.cleaners))
	)
	for name, c := range j.cleaners {
		wg.Add(1)
		go func(name string, c Cleaner) {
			defer wg.Done()
			n, err := c.CleanupExpired(ctx)
			if err != nil {
				j.log.Errorw("cleanup failed", "cleaner", name, "error", err)
				return
			}
			if n > 0 {
				j.log.Infow("cleaned up expired records", "cleaner", name, "count", n)
			}
			mu.Lock()
			removed[name] = n
			mu.Unlock()
		}(name, c)
	}
	wg.Wait()
	return removed
}
