// Package bootstrap wires a counter store and its companions from Config.
package bootstrap

import (
	"context"
	"fmt"

	"portalid/internal/config"
	"portalid/internal/core/idempotency"
	coreseq "portalid/internal/core/sequence"
	domainseq "portalid/internal/domain/sequence"
	"portalid/internal/infrastructure/storage/memory"
	"portalid/internal/infrastructure/storage/postgres"
	"portalid/internal/infrastructure/storage/sqlite"
	"portalid/internal/worker"
	"portalid/pkg/logger"
)

// Backend bundles the store selected by SEQUENCE_STORE.
type Backend struct {
	Kind        string
	Store       coreseq.Backend
	Pool        *postgres.Pool         // postgres only
	Audit       *postgres.AuditService // postgres with AUDIT_ENABLED only
	Idempotency idempotency.Store
}

// Open connects to the configured store. Postgres also provides the audit
// trail and shared idempotency keys; the other stores keep idempotency keys
// in process memory.
func Open(ctx context.Context, cfg config.Config) (*Backend, error) {
	b := &Backend{Kind: cfg.Store}

	switch cfg.Store {
	case config.StorePostgres:
		poolCfg := postgres.DefaultPoolConfig(cfg.DatabaseURL)
		poolCfg.MaxConns = cfg.DBMaxConns
		poolCfg.MinConns = cfg.DBMinConns
		pool, err := postgres.NewPool(ctx, poolCfg)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := postgres.EnsureSchema(ctx, pool); err != nil {
				pool.Close()
				return nil, err
			}
		}
		b.Pool = pool
		txm := postgres.NewTxManager(pool, cfg.RetryPolicy())
		b.Store = postgres.NewCounterStore(pool, txm)
		b.Idempotency = postgres.NewIdempotencyStore(pool, cfg.IdempotencyTTL)
		if cfg.AuditEnabled {
			audit, err := postgres.NewAuditService(pool)
			if err != nil {
				pool.Close()
				return nil, err
			}
			b.Audit = audit
		}

	case config.StoreSQLite:
		store, err := sqlite.Open(ctx, sqlite.Config{
			Path:        cfg.SQLitePath,
			BusyTimeout: cfg.BusyTimeout,
			Retry:       cfg.RetryPolicy(),
		})
		if err != nil {
			return nil, err
		}
		b.Store = store
		b.Idempotency = memory.NewIdempotencyStore(cfg.IdempotencyTTL)

	case config.StoreMemory:
		b.Store = memory.New()
		b.Idempotency = memory.NewIdempotencyStore(cfg.IdempotencyTTL)

	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}

	logger.Info(ctx, "counter store opened", "store", b.Kind, "audit", b.Audit != nil)
	return b, nil
}

// Service builds the allocator over the store, deriving the epoch in the
// configured time zone. extra options are applied last.
func (b *Backend) Service(cfg config.Config, log *logger.Logger, extra ...domainseq.Option) (*domainseq.Service, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	opts := []domainseq.Option{
		domainseq.WithClock(coreseq.SystemClock(loc)),
		domainseq.WithLogger(log),
	}
	if b.Audit != nil {
		opts = append(opts, domainseq.WithRecorder(b.Audit))
	}
	opts = append(opts, extra...)
	return domainseq.NewService(b.Store, opts...), nil
}

// Janitor returns a maintenance worker that expires idempotency keys and,
// on postgres, reports pool statistics.
func (b *Backend) Janitor(cfg worker.Config, log *logger.Logger) *worker.Janitor {
	var stats worker.StatsReporter
	if b.Pool != nil {
		stats = b.Pool
	}
	j := worker.NewJanitor(cfg, log, stats)
	if c, ok := b.Idempotency.(worker.Cleaner); ok {
		j.Register("idempotency", c)
	}
	return j
}

// Close releases the store.
func (b *Backend) Close() error {
	if b == nil || b.Store == nil {
		return nil
	}
	return b.Store.Close()
}
