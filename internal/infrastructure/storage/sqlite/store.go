// Package sqlite provides a single-file counter store.
//
// Every transaction pins one connection and starts with BEGIN IMMEDIATE, so
// the database write lock is held from the read to the commit and concurrent
// allocations are serialized by SQLite itself. Writers that cannot get the
// lock wait up to the busy timeout; SQLITE_BUSY after that is retried within
// the retry policy and then reported as TransactionConflict.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"portalid/internal/core/apperror"
	"portalid/internal/core/sequence"
	"portalid/internal/core/tx"
	"portalid/internal/infrastructure/storage/sqlite/migrations"
	"portalid/pkg/logger"
)

// Config configures Open.
type Config struct {
	Path        string
	BusyTimeout time.Duration
	Retry       tx.RetryPolicy
}

// Store is a sequence.Backend persisted in SQLite.
type Store struct {
	db     *sql.DB
	policy tx.RetryPolicy
	now    func() time.Time
}

var _ sequence.Backend = (*Store)(nil)

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// Open opens (creating if needed) the database at cfg.Path and applies migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("sqlite: storage path is required")
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		filepath.Clean(cfg.Path), busy.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, apperror.NewStoreUnavailable(fmt.Errorf("open sqlite db: %w", err))
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, apperror.NewStoreUnavailable(fmt.Errorf("ping sqlite db: %w", err))
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{
		db:     db,
		policy: cfg.Retry.Normalize(),
		now:    time.Now,
	}, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping implements sequence.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apperror.NewStoreUnavailable(err)
	}
	return nil
}

// RunInTransaction implements sequence.Store.
func (s *Store) RunInTransaction(ctx context.Context, name string, fn func(ctx context.Context, txn sequence.Txn) error) error {
	for attempt := 1; ; attempt++ {
		err := s.runOnce(ctx, name, fn)
		if err == nil || !isBusy(err) {
			return err
		}
		if attempt >= s.policy.MaxAttempts {
			return apperror.NewTransactionConflict(name, attempt).
				WithDetail("store", "sqlite").
				WithCause(err)
		}
		logger.Debug(ctx, "sqlite store: database busy, retrying",
			"sequence", name,
			"attempt", attempt,
		)
		if err := s.policy.Wait(ctx, attempt); err != nil {
			return err
		}
	}
}

func (s *Store) runOnce(ctx context.Context, name string, fn func(ctx context.Context, txn sequence.Txn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperror.NewStoreUnavailable(fmt.Errorf("acquire sqlite conn: %w", err))
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(ctx, &txn{conn: conn, name: name, now: s.now}); err != nil {
		// background context so the rollback completes after cancellation
		if _, rbErr := conn.ExecContext(context.Background(), "ROLLBACK"); rbErr != nil {
			logger.Error(ctx, "sqlite rollback failed", "error", rbErr, "original_error", err)
		}
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// isBusy reports SQLITE_BUSY / SQLITE_LOCKED, including extended codes.
func isBusy(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() & 0xff {
	case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
		return true
	}
	return false
}

const selectCounter = `SELECT name, last_number, year, updated_at FROM counters`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCounter(row rowScanner) (sequence.Counter, error) {
	var (
		c       sequence.Counter
		year    string
		updated int64
	)
	if err := row.Scan(&c.Name, &c.LastNumber, &year, &updated); err != nil {
		return sequence.Counter{}, err
	}
	c.Year = sequence.Epoch(year)
	c.UpdatedAt = fromMillis(updated)
	return c, nil
}

// Get implements sequence.Reader.
func (s *Store) Get(ctx context.Context, name string) (sequence.Counter, error) {
	c, err := scanCounter(s.db.QueryRowContext(ctx, selectCounter+` WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return sequence.Counter{}, apperror.NewNotFound("counter", name)
	}
	if err != nil {
		return sequence.Counter{}, fmt.Errorf("get counter %s: %w", name, err)
	}
	return c, nil
}

// List implements sequence.Reader.
func (s *Store) List(ctx context.Context) ([]sequence.Counter, error) {
	rows, err := s.db.QueryContext(ctx, selectCounter+` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list counters: %w", err)
	}
	defer rows.Close()

	var out []sequence.Counter
	for rows.Next() {
		c, err := scanCounter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan counter: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// txn runs reads and writes on the pinned connection.
type txn struct {
	conn *sql.Conn
	name string
	now  func() time.Time
}

func (t *txn) Get(ctx context.Context) (*sequence.Counter, error) {
	c, err := scanCounter(t.conn.QueryRowContext(ctx, selectCounter+` WHERE name = ?`, t.name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read counter %s: %w", t.name, err)
	}
	return &c, nil
}

func (t *txn) Put(ctx context.Context, c sequence.Counter) error {
	_, err := t.conn.ExecContext(ctx, `
		INSERT INTO counters (name, last_number, year, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			last_number = excluded.last_number,
			year        = excluded.year,
			updated_at  = excluded.updated_at
	`, t.name, c.LastNumber, string(c.Year), toMillis(t.now()))
	if err != nil {
		return fmt.Errorf("write counter %s: %w", t.name, err)
	}
	return nil
}
