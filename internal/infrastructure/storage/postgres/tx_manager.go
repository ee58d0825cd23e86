package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"portalid/internal/core/apperror"
	"portalid/internal/core/tx"
	"portalid/pkg/logger"
)

var tracer = otel.Tracer("portalid/tx")

// Compile-time check that TxManager implements tx.Manager interface.
var _ tx.Manager = (*TxManager)(nil)

// TxOptions configures transaction behavior.
type TxOptions struct {
	// IsolationLevel: pgx.Serializable, pgx.RepeatableRead, pgx.ReadCommitted
	IsolationLevel pgx.TxIsoLevel

	// AccessMode: pgx.ReadWrite, pgx.ReadOnly
	AccessMode pgx.TxAccessMode

	// StatementTimeout protects against long-running queries (default 30s)
	StatementTimeout time.Duration

	// Label names the transaction in spans, logs and conflict errors.
	Label string
}

// DefaultTxOptions returns production-safe defaults.
func DefaultTxOptions() TxOptions {
	return TxOptions{
		IsolationLevel:   pgx.ReadCommitted,
		AccessMode:       pgx.ReadWrite,
		StatementTimeout: 30 * time.Second,
	}
}

// TxManager runs functions inside database transactions.
//
// A transaction that fails with a serialization failure, deadlock or unique
// violation is rolled back and re-run from scratch, at most
// policy.MaxAttempts times; after that the caller gets TRANSACTION_CONFLICT.
// Nested calls reuse the outer transaction and are never retried on their own.
type TxManager struct {
	pool   *pgxpool.Pool
	policy tx.RetryPolicy
}

// NewTxManager creates a new transaction manager.
func NewTxManager(pool *Pool, policy tx.RetryPolicy) *TxManager {
	return &TxManager{pool: pool.Pool, policy: policy.Normalize()}
}

// txKey is the context key for active transaction.
type txKey struct{}

// RunInTransaction executes fn within a transaction.
func (m *TxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.RunInTransactionWithOptions(ctx, DefaultTxOptions(), fn)
}

// RunInTransactionWithOptions executes fn with custom transaction options.
func (m *TxManager) RunInTransactionWithOptions(ctx context.Context, opts TxOptions, fn func(ctx context.Context) error) error {
	if m.GetTx(ctx) != nil {
		return fn(ctx)
	}

	ctx, span := tracer.Start(ctx, "transaction",
		trace.WithAttributes(
			attribute.String("tx.isolation", string(opts.IsolationLevel)),
			attribute.String("tx.label", opts.Label),
		))
	defer span.End()

	for attempt := 1; ; attempt++ {
		err := m.runOnce(ctx, opts, fn)
		if err == nil {
			span.SetAttributes(attribute.Int("tx.attempts", attempt))
			return nil
		}
		if !isRetryable(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		if attempt >= m.policy.MaxAttempts {
			conflict := apperror.NewTransactionConflict(opts.Label, attempt).
				WithDetail("store", "postgres").
				WithCause(err)
			span.RecordError(conflict)
			span.SetStatus(codes.Error, "retries exhausted")
			return conflict
		}

		span.AddEvent("retry", trace.WithAttributes(attribute.Int("tx.attempt", attempt)))
		logger.Debug(ctx, "transaction lost a race, retrying",
			"label", opts.Label,
			"attempt", attempt,
			"error", err,
		)
		if err := m.policy.Wait(ctx, attempt); err != nil {
			return err
		}
	}
}

// runOnce begins, runs and commits a single transaction.
func (m *TxManager) runOnce(ctx context.Context, opts TxOptions, fn func(ctx context.Context) error) error {
	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   opts.IsolationLevel,
		AccessMode: opts.AccessMode,
	})
	if err != nil {
		if isConnectionError(err) {
			return apperror.NewStoreUnavailable(fmt.Errorf("begin transaction: %w", err))
		}
		return fmt.Errorf("begin transaction: %w", err)
	}

	if opts.StatementTimeout > 0 {
		_, err = tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = '%dms'", opts.StatementTimeout.Milliseconds()))
		if err != nil {
			_ = tx.Rollback(context.Background())
			return fmt.Errorf("set statement_timeout: %w", err)
		}
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)

	if err := fn(txCtx); err != nil {
		// background context so the rollback completes after cancellation
		if rbErr := tx.Rollback(context.Background()); rbErr != nil {
			logger.Error(ctx, "rollback failed", "error", rbErr, "original_error", err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if isConnectionError(err) {
			return apperror.NewStoreUnavailable(fmt.Errorf("commit transaction: %w", err))
		}
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetTx returns the current transaction from context, or nil if none.
func (m *TxManager) GetTx(ctx context.Context) pgx.Tx {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return nil
}

// Querier is satisfied by both pgx.Tx and *pgxpool.Pool.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// GetQuerier returns the transaction in ctx, or the pool outside one.
func (m *TxManager) GetQuerier(ctx context.Context) Querier {
	if tx := m.GetTx(ctx); tx != nil {
		return tx
	}
	return m.pool
}
