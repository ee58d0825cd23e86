package sequence

import (
	"context"
)

// Txn is the view of one counter record inside a store transaction.
type Txn interface {
	// Get reads the record the transaction is scoped to.
	// It returns (nil, nil) when the record does not exist yet.
	Get(ctx context.Context) (*Counter, error)
	// Put creates or replaces the record. The write becomes visible on commit.
	Put(ctx context.Context, c Counter) error
}

// Store is the transactional primitive the allocator is built on.
//
// RunInTransaction begins a transaction scoped to the counter called name,
// runs fn and commits. Concurrent transactions on the same name are
// serialized by the store; when fn returns an error nothing is written and
// the error is returned unchanged. Implementations may re-run fn after a lost
// race, so fn must not have side effects outside the Txn. Each store
// documents its retry budget and reports exhaustion as TransactionConflict.
type Store interface {
	RunInTransaction(ctx context.Context, name string, fn func(ctx context.Context, txn Txn) error) error
}

// Reader gives non-transactional read access for inspection.
type Reader interface {
	// Get returns a NotFound AppError when the counter does not exist.
	Get(ctx context.Context, name string) (Counter, error)
	// List returns all counters ordered by name.
	List(ctx context.Context) ([]Counter, error)
}

// Pinger reports store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Backend bundles what a concrete store offers.
type Backend interface {
	Store
	Reader
	Pinger
	Close() error
}
