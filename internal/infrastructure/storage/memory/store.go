// Package memory provides an in-process counter store with optimistic
// concurrency. Transactions read a snapshot, run against a private buffer and
// commit only if the record version is unchanged; a lost race re-runs the
// transaction within the retry policy.
//
// It backs tests and single-process runs (seqctl --store memory). State is
// lost on exit.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-memdb"

	"portalid/internal/core/apperror"
	"portalid/internal/core/sequence"
	"portalid/internal/core/tx"
	"portalid/pkg/logger"
)

const countersTable = "counters"

// DefaultMaxAttempts is the retry budget when no policy is given. Back-off is
// zero: an in-process conflict resolves as soon as the winner has committed.
const DefaultMaxAttempts = 8

// record is the stored object. Objects inside memdb are never mutated; every
// commit inserts a fresh pointer with a bumped version.
type record struct {
	Name    string
	Counter sequence.Counter
	Version uint64
}

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		countersTable: {
			Name: countersTable,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "Name"},
				},
			},
		},
	},
}

// Store is a sequence.Backend held in memory.
type Store struct {
	db     *memdb.MemDB
	policy tx.RetryPolicy
	now    func() time.Time

	// contention runs between fn and commit; tests use it to widen the race window.
	contention func()

	faultMu sync.Mutex
	faults  []error

	statsMu sync.Mutex
	stats   Stats
}

// Stats counts transaction outcomes.
type Stats struct {
	Commits   int
	Conflicts int
}

// Option configures a Store.
type Option func(*Store)

// WithRetryPolicy overrides the retry budget.
func WithRetryPolicy(p tx.RetryPolicy) Option {
	return func(s *Store) { s.policy = p.Normalize() }
}

// WithContention installs a hook run after fn and before commit.
func WithContention(hook func()) Option {
	return func(s *Store) { s.contention = hook }
}

// WithClock sets the clock used for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		// schema is static; a failure here is a programming error
		panic(fmt.Sprintf("memory store schema: %v", err))
	}
	s := &Store{
		db:     db,
		policy: tx.RetryPolicy{MaxAttempts: DefaultMaxAttempts},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ sequence.Backend = (*Store)(nil)

// RunInTransaction implements sequence.Store.
func (s *Store) RunInTransaction(ctx context.Context, name string, fn func(ctx context.Context, txn sequence.Txn) error) error {
	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.takeFault(); err != nil {
			return err
		}

		base := s.lookup(name)
		t := &txn{name: name, base: base}
		if err := fn(ctx, t); err != nil {
			return err
		}
		if s.contention != nil {
			s.contention()
		}
		if t.pending == nil {
			return nil
		}

		committed, err := s.commit(t)
		if err != nil {
			return err
		}
		if committed {
			s.count(func(st *Stats) { st.Commits++ })
			return nil
		}

		s.count(func(st *Stats) { st.Conflicts++ })
		logger.Debug(ctx, "memory store: commit lost race",
			"sequence", name,
			"attempt", attempt,
		)
		if err := s.policy.Wait(ctx, attempt); err != nil {
			return err
		}
	}
	return apperror.NewTransactionConflict(name, s.policy.MaxAttempts).WithDetail("store", "memory")
}

// commit writes t.pending if the stored version still matches the snapshot.
func (s *Store) commit(t *txn) (bool, error) {
	w := s.db.Txn(true)
	defer w.Abort()

	raw, err := w.First(countersTable, "id", t.name)
	if err != nil {
		return false, fmt.Errorf("memory store: read %s: %w", t.name, err)
	}

	var version uint64
	if raw != nil {
		version = raw.(*record).Version
	}
	var seen uint64
	if t.base != nil {
		seen = t.base.Version
	}
	if (raw == nil) != (t.base == nil) || version != seen {
		return false, nil
	}

	next := *t.pending
	next.Name = t.name
	next.UpdatedAt = s.now().UTC()
	if err := w.Insert(countersTable, &record{Name: t.name, Counter: next, Version: version + 1}); err != nil {
		return false, fmt.Errorf("memory store: write %s: %w", t.name, err)
	}
	w.Commit()
	return true, nil
}

func (s *Store) lookup(name string) *record {
	r := s.db.Txn(false)
	defer r.Abort()
	raw, err := r.First(countersTable, "id", name)
	if err != nil || raw == nil {
		return nil
	}
	return raw.(*record)
}

// Get implements sequence.Reader.
func (s *Store) Get(ctx context.Context, name string) (sequence.Counter, error) {
	if err := ctx.Err(); err != nil {
		return sequence.Counter{}, err
	}
	rec := s.lookup(name)
	if rec == nil {
		return sequence.Counter{}, apperror.NewNotFound("counter", name)
	}
	return rec.Counter, nil
}

// List implements sequence.Reader. The id index keeps names sorted.
func (s *Store) List(ctx context.Context) ([]sequence.Counter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := s.db.Txn(false)
	defer r.Abort()

	it, err := r.Get(countersTable, "id")
	if err != nil {
		return nil, fmt.Errorf("memory store: list: %w", err)
	}
	var out []sequence.Counter
	for obj := it.Next(); obj != nil; obj = it.Next() {
		out = append(out, obj.(*record).Counter)
	}
	return out, nil
}

// Ping implements sequence.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close implements sequence.Backend.
func (s *Store) Close() error {
	return nil
}

// Load writes counters as-is, bypassing validation. Use it to plant fixtures,
// including malformed ones.
func (s *Store) Load(counters ...sequence.Counter) {
	w := s.db.Txn(true)
	defer w.Abort()
	for _, c := range counters {
		var version uint64
		if raw, _ := w.First(countersTable, "id", c.Name); raw != nil {
			version = raw.(*record).Version
		}
		_ = w.Insert(countersTable, &record{Name: c.Name, Counter: c, Version: version + 1})
	}
	w.Commit()
}

// FailNext makes the next transactions fail with errs, in order, before fn runs.
func (s *Store) FailNext(errs ...error) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.faults = append(s.faults, errs...)
}

func (s *Store) takeFault() error {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	if len(s.faults) == 0 {
		return nil
	}
	err := s.faults[0]
	s.faults = s.faults[1:]
	return err
}

// Stats returns transaction counters.
func (s *Store) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *Store) count(fn func(*Stats)) {
	s.statsMu.Lock()
	fn(&s.stats)
	s.statsMu.Unlock()
}

// txn buffers the write of one transaction attempt.
type txn struct {
	name    string
	base    *record
	pending *sequence.Counter
}

func (t *txn) Get(ctx context.Context) (*sequence.Counter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.pending != nil {
		c := *t.pending
		return &c, nil
	}
	if t.base == nil {
		return nil, nil
	}
	c := t.base.Counter
	return &c, nil
}

func (t *txn) Put(ctx context.Context, c sequence.Counter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.pending = &c
	return nil
}
