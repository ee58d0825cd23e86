package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"portalid/internal/core/apperror"
	"portalid/internal/core/sequence"
)

const countersTable = "sys_counters"

var counterColumns = []string{"name", "last_number", "year", "updated_at"}

// counterRow mirrors a sys_counters row.
type counterRow struct {
	Name       string    `db:"name"`
	LastNumber int64     `db:"last_number"`
	Year       string    `db:"year"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r counterRow) toCounter() sequence.Counter {
	return sequence.Counter{
		Name:       r.Name,
		LastNumber: r.LastNumber,
		Year:       sequence.Epoch(r.Year),
		UpdatedAt:  r.UpdatedAt,
	}
}

// counterSQL builds the statements used by CounterStore.
type counterSQL struct {
	builder squirrel.StatementBuilderType
}

func newCounterSQL() counterSQL {
	return counterSQL{builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)}
}

func (q counterSQL) selectOne(name string, lock bool) (string, []any, error) {
	b := q.builder.Select(counterColumns...).
		From(countersTable).
		Where(squirrel.Eq{"name": name})
	if lock {
		b = b.Suffix("FOR UPDATE")
	}
	return b.ToSql()
}

func (q counterSQL) selectAll() (string, []any, error) {
	return q.builder.Select(counterColumns...).
		From(countersTable).
		OrderBy("name").
		ToSql()
}

func (q counterSQL) insert(c sequence.Counter, now time.Time) (string, []any, error) {
	return q.builder.Insert(countersTable).
		Columns(counterColumns...).
		Values(c.Name, c.LastNumber, string(c.Year), now).
		ToSql()
}

func (q counterSQL) upsert(c sequence.Counter, now time.Time) (string, []any, error) {
	return q.builder.Insert(countersTable).
		Columns(counterColumns...).
		Values(c.Name, c.LastNumber, string(c.Year), now).
		Suffix("ON CONFLICT (name) DO UPDATE SET last_number = EXCLUDED.last_number, year = EXCLUDED.year, updated_at = EXCLUDED.updated_at").
		ToSql()
}

func (q counterSQL) update(c sequence.Counter, now time.Time) (string, []any, error) {
	return q.builder.Update(countersTable).
		Set("last_number", c.LastNumber).
		Set("year", string(c.Year)).
		Set("updated_at", now).
		Where(squirrel.Eq{"name": c.Name}).
		ToSql()
}

// CounterStore keeps counters in sys_counters.
//
// The transactional read takes a row lock (SELECT ... FOR UPDATE) so
// concurrent allocations of one sequence queue behind each other under READ
// COMMITTED. Two first allocations racing to create the row end in a unique
// violation for the loser, which the TxManager retries; the retry then finds
// the row.
type CounterStore struct {
	pool *Pool
	txm  *TxManager
	sql  counterSQL
	opts TxOptions
	now  func() time.Time
}

var _ sequence.Backend = (*CounterStore)(nil)

// NewCounterStore creates a counter store.
func NewCounterStore(pool *Pool, txm *TxManager) *CounterStore {
	return &CounterStore{
		pool: pool,
		txm:  txm,
		sql:  newCounterSQL(),
		opts: DefaultTxOptions(),
		now:  time.Now,
	}
}

// RunInTransaction implements sequence.Store.
func (s *CounterStore) RunInTransaction(ctx context.Context, name string, fn func(ctx context.Context, txn sequence.Txn) error) error {
	opts := s.opts
	opts.Label = name
	return s.txm.RunInTransactionWithOptions(ctx, opts, func(ctx context.Context) error {
		return fn(ctx, &counterTxn{store: s, q: s.txm.GetQuerier(ctx), name: name})
	})
}

// Get implements sequence.Reader.
func (s *CounterStore) Get(ctx context.Context, name string) (sequence.Counter, error) {
	query, args, err := s.sql.selectOne(name, false)
	if err != nil {
		return sequence.Counter{}, fmt.Errorf("build query: %w", err)
	}
	var row counterRow
	if err := pgxscan.Get(ctx, s.txm.GetQuerier(ctx), &row, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return sequence.Counter{}, apperror.NewNotFound("counter", name)
		}
		return sequence.Counter{}, s.wrap(fmt.Errorf("get counter %s: %w", name, err))
	}
	return row.toCounter(), nil
}

// List implements sequence.Reader.
func (s *CounterStore) List(ctx context.Context) ([]sequence.Counter, error) {
	query, args, err := s.sql.selectAll()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var rows []counterRow
	if err := pgxscan.Select(ctx, s.txm.GetQuerier(ctx), &rows, query, args...); err != nil {
		return nil, s.wrap(fmt.Errorf("list counters: %w", err))
	}
	out := make([]sequence.Counter, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toCounter())
	}
	return out, nil
}

// Ping implements sequence.Pinger.
func (s *CounterStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return apperror.NewStoreUnavailable(err)
	}
	return nil
}

// Close closes the pool.
func (s *CounterStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *CounterStore) wrap(err error) error {
	if isConnectionError(err) {
		return apperror.NewStoreUnavailable(err)
	}
	return err
}

type readState int

const (
	stateUnread readState = iota
	stateAbsent
	statePresent
)

// counterTxn is bound to one transaction and one counter name.
type counterTxn struct {
	store *CounterStore
	q     Querier
	name  string
	state readState
}

func (t *counterTxn) Get(ctx context.Context) (*sequence.Counter, error) {
	query, args, err := t.store.sql.selectOne(t.name, true)
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var row counterRow
	if err := pgxscan.Get(ctx, t.q, &row, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			t.state = stateAbsent
			return nil, nil
		}
		return nil, t.store.wrap(fmt.Errorf("read counter %s: %w", t.name, err))
	}
	t.state = statePresent
	c := row.toCounter()
	return &c, nil
}

// Put inserts when Get found nothing, updates when it found the row and
// upserts when called without a prior Get.
func (t *counterTxn) Put(ctx context.Context, c sequence.Counter) error {
	c.Name = t.name
	now := t.store.now().UTC()

	var (
		query string
		args  []any
		err   error
	)
	switch t.state {
	case stateAbsent:
		query, args, err = t.store.sql.insert(c, now)
	case statePresent:
		query, args, err = t.store.sql.update(c, now)
	default:
		query, args, err = t.store.sql.upsert(c, now)
	}
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	if _, err := t.q.Exec(ctx, query, args...); err != nil {
		return t.store.wrap(fmt.Errorf("write counter %s: %w", t.name, err))
	}
	t.state = statePresent
	return nil
}
