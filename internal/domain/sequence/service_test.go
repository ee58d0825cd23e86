package sequence

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portalid/internal/core/apperror"
	coreseq "portalid/internal/core/sequence"
	"portalid/internal/core/tx"
	"portalid/internal/infrastructure/storage/memory"
	"portalid/pkg/logger"
)

var (
	in2024 = time.Date(2024, 12, 31, 23, 0, 0, 0, time.UTC)
	in2025 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
)

func newTestService(t *testing.T, store *memory.Store, now time.Time, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithClock(coreseq.FixedClock(now)), WithLogger(logger.NewNop())}, opts...)
	return NewService(store, opts...)
}

func TestAllocate_LazyInitialization(t *testing.T) {
	store := memory.New()
	svc := newTestService(t, store, in2025)
	ctx := context.Background()

	id, err := svc.Allocate(ctx, "taskCounter", "Task")
	require.NoError(t, err)
	assert.Equal(t, "Task-25001", id)

	c, err := store.Get(ctx, "taskCounter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.LastNumber)
	assert.Equal(t, coreseq.Epoch("25"), c.Year)
}

func TestAllocate_Formatting(t *testing.T) {
	store := memory.New()
	store.Load(
		coreseq.Counter{Name: "taskCounter", LastNumber: 2, Year: "25"},
		coreseq.Counter{Name: "bigCounter", LastNumber: 999, Year: "25"},
	)
	svc := newTestService(t, store, in2025)
	ctx := context.Background()

	id, err := svc.Allocate(ctx, "taskCounter", "Task")
	require.NoError(t, err)
	assert.Equal(t, "Task-25003", id)

	id, err = svc.Allocate(ctx, "bigCounter", "Task")
	require.NoError(t, err)
	assert.Equal(t, "Task-251000", id, "padding is a floor, not a cap")
}

func TestAllocate_MonotonicWithinEpoch(t *testing.T) {
	svc := newTestService(t, memory.New(), in2025)
	ctx := context.Background()

	var last int64
	for i := 0; i < 25; i++ {
		a, err := svc.AllocateNumber(ctx, "taskCounter", "Task")
		require.NoError(t, err)
		assert.Greater(t, a.Number, last)
		last = a.Number

		parsed, err := coreseq.Parse(a.ID)
		require.NoError(t, err)
		assert.Equal(t, a.Number, parsed.Number)
	}
	assert.Equal(t, int64(25), last)
}

func TestAllocate_EpochRollover(t *testing.T) {
	store := memory.New()
	store.Load(coreseq.Counter{Name: "taskCounter", LastNumber: 57, Year: "24"})
	svc := newTestService(t, store, in2025)
	ctx := context.Background()

	a, err := svc.AllocateNumber(ctx, "taskCounter", "Task")
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.Number, "rollover resets to 1, not 58")
	assert.Equal(t, "Task-25001", a.ID)

	c, err := store.Get(ctx, "taskCounter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.LastNumber)
	assert.Equal(t, coreseq.Epoch("25"), c.Year)
}

func TestAllocate_AcrossNewYear(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	old := newTestService(t, store, in2024)
	for i := 0; i < 3; i++ {
		_, err := old.Allocate(ctx, "incidentCounter", "IR")
		require.NoError(t, err)
	}

	id, err := newTestService(t, store, in2025).Allocate(ctx, "incidentCounter", "IR")
	require.NoError(t, err)
	assert.Equal(t, "IR-25001", id)
}

func TestAllocate_IndependentSequences(t *testing.T) {
	store := memory.New()
	svc := newTestService(t, store, in2025)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := svc.GenerateTaskID(ctx)
		require.NoError(t, err)
	}

	_, err := store.Get(ctx, coreseq.Incident.Name)
	assert.True(t, apperror.IsNotFound(err), "task allocations must not touch the incident counter")

	id, err := svc.GenerateIncidentID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "IR-25001", id)

	task, err := store.Get(ctx, coreseq.Task.Name)
	require.NoError(t, err)
	assert.Equal(t, int64(4), task.LastNumber)
}

func TestAllocate_ConcurrentCallersGetDistinctIDs(t *testing.T) {
	const callers = 64

	store := memory.New(
		// every lost race means another caller committed, so callers+1 attempts always suffice
		memory.WithRetryPolicy(tx.RetryPolicy{MaxAttempts: callers + 1}),
		memory.WithContention(runtime.Gosched),
	)
	svc := newTestService(t, store, in2025)
	ctx := context.Background()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		ids   = make(map[string]struct{}, callers)
		start = make(chan struct{})
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			id, err := svc.GenerateTaskID(ctx)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			ids[id] = struct{}{}
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()

	assert.Len(t, ids, callers)

	c, err := store.Get(ctx, coreseq.Task.Name)
	require.NoError(t, err)
	assert.Equal(t, int64(callers), c.LastNumber)
}

func TestAllocate_ConcurrentConflictsAreErrorsNotDuplicates(t *testing.T) {
	const callers = 32

	store := memory.New(
		memory.WithRetryPolicy(tx.RetryPolicy{MaxAttempts: 1}),
		memory.WithContention(func() { time.Sleep(time.Millisecond) }),
	)
	svc := newTestService(t, store, in2025)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ids       = map[string]int{}
		conflicts int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := svc.GenerateTaskID(context.Background())
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.True(t, apperror.IsTransactionConflict(err), "unexpected error: %v", err)
				assert.Empty(t, id)
				conflicts++
				return
			}
			ids[id]++
		}()
	}
	wg.Wait()

	for id, n := range ids {
		assert.Equal(t, 1, n, "duplicate id %s", id)
	}
	assert.Equal(t, callers, len(ids)+conflicts)

	c, err := store.Get(context.Background(), coreseq.Task.Name)
	require.NoError(t, err)
	assert.Equal(t, int64(len(ids)), c.LastNumber)
}

func TestAllocate_PropagatesStoreErrors(t *testing.T) {
	store := memory.New()
	svc := newTestService(t, store, in2025)
	ctx := context.Background()

	conflict := apperror.NewTransactionConflict("taskCounter", 5)
	unavailable := apperror.NewStoreUnavailable(errors.New("connection refused"))
	store.FailNext(conflict, unavailable)

	id, err := svc.GenerateTaskID(ctx)
	assert.Empty(t, id)
	assert.Same(t, conflict, err)

	id, err = svc.GenerateTaskID(ctx)
	assert.Empty(t, id)
	assert.Same(t, unavailable, err)

	id, err = svc.GenerateTaskID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Task-25001", id, "failed calls consume nothing")
}

func TestAllocate_MalformedCounter(t *testing.T) {
	tests := []struct {
		name    string
		counter coreseq.Counter
	}{
		{"missing lastNumber", coreseq.Counter{Name: "taskCounter", Year: "25"}},
		{"missing year", coreseq.Counter{Name: "taskCounter", LastNumber: 4}},
		{"four digit year", coreseq.Counter{Name: "taskCounter", LastNumber: 4, Year: "2025"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			store.Load(tt.counter)
			svc := newTestService(t, store, in2025)

			id, err := svc.GenerateTaskID(context.Background())
			assert.Empty(t, id)
			assert.True(t, apperror.IsMalformedCounter(err))

			c, err := store.Get(context.Background(), "taskCounter")
			require.NoError(t, err)
			assert.Equal(t, tt.counter.LastNumber, c.LastNumber, "malformed record must not be rewritten")
			assert.Equal(t, tt.counter.Year, c.Year)
		})
	}
}

func TestAllocate_Validation(t *testing.T) {
	store := memory.New()
	svc := newTestService(t, store, in2025)
	ctx := context.Background()

	_, err := svc.Allocate(ctx, "", "Task")
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	_, err = svc.Allocate(ctx, "taskCounter", "Ta-sk")
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

type recorderFunc func(ctx context.Context, a coreseq.Allocation) error

func (f recorderFunc) Record(ctx context.Context, a coreseq.Allocation) error { return f(ctx, a) }

func TestAllocate_Recorder(t *testing.T) {
	var got []coreseq.Allocation
	rec := recorderFunc(func(ctx context.Context, a coreseq.Allocation) error {
		got = append(got, a)
		return errors.New("audit table missing")
	})
	svc := newTestService(t, memory.New(), in2025, WithRecorder(rec))

	id, err := svc.GenerateIncidentID(context.Background())
	require.NoError(t, err, "recorder failures do not fail the allocation")
	assert.Equal(t, "IR-25001", id)

	require.Len(t, got, 1)
	assert.Equal(t, coreseq.Allocation{
		Sequence: "incidentCounter",
		Prefix:   "IR",
		Epoch:    "25",
		Number:   1,
		ID:       "IR-25001",
	}, got[0])
}

func TestSeed(t *testing.T) {
	store := memory.New()
	svc := newTestService(t, store, in2025)
	ctx := context.Background()

	_, err := svc.Seed(ctx, "taskCounter", "25", 120, false)
	require.NoError(t, err)

	id, err := svc.GenerateTaskID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Task-25121", id)

	_, err = svc.Seed(ctx, "taskCounter", "25", 0, false)
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
	_, err = svc.Seed(ctx, "taskCounter", "2025", 3, false)
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
}

func TestSeed_RefusesRewind(t *testing.T) {
	store := memory.New()
	svc := newTestService(t, store, in2025)
	ctx := context.Background()

	issued := map[string]int{}
	for i := 0; i < 10; i++ {
		id, err := svc.GenerateTaskID(ctx)
		require.NoError(t, err)
		issued[id]++
	}

	_, err := svc.Seed(ctx, "taskCounter", "25", 5, false)
	assert.True(t, apperror.HasCode(err, apperror.CodeSequenceRewind))

	_, err = svc.Seed(ctx, "taskCounter", "24", 500, false)
	assert.True(t, apperror.HasCode(err, apperror.CodeSequenceRewind), "moving off the current epoch restarts at 1")

	c, err := svc.Peek(ctx, "taskCounter")
	require.NoError(t, err)
	assert.Equal(t, int64(10), c.LastNumber, "refused seeds leave the counter untouched")

	id, err := svc.GenerateTaskID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Task-25011", id)
	assert.Zero(t, issued[id])

	_, err = svc.Seed(ctx, "taskCounter", "25", 11, false)
	assert.NoError(t, err, "seeding at the stored number is a no-op")
	_, err = svc.Seed(ctx, "taskCounter", "25", 40, false)
	assert.NoError(t, err)
}

func TestSeed_StaleEpochAndForce(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.RunInTransaction(ctx, "taskCounter", func(ctx context.Context, txn coreseq.Txn) error {
		return txn.Put(ctx, coreseq.Counter{Name: "taskCounter", LastNumber: 57, Year: "24"})
	}))
	svc := newTestService(t, store, in2025)

	_, err := svc.Seed(ctx, "taskCounter", "25", 3, false)
	require.NoError(t, err, "a counter still on last year has issued nothing this year")

	_, err = svc.Seed(ctx, "taskCounter", "25", 1, true)
	require.NoError(t, err)

	id, err := svc.GenerateTaskID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Task-25002", id)
}

func TestPeekAndList(t *testing.T) {
	store := memory.New()
	svc := newTestService(t, store, in2025)
	ctx := context.Background()

	_, err := svc.Peek(ctx, "taskCounter")
	assert.True(t, apperror.IsNotFound(err))

	_, err = svc.GenerateTaskID(ctx)
	require.NoError(t, err)
	_, err = svc.GenerateIncidentID(ctx)
	require.NoError(t, err)

	c, err := svc.Peek(ctx, "taskCounter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.LastNumber)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
