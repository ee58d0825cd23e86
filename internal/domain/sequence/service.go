// Package sequence implements the year-scoped ID allocator on top of a
// transactional counter store.
//
// The Service keeps no counter state between calls: every allocation re-reads
// the counter inside a store transaction, so any number of processes may share
// one store.
package sequence

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"portalid/internal/core/apperror"
	coreseq "portalid/internal/core/sequence"
	"portalid/pkg/logger"
)

var tracer = otel.Tracer("portalid/sequence")

// Service allocates IDs. It is safe for concurrent use.
type Service struct {
	store    coreseq.Store
	reader   coreseq.Reader
	clock    coreseq.Clock
	recorder coreseq.Recorder
	log      *logger.Logger
}

// Ensure compile-time interface compliance.
var _ coreseq.Allocator = (*Service)(nil)

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock the epoch is derived from.
func WithClock(c coreseq.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithRecorder installs an audit recorder notified after every commit.
func WithRecorder(r coreseq.Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithReader enables Peek and List.
func WithReader(r coreseq.Reader) Option {
	return func(s *Service) { s.reader = r }
}

// WithLogger sets the logger used for allocation diagnostics.
func WithLogger(l *logger.Logger) Option {
	return func(s *Service) { s.log = l }
}

// NewService creates an allocator over store. If store also implements
// coreseq.Reader it is used for Peek and List unless WithReader overrides it.
func NewService(store coreseq.Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		clock: coreseq.SystemClock(time.UTC),
	}
	if r, ok := store.(coreseq.Reader); ok {
		s.reader = r
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) logFor(ctx context.Context) *logger.Logger {
	if s.log != nil {
		return s.log.WithContext(ctx)
	}
	return logger.FromContext(ctx)
}

// Allocate returns the next ID of the named sequence, e.g. Task-25003.
func (s *Service) Allocate(ctx context.Context, name, prefix string) (string, error) {
	a, err := s.AllocateNumber(ctx, name, prefix)
	if err != nil {
		return "", err
	}
	return a.ID, nil
}

// GenerateTaskID allocates from the task sequence (Task-YYNNN).
func (s *Service) GenerateTaskID(ctx context.Context) (string, error) {
	return s.Allocate(ctx, coreseq.Task.Name, coreseq.Task.Prefix)
}

// GenerateIncidentID allocates from the incident sequence (IR-YYNNN).
func (s *Service) GenerateIncidentID(ctx context.Context) (string, error) {
	return s.Allocate(ctx, coreseq.Incident.Name, coreseq.Incident.Prefix)
}

// AllocateNumber issues the next number of the named sequence.
//
// The epoch is read from the clock once, before the transaction, and is used
// both for the counter comparison and for the formatted ID. Store errors are
// logged and returned unmodified; there is no retry above the store.
func (s *Service) AllocateNumber(ctx context.Context, name, prefix string) (coreseq.Allocation, error) {
	if err := coreseq.ValidateName(name); err != nil {
		return coreseq.Allocation{}, err
	}
	if err := coreseq.ValidatePrefix(prefix); err != nil {
		return coreseq.Allocation{}, err
	}

	epoch := coreseq.EpochOf(s.clock())

	ctx, span := tracer.Start(ctx, "sequence.allocate",
		trace.WithAttributes(
			attribute.String("sequence.name", name),
			attribute.String("sequence.epoch", epoch.String()),
		))
	defer span.End()

	var number int64
	err := s.store.RunInTransaction(ctx, name, func(ctx context.Context, txn coreseq.Txn) error {
		current, err := txn.Get(ctx)
		if err != nil {
			return err
		}

		if current == nil {
			number = 1
			return txn.Put(ctx, coreseq.Initial(name, epoch))
		}

		if err := current.Validate(); err != nil {
			return err
		}

		n, next := current.Next(epoch)
		if next.Year != current.Year {
			s.logFor(ctx).Infow("sequence epoch rolled over",
				"sequence", name,
				"from", current.Year.String(),
				"to", epoch.String(),
				"previous_last", current.LastNumber,
			)
		}
		number = n
		return txn.Put(ctx, next)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "allocation failed")
		s.logFor(ctx).Errorw("sequence allocation failed",
			"sequence", name,
			"epoch", epoch.String(),
			"error", err,
		)
		return coreseq.Allocation{}, err
	}

	a := coreseq.Allocation{
		Sequence: name,
		Prefix:   prefix,
		Epoch:    epoch,
		Number:   number,
		ID:       coreseq.Format(prefix, epoch, number),
	}
	span.SetAttributes(attribute.Int64("sequence.number", number))

	if s.recorder != nil {
		if err := s.recorder.Record(ctx, a); err != nil {
			// the number is consumed either way
			s.logFor(ctx).Warnw("allocation audit failed",
				"sequence", name,
				"id", a.ID,
				"error", err,
			)
		}
	}

	return a, nil
}

// Peek returns the stored counter without modifying it.
func (s *Service) Peek(ctx context.Context, name string) (coreseq.Counter, error) {
	if err := coreseq.ValidateName(name); err != nil {
		return coreseq.Counter{}, err
	}
	if s.reader == nil {
		return coreseq.Counter{}, apperror.NewInternal(fmt.Errorf("sequence service has no reader"))
	}
	return s.reader.Get(ctx, name)
}

// List returns every counter ordered by name.
func (s *Service) List(ctx context.Context) ([]coreseq.Counter, error) {
	if s.reader == nil {
		return nil, apperror.NewInternal(fmt.Errorf("sequence service has no reader"))
	}
	return s.reader.List(ctx)
}

// Seed overwrites a counter so numbering continues from lastNumber in epoch.
// It exists for migrating numbering from another system; the next allocation
// in the same epoch issues lastNumber+1.
//
// Unless force is set, a seed that would reissue numbers is rejected with
// SEQUENCE_REWIND: lowering lastNumber within the stored epoch, or moving a
// counter that holds the current epoch to another one.
func (s *Service) Seed(ctx context.Context, name string, epoch coreseq.Epoch, lastNumber int64, force bool) (coreseq.Counter, error) {
	if err := coreseq.ValidateName(name); err != nil {
		return coreseq.Counter{}, err
	}
	seeded := coreseq.Counter{Name: name, LastNumber: lastNumber, Year: epoch}
	if err := seeded.Validate(); err != nil {
		return coreseq.Counter{}, apperror.NewValidation("invalid seed").
			WithDetail("sequence", name).
			WithCause(err)
	}

	ctx, span := tracer.Start(ctx, "sequence.seed",
		trace.WithAttributes(attribute.String("sequence.name", name)))
	defer span.End()

	now := coreseq.EpochOf(s.clock())
	err := s.store.RunInTransaction(ctx, name, func(ctx context.Context, txn coreseq.Txn) error {
		if !force {
			current, err := txn.Get(ctx)
			if err != nil {
				return err
			}
			if err := checkRewind(current, seeded, now); err != nil {
				return err
			}
		}
		return txn.Put(ctx, seeded)
	})
	if err != nil {
		span.RecordError(err)
		s.logFor(ctx).Errorw("sequence seed failed", "sequence", name, "error", err)
		return coreseq.Counter{}, err
	}

	s.logFor(ctx).Infow("sequence seeded",
		"sequence", name,
		"year", epoch.String(),
		"last_number", lastNumber,
		"force", force,
	)
	return seeded, nil
}

// checkRewind compares epochs with == only: a stored counter whose year is
// not the current epoch has issued nothing the next allocation could repeat.
func checkRewind(current *coreseq.Counter, seeded coreseq.Counter, now coreseq.Epoch) error {
	if current == nil {
		return nil
	}
	if current.Year == seeded.Year && seeded.LastNumber < current.LastNumber {
		return apperror.NewSequenceRewind(seeded.Name,
			fmt.Sprintf("lastNumber %d is below the stored %d", seeded.LastNumber, current.LastNumber)).
			WithDetail("stored_last_number", current.LastNumber)
	}
	if current.Year == now && seeded.Year != now {
		return apperror.NewSequenceRewind(seeded.Name,
			fmt.Sprintf("counter holds the current epoch %s", now)).
			WithDetail("stored_year", current.Year.String())
	}
	return nil
}
