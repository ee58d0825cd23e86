// Package tx provides transaction management abstractions shared by the
// counter stores: the Manager contract and the bounded retry policy every
// store applies to conflicting transactions.
package tx

import (
	"context"
	"time"
)

// Manager defines the contract for transaction management.
// If fn returns an error the transaction is rolled back and the error is
// returned unchanged; otherwise it is committed.
type Manager interface {
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// RetryPolicy bounds how often a store re-runs a transaction that lost a
// serialization race. Stores never retry forever.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, including the first one.
	MaxAttempts int
	// BaseDelay is the back-off before the second attempt; it doubles afterwards.
	BaseDelay time.Duration
	// MaxDelay caps a single back-off.
	MaxDelay time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured:
// five attempts, 10ms doubling up to 200ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    200 * time.Millisecond,
	}
}

// Normalize fills zero fields from DefaultRetryPolicy.
func (p RetryPolicy) Normalize() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	return p
}

// Backoff returns the delay to wait after the given failed attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Wait sleeps for the back-off of attempt or returns early with ctx.Err().
func (p RetryPolicy) Wait(ctx context.Context, attempt int) error {
	d := p.Backoff(attempt)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
