// Package sequence defines the contracts for year-scoped sequential IDs:
// epochs, counter records, the store transaction primitive and ID formatting.
// The allocation service lives in internal/domain/sequence.
package sequence

import (
	"context"
)

// Definition pairs a counter name with the prefix of the IDs it issues.
type Definition struct {
	Name   string
	Prefix string
}

// Built-in sequences of the portal.
var (
	Task     = Definition{Name: "taskCounter", Prefix: "Task"}
	Incident = Definition{Name: "incidentCounter", Prefix: "IR"}
)

// Allocation is a successfully issued ID together with its parts.
type Allocation struct {
	Sequence string
	Prefix   string
	Epoch    Epoch
	Number   int64
	ID       string
}

// Allocator issues formatted IDs.
type Allocator interface {
	// Allocate returns the next ID of the named sequence, e.g. Task-25003.
	Allocate(ctx context.Context, name, prefix string) (string, error)
}

// Recorder observes committed allocations (audit trail).
type Recorder interface {
	Record(ctx context.Context, a Allocation) error
}
