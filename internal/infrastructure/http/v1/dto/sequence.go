package dto

import (
	"time"

	"portalid/internal/core/sequence"
)

// AllocateRequest is the body of POST /sequences/:name/allocate.
type AllocateRequest struct {
	Prefix string `json:"prefix" binding:"required"`
}

// SeedRequest is the body of PUT /sequences/:name.
type SeedRequest struct {
	LastNumber int64  `json:"lastNumber" binding:"required"`
	Year       string `json:"year" binding:"required"`
	// Force allows lowering the counter or moving it off the current year.
	Force bool `json:"force"`
}

// AllocationResponse describes a freshly issued ID.
type AllocationResponse struct {
	ID       string `json:"id"`
	Sequence string `json:"sequence"`
	Year     string `json:"year"`
	Number   int64  `json:"number"`
}

// FromAllocation converts a domain allocation.
func FromAllocation(a sequence.Allocation) AllocationResponse {
	return AllocationResponse{
		ID:       a.ID,
		Sequence: a.Sequence,
		Year:     a.Epoch.String(),
		Number:   a.Number,
	}
}

// CounterResponse is the stored state of a sequence.
type CounterResponse struct {
	Name       string     `json:"name"`
	LastNumber int64      `json:"lastNumber"`
	Year       string     `json:"year"`
	UpdatedAt  *time.Time `json:"updatedAt,omitempty"`
}

// FromCounter converts a domain counter.
func FromCounter(c sequence.Counter) CounterResponse {
	resp := CounterResponse{
		Name:       c.Name,
		LastNumber: c.LastNumber,
		Year:       c.Year.String(),
	}
	if !c.UpdatedAt.IsZero() {
		t := c.UpdatedAt
		resp.UpdatedAt = &t
	}
	return resp
}

// FromCounters converts a list of domain counters.
func FromCounters(list []sequence.Counter) []CounterResponse {
	out := make([]CounterResponse, 0, len(list))
	for _, c := range list {
		out = append(out, FromCounter(c))
	}
	return out
}
