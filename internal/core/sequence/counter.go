package sequence

import (
	"fmt"
	"regexp"
	"time"

	"portalid/internal/core/apperror"
)

// Counter is the persisted state of one named sequence.
type Counter struct {
	// Name identifies the sequence, e.g. "taskCounter".
	Name string `db:"name" json:"name"`
	// LastNumber is the most recently issued number in Year.
	LastNumber int64 `db:"last_number" json:"lastNumber"`
	// Year is the epoch of the most recent allocation.
	Year Epoch `db:"year" json:"year"`
	// UpdatedAt is maintained by the store.
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Validate rejects records the allocator must not build on.
func (c Counter) Validate() error {
	if c.LastNumber < 1 {
		return apperror.NewMalformedCounter(c.Name, fmt.Sprintf("lastNumber %d is below 1", c.LastNumber))
	}
	if !c.Year.Valid() {
		return apperror.NewMalformedCounter(c.Name, fmt.Sprintf("year %q is not a two-digit epoch", string(c.Year)))
	}
	return nil
}

// Next computes the number to issue in epoch and the record to write back.
func (c Counter) Next(epoch Epoch) (int64, Counter) {
	next := c
	if c.Year != epoch {
		next.Year = epoch
		next.LastNumber = 1
		return 1, next
	}
	next.LastNumber = c.LastNumber + 1
	return next.LastNumber, next
}

// Initial is the record written on the first allocation of a sequence.
func Initial(name string, epoch Epoch) Counter {
	return Counter{Name: name, LastNumber: 1, Year: epoch}
}

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// ValidateName checks a sequence name before it reaches a store.
func ValidateName(name string) error {
	if !nameRe.MatchString(name) {
		return apperror.NewValidation("invalid sequence name").
			WithDetail("sequence", name).
			WithDetail("rule", nameRe.String())
	}
	return nil
}
