package sequence

import (
	"fmt"
	"time"
)

// Epoch is the two-digit year a counter belongs to, e.g. "25".
//
// It is always a string and is only compared with ==. Never convert it to a
// number to compare: "05" and "5" must not be considered equal.
type Epoch string

// EpochOf returns the epoch of t: the last two digits of its calendar year.
func EpochOf(t time.Time) Epoch {
	return Epoch(fmt.Sprintf("%02d", t.Year()%100))
}

// ParseEpoch validates s as a two-digit epoch.
func ParseEpoch(s string) (Epoch, error) {
	e := Epoch(s)
	if !e.Valid() {
		return "", fmt.Errorf("invalid epoch %q: want two digits", s)
	}
	return e, nil
}

// Valid reports whether e is exactly two ASCII digits.
func (e Epoch) Valid() bool {
	if len(e) != 2 {
		return false
	}
	for i := 0; i < len(e); i++ {
		if e[i] < '0' || e[i] > '9' {
			return false
		}
	}
	return true
}

func (e Epoch) String() string {
	return string(e)
}

// Clock yields the current time. Tests pin it to cross epoch boundaries.
type Clock func() time.Time

// SystemClock returns a Clock reading time.Now in loc (UTC when nil).
func SystemClock(loc *time.Location) Clock {
	if loc == nil {
		loc = time.UTC
	}
	return func() time.Time { return time.Now().In(loc) }
}

// FixedClock always returns t.
func FixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}
