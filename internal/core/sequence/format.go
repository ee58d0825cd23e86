package sequence

import (
	"fmt"
	"strconv"
	"strings"

	"portalid/internal/core/apperror"
)

// PadWidth is the minimum width of the numeric part. It is a floor, not a
// cap: number 1000 renders as four digits.
const PadWidth = 3

const maxPrefixLen = 32

// Format renders an ID as {prefix}-{epoch}{number}, e.g. Task-25003.
func Format(prefix string, epoch Epoch, number int64) string {
	return fmt.Sprintf("%s-%s%0*d", prefix, epoch, PadWidth, number)
}

// ValidatePrefix rejects prefixes that would make IDs unparseable.
func ValidatePrefix(prefix string) error {
	switch {
	case prefix == "":
		return apperror.NewValidation("prefix is required")
	case len(prefix) > maxPrefixLen:
		return apperror.NewValidation("prefix is too long").WithDetail("max", maxPrefixLen)
	case strings.ContainsAny(prefix, "- \t\r\n"):
		return apperror.NewValidation("prefix must not contain '-' or whitespace").WithDetail("prefix", prefix)
	}
	return nil
}

// ParsedID is the decomposition of a formatted ID.
type ParsedID struct {
	Prefix string
	Epoch  Epoch
	Number int64
}

// Parse splits an ID produced by Format. The epoch is always the first two
// digits after the dash, so IDs past 999 stay unambiguous.
func Parse(id string) (ParsedID, error) {
	prefix, rest, ok := strings.Cut(id, "-")
	if !ok || prefix == "" {
		return ParsedID{}, fmt.Errorf("parse %q: missing prefix separator", id)
	}
	if len(rest) < 2+PadWidth {
		return ParsedID{}, fmt.Errorf("parse %q: numeric part too short", id)
	}
	epoch, err := ParseEpoch(rest[:2])
	if err != nil {
		return ParsedID{}, fmt.Errorf("parse %q: %w", id, err)
	}
	n, err := strconv.ParseInt(rest[2:], 10, 64)
	if err != nil || n < 1 {
		return ParsedID{}, fmt.Errorf("parse %q: invalid number %q", id, rest[2:])
	}
	return ParsedID{Prefix: prefix, Epoch: epoch, Number: n}, nil
}
