package sequence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"portalid/internal/core/apperror"
)

func TestEpochOf(t *testing.T) {
	assert.Equal(t, Epoch("25"), EpochOf(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, Epoch("00"), EpochOf(time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, Epoch("07"), EpochOf(time.Date(2007, 12, 31, 23, 59, 0, 0, time.UTC)))
}

func TestEpoch_NoNumericEquality(t *testing.T) {
	_, err := ParseEpoch("5")
	assert.Error(t, err)

	e, err := ParseEpoch("05")
	assert.NoError(t, err)
	assert.NotEqual(t, Epoch("5"), e)
	assert.False(t, Epoch("2025").Valid())
	assert.False(t, Epoch("2a").Valid())
}

func TestCounter_Next(t *testing.T) {
	c := Counter{Name: "taskCounter", LastNumber: 2, Year: "25"}

	n, next := c.Next("25")
	assert.Equal(t, int64(3), n)
	assert.Equal(t, Counter{Name: "taskCounter", LastNumber: 3, Year: "25"}, next)
	assert.Equal(t, int64(2), c.LastNumber, "receiver must not change")
}

func TestCounter_NextRollover(t *testing.T) {
	c := Counter{Name: "taskCounter", LastNumber: 57, Year: "24"}

	n, next := c.Next("25")
	assert.Equal(t, int64(1), n)
	assert.Equal(t, int64(1), next.LastNumber)
	assert.Equal(t, Epoch("25"), next.Year)
}

func TestCounter_Validate(t *testing.T) {
	assert.NoError(t, Initial("taskCounter", "25").Validate())

	bad := []Counter{
		{Name: "x", LastNumber: 0, Year: "25"},
		{Name: "x", LastNumber: -4, Year: "25"},
		{Name: "x", LastNumber: 3, Year: ""},
		{Name: "x", LastNumber: 3, Year: "2025"},
	}
	for _, c := range bad {
		assert.True(t, apperror.IsMalformedCounter(c.Validate()), "%+v", c)
	}
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("taskCounter"))
	assert.NoError(t, ValidateName("ops.change-requests_2"))

	for _, n := range []string{"", "with space", "slash/name", string(make([]byte, 65))} {
		assert.Error(t, ValidateName(n), n)
	}
}
