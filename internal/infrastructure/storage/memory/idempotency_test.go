package memory

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portalid/internal/core/apperror"
)

func TestIdempotencyStore_Lifecycle(t *testing.T) {
	s := NewIdempotencyStore(time.Hour)
	ctx := context.Background()

	replay, err := s.AcquireKey(ctx, "k1", "u1", "POST /tasks", "h1")
	require.NoError(t, err)
	assert.Nil(t, replay)

	_, err = s.AcquireKey(ctx, "k1", "u1", "POST /tasks", "h1")
	assert.True(t, apperror.HasCode(err, apperror.CodeIdempotency), "in-flight key must conflict")

	require.NoError(t, s.CompleteKey(ctx, "k1", http.StatusCreated, "application/json", []byte(`{"id":"Task-25001"}`)))

	replay, err = s.AcquireKey(ctx, "k1", "u1", "POST /tasks", "h1")
	require.NoError(t, err)
	require.NotNil(t, replay)
	assert.Equal(t, http.StatusCreated, replay.StatusCode)
	assert.JSONEq(t, `{"id":"Task-25001"}`, string(replay.Body))
}

func TestIdempotencyStore_Mismatch(t *testing.T) {
	s := NewIdempotencyStore(time.Hour)
	ctx := context.Background()

	_, err := s.AcquireKey(ctx, "k1", "u1", "POST /tasks", "h1")
	require.NoError(t, err)

	_, err = s.AcquireKey(ctx, "k1", "u2", "POST /tasks", "h1")
	assert.True(t, apperror.HasCode(err, apperror.CodeIdempotency))
	_, err = s.AcquireKey(ctx, "k1", "u1", "POST /tasks", "other")
	assert.True(t, apperror.HasCode(err, apperror.CodeIdempotency))
}

func TestIdempotencyStore_StaleAndExpired(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewIdempotencyStore(time.Hour)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := s.AcquireKey(ctx, "k1", "u1", "op", "h")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	replay, err := s.AcquireKey(ctx, "k1", "u1", "op", "h")
	require.NoError(t, err, "stale pending key is reclaimed")
	assert.Nil(t, replay)

	now = now.Add(2 * time.Hour)
	n, err := s.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestIdempotencyStore_Release(t *testing.T) {
	s := NewIdempotencyStore(time.Hour)
	ctx := context.Background()

	_, err := s.AcquireKey(ctx, "k1", "u1", "op", "h")
	require.NoError(t, err)
	require.NoError(t, s.ReleaseKey(ctx, "k1"))

	replay, err := s.AcquireKey(ctx, "k1", "u1", "op", "h")
	require.NoError(t, err, "released key can be acquired again")
	assert.Nil(t, replay)

	require.NoError(t, s.CompleteKey(ctx, "k1", http.StatusCreated, "application/json", []byte(`{}`)))
	require.NoError(t, s.ReleaseKey(ctx, "k1"))
	replay, err = s.AcquireKey(ctx, "k1", "u1", "op", "h")
	require.NoError(t, err)
	assert.NotNil(t, replay, "completed keys are not released")
}
