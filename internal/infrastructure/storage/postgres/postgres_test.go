package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appctx "portalid/internal/core/context"
	"portalid/internal/core/sequence"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, true},
		{"wrapped", fmt.Errorf("write counter: %w", &pgconn.PgError{Code: "40001"}), true},
		{"check violation", &pgconn.PgError{Code: "23514"}, false},
		{"plain", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryable(tt.err))
		})
	}
}

func TestIsConnectionError(t *testing.T) {
	assert.True(t, isConnectionError(&pgconn.ConnectError{}))
	assert.False(t, isConnectionError(context.Canceled))
	assert.False(t, isConnectionError(&pgconn.PgError{Code: "40001"}))
	assert.False(t, isConnectionError(nil))
}

func TestCounterSQL(t *testing.T) {
	q := newCounterSQL()
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	c := sequence.Counter{Name: "taskCounter", LastNumber: 4, Year: "25"}

	query, args, err := q.selectOne("taskCounter", true)
	require.NoError(t, err)
	assert.Equal(t, "SELECT name, last_number, year, updated_at FROM sys_counters WHERE name = $1 FOR UPDATE", query)
	assert.Equal(t, []any{"taskCounter"}, args)

	query, _, err = q.selectOne("taskCounter", false)
	require.NoError(t, err)
	assert.False(t, strings.Contains(query, "FOR UPDATE"))

	query, args, err = q.insert(c, now)
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO sys_counters (name,last_number,year,updated_at) VALUES ($1,$2,$3,$4)", query)
	assert.Equal(t, []any{"taskCounter", int64(4), "25", now}, args)

	query, _, err = q.upsert(c, now)
	require.NoError(t, err)
	assert.Contains(t, query, "ON CONFLICT (name) DO UPDATE")

	query, args, err = q.update(c, now)
	require.NoError(t, err)
	assert.Equal(t, "UPDATE sys_counters SET last_number = $1, year = $2, updated_at = $3 WHERE name = $4", query)
	assert.Equal(t, []any{int64(4), "25", now, "taskCounter"}, args)

	query, _, err = q.selectAll()
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(query, "ORDER BY name"))
}

func newTestAudit(t *testing.T, threshold int) *AuditService {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	return &AuditService{encoder: enc, decoder: dec, compressThreshold: threshold, now: time.Now}
}

func TestAudit_PackSmallMetadataInline(t *testing.T) {
	s := newTestAudit(t, 1024)
	var entry AuditEntry
	s.pack(&entry, []byte(`{"trace_id":"t1"}`))

	assert.Equal(t, CompressionNone, entry.CompressionAlgo)
	assert.JSONEq(t, `{"trace_id":"t1"}`, string(entry.Metadata))
	assert.Nil(t, entry.MetadataCompressed)
}

func TestAudit_RequestMetadataStaysInline(t *testing.T) {
	s := newTestAudit(t, defaultCompressThreshold)
	ctx := appctx.WithTrace(context.Background(), appctx.NewTraceContext("", ""))
	ctx = appctx.WithUser(ctx, &appctx.UserContext{UserID: "u1", Username: "ana", SessionID: "s1"})
	meta, err := json.Marshal(requestMetadata(ctx))
	require.NoError(t, err)

	var entry AuditEntry
	s.pack(&entry, meta)
	assert.Equal(t, CompressionNone, entry.CompressionAlgo)
	assert.Less(t, len(meta), 512)
}

func TestAudit_PackLargeMetadataRoundTrip(t *testing.T) {
	s := newTestAudit(t, 16)
	meta, err := json.Marshal(map[string]string{"session_id": strings.Repeat("x", 256)})
	require.NoError(t, err)

	var entry AuditEntry
	s.pack(&entry, meta)
	require.Equal(t, CompressionZstd, entry.CompressionAlgo)
	assert.Nil(t, entry.Metadata)
	assert.Less(t, len(entry.MetadataCompressed), len(meta))

	require.NoError(t, s.unpack(&entry))
	assert.Equal(t, meta, []byte(entry.Metadata))
	assert.Nil(t, entry.MetadataCompressed)
}

func TestRequestMetadata(t *testing.T) {
	ctx := appctx.WithTrace(context.Background(), &appctx.TraceContext{TraceID: "t1", RequestID: "r1"})
	ctx = appctx.WithUser(ctx, &appctx.UserContext{UserID: "u1", Username: "ana", SessionID: "s1"})

	meta := requestMetadata(ctx)
	assert.Equal(t, "t1", meta["trace_id"])
	assert.Equal(t, "r1", meta["request_id"])
	assert.Equal(t, "ana", meta["username"])
	assert.Equal(t, "s1", meta["session_id"])
	assert.Equal(t, false, meta["guest"])

	assert.Empty(t, requestMetadata(context.Background()))
}

func TestDefaultPoolConfig(t *testing.T) {
	cfg := DefaultPoolConfig("postgres://localhost/portal")
	assert.Equal(t, "postgres://localhost/portal", cfg.DSN)
	assert.Equal(t, int32(25), cfg.MaxConns)
	assert.Equal(t, "portalid", cfg.ApplicationName)
}

func TestNewPool_InvalidDSN(t *testing.T) {
	_, err := NewPool(context.Background(), PoolConfig{DSN: "postgres://%zz"})
	require.Error(t, err)
}
