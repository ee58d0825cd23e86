package postgres

import (
	"context"
	"fmt"
)

// schema is idempotent DDL for every table this package uses.
const schema = `
CREATE TABLE IF NOT EXISTS sys_counters (
    name        TEXT PRIMARY KEY,
    last_number BIGINT NOT NULL CHECK (last_number >= 1),
    year        CHAR(2) NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sys_allocation_audit (
    id                  UUID PRIMARY KEY,
    sequence_name       TEXT NOT NULL,
    prefix              TEXT NOT NULL,
    year                CHAR(2) NOT NULL,
    number              BIGINT NOT NULL,
    allocated_id        TEXT NOT NULL,
    user_id             TEXT NOT NULL DEFAULT '',
    metadata            JSONB,
    metadata_compressed BYTEA,
    compression_algo    TEXT NOT NULL DEFAULT 'none',
    created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_allocation_audit_sequence
    ON sys_allocation_audit (sequence_name, created_at DESC);

CREATE TABLE IF NOT EXISTS sys_idempotency (
    idempotency_key       TEXT PRIMARY KEY,
    user_id               TEXT NOT NULL,
    operation             TEXT NOT NULL,
    status                TEXT NOT NULL,
    request_hash          TEXT NOT NULL,
    response              BYTEA,
    response_status       INT NOT NULL DEFAULT 0,
    response_content_type TEXT NOT NULL DEFAULT '',
    created_at            TIMESTAMPTZ NOT NULL,
    updated_at            TIMESTAMPTZ NOT NULL,
    expires_at            TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_idempotency_expires ON sys_idempotency (expires_at);
`

// EnsureSchema creates missing tables.
func EnsureSchema(ctx context.Context, pool *Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
