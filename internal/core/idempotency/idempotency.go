// Package idempotency defines the key store used to replay responses of
// retried allocation requests, so a client retry returns the ID it was
// already given instead of consuming a new number.
package idempotency

import (
	"context"
	"net/http"
	"time"
)

// Status is the state of a key.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// StaleAfter is how long a pending key blocks duplicates before it is
// considered abandoned and may be reclaimed.
const StaleAfter = time.Minute

// Replay is a cached HTTP response.
type Replay struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Store persists idempotency keys.
//
// AcquireKey returns (nil, nil) when the caller now owns the key, a Replay
// when the key already finished, and an IDEMPOTENCY_CONFLICT AppError when
// the key is in flight or was used for a different request. FailKey caches
// a final error response; ReleaseKey forgets a pending key so the request
// may be retried with the same key.
type Store interface {
	AcquireKey(ctx context.Context, key, userID, operation, requestHash string) (*Replay, error)
	CompleteKey(ctx context.Context, key string, statusCode int, contentType string, body []byte) error
	FailKey(ctx context.Context, key string, statusCode int, contentType string, body []byte) error
	ReleaseKey(ctx context.Context, key string) error
}

// NormalizeReplay fills defaults for records stored without status or content type.
func NormalizeReplay(r *Replay) *Replay {
	if r == nil {
		return nil
	}
	if r.StatusCode == 0 {
		r.StatusCode = http.StatusOK
	}
	if r.ContentType == "" {
		r.ContentType = "application/json"
	}
	return r
}
