package memory

import (
	"context"
	"sync"
	"time"

	"portalid/internal/core/apperror"
	"portalid/internal/core/idempotency"
)

type idempotencyRecord struct {
	userID      string
	operation   string
	requestHash string
	status      idempotency.Status
	replay      idempotency.Replay
	updatedAt   time.Time
	expiresAt   time.Time
}

// IdempotencyStore keeps idempotency keys in process memory. It backs the
// HTTP API when the counters live in SQLite or memory.
type IdempotencyStore struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	keys map[string]*idempotencyRecord
}

var _ idempotency.Store = (*IdempotencyStore)(nil)

// NewIdempotencyStore creates a store whose keys expire after ttl.
func NewIdempotencyStore(ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyStore{
		ttl:  ttl,
		now:  time.Now,
		keys: make(map[string]*idempotencyRecord),
	}
}

// AcquireKey implements idempotency.Store.
func (s *IdempotencyStore) AcquireKey(_ context.Context, key, userID, operation, requestHash string) (*idempotency.Replay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec, ok := s.keys[key]
	if !ok || now.After(rec.expiresAt) {
		s.keys[key] = &idempotencyRecord{
			userID:      userID,
			operation:   operation,
			requestHash: requestHash,
			status:      idempotency.StatusPending,
			updatedAt:   now,
			expiresAt:   now.Add(s.ttl),
		}
		return nil, nil
	}

	if rec.userID != userID || rec.operation != operation || rec.requestHash != requestHash {
		return nil, apperror.NewIdempotencyMismatch(key)
	}

	switch rec.status {
	case idempotency.StatusSuccess, idempotency.StatusFailed:
		replay := rec.replay
		return idempotency.NormalizeReplay(&replay), nil
	default:
		if now.Sub(rec.updatedAt) > idempotency.StaleAfter {
			rec.updatedAt = now
			return nil, nil
		}
		return nil, apperror.NewIdempotencyConflict(key)
	}
}

// CompleteKey implements idempotency.Store.
func (s *IdempotencyStore) CompleteKey(_ context.Context, key string, statusCode int, contentType string, body []byte) error {
	s.finish(key, idempotency.StatusSuccess, statusCode, contentType, body)
	return nil
}

// FailKey implements idempotency.Store.
func (s *IdempotencyStore) FailKey(_ context.Context, key string, statusCode int, contentType string, body []byte) error {
	s.finish(key, idempotency.StatusFailed, statusCode, contentType, body)
	return nil
}

// ReleaseKey implements idempotency.Store.
func (s *IdempotencyStore) ReleaseKey(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.keys[key]; ok && rec.status == idempotency.StatusPending {
		delete(s.keys, key)
	}
	return nil
}

func (s *IdempotencyStore) finish(key string, status idempotency.Status, statusCode int, contentType string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.keys[key]
	if !ok {
		return
	}
	rec.status = status
	rec.replay = idempotency.Replay{
		StatusCode:  statusCode,
		ContentType: contentType,
		Body:        append([]byte(nil), body...),
	}
	rec.updatedAt = s.now()
}

// CleanupExpired drops expired keys and returns how many were removed.
func (s *IdempotencyStore) CleanupExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var n int64
	for key, rec := range s.keys {
		if now.After(rec.expiresAt) {
			delete(s.keys, key)
			n++
		}
	}
	return n, nil
}
