package memory

import (
	"context"
	"sync"
	"time"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/idempotency"
)

type idempotencyRecord struct {
	req       idempotency.Request
	status    idempotency.Status
	replay    idempotency.Replay
	updatedAt time.Time
	expiresAt time.Time
}

// IdempotencyStore keeps keys in process memory.
type IdempotencyStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	records map[string]*idempotencyRecord
}

// NewIdempotencyStore creates an empty store. ttl <= 0 uses idempotency.DefaultTTL.
func NewIdempotencyStore(ttl time.Duration, now func() time.Time) *IdempotencyStore {
	if ttl <= 0 {
		ttl = idempotency.DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &IdempotencyStore{ttl: ttl, now: now, records: make(map[string]*idempotencyRecord)}
}

func (s *IdempotencyStore) Acquire(_ context.Context, req idempotency.Request) (*idempotency.Replay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec, ok := s.records[req.Key]
	if !ok || now.After(rec.expiresAt) {
		s.records[req.Key] = &idempotencyRecord{
			req:       req,
			status:    idempotency.StatusPending,
			updatedAt: now,
			expiresAt: now.Add(s.ttl),
		}
		return nil, nil
	}

	if rec.req != req {
		return nil, apperror.NewIdempotencyMismatch(req.Key)
	}
	if rec.status == idempotency.StatusCompleted {
		replay := rec.replay
		return &replay, nil
	}
	if now.Sub(rec.updatedAt) > idempotency.StaleAfter {
		rec.updatedAt = now
		return nil, nil
	}
	return nil, apperror.NewIdempotencyConflict(req.Key)
}

func (s *IdempotencyStore) Complete(_ context.Context, key string, resp idempotency.Replay) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return nil
	}
	resp.Body = append([]byte(nil), resp.Body...)
	rec.replay = resp
	rec.status = idempotency.StatusCompleted
	rec.updatedAt = s.now()
	return nil
}

func (s *IdempotencyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[key]; ok && rec.status == idempotency.StatusPending {
		delete(s.records, key)
	}
	return nil
}

func (s *IdempotencyStore) CleanupExpired(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var n int64
	for key, rec := range s.records {
		if now.After(rec.expiresAt) {
			delete(s.records, key)
			n++
		}
	}
	return n, nil
}

var _ idempotency.Store = (*IdempotencyStore)(nil)
