// Package idempotency defines replay protection for mutating requests.
package idempotency

import (
	"context"
	"time"
)

// DefaultTTL is how long a completed key replays its response.
const DefaultTTL = 24 * time.Hour

// StaleAfter is the age at which a pending key is assumed abandoned and reclaimed.
const StaleAfter = time.Minute

// Status is the state of a key.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// Request identifies the call a key was first used for.
type Request struct {
	Key       string
	UserID    string
	Operation string
	// Hash is the SHA-256 of the request body, hex encoded.
	Hash string
}

// Replay is a stored response.
type Replay struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Store persists keys.
type Store interface {
	// Acquire claims the key. It returns (nil, nil) when the caller should run
	// the request, a Replay when the key already completed, IDEMPOTENCY_CONFLICT
	// while another request holds it, and IDEMPOTENCY_KEY_REUSED when the key
	// was first used for a different Request.
	Acquire(ctx context.Context, req Request) (*Replay, error)
	// Complete stores the response for replay.
	Complete(ctx context.Context, key string, resp Replay) error
	// Release forgets a pending key so the request can be retried.
	Release(ctx context.Context, key string) error
	// CleanupExpired drops keys past their TTL and returns how many were removed.
	CleanupExpired(ctx context.Context) (int64, error)
}

// Normalize fills defaults for replays stored without status or content type.
func (r *Replay) Normalize() {
	if r.StatusCode == 0 {
		r.StatusCode = 200
	}
	if r.ContentType == "" {
		r.ContentType = "application/json"
	}
}
