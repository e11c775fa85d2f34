package cache

import (
	"context"
	"crypto/rand"
	_ "embed"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/lock"
	"lotledger/pkg/logger"
)

//go:embed release_lock.lua
var releaseLockLua string

var releaseScript = redis.NewScript(releaseLockLua)

// Lock lease and polling defaults.
const (
	DefaultLockTTL      = 30 * time.Second
	DefaultPollInterval = 10 * time.Millisecond
)

// RedisLocker is a lock.Locker shared by every process using the same Redis.
// A lock is a key holding a random owner token; it expires after the lease
// so a crashed holder cannot block the product forever.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	poll   time.Duration
}

// LockerOption configures a RedisLocker.
type LockerOption func(*RedisLocker)

// WithLeaseTTL sets how long an unreleased lock survives.
func WithLeaseTTL(ttl time.Duration) LockerOption {
	return func(l *RedisLocker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithPollInterval sets the wait between acquisition attempts.
func WithPollInterval(d time.Duration) LockerOption {
	return func(l *RedisLocker) {
		if d > 0 {
			l.poll = d
		}
	}
}

// NewRedisLocker creates a locker on client.
func NewRedisLocker(client *redis.Client, opts ...LockerOption) *RedisLocker {
	l := &RedisLocker{client: client, ttl: DefaultLockTTL, poll: DefaultPollInterval}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire implements lock.Locker.
func (l *RedisLocker) Acquire(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	token, err := newToken()
	if err != nil {
		return nil, apperror.NewInternal(err)
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, apperror.NewTimeout("lock " + key).WithCause(ctx.Err())
			}
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return l.releaser(key, token), nil
		}

		select {
		case <-ticker.C:
		case <-deadline:
			return nil, apperror.NewTimeout("lock " + key)
		case <-ctx.Done():
			return nil, apperror.NewTimeout("lock " + key).WithCause(ctx.Err())
		}
	}
}

// releaser deletes the key only while it still holds token, so a holder
// whose lease expired never frees someone else's lock.
func (l *RedisLocker) releaser(key, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			n, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int()
			switch {
			case err != nil:
				logger.Warn(ctx, "lock release failed", "key", key, "error", err)
			case n == 0:
				logger.Warn(ctx, "lock lease expired before release", "key", key)
			}
		})
	}
}

func newToken() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate lock token: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

var _ lock.Locker = (*RedisLocker)(nil)
