// Package lock provides keyed mutual exclusion with bounded acquisition time.
package lock

import (
	"context"
	"sync"
	"time"

	"lotledger/internal/core/apperror"
)

// Locker serializes work per key.
// Acquire blocks until the key is free, ctx is done, or timeout elapses.
// The returned release func must be called exactly once.
type Locker interface {
	Acquire(ctx context.Context, key string, timeout time.Duration) (func(), error)
}

// KeyedMutex is an in-process Locker.
// Each key maps to a one-slot channel; entries are dropped once no goroutine holds or waits on them.
type KeyedMutex struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{slots: make(map[string]*slot)}
}

// Acquire implements Locker.
func (m *KeyedMutex) Acquire(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	s := m.ref(key)

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case s.ch <- struct{}{}:
	case <-timer:
		m.unref(key)
		return nil, apperror.NewTimeout("lock " + key)
	case <-ctx.Done():
		m.unref(key)
		return nil, apperror.NewTimeout("lock " + key).WithCause(ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			m.unref(key)
		})
	}, nil
}

func (m *KeyedMutex) ref(key string) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		m.slots[key] = s
	}
	s.refs++
	return s
}

func (m *KeyedMutex) unref(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.slots[key]
	s.refs--
	if s.refs == 0 {
		delete(m.slots, key)
	}
}

// ProductKey returns the lock key guarding a product's batches.
func ProductKey(productID string) string {
	return "lotledger:lock:product:" + productID
}
