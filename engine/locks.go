package engine

import (
	"context"
	"sync"
	"time"
)

// flagLock is a non-reentrant component lock. Search waits for it (up
// to a bound); maintenance passes try it and skip when already held.
type flagLock struct {
	mu   sync.Mutex
	held bool
}

// TryAcquire takes the lock if free and reports whether it did.
func (l *flagLock) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return false
	}
	l.held = true
	return true
}

// Acquire polls for the lock until timeout.
func (l *flagLock) Acquire(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if l.TryAcquire() {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// Release frees the lock.
func (l *flagLock) Release() {
	l.mu.Lock()
	l.held = false
	l.mu.Unlock()
}
