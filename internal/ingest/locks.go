package ingest

import (
	"context"
	"sync"
)

// lockMap serializes builds per content fingerprint. Acquire blocks until
// the key is free or the context is done.
type lockMap struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func newLockMap() *lockMap {
	return &lockMap{held: make(map[string]chan struct{})}
}

// Acquire takes the lock for key, waiting for the current holder if any.
func (l *lockMap) Acquire(ctx context.Context, key string) error {
	for {
		l.mu.Lock()
		ch, ok := l.held[key]
		if !ok {
			l.held[key] = make(chan struct{})
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Release frees the lock for key and wakes all waiters.
func (l *lockMap) Release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ch, ok := l.held[key]; ok {
		delete(l.held, key)
		close(ch)
	}
}
