// Package lock implements the per-account in-flight guard that keeps two
// transfers from the same source account from running at once.
package lock

import (
	"context"
	"fmt"
	"sync"

	"github.com/iho/ledgerbridge/internal/domain"
)

// Local is an in-process keyed lock. It only serializes transfers handled by
// this process; multi-instance deployments use Redis.
type Local struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

// NewLocal creates an empty in-process lock table.
func NewLocal() *Local {
	return &Local{held: make(map[string]chan struct{})}
}

// Lock blocks until key is free or ctx is done.
func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	for {
		l.mu.Lock()
		busy, ok := l.held[key]
		if !ok {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()
			return l.releaser(key, done), nil
		}
		l.mu.Unlock()

		select {
		case <-busy:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", domain.ErrLockNotAcquired, ctx.Err())
		}
	}
}

// Held reports how many keys are currently locked.
func (l *Local) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}

func (l *Local) releaser(key string, done chan struct{}) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
			close(done)
		})
	}
}
