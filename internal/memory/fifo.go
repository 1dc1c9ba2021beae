package memory

import (
	"context"
	"sync"
)

// fifoLock is a mutex that grants ownership in strict arrival order.
// sync.Mutex makes no fairness guarantee under contention, so writers
// queue explicitly and are woken one at a time.
type fifoLock struct {
	mu      sync.Mutex
	held    bool
	waiters []chan struct{}
}

// Lock blocks until the lock is acquired in arrival order or ctx is
// done. A canceled waiter gives up its place in the queue.
func (l *fifoLock) Lock(ctx context.Context) error {
	l.mu.Lock()
	if !l.held && len(l.waiters) == 0 {
		l.held = true
		l.mu.Unlock()
		return nil
	}
	ready := make(chan struct{})
	l.waiters = append(l.waiters, ready)
	l.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		for i, w := range l.waiters {
			if w == ready {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
				l.mu.Unlock()
				return ctx.Err()
			}
		}
		l.mu.Unlock()
		// The grant raced with cancellation. Ownership was already
		// transferred, so release it before reporting cancellation.
		l.Unlock()
		return ctx.Err()
	}
}

// Unlock releases the lock and wakes the oldest waiter, if any.
func (l *fifoLock) Unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.waiters) == 0 {
		l.held = false
		return
	}
	next := l.waiters[0]
	l.waiters = l.waiters[1:]
	close(next)
}
