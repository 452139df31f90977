package synckit

import (
	"context"
	"sync"
)

// Latch is a one-shot countdown gate. Waiters are released exactly when the
// count reaches zero; the open state is terminal and idempotent, so late
// arrivals return immediately.
type Latch struct {
	mu    sync.Mutex
	count int64
	done  chan struct{}
}

// NewLatch constructs a latch. A count of zero or less is born open.
func NewLatch(count int64) *Latch {
	l := &Latch{count: count, done: make(chan struct{})}
	if count <= 0 {
		l.count = 0
		close(l.done)
	}
	return l
}

// CountDown decrements the count. Decrementing below zero is a no-op. The
// transition to zero releases all waiters.
func (l *Latch) CountDown() {
	l.mu.Lock()
	if l.count > 0 {
		l.count--
		if l.count == 0 {
			close(l.done)
		}
	}
	l.mu.Unlock()
}

// Await blocks until the count reaches zero or ctx is done.
func (l *Latch) Await(ctx context.Context) error {
	select {
	case <-l.done:
		return nil
	default:
	}
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Count returns the remaining count without blocking.
func (l *Latch) Count() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}
