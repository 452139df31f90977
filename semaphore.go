package synckit

import (
	"context"
	"sync"

	"pkt.systems/synckit/api"
)

// Semaphore is a counting semaphore with a FIFO waiter queue. A released
// permit is handed directly to the longest-waiting acquirer, so waiters are
// never starved by bargers.
type Semaphore struct {
	mu        sync.Mutex
	permits   int
	available int
	waiters   []*semWaiter
	destroyed bool
}

type semWaiter struct {
	// ready receives nil on grant or the destruction error. Buffered so the
	// granting side never blocks.
	ready chan error
}

// NewSemaphore constructs a semaphore with permits > 0.
func NewSemaphore(permits int) *Semaphore {
	if permits <= 0 {
		panic("synckit: semaphore permits must be > 0")
	}
	return &Semaphore{permits: permits, available: permits}
}

// Acquire blocks until a permit is available or ctx is done. Waiters are
// served in arrival order.
func (s *Semaphore) Acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return &api.PoolShutdownError{Primitive: "semaphore"}
	}
	if s.available > 0 && len(s.waiters) == 0 {
		s.available--
		s.mu.Unlock()
		return nil
	}
	w := &semWaiter{ready: make(chan error, 1)}
	s.waiters = append(s.waiters, w)
	s.mu.Unlock()

	select {
	case err := <-w.ready:
		return err
	case <-ctx.Done():
		s.mu.Lock()
		for i, q := range s.waiters {
			if q == w {
				s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
				s.mu.Unlock()
				return ctx.Err()
			}
		}
		s.mu.Unlock()
		// The permit was handed over concurrently with cancellation; take
		// the delivered outcome so the permit is not lost.
		if err := <-w.ready; err != nil {
			return err
		}
		s.Release()
		return ctx.Err()
	}
}

// TryAcquire takes a permit only when one is immediately available,
// reporting success without ever blocking.
func (s *Semaphore) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed || s.available == 0 || len(s.waiters) > 0 {
		return false
	}
	s.available--
	return true
}

// AcquireNow is the error-returning form of TryAcquire for callers that
// propagate the refusal. It returns api.ErrSemaphoreExhausted when no
// permit is immediately available.
func (s *Semaphore) AcquireNow() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return &api.PoolShutdownError{Primitive: "semaphore"}
	}
	if s.available == 0 || len(s.waiters) > 0 {
		return api.ErrSemaphoreExhausted
	}
	s.available--
	return nil
}

// Release returns a permit, waking the longest-waiting acquirer if any.
// Releasing beyond the permit count is a no-op at the cap.
func (s *Semaphore) Release() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	if len(s.waiters) > 0 {
		w := s.waiters[0]
		s.waiters = s.waiters[1:]
		s.mu.Unlock()
		w.ready <- nil
		return
	}
	if s.available < s.permits {
		s.available++
	}
	s.mu.Unlock()
}

// Available returns the number of immediately grantable permits.
func (s *Semaphore) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

// Waiting returns the number of queued acquirers.
func (s *Semaphore) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiters)
}

// Destroy fails all pending waiters and rejects future operations.
func (s *Semaphore) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()
	for _, w := range waiters {
		w.ready <- &api.PoolShutdownError{Primitive: "semaphore"}
	}
}
