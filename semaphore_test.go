package synckit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pkt.systems/synckit/api"
)

func TestSemaphoreBound(t *testing.T) {
	t.Parallel()

	s := NewSemaphore(2)
	ctx := context.Background()
	if err := s.Acquire(ctx); err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	if err := s.Acquire(ctx); err != nil {
		t.Fatalf("acquire 2: %v", err)
	}
	if s.TryAcquire() {
		t.Fatal("tryAcquire beyond permit count should fail")
	}
	s.Release()
	if !s.TryAcquire() {
		t.Fatal("tryAcquire after release should succeed")
	}
}

func TestSemaphoreAcquireNow(t *testing.T) {
	t.Parallel()

	s := NewSemaphore(1)
	if err := s.AcquireNow(); err != nil {
		t.Fatalf("acquire now with free permit: %v", err)
	}
	if err := s.AcquireNow(); !errors.Is(err, api.ErrSemaphoreExhausted) {
		t.Fatalf("expected ErrSemaphoreExhausted, got %v", err)
	}
	s.Release()
	if err := s.AcquireNow(); err != nil {
		t.Fatalf("acquire now after release: %v", err)
	}
}

func TestSemaphoreNeverOverGrants(t *testing.T) {
	t.Parallel()

	const permits = 3
	s := NewSemaphore(permits)
	var inside atomic.Int32
	var peak atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Acquire(context.Background()); err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			n := inside.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			s.Release()
		}()
	}
	wg.Wait()
	if p := peak.Load(); p > permits {
		t.Fatalf("semaphore over-granted: peak %d with %d permits", p, permits)
	}
}

func TestSemaphoreFIFOWakeup(t *testing.T) {
	t.Parallel()

	s := NewSemaphore(1)
	if err := s.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	order := make(chan int, 3)
	for i := 1; i <= 3; i++ {
		i := i
		go func() {
			if err := s.Acquire(context.Background()); err != nil {
				t.Errorf("waiter %d: %v", i, err)
				return
			}
			order <- i
			s.Release()
		}()
		waitFor(t, func() bool { return s.Waiting() == i })
	}

	s.Release()
	for want := 1; want <= 3; want++ {
		select {
		case got := <-order:
			if got != want {
				t.Fatalf("wakeup order: got %d, want %d", got, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("waiter %d never woke", want)
		}
	}
}

func TestSemaphoreAcquireContextCancel(t *testing.T) {
	t.Parallel()

	s := NewSemaphore(1)
	if err := s.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Acquire(ctx) }()
	waitFor(t, func() bool { return s.Waiting() == 1 })
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled acquire never returned")
	}
	if s.Waiting() != 0 {
		t.Fatalf("waiter left half enqueued: %d", s.Waiting())
	}
}

func TestSemaphoreDestroyFailsWaiters(t *testing.T) {
	t.Parallel()

	s := NewSemaphore(1)
	if err := s.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- s.Acquire(context.Background()) }()
	waitFor(t, func() bool { return s.Waiting() == 1 })

	s.Destroy()
	select {
	case err := <-done:
		var shutdown *api.PoolShutdownError
		if !errors.As(err, &shutdown) {
			t.Fatalf("expected PoolShutdownError, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("destroyed semaphore left waiter pending")
	}
	if err := s.Acquire(context.Background()); err == nil {
		t.Fatal("acquire on destroyed semaphore should fail")
	}
	if s.TryAcquire() {
		t.Fatal("tryAcquire on destroyed semaphore should fail")
	}
}

// waitFor polls cond for up to five seconds.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never met")
}
