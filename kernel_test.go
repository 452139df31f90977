package synckit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"pkt.systems/synckit/api"
)

// newTestKernel builds a kernel with background loops disabled so tests
// control all timing.
func newTestKernel(t *testing.T) *Kernel {
	t.Helper()
	k, err := New(Config{
		DetectInterval: -1,
		HealthInterval: -1,
	})
	if err != nil {
		t.Fatalf("new kernel: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := k.Shutdown(ctx); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})
	return k
}

func TestKernelAcquireReleaseRoundTrip(t *testing.T) {
	t.Parallel()

	k := newTestKernel(t)
	lock, err := k.Acquire(context.Background(), "invoice-7")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if lock.Key != "invoice-7" || lock.LockID == "" || lock.Owner == "" {
		t.Fatalf("incomplete lock: %+v", lock)
	}
	if lock.Waited != 0 {
		t.Fatalf("uncontested acquire should not wait: %s", lock.Waited)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	var notOwned *api.LockNotOwnedError
	if err := lock.Release(); !errors.As(err, &notOwned) {
		t.Fatalf("double release: expected LockNotOwnedError, got %v", err)
	}
	if c := k.Counters(); c.LocksGranted != 1 {
		t.Fatalf("expected 1 granted, counters %+v", c)
	}
}

func TestKernelNoWaitContention(t *testing.T) {
	t.Parallel()

	k := newTestKernel(t)
	held, err := k.Acquire(context.Background(), "ledger")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer held.Release()

	_, err = k.Acquire(context.Background(), "ledger", WithTimeout(NoWait))
	var timeout *api.LockTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected LockTimeoutError, got %v", err)
	}
	if !api.Retryable(err) {
		t.Fatal("lock timeout should be retryable")
	}
	if c := k.Counters(); c.LockTimeouts != 1 {
		t.Fatalf("expected 1 timeout, counters %+v", c)
	}
}

func TestKernelEventFeed(t *testing.T) {
	t.Parallel()

	k := newTestKernel(t)
	events, cancel := k.Subscribe(16)
	defer cancel()

	lock, err := k.Acquire(context.Background(), "feed-key")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	lock.Release()

	select {
	case evt := <-events:
		if evt.Type != api.EventLockGranted {
			t.Fatalf("expected %s, got %s", api.EventLockGranted, evt.Type)
		}
		payload, ok := evt.Payload.(api.LockGrantedPayload)
		if !ok {
			t.Fatalf("unexpected payload type %T", evt.Payload)
		}
		if payload.Key != "feed-key" {
			t.Fatalf("unexpected payload: %+v", payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no grant event delivered")
	}
}

type recordingObserver struct {
	ch chan api.Event
}

func (o *recordingObserver) HandleEvent(evt api.Event) { o.ch <- evt }

func TestKernelObserverReceivesDeadlockResolution(t *testing.T) {
	t.Parallel()

	k := newTestKernel(t)
	obs := &recordingObserver{ch: make(chan api.Event, 32)}
	k.AddObserver(obs)

	lockA, err := k.Acquire(context.Background(), "res-a", WithOwner("op-1"))
	if err != nil {
		t.Fatalf("acquire res-a: %v", err)
	}
	lockB, err := k.Acquire(context.Background(), "res-b", WithOwner("op-2"))
	if err != nil {
		t.Fatalf("acquire res-b: %v", err)
	}
	defer lockA.Release()
	defer lockB.Release()

	crossErr := make(chan error, 1)
	go func() {
		l, err := k.Acquire(context.Background(), "res-b", WithOwner("op-1"))
		if err == nil {
			l.Release()
		}
		crossErr <- err
	}()
	waitFor(t, func() bool {
		for _, st := range k.LockStats() {
			if st.Key == "res-b" && st.QueueDepth == 1 {
				return true
			}
		}
		return false
	})

	// Closing the cycle preempts one of the two waiters immediately.
	_, err = k.Acquire(context.Background(), "res-a", WithOwner("op-2"))
	errs := []error{err}
	if err == nil {
		errs[0] = <-crossErr
	}
	var deadlock *api.DeadlockDetectedError
	if !errors.As(errs[0], &deadlock) {
		t.Fatalf("expected DeadlockDetectedError, got %v", errs[0])
	}
	if len(deadlock.Cycle) == 0 {
		t.Fatal("deadlock error carries no cycle")
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case evt := <-obs.ch:
			if evt.Type != api.EventDeadlockResolved {
				continue
			}
			payload, ok := evt.Payload.(api.DeadlockResolvedPayload)
			if !ok {
				t.Fatalf("unexpected payload type %T", evt.Payload)
			}
			if payload.VictimID == "" || len(payload.Cycle) == 0 {
				t.Fatalf("incomplete payload: %+v", payload)
			}
			if c := k.Counters(); c.DeadlocksResolved != 1 {
				t.Fatalf("expected 1 resolved deadlock, counters %+v", c)
			}
			return
		case <-deadline:
			t.Fatal("no deadlock:resolved event delivered")
		}
	}
}

func TestKernelPerformRecovery(t *testing.T) {
	t.Parallel()

	k := newTestKernel(t)
	if _, err := k.Acquire(context.Background(), "stuck-1"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := k.Acquire(context.Background(), "stuck-2"); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	p := k.NewPool(1, 1, WithQueueDepth(8))
	release := make(chan struct{})
	p.Submit(context.Background(), func(ctx context.Context) error {
		<-release
		return nil
	})
	waitFor(t, func() bool { return p.Stats().Active == 1 })
	backlogged := p.Submit(context.Background(), func(ctx context.Context) error { return nil })
	waitFor(t, func() bool { return p.Stats().Queued == 1 })
	defer close(release)

	payload := k.PerformRecovery()
	if !payload.Manual {
		t.Fatal("recovery not marked manual")
	}
	if payload.ReleasedLocks != 2 {
		t.Fatalf("expected 2 released locks, got %d", payload.ReleasedLocks)
	}
	if payload.ClearedTasks != 1 {
		t.Fatalf("expected 1 cleared task, got %d", payload.ClearedTasks)
	}
	var forced *api.ForcedReleaseError
	if err := <-backlogged; !errors.As(err, &forced) {
		t.Fatalf("backlogged task: expected ForcedReleaseError, got %v", err)
	}
	if c := k.Counters(); c != (Counters{}) {
		t.Fatalf("counters not reset: %+v", c)
	}
	// Both keys must be free again.
	for _, key := range []string{"stuck-1", "stuck-2"} {
		lock, err := k.Acquire(context.Background(), key, WithTimeout(NoWait))
		if err != nil {
			t.Fatalf("key %s still held after recovery: %v", key, err)
		}
		lock.Release()
	}
}

func TestKernelShutdownFailsWaiters(t *testing.T) {
	t.Parallel()

	k, err := New(Config{DetectInterval: -1, HealthInterval: -1})
	if err != nil {
		t.Fatalf("new kernel: %v", err)
	}
	if _, err := k.Acquire(context.Background(), "teardown"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	waitErr := make(chan error, 1)
	go func() {
		_, err := k.Acquire(context.Background(), "teardown")
		waitErr <- err
	}()
	waitFor(t, func() bool {
		for _, st := range k.LockStats() {
			if st.Key == "teardown" && st.QueueDepth == 1 {
				return true
			}
		}
		return false
	})

	sem := k.NewSemaphore(1)
	if err := sem.Acquire(context.Background()); err != nil {
		t.Fatalf("semaphore acquire: %v", err)
	}
	semErr := make(chan error, 1)
	go func() { semErr <- sem.Acquire(context.Background()) }()
	waitFor(t, func() bool { return sem.Waiting() == 1 })

	events, cancel := k.Subscribe(4)
	defer cancel()

	ctx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := k.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	var forced *api.ForcedReleaseError
	if err := <-waitErr; !errors.As(err, &forced) {
		t.Fatalf("lock waiter: expected ForcedReleaseError, got %v", err)
	}
	var poolShutdown *api.PoolShutdownError
	if err := <-semErr; !errors.As(err, &poolShutdown) {
		t.Fatalf("semaphore waiter: expected PoolShutdownError, got %v", err)
	}
	// The bus closes with the kernel.
	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected closed event channel")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("event channel not closed on shutdown")
	}
	// Shutdown is idempotent.
	if err := k.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}

func TestKernelMetricsRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	k, err := New(Config{
		DetectInterval:    -1,
		HealthInterval:    -1,
		MetricsRegisterer: reg,
	})
	if err != nil {
		t.Fatalf("new kernel: %v", err)
	}
	defer k.Shutdown(context.Background())

	lock, err := k.Acquire(context.Background(), "metered")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	lock.Release()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, fam := range families {
		if fam.GetName() == "synckit_locks_granted_total" {
			found = true
			if v := fam.GetMetric()[0].GetCounter().GetValue(); v != 1 {
				t.Fatalf("expected 1 granted in prometheus, got %v", v)
			}
		}
	}
	if !found {
		t.Fatal("synckit_locks_granted_total not registered")
	}
}
