// Package synckit is an in-process coordination kernel for logical
// operations: named exclusive locks with priority-ordered waiters and
// deadline handling, counting semaphores, cyclic barriers, countdown
// latches, elastic worker pools, a sliding-window race detector, and a
// diagnostics monitor with automatic recovery.
//
// Locks are keyed by opaque strings, not memory addresses, so unrelated
// subsystems can coordinate on shared logical resources. The kernel feeds
// every enqueue, grant, and release into a wait-for graph; cycles are
// detected on enqueue and on a periodic sweep and broken by preempting the
// lowest-priority waiter, which makes deadlocks self-healing. Preempted and
// timed-out callers receive typed, retryable errors from the api package.
//
// All state belongs to an explicit Kernel instance:
//
//	k, err := synckit.New(synckit.Config{})
//	if err != nil { ... }
//	defer k.Shutdown(context.Background())
//
//	lock, err := k.Acquire(ctx, "orders/1042",
//		synckit.WithOwner("worker-7"),
//		synckit.WithTimeout(time.Second))
//	if err != nil { ... }
//	defer lock.Release()
//
// Diagnostic events (lock:granted, deadlock:resolved, health:alert, ...)
// are published on a non-blocking subscription feed; see Kernel.Subscribe.
package synckit
