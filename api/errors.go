// Package api defines the shared error taxonomy and event contract of the
// coordination kernel. Callers match errors with errors.Is / errors.As and
// consume events through the kernel's subscription feed.
package api

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrSemaphoreExhausted is returned by TryAcquire when no permit is
// immediately available. It is an expected control-flow signal, not a fault.
var ErrSemaphoreExhausted = errors.New("semaphore: no permits available")

// LockTimeoutError indicates a waiter exceeded its deadline before the lock
// was granted. The request was removed from the wait queue; retrying is safe.
type LockTimeoutError struct {
	// Key is the contested resource key.
	Key string
	// Waited is how long the request spent enqueued.
	Waited time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("lock timeout: %s after %s", e.Key, e.Waited)
}

func (e *LockTimeoutError) retryable() bool { return true }

// LockNotOwnedError indicates a release with a lock ID that does not match
// the current owner. This is a caller bug and is not retryable.
type LockNotOwnedError struct {
	Key    string
	LockID string
}

func (e *LockNotOwnedError) Error() string {
	return fmt.Sprintf("lock not owned: %s (lock id %s)", e.Key, e.LockID)
}

// DeadlockDetectedError indicates the waiter was preempted to break a
// wait-for cycle. The cycle is reported for observability; retrying is safe.
type DeadlockDetectedError struct {
	// Key is the resource the preempted waiter was queued on.
	Key string
	// Cycle lists the owner identities that formed the resolved cycle.
	Cycle []string
}

func (e *DeadlockDetectedError) Error() string {
	if len(e.Cycle) == 0 {
		return fmt.Sprintf("deadlock detected: preempted waiter on %s", e.Key)
	}
	return fmt.Sprintf("deadlock detected: preempted waiter on %s (cycle %s)", e.Key, strings.Join(e.Cycle, " -> "))
}

func (e *DeadlockDetectedError) retryable() bool { return true }

// ForcedReleaseError indicates the lock or pending request was cancelled by
// an emergency release-all. Retrying is safe once the kernel is healthy.
type ForcedReleaseError struct {
	Key string
}

func (e *ForcedReleaseError) Error() string {
	return fmt.Sprintf("forced release: %s", e.Key)
}

func (e *ForcedReleaseError) retryable() bool { return true }

// PoolShutdownError indicates the primitive was destroyed while the request
// was pending. The primitive is gone; the error is not retryable.
type PoolShutdownError struct {
	// Primitive names the destroyed primitive (pool, semaphore, barrier...).
	Primitive string
}

func (e *PoolShutdownError) Error() string {
	return fmt.Sprintf("%s: destroyed", e.Primitive)
}

// Retryable reports whether the error represents a transient coordination
// failure that the caller may retry (timeouts, preemptions, forced releases).
func Retryable(err error) bool {
	var r interface{ retryable() bool }
	if errors.As(err, &r) {
		return r.retryable()
	}
	return false
}
