package synckit

import (
	"context"
	"time"

	"github.com/rs/xid"

	"pkt.systems/synckit/internal/core"
)

// NoWait, passed to WithTimeout, fails the acquire immediately when the key
// is already held instead of queueing.
const NoWait = time.Duration(-1)

// AcquireOption customises one lock acquire.
type AcquireOption func(*core.AcquireCommand)

// WithTimeout bounds the wait. Zero selects Config.AcquireTimeout; NoWait
// fails immediately on contention.
func WithTimeout(d time.Duration) AcquireOption {
	return func(cmd *core.AcquireCommand) {
		cmd.Timeout = d
	}
}

// WithPriority orders waiters; higher values are granted first. Equal
// priorities are served in arrival order.
func WithPriority(p int) AcquireOption {
	return func(cmd *core.AcquireCommand) {
		cmd.Priority = p
	}
}

// WithOwner sets the logical operation identity used as the node in the
// wait-for graph. Operations that hold one lock while acquiring another
// must use a stable owner so cycles are attributable. Defaults to a fresh
// unique identity per acquire.
func WithOwner(id string) AcquireOption {
	return func(cmd *core.AcquireCommand) {
		cmd.Owner = id
	}
}

// Lock is a granted named lock.
type Lock struct {
	kernel *Kernel
	// Key is the locked resource key.
	Key string
	// LockID authenticates the release.
	LockID string
	// Owner is the holder's logical identity.
	Owner string
	// AcquiredAt is when ownership was granted.
	AcquiredAt time.Time
	// Waited is how long the request spent queued, zero for immediate
	// grants.
	Waited time.Duration
}

// Acquire obtains the named lock, blocking until grant, deadline, context
// cancellation, or deadlock preemption. Failures are typed: see the api
// package; api.Retryable reports which are safe to retry.
func (k *Kernel) Acquire(ctx context.Context, key string, opts ...AcquireOption) (*Lock, error) {
	cmd := core.AcquireCommand{Key: key}
	for _, opt := range opts {
		opt(&cmd)
	}
	if cmd.Owner == "" {
		cmd.Owner = xid.New().String()
	}
	res, err := k.locks.Acquire(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return &Lock{
		kernel:     k,
		Key:        res.Key,
		LockID:     res.LockID,
		Owner:      res.Owner,
		AcquiredAt: res.AcquiredAt,
		Waited:     res.Waited,
	}, nil
}

// Release drops the lock, handing it to the head waiter when one exists. A
// stale or already-released lock yields an api.LockNotOwnedError.
func (l *Lock) Release() error {
	return l.kernel.locks.Release(core.ReleaseCommand{Key: l.Key, LockID: l.LockID})
}

// ReleaseAll forcibly unlocks every key and fails all waiters with
// api.ForcedReleaseError. Emergency use; returns the number of released
// holders.
func (k *Kernel) ReleaseAll() int {
	return k.locks.ReleaseAll()
}
