package core

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"

	"pkt.systems/pslog"
	"pkt.systems/synckit/api"
)

// AcquireCommand describes one acquire request.
type AcquireCommand struct {
	// Key names the logical resource. Required.
	Key string
	// Owner identifies the logical operation requesting the lock. Required;
	// it is the node identity in the wait-for graph.
	Owner string
	// Priority orders waiters; higher values are granted first.
	Priority int
	// Timeout bounds the wait. Zero selects the configured default;
	// negative means fail immediately when the key is held.
	Timeout time.Duration
}

// AcquireResult reports a granted lock.
type AcquireResult struct {
	Key        string
	LockID     string
	Owner      string
	AcquiredAt time.Time
	Waited     time.Duration
}

var (
	errMissingKey   = errors.New("acquire: key is required")
	errMissingOwner = errors.New("acquire: owner is required")
)

// Acquire obtains the named lock, blocking until grant, deadline, context
// cancellation, or deadlock preemption.
func (s *Service) Acquire(ctx context.Context, cmd AcquireCommand) (*AcquireResult, error) {
	if cmd.Key == "" {
		return nil, errMissingKey
	}
	if cmd.Owner == "" {
		return nil, errMissingOwner
	}
	logger := pslog.LoggerFromContext(ctx)
	if logger == nil {
		logger = s.logger
	}

	s.mu.Lock()
	now := s.clock.Now()
	st := s.locks[cmd.Key]
	if st == nil {
		st = &lockState{
			key:        cmd.Key,
			ownerID:    cmd.Owner,
			lockID:     uuid.NewString(),
			priority:   cmd.Priority,
			acquiredAt: now,
		}
		s.locks[cmd.Key] = st
		result := &AcquireResult{
			Key:        cmd.Key,
			LockID:     st.lockID,
			Owner:      cmd.Owner,
			AcquiredAt: now,
		}
		s.mu.Unlock()
		logger.Debug("lock.acquire.granted", "key", cmd.Key, "owner", cmd.Owner, "lock_id", result.LockID)
		if s.metrics != nil {
			s.metrics.LockGranted(0)
		}
		s.emit(api.Event{Type: api.EventLockGranted, At: now, Payload: api.LockGrantedPayload{
			Key:     cmd.Key,
			OwnerID: cmd.Owner,
			LockID:  result.LockID,
		}})
		return result, nil
	}

	if cmd.Timeout < 0 {
		s.mu.Unlock()
		logger.Debug("lock.acquire.nowait_contended", "key", cmd.Key, "owner", cmd.Owner)
		if s.metrics != nil {
			s.metrics.LockTimeout()
		}
		return nil, &api.LockTimeoutError{Key: cmd.Key}
	}

	w := &waiter{
		id:         xid.New().String(),
		key:        cmd.Key,
		ownerID:    cmd.Owner,
		priority:   cmd.Priority,
		enqueuedAt: now,
		grant:      make(chan grantOutcome, 1),
	}
	st.waiters = insertWaiter(st.waiters, w)
	s.graph.AddEdge(w.ownerID, st.ownerID)
	// Detection runs inline on every enqueue so cycles are transient.
	s.resolveDeadlocksLocked()
	s.mu.Unlock()

	logger.Debug("lock.acquire.enqueued",
		"key", cmd.Key,
		"owner", cmd.Owner,
		"priority", cmd.Priority,
		"waiter_id", w.id,
	)

	timeout := cmd.Timeout
	if timeout == 0 {
		timeout = s.defaultTimeout
	}
	select {
	case out := <-w.grant:
		return s.finishWait(w, out)
	case <-ctx.Done():
		return s.abandonWait(logger, w, ctx.Err(), false)
	case <-s.clock.After(timeout):
		return s.abandonWait(logger, w, nil, true)
	}
}

// finishWait converts a delivered grant outcome into the caller result.
func (s *Service) finishWait(w *waiter, out grantOutcome) (*AcquireResult, error) {
	if out.err != nil {
		return nil, out.err
	}
	return &AcquireResult{
		Key:        w.key,
		LockID:     out.lockID,
		Owner:      w.ownerID,
		AcquiredAt: out.acquiredAt,
		Waited:     out.acquiredAt.Sub(w.enqueuedAt),
	}, nil
}

// abandonWait removes w from its queue after a deadline or cancellation. If
// the grant raced ahead of the timer the grant wins and is returned instead.
func (s *Service) abandonWait(logger pslog.Logger, w *waiter, cause error, timedOut bool) (*AcquireResult, error) {
	s.mu.Lock()
	st := s.locks[w.key]
	removed := false
	if st != nil {
		st.waiters, removed = removeWaiter(st.waiters, w)
		if removed {
			s.graph.RemoveEdge(w.ownerID, st.ownerID)
		}
	}
	s.mu.Unlock()

	if !removed {
		// The outcome was already delivered while we were timing out; the
		// channel is buffered so this read never blocks.
		return s.finishWait(w, <-w.grant)
	}

	waited := s.clock.Now().Sub(w.enqueuedAt)
	if timedOut {
		logger.Debug("lock.acquire.timeout", "key", w.key, "owner", w.ownerID, "waited", waited)
		if s.metrics != nil {
			s.metrics.LockTimeout()
		}
		s.emit(api.Event{Type: api.EventLockTimeout, At: s.clock.Now(), Payload: api.LockTimeoutPayload{
			Key:     w.key,
			OwnerID: w.ownerID,
			Waited:  waited,
		}})
		return nil, &api.LockTimeoutError{Key: w.key, Waited: waited}
	}
	logger.Debug("lock.acquire.cancelled", "key", w.key, "owner", w.ownerID, "waited", waited)
	return nil, cause
}

// ReleaseCommand identifies the lock to release.
type ReleaseCommand struct {
	Key    string
	LockID string
}

// Release drops ownership. When waiters exist the head of the queue is
// granted directly, without passing through the unlocked state.
func (s *Service) Release(cmd ReleaseCommand) error {
	s.mu.Lock()
	st := s.locks[cmd.Key]
	if st == nil || st.lockID != cmd.LockID {
		s.mu.Unlock()
		return &api.LockNotOwnedError{Key: cmd.Key, LockID: cmd.LockID}
	}
	released := st.ownerID
	if len(st.waiters) == 0 {
		delete(s.locks, cmd.Key)
		s.mu.Unlock()
		s.logger.Debug("lock.release.unlocked", "key", cmd.Key, "owner", released)
		return nil
	}
	head := st.waiters[0]
	st.waiters = st.waiters[1:]
	s.grantLocked(st, head)
	s.mu.Unlock()
	s.logger.Debug("lock.release.handoff", "key", cmd.Key, "owner", released, "next_owner", head.ownerID)
	return nil
}

// grantLocked transfers ownership of st to w and repoints the wait-for edges
// of the remaining waiters at the new owner. Callers hold s.mu.
func (s *Service) grantLocked(st *lockState, w *waiter) {
	oldOwner := st.ownerID
	now := s.clock.Now()
	st.ownerID = w.ownerID
	st.lockID = uuid.NewString()
	st.priority = w.priority
	st.acquiredAt = now

	s.graph.RemoveEdge(w.ownerID, oldOwner)
	for _, q := range st.waiters {
		s.graph.RemoveEdge(q.ownerID, oldOwner)
		s.graph.AddEdge(q.ownerID, st.ownerID)
	}

	waited := now.Sub(w.enqueuedAt)
	w.grant <- grantOutcome{lockID: st.lockID, acquiredAt: now}
	if s.metrics != nil {
		s.metrics.LockGranted(waited)
	}
	s.emit(api.Event{Type: api.EventLockGranted, At: now, Payload: api.LockGrantedPayload{
		Key:     st.key,
		OwnerID: st.ownerID,
		LockID:  st.lockID,
		Waited:  waited,
	}})
}

// ReleaseAll forcibly unlocks every key and fails all waiters. It is the
// emergency escape hatch used by diagnostics recovery. The count of released
// holders is returned.
func (s *Service) ReleaseAll() int {
	s.mu.Lock()
	released := 0
	for key, st := range s.locks {
		for _, w := range st.waiters {
			w.grant <- grantOutcome{err: &api.ForcedReleaseError{Key: key}}
		}
		st.waiters = nil
		released++
		delete(s.locks, key)
	}
	s.graph.Reset()
	s.mu.Unlock()

	if released > 0 {
		s.logger.Warn("lock.release_all", "released", released)
	}
	if s.metrics != nil {
		s.metrics.ForcedRelease(released)
	}
	return released
}

// resolveDeadlocksLocked breaks every cycle currently present by preempting
// the waiter with the lowest priority, preferring the most recently enqueued
// among equals (least sunk waiting cost). Callers hold s.mu.
func (s *Service) resolveDeadlocksLocked() {
	for {
		cycle := s.graph.FindCycle()
		if cycle == nil {
			return
		}
		// A candidate must sit on a cycle edge proper: its owner must wait
		// for the cycle successor of that owner. A chord between two cycle
		// members does not qualify; preempting it would leave the cycle
		// intact.
		succ := make(map[string]string, len(cycle))
		for i, id := range cycle {
			succ[id] = cycle[(i+1)%len(cycle)]
		}

		var victim *waiter
		var victimState *lockState
		for _, st := range s.locks {
			for _, w := range st.waiters {
				if succ[w.ownerID] != st.ownerID {
					continue
				}
				if victim == nil ||
					w.priority < victim.priority ||
					(w.priority == victim.priority && w.enqueuedAt.After(victim.enqueuedAt)) {
					victim = w
					victimState = st
				}
			}
		}
		if victim == nil {
			// No queued waiter maps onto the cycle; the graph has drifted
			// from queue state. Rebuild rather than spin.
			s.logger.Error("deadlock.cycle_without_waiter", "cycle", cycle)
			s.rebuildGraphLocked()
			return
		}

		victimState.waiters, _ = removeWaiter(victimState.waiters, victim)
		s.graph.RemoveEdge(victim.ownerID, victimState.ownerID)
		victim.grant <- grantOutcome{err: &api.DeadlockDetectedError{Key: victimState.key, Cycle: cycle}}

		s.logger.Warn("deadlock.resolved",
			"key", victimState.key,
			"victim", victim.ownerID,
			"cycle", cycle,
		)
		if s.metrics != nil {
			s.metrics.DeadlockResolved()
		}
		s.emit(api.Event{Type: api.EventDeadlockResolved, At: s.clock.Now(), Payload: api.DeadlockResolvedPayload{
			Cycle:    cycle,
			VictimID: victim.ownerID,
			Key:      victimState.key,
		}})
	}
}

// rebuildGraphLocked reconstructs the wait-for graph from queue state.
func (s *Service) rebuildGraphLocked() {
	s.graph.Reset()
	for _, st := range s.locks {
		for _, w := range st.waiters {
			s.graph.AddEdge(w.ownerID, st.ownerID)
		}
	}
}
