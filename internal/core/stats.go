package core

import "time"

// KeyStats describes the state of one held key.
type KeyStats struct {
	Key        string
	OwnerID    string
	Priority   int
	HeldFor    time.Duration
	QueueDepth int
	// OldestWait is the wait age of the longest-queued waiter, zero when
	// the queue is empty.
	OldestWait time.Duration
}

// ContentionSnapshot aggregates queue pressure across all keys for the
// diagnostics monitor.
type ContentionSnapshot struct {
	HeldKeys      int
	TotalWaiters  int
	MaxQueueDepth int
	OldestWait    time.Duration
}

// Stats returns per-key lock state, one entry per held key.
func (s *Service) Stats() []KeyStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	out := make([]KeyStats, 0, len(s.locks))
	for _, st := range s.locks {
		ks := KeyStats{
			Key:        st.key,
			OwnerID:    st.ownerID,
			Priority:   st.priority,
			HeldFor:    now.Sub(st.acquiredAt),
			QueueDepth: len(st.waiters),
		}
		for _, w := range st.waiters {
			if age := now.Sub(w.enqueuedAt); age > ks.OldestWait {
				ks.OldestWait = age
			}
		}
		out = append(out, ks)
	}
	return out
}

// Contention condenses Stats into the aggregate view diagnostics samples.
func (s *Service) Contention() ContentionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	snap := ContentionSnapshot{HeldKeys: len(s.locks)}
	for _, st := range s.locks {
		snap.TotalWaiters += len(st.waiters)
		if len(st.waiters) > snap.MaxQueueDepth {
			snap.MaxQueueDepth = len(st.waiters)
		}
		for _, w := range st.waiters {
			if age := now.Sub(w.enqueuedAt); age > snap.OldestWait {
				snap.OldestWait = age
			}
		}
	}
	return snap
}
