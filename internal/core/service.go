// Package core implements the named-lock state machine: per-key mutual
// exclusion with priority-ordered wait queues, deadline handling, and
// cycle-based deadlock resolution over the shared wait-for graph.
package core

import (
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/synckit/api"
	"pkt.systems/synckit/internal/clock"
	"pkt.systems/synckit/internal/loggingutil"
	"pkt.systems/synckit/internal/waitgraph"
)

// EventSink receives diagnostic events emitted by the lock manager. Emit must
// not block; the kernel's event bus drops on slow subscribers.
type EventSink interface {
	Emit(api.Event)
}

// MetricsRecorder counts lock manager outcomes. The kernel wires a
// prometheus-backed implementation; a nil recorder disables counting.
type MetricsRecorder interface {
	LockGranted(waited time.Duration)
	LockTimeout()
	DeadlockResolved()
	ForcedRelease(released int)
}

// Config carries the lock manager dependencies and tunables.
type Config struct {
	// Logger receives structured lifecycle logs. Nil disables logging.
	Logger pslog.Logger
	// Clock drives deadlines and the detection interval. Nil selects the
	// real clock.
	Clock clock.Clock
	// Events receives lock:granted, lock:timeout and deadlock:resolved
	// events. Nil disables the feed.
	Events EventSink
	// Metrics counts outcomes. Nil disables counting.
	Metrics MetricsRecorder
	// DefaultTimeout bounds acquires that do not specify a deadline.
	DefaultTimeout time.Duration
	// DetectInterval is the periodic deadlock sweep cadence. Detection also
	// runs inline on every enqueue; the sweep catches edges added while a
	// previous resolution was in flight. Zero disables the sweep.
	DetectInterval time.Duration
}

// Service owns all per-key lock state and the wait-for graph.
type Service struct {
	mu    sync.Mutex
	locks map[string]*lockState
	graph *waitgraph.Graph

	logger         pslog.Logger
	clock          clock.Clock
	events         EventSink
	metrics        MetricsRecorder
	defaultTimeout time.Duration
	detectInterval time.Duration

	stopOnce sync.Once
	stopped  chan struct{}
	sweeper  sync.WaitGroup
}

type lockState struct {
	key        string
	ownerID    string
	lockID     string
	priority   int
	acquiredAt time.Time
	// waiters is kept ordered by (priority desc, enqueuedAt asc).
	waiters []*waiter
}

type waiter struct {
	id         string
	key        string
	ownerID    string
	priority   int
	enqueuedAt time.Time
	// grant is buffered so the granting side never blocks; exactly one
	// outcome is ever delivered.
	grant chan grantOutcome
}

type grantOutcome struct {
	lockID     string
	acquiredAt time.Time
	err        error
}

// New constructs the lock manager and starts the periodic deadlock sweep.
func New(cfg Config) *Service {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultAcquireTimeout
	}
	s := &Service{
		locks:          make(map[string]*lockState),
		graph:          waitgraph.New(),
		logger:         loggingutil.WithSubsystem(cfg.Logger, "kernel.locks"),
		clock:          clk,
		events:         cfg.Events,
		metrics:        cfg.Metrics,
		defaultTimeout: cfg.DefaultTimeout,
		detectInterval: cfg.DetectInterval,
		stopped:        make(chan struct{}),
	}
	if s.detectInterval > 0 {
		s.sweeper.Add(1)
		go s.sweepLoop()
	}
	return s
}

// DefaultAcquireTimeout bounds acquires that pass no explicit timeout.
const DefaultAcquireTimeout = 60 * time.Second

// Stop terminates the periodic deadlock sweep. Pending waiters are not
// affected; callers that want them failed use ReleaseAll first.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopped) })
	s.sweeper.Wait()
}

func (s *Service) sweepLoop() {
	defer s.sweeper.Done()
	for {
		select {
		case <-s.stopped:
			return
		case <-s.clock.After(s.detectInterval):
			s.mu.Lock()
			s.resolveDeadlocksLocked()
			s.mu.Unlock()
		}
	}
}

func (s *Service) emit(event api.Event) {
	if s.events != nil {
		s.events.Emit(event)
	}
}

// insertWaiter keeps the queue ordered by priority (higher first) and
// enqueue time (older first) among equals.
func insertWaiter(queue []*waiter, w *waiter) []*waiter {
	at := len(queue)
	for i, q := range queue {
		if w.priority > q.priority {
			at = i
			break
		}
	}
	queue = append(queue, nil)
	copy(queue[at+1:], queue[at:])
	queue[at] = w
	return queue
}

// removeWaiter drops w from the queue and reports whether it was present.
func removeWaiter(queue []*waiter, w *waiter) ([]*waiter, bool) {
	for i, q := range queue {
		if q == w {
			return append(queue[:i], queue[i+1:]...), true
		}
	}
	return queue, false
}
