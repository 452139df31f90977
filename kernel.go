package synckit

import (
	"context"
	"sync"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/synckit/api"
	"pkt.systems/synckit/internal/clock"
	"pkt.systems/synckit/internal/core"
	"pkt.systems/synckit/internal/diagnostics"
	"pkt.systems/synckit/internal/loggingutil"
)

// Kernel is one coordination-kernel instance. All primitive and lock state
// belongs to the instance; lifecycle is owned by the caller through New and
// Shutdown. Methods are safe for concurrent use.
type Kernel struct {
	cfg     Config
	logger  pslog.Logger
	clk     clock.Clock
	bus     *eventBus
	metrics *metrics
	locks   *core.Service
	monitor *diagnostics.Monitor

	mu        sync.Mutex
	pools     []*Pool
	sems      []*Semaphore
	barriers  []*Barrier
	detectors []*RaceDetector
	shutdown  bool
}

// New constructs and starts a Kernel.
func New(cfg Config) (*Kernel, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	k := &Kernel{
		cfg:     cfg,
		logger:  loggingutil.EnsureLogger(cfg.Logger),
		clk:     cfg.Clock,
		bus:     newEventBus(),
		metrics: newMetrics(cfg.MetricsRegisterer),
	}
	detect := cfg.DetectInterval
	if detect < 0 {
		detect = 0
	}
	k.locks = core.New(core.Config{
		Logger:         cfg.Logger,
		Clock:          cfg.Clock,
		Events:         k.bus,
		Metrics:        k.metrics,
		DefaultTimeout: cfg.AcquireTimeout,
		DetectInterval: detect,
	})
	if cfg.HealthInterval > 0 {
		k.monitor = diagnostics.New(diagnostics.Config{
			Logger:            cfg.Logger,
			Clock:             cfg.Clock,
			Events:            k.bus,
			Collect:           k.collectHealth,
			Recover:           kernelRecoverer{k},
			Interval:          cfg.HealthInterval,
			Cooldown:          cfg.AlertCooldown,
			MaxAlertsPerType:  cfg.MaxAlertsPerType,
			RecoveryThreshold: cfg.RecoveryThreshold,
			Thresholds: diagnostics.Thresholds{
				QueueDepthWarn:    cfg.QueueDepthWarn,
				OldestWaitWarn:    cfg.OldestWaitWarn,
				MemoryWarnPercent: cfg.MemoryWarnPercent,
				PoolBacklogWarn:   DefaultPoolQueueDepth / 4,
			},
		})
		k.monitor.Start()
	}
	k.logger.Info("kernel.started",
		"acquire_timeout", cfg.AcquireTimeout.String(),
		"detect_interval", cfg.DetectInterval.String(),
		"health_interval", cfg.HealthInterval.String(),
	)
	return k, nil
}

// Shutdown stops the background loops, forcibly releases all locks, and
// destroys every primitive created through the kernel. Waiters fail
// deterministically rather than timing out.
func (k *Kernel) Shutdown(ctx context.Context) error {
	k.mu.Lock()
	if k.shutdown {
		k.mu.Unlock()
		return nil
	}
	k.shutdown = true
	pools := k.pools
	sems := k.sems
	barriers := k.barriers
	k.mu.Unlock()

	if k.monitor != nil {
		k.monitor.Stop()
	}
	k.locks.Stop()
	released := k.locks.ReleaseAll()
	for _, s := range sems {
		s.Destroy()
	}
	for _, b := range barriers {
		b.Destroy()
	}
	done := make(chan struct{})
	go func() {
		for _, p := range pools {
			p.Destroy()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		k.bus.close()
		return ctx.Err()
	}
	k.bus.close()
	k.logger.Info("kernel.stopped", "released_locks", released)
	return nil
}

// Subscribe returns a buffered channel of kernel events and its cancel
// function. Events are dropped rather than block a slow subscriber.
func (k *Kernel) Subscribe(buffer int) (<-chan api.Event, func()) {
	if buffer <= 0 {
		buffer = k.cfg.EventBuffer
	}
	return k.bus.subscribe(buffer)
}

// AddObserver registers a synchronous event observer.
func (k *Kernel) AddObserver(o Observer) {
	k.bus.addObserver(o)
}

// NewSemaphore constructs a semaphore registered for kernel shutdown.
func (k *Kernel) NewSemaphore(permits int) *Semaphore {
	s := NewSemaphore(permits)
	k.mu.Lock()
	k.sems = append(k.sems, s)
	k.mu.Unlock()
	return s
}

// NewBarrier constructs a barrier registered for kernel shutdown.
func (k *Kernel) NewBarrier(parties int) *Barrier {
	b := NewBarrier(parties)
	k.mu.Lock()
	k.barriers = append(k.barriers, b)
	k.mu.Unlock()
	return b
}

// NewLatch constructs a latch. Latches hold no kernel resources and need no
// shutdown sweep; the constructor exists for symmetry.
func (k *Kernel) NewLatch(count int64) *Latch {
	return NewLatch(count)
}

// NewPool constructs a worker pool registered for diagnostics sampling and
// kernel shutdown.
func (k *Kernel) NewPool(min, max int, opts ...PoolOption) *Pool {
	opts = append([]PoolOption{WithPoolLogger(k.cfg.Logger), WithPoolClock(k.clk)}, opts...)
	p := NewPool(min, max, opts...)
	k.mu.Lock()
	k.pools = append(k.pools, p)
	k.mu.Unlock()
	return p
}

// NewRaceDetector constructs a race detector wired to the kernel's event
// feed and diagnostics sampling.
func (k *Kernel) NewRaceDetector(key string, maxConcurrent int, window time.Duration) *RaceDetector {
	d := NewRaceDetector(key, maxConcurrent, window,
		WithRaceClock(k.clk),
		WithRaceLogger(k.cfg.Logger),
	)
	d.events = raceEventSink{k}
	k.mu.Lock()
	k.detectors = append(k.detectors, d)
	k.mu.Unlock()
	return d
}

// raceEventSink forwards race violations to the bus and the counters.
type raceEventSink struct{ k *Kernel }

func (s raceEventSink) Emit(evt api.Event) {
	s.k.metrics.raceViolation()
	s.k.bus.Emit(evt)
}

// Counters returns the resettable activity counters.
func (k *Kernel) Counters() Counters {
	return k.metrics.snapshot()
}

// LockStats returns per-key lock state.
func (k *Kernel) LockStats() []core.KeyStats {
	return k.locks.Stats()
}

// Health returns the latest diagnostics sample and severity. The zero
// sample is returned when the monitor is disabled.
func (k *Kernel) Health() (diagnostics.Sample, api.Severity) {
	if k.monitor == nil {
		return diagnostics.Sample{}, api.SeverityInfo
	}
	return k.monitor.Health()
}

// PerformRecovery runs the recovery ladder immediately: release all locks,
// clear pool backlogs, reset counters, then re-sample health.
func (k *Kernel) PerformRecovery() api.RecoveryPerformedPayload {
	if k.monitor != nil {
		return k.monitor.PerformRecovery(true)
	}
	rec := kernelRecoverer{k}
	payload := api.RecoveryPerformedPayload{Manual: true, Improved: true}
	payload.ReleasedLocks = rec.ReleaseAll()
	payload.ClearedTasks = rec.ClearQueues()
	rec.ResetMetrics()
	k.bus.Emit(api.Event{Type: api.EventRecoveryPerformed, At: k.clk.Now(), Payload: payload})
	return payload
}

// collectHealth aggregates kernel-internal figures for diagnostics.
func (k *Kernel) collectHealth() diagnostics.Sample {
	contention := k.locks.Contention()
	sample := diagnostics.Sample{
		HeldKeys:      contention.HeldKeys,
		TotalWaiters:  contention.TotalWaiters,
		MaxQueueDepth: contention.MaxQueueDepth,
		OldestWait:    contention.OldestWait,
	}
	k.mu.Lock()
	pools := k.pools
	detectors := k.detectors
	k.mu.Unlock()
	for _, p := range pools {
		stats := p.Stats()
		sample.PoolWorkers += stats.Workers
		sample.PoolActive += stats.Active
		sample.PoolQueued += stats.Queued
	}
	for _, d := range detectors {
		sample.RaceViolations += len(d.Violations())
	}
	return sample
}

// kernelRecoverer adapts the kernel's public recovery operations for the
// diagnostics monitor.
type kernelRecoverer struct{ k *Kernel }

func (r kernelRecoverer) ReleaseAll() int {
	return r.k.locks.ReleaseAll()
}

func (r kernelRecoverer) ClearQueues() int {
	r.k.mu.Lock()
	pools := r.k.pools
	r.k.mu.Unlock()
	cleared := 0
	for _, p := range pools {
		cleared += p.ClearQueue()
	}
	return cleared
}

func (r kernelRecoverer) ResetMetrics() {
	r.k.metrics.reset()
	r.k.mu.Lock()
	detectors := r.k.detectors
	r.k.mu.Unlock()
	for _, d := range detectors {
		d.Reset()
	}
}
