// Package diagnostics samples kernel health, throttles alerts, and runs the
// recovery ladder when error-severity conditions persist.
package diagnostics

import (
	"runtime"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/mem"
	"pkt.systems/pslog"

	"pkt.systems/synckit/api"
	"pkt.systems/synckit/internal/clock"
	"pkt.systems/synckit/internal/loggingutil"
)

// Sample is one health observation. Kernel-internal fields come from the
// Collector; system fields are filled in by the monitor itself.
type Sample struct {
	At time.Time

	HeldKeys      int
	TotalWaiters  int
	MaxQueueDepth int
	OldestWait    time.Duration

	PoolWorkers int
	PoolActive  int
	PoolQueued  int

	RaceViolations int

	MemoryUsedPercent float64
	HeapBytes         uint64
	Goroutines        int
}

// Collector supplies kernel-internal health figures.
type Collector func() Sample

// Recoverer exposes the public recovery operations the monitor may invoke,
// in ladder order. The monitor never touches component internals.
type Recoverer interface {
	ReleaseAll() int
	ClearQueues() int
	ResetMetrics()
}

// EventSink receives health:alert and recovery:performed events.
type EventSink interface {
	Emit(api.Event)
}

// Thresholds map observations onto alert severities.
type Thresholds struct {
	// QueueDepthWarn raises lock_contention at warn; twice the value
	// raises it at error.
	QueueDepthWarn int
	// OldestWaitWarn raises lock_contention when the longest-queued waiter
	// is older than this.
	OldestWaitWarn time.Duration
	// MemoryWarnPercent raises memory_pressure at warn; above 95% the
	// alert escalates to error.
	MemoryWarnPercent float64
	// PoolBacklogWarn raises pool_saturation when the task backlog exceeds
	// this while every worker is busy.
	PoolBacklogWarn int
}

// Config wires a Monitor.
type Config struct {
	Logger  pslog.Logger
	Clock   clock.Clock
	Events  EventSink
	Collect Collector
	Recover Recoverer

	// Interval is the sampling cadence.
	Interval time.Duration
	// Cooldown suppresses duplicate alerts of one type.
	Cooldown time.Duration
	// MaxAlertsPerType caps emissions per type between resets.
	MaxAlertsPerType int
	// RecoveryThreshold is the number of consecutive error-severity
	// samples that trigger automatic recovery. Zero disables it.
	RecoveryThreshold int

	Thresholds Thresholds
}

// Monitor is the periodic health sampler.
type Monitor struct {
	cfg    Config
	logger pslog.Logger
	clk    clock.Clock

	mu           sync.Mutex
	alerts       map[string]*alertState
	consecutive  int
	lastSample   Sample
	lastSeverity api.Severity

	stopOnce sync.Once
	stopped  chan struct{}
	wg       sync.WaitGroup
}

type alertState struct {
	count         int
	firstAt       time.Time
	cooldownUntil time.Time
}

// New constructs a Monitor. Start begins sampling.
func New(cfg Config) *Monitor {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	return &Monitor{
		cfg:     cfg,
		logger:  loggingutil.WithSubsystem(cfg.Logger, "kernel.diagnostics"),
		clk:     cfg.Clock,
		alerts:  make(map[string]*alertState),
		stopped: make(chan struct{}),
	}
}

// Start launches the sampling loop.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.loop()
}

// Stop terminates the sampling loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopped) })
	m.wg.Wait()
}

func (m *Monitor) loop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopped:
			return
		case <-m.clk.After(m.cfg.Interval):
			severity := m.SampleOnce()
			if severity == api.SeverityError && m.cfg.RecoveryThreshold > 0 {
				m.mu.Lock()
				due := m.consecutive >= m.cfg.RecoveryThreshold
				m.mu.Unlock()
				if due {
					m.PerformRecovery(false)
				}
			}
		}
	}
}

// SampleOnce collects a health sample, raises alerts, and returns the
// overall severity.
func (m *Monitor) SampleOnce() api.Severity {
	sample := Sample{}
	if m.cfg.Collect != nil {
		sample = m.cfg.Collect()
	}
	sample.At = m.clk.Now()
	m.fillSystem(&sample)

	severity := api.SeverityInfo
	raise := func(alertType string, sev api.Severity, detail map[string]any) {
		if sev > severity {
			severity = sev
		}
		m.RaiseAlert(alertType, sev, detail)
	}

	t := m.cfg.Thresholds
	if t.QueueDepthWarn > 0 && sample.MaxQueueDepth >= t.QueueDepthWarn ||
		t.OldestWaitWarn > 0 && sample.OldestWait >= t.OldestWaitWarn {
		sev := api.SeverityWarn
		if t.QueueDepthWarn > 0 && sample.MaxQueueDepth >= 2*t.QueueDepthWarn {
			sev = api.SeverityError
		}
		raise("lock_contention", sev, map[string]any{
			"max_queue_depth": sample.MaxQueueDepth,
			"total_waiters":   sample.TotalWaiters,
			"oldest_wait":     sample.OldestWait.String(),
		})
	}
	if t.MemoryWarnPercent > 0 && sample.MemoryUsedPercent >= t.MemoryWarnPercent {
		sev := api.SeverityWarn
		if sample.MemoryUsedPercent >= 95 {
			sev = api.SeverityError
		}
		raise("memory_pressure", sev, map[string]any{
			"used_percent": sample.MemoryUsedPercent,
			"heap":         humanize.IBytes(sample.HeapBytes),
			"goroutines":   sample.Goroutines,
		})
	}
	if t.PoolBacklogWarn > 0 && sample.PoolQueued >= t.PoolBacklogWarn &&
		sample.PoolWorkers > 0 && sample.PoolActive >= sample.PoolWorkers {
		raise("pool_saturation", api.SeverityWarn, map[string]any{
			"queued":  sample.PoolQueued,
			"workers": sample.PoolWorkers,
		})
	}
	if sample.RaceViolations > 0 {
		raise("race_violations", api.SeverityWarn, map[string]any{
			"violations": sample.RaceViolations,
		})
	}

	m.mu.Lock()
	m.lastSample = sample
	m.lastSeverity = severity
	if severity == api.SeverityError {
		m.consecutive++
	} else {
		m.consecutive = 0
	}
	m.mu.Unlock()
	return severity
}

// fillSystem adds process and system memory figures to the sample.
func (m *Monitor) fillSystem(sample *Sample) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	sample.HeapBytes = ms.HeapAlloc
	sample.Goroutines = runtime.NumGoroutine()
	if vm, err := mem.VirtualMemory(); err == nil {
		sample.MemoryUsedPercent = vm.UsedPercent
	} else {
		m.logger.Debug("diagnostics.meminfo_unavailable", "error", err)
	}
}

// RaiseAlert emits a health:alert unless the type is cooling down or has
// exhausted its per-type budget. It reports whether the alert was emitted.
func (m *Monitor) RaiseAlert(alertType string, severity api.Severity, detail map[string]any) bool {
	now := m.clk.Now()
	m.mu.Lock()
	state := m.alerts[alertType]
	if state == nil {
		state = &alertState{firstAt: now}
		m.alerts[alertType] = state
	}
	if now.Before(state.cooldownUntil) {
		m.mu.Unlock()
		return false
	}
	if m.cfg.MaxAlertsPerType > 0 && state.count >= m.cfg.MaxAlertsPerType {
		m.mu.Unlock()
		return false
	}
	state.count++
	state.cooldownUntil = now.Add(m.cfg.Cooldown)
	count := state.count
	m.mu.Unlock()

	m.logger.Warn("health.alert",
		"type", alertType,
		"severity", severity.String(),
		"count", count,
	)
	if m.cfg.Events != nil {
		m.cfg.Events.Emit(api.Event{Type: api.EventHealthAlert, At: now, Payload: api.HealthAlertPayload{
			AlertType: alertType,
			Severity:  severity,
			Count:     count,
			Detail:    detail,
		}})
	}
	return true
}

// PerformRecovery runs the recovery ladder: release all locks, clear pool
// backlogs, reset metrics, then re-sample to confirm improvement.
func (m *Monitor) PerformRecovery(manual bool) api.RecoveryPerformedPayload {
	payload := api.RecoveryPerformedPayload{Manual: manual}
	if m.cfg.Recover != nil {
		payload.ReleasedLocks = m.cfg.Recover.ReleaseAll()
		payload.ClearedTasks = m.cfg.Recover.ClearQueues()
		m.cfg.Recover.ResetMetrics()
	}

	m.mu.Lock()
	m.consecutive = 0
	m.alerts = make(map[string]*alertState)
	m.mu.Unlock()

	severity := m.SampleOnce()
	payload.Improved = severity < api.SeverityError

	m.logger.Warn("recovery.performed",
		"manual", manual,
		"released_locks", payload.ReleasedLocks,
		"cleared_tasks", payload.ClearedTasks,
		"improved", payload.Improved,
	)
	if m.cfg.Events != nil {
		m.cfg.Events.Emit(api.Event{Type: api.EventRecoveryPerformed, At: m.clk.Now(), Payload: payload})
	}
	return payload
}

// Health returns the most recent sample and its severity.
func (m *Monitor) Health() (Sample, api.Severity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSample, m.lastSeverity
}
