package synckit

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Counters is a resettable snapshot of kernel activity. The prometheus
// collectors registered through Config.MetricsRegisterer stay monotonic;
// only this internal view participates in recovery's metric reset.
type Counters struct {
	LocksGranted      uint64
	LockTimeouts      uint64
	DeadlocksResolved uint64
	ForcedReleases    uint64
	RaceViolations    uint64
}

type metrics struct {
	granted   atomic.Uint64
	timeouts  atomic.Uint64
	deadlocks atomic.Uint64
	forced    atomic.Uint64
	races     atomic.Uint64

	promGranted   prometheus.Counter
	promTimeouts  prometheus.Counter
	promDeadlocks prometheus.Counter
	promForced    prometheus.Counter
	promRaces     prometheus.Counter
	promWait      prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		promGranted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "synckit_locks_granted_total",
			Help: "Locks granted, immediate and queued.",
		}),
		promTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "synckit_lock_timeouts_total",
			Help: "Lock waiters removed after exceeding their deadline.",
		}),
		promDeadlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "synckit_deadlocks_resolved_total",
			Help: "Wait-for cycles broken by preemption.",
		}),
		promForced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "synckit_forced_releases_total",
			Help: "Locks forcibly released by recovery.",
		}),
		promRaces: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "synckit_race_violations_total",
			Help: "Overlap violations reported by race detectors.",
		}),
		promWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "synckit_lock_wait_seconds",
			Help:    "Time lock requests spent queued before grant.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.promGranted, m.promTimeouts, m.promDeadlocks, m.promForced, m.promRaces, m.promWait)
	}
	return m
}

// LockGranted implements core.MetricsRecorder.
func (m *metrics) LockGranted(waited time.Duration) {
	m.granted.Add(1)
	m.promGranted.Inc()
	m.promWait.Observe(waited.Seconds())
}

// LockTimeout implements core.MetricsRecorder.
func (m *metrics) LockTimeout() {
	m.timeouts.Add(1)
	m.promTimeouts.Inc()
}

// DeadlockResolved implements core.MetricsRecorder.
func (m *metrics) DeadlockResolved() {
	m.deadlocks.Add(1)
	m.promDeadlocks.Inc()
}

// ForcedRelease implements core.MetricsRecorder.
func (m *metrics) ForcedRelease(released int) {
	m.forced.Add(uint64(released))
	m.promForced.Add(float64(released))
}

func (m *metrics) raceViolation() {
	m.races.Add(1)
	m.promRaces.Inc()
}

func (m *metrics) snapshot() Counters {
	return Counters{
		LocksGranted:      m.granted.Load(),
		LockTimeouts:      m.timeouts.Load(),
		DeadlocksResolved: m.deadlocks.Load(),
		ForcedReleases:    m.forced.Load(),
		RaceViolations:    m.races.Load(),
	}
}

// reset zeroes the internal counters. Prometheus collectors are monotonic
// and are left untouched.
func (m *metrics) reset() {
	m.granted.Store(0)
	m.timeouts.Store(0)
	m.deadlocks.Store(0)
	m.forced.Store(0)
	m.races.Store(0)
}
