package synckit

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"pkt.systems/pslog"

	"pkt.systems/synckit/internal/clock"
)

const (
	// DefaultAcquireTimeout bounds lock acquires that pass no explicit
	// timeout option.
	DefaultAcquireTimeout = 60 * time.Second
	// DefaultDetectInterval is the periodic deadlock sweep cadence.
	DefaultDetectInterval = 500 * time.Millisecond
	// DefaultHealthInterval is the diagnostics sampling cadence.
	DefaultHealthInterval = 5 * time.Second
	// DefaultAlertCooldown suppresses duplicate alerts of one type.
	DefaultAlertCooldown = 30 * time.Second
	// DefaultMaxAlertsPerType caps how often one alert type may fire
	// between resets, bounding alert storms under sustained failure.
	DefaultMaxAlertsPerType = 10
	// DefaultRecoveryThreshold is how many consecutive error-severity
	// health samples trigger automatic recovery.
	DefaultRecoveryThreshold = 3
	// DefaultQueueDepthWarn is the per-key wait queue depth that raises a
	// contention alert.
	DefaultQueueDepthWarn = 32
	// DefaultOldestWaitWarn is the waiter age that raises a contention alert.
	DefaultOldestWaitWarn = 30 * time.Second
	// DefaultMemoryWarnPercent is the system memory usage that raises a
	// memory-pressure alert.
	DefaultMemoryWarnPercent = 85.0
)

// Config configures a Kernel. The zero value is usable; Normalize fills in
// defaults and Validate rejects contradictions.
type Config struct {
	// Logger receives structured kernel logs. Nil disables logging.
	Logger pslog.Logger
	// Clock overrides time for tests. Nil selects the real clock.
	Clock clock.Clock
	// AcquireTimeout bounds lock acquires without an explicit timeout.
	AcquireTimeout time.Duration
	// DetectInterval is the periodic deadlock sweep cadence. Negative
	// disables the sweep (detection still runs inline on every enqueue).
	DetectInterval time.Duration
	// HealthInterval is the diagnostics sampling cadence. Negative disables
	// the monitor entirely.
	HealthInterval time.Duration
	// AlertCooldown suppresses duplicate alerts of the same type.
	AlertCooldown time.Duration
	// MaxAlertsPerType caps alerts of one type between resets.
	MaxAlertsPerType int
	// RecoveryThreshold is the number of consecutive error-severity samples
	// that trigger automatic recovery. Negative disables automatic
	// recovery; manual recovery stays available.
	RecoveryThreshold int
	// QueueDepthWarn and OldestWaitWarn set the lock contention alert
	// thresholds.
	QueueDepthWarn int
	OldestWaitWarn time.Duration
	// MemoryWarnPercent sets the system memory usage alert threshold.
	MemoryWarnPercent float64
	// MetricsRegisterer, when non-nil, registers the kernel's prometheus
	// collectors (lock grants, timeouts, deadlocks, pool gauges).
	MetricsRegisterer prometheus.Registerer
	// EventBuffer is the per-subscriber event channel depth.
	EventBuffer int
}

// Normalize fills unset fields with defaults.
func (c *Config) Normalize() {
	if c.Clock == nil {
		c.Clock = clock.Real{}
	}
	if c.AcquireTimeout == 0 {
		c.AcquireTimeout = DefaultAcquireTimeout
	}
	if c.DetectInterval == 0 {
		c.DetectInterval = DefaultDetectInterval
	}
	if c.HealthInterval == 0 {
		c.HealthInterval = DefaultHealthInterval
	}
	if c.AlertCooldown == 0 {
		c.AlertCooldown = DefaultAlertCooldown
	}
	if c.MaxAlertsPerType == 0 {
		c.MaxAlertsPerType = DefaultMaxAlertsPerType
	}
	if c.RecoveryThreshold == 0 {
		c.RecoveryThreshold = DefaultRecoveryThreshold
	}
	if c.QueueDepthWarn == 0 {
		c.QueueDepthWarn = DefaultQueueDepthWarn
	}
	if c.OldestWaitWarn == 0 {
		c.OldestWaitWarn = DefaultOldestWaitWarn
	}
	if c.MemoryWarnPercent == 0 {
		c.MemoryWarnPercent = DefaultMemoryWarnPercent
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 64
	}
}

// Validate reports configuration errors. Call after Normalize.
func (c *Config) Validate() error {
	if c.AcquireTimeout < 0 {
		return fmt.Errorf("acquire timeout must be positive, got %s", c.AcquireTimeout)
	}
	if c.MaxAlertsPerType < 0 {
		return fmt.Errorf("max alerts per type must not be negative, got %d", c.MaxAlertsPerType)
	}
	if c.MemoryWarnPercent < 0 || c.MemoryWarnPercent > 100 {
		return fmt.Errorf("memory warn percent must be within [0,100], got %.1f", c.MemoryWarnPercent)
	}
	return nil
}
