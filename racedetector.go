package synckit

import (
	"sync"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/synckit/api"
	"pkt.systems/synckit/internal/clock"
	"pkt.systems/synckit/internal/loggingutil"
)

// RaceDetector tracks concurrent entries for one logical key within a
// sliding time window and flags overlap beyond a configured bound. It is a
// detector, not a preventer: Track never blocks, and a refusal only means
// the caller should not proceed — hard mutual exclusion is the lock
// manager's job.
type RaceDetector struct {
	key           string
	maxConcurrent int
	window        time.Duration
	clk           clock.Clock
	logger        pslog.Logger
	events        eventSink

	mu         sync.Mutex
	ops        map[string]time.Time
	violated   bool
	violations []api.RaceViolationPayload
}

type eventSink interface {
	Emit(api.Event)
}

// RaceOption customises a RaceDetector.
type RaceOption func(*RaceDetector)

// WithRaceClock overrides the clock used for window arithmetic.
func WithRaceClock(clk clock.Clock) RaceOption {
	return func(d *RaceDetector) {
		if clk != nil {
			d.clk = clk
		}
	}
}

// WithRaceLogger assigns a logger for violation reports.
func WithRaceLogger(logger pslog.Logger) RaceOption {
	return func(d *RaceDetector) {
		d.logger = logger
	}
}

// NewRaceDetector constructs a detector for key allowing maxConcurrent
// overlapping operations within window.
func NewRaceDetector(key string, maxConcurrent int, window time.Duration, opts ...RaceOption) *RaceDetector {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	d := &RaceDetector{
		key:           key,
		maxConcurrent: maxConcurrent,
		window:        window,
		clk:           clock.Real{},
		ops:           make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = loggingutil.WithSubsystem(d.logger, "kernel.race")
	return d
}

// Track records the start of an operation and reports whether it may
// proceed. False means the concurrency bound within the window is already
// met; the violation is recorded and the caller is responsible for backing
// off. Track never blocks.
func (d *RaceDetector) Track(operationID string) bool {
	now := d.clk.Now()
	d.mu.Lock()
	d.pruneLocked(now)
	if len(d.ops) < d.maxConcurrent {
		d.ops[operationID] = now
		d.mu.Unlock()
		return true
	}
	d.violated = true
	violation := api.RaceViolationPayload{
		Key:           d.key,
		OperationID:   operationID,
		Concurrent:    len(d.ops) + 1,
		MaxConcurrent: d.maxConcurrent,
	}
	d.violations = append(d.violations, violation)
	d.mu.Unlock()

	d.logger.Warn("race.violation",
		"key", d.key,
		"operation_id", operationID,
		"concurrent", violation.Concurrent,
		"max_concurrent", d.maxConcurrent,
	)
	if d.events != nil {
		d.events.Emit(api.Event{Type: api.EventRaceViolation, At: now, Payload: violation})
	}
	return false
}

// Complete removes a tracked operation.
func (d *RaceDetector) Complete(operationID string) {
	d.mu.Lock()
	delete(d.ops, operationID)
	d.mu.Unlock()
}

// Check reports whether an overlap violation occurred since the last Reset.
func (d *RaceDetector) Check() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.violated
}

// Violations returns the recorded violations since the last Reset.
func (d *RaceDetector) Violations() []api.RaceViolationPayload {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]api.RaceViolationPayload, len(d.violations))
	copy(out, d.violations)
	return out
}

// Tracked returns the number of in-window tracked operations.
func (d *RaceDetector) Tracked() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pruneLocked(d.clk.Now())
	return len(d.ops)
}

// Reset clears the violation flag and history. Tracked operations persist.
func (d *RaceDetector) Reset() {
	d.mu.Lock()
	d.violated = false
	d.violations = nil
	d.mu.Unlock()
}

// pruneLocked expires entries older than the window. A zero window keeps
// entries until Complete. Callers hold d.mu.
func (d *RaceDetector) pruneLocked(now time.Time) {
	if d.window <= 0 {
		return
	}
	cutoff := now.Add(-d.window)
	for id, started := range d.ops {
		if started.Before(cutoff) {
			delete(d.ops, id)
		}
	}
}
