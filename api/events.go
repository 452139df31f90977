package api

import "time"

// EventType identifies a kernel diagnostic event.
type EventType string

const (
	// EventLockGranted fires when a lock transitions to a new owner.
	EventLockGranted EventType = "lock:granted"
	// EventLockTimeout fires when a waiter is removed after its deadline.
	EventLockTimeout EventType = "lock:timeout"
	// EventDeadlockResolved fires after a wait-for cycle has been broken.
	EventDeadlockResolved EventType = "deadlock:resolved"
	// EventRaceViolation fires when a race detector observes an overlap
	// beyond its configured concurrency bound.
	EventRaceViolation EventType = "race:violation"
	// EventHealthAlert fires when the diagnostics monitor raises an alert.
	EventHealthAlert EventType = "health:alert"
	// EventRecoveryPerformed fires after a recovery pass has completed.
	EventRecoveryPerformed EventType = "recovery:performed"
)

// Severity grades health alerts.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one entry on the kernel's diagnostics feed. Payload holds one of
// the *Payload types below depending on Type.
type Event struct {
	Type    EventType `json:"type"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload,omitempty"`
}

// LockGrantedPayload accompanies EventLockGranted.
type LockGrantedPayload struct {
	Key     string        `json:"key"`
	OwnerID string        `json:"owner_id"`
	LockID  string        `json:"lock_id"`
	Waited  time.Duration `json:"waited"`
}

// LockTimeoutPayload accompanies EventLockTimeout.
type LockTimeoutPayload struct {
	Key     string        `json:"key"`
	OwnerID string        `json:"owner_id"`
	Waited  time.Duration `json:"waited"`
}

// DeadlockResolvedPayload accompanies EventDeadlockResolved.
type DeadlockResolvedPayload struct {
	// Cycle lists the owner identities of the broken cycle in wait order.
	Cycle []string `json:"cycle"`
	// VictimID is the preempted waiter's owner identity.
	VictimID string `json:"victim_id"`
	// Key is the resource the victim was queued on.
	Key string `json:"key"`
}

// RaceViolationPayload accompanies EventRaceViolation.
type RaceViolationPayload struct {
	Key         string `json:"key"`
	OperationID string `json:"operation_id"`
	// Concurrent is the number of tracked operations inside the window at
	// the moment of the violation, including the rejected one.
	Concurrent    int `json:"concurrent"`
	MaxConcurrent int `json:"max_concurrent"`
}

// HealthAlertPayload accompanies EventHealthAlert.
type HealthAlertPayload struct {
	AlertType string   `json:"alert_type"`
	Severity  Severity `json:"severity"`
	// Count is how many times this alert type fired since the last reset.
	Count  int            `json:"count"`
	Detail map[string]any `json:"detail,omitempty"`
}

// RecoveryPerformedPayload accompanies EventRecoveryPerformed.
type RecoveryPerformedPayload struct {
	// Manual is true when recovery was invoked by the caller rather than
	// triggered by sustained error-severity health samples.
	Manual        bool `json:"manual"`
	ReleasedLocks int  `json:"released_locks"`
	ClearedTasks  int  `json:"cleared_tasks"`
	// Improved reports whether the post-recovery health sample came back
	// below error severity.
	Improved bool `json:"improved"`
}
