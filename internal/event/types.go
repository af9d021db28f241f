package event

import (
	"time"

	"github.com/Iron-Ham/gauntlet/internal/testunit"
)

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "test.finished", "scope.started")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers.
const (
	TypeRunStarted   = "run.started"
	TypeRunFinished  = "run.finished"
	TypeTestStarted  = "test.started"
	TypeTestFinished = "test.finished"
	TypeTestRetrying = "test.retrying"
	TypeScopeStarted = "scope.started"
	TypeScopeEnded   = "scope.finished"
	TypeHookFailed   = "hook.failed"
)

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Run Events
// -----------------------------------------------------------------------------

// RunStartedEvent is emitted once the plan is built, before any unit runs.
type RunStartedEvent struct {
	baseEvent
	RunID          string
	Units          int
	MaxParallelism int
}

// NewRunStartedEvent creates a RunStartedEvent.
func NewRunStartedEvent(runID string, units, maxParallelism int) RunStartedEvent {
	return RunStartedEvent{
		baseEvent:      newBaseEvent(TypeRunStarted),
		RunID:          runID,
		Units:          units,
		MaxParallelism: maxParallelism,
	}
}

// RunFinishedEvent is emitted after every unit is terminal and every
// started scope has torn down.
type RunFinishedEvent struct {
	baseEvent
	RunID    string
	Counts   map[testunit.State]int
	Duration time.Duration
	Err      error // Aggregated teardown errors, if any
}

// NewRunFinishedEvent creates a RunFinishedEvent.
func NewRunFinishedEvent(runID string, counts map[testunit.State]int, duration time.Duration, err error) RunFinishedEvent {
	return RunFinishedEvent{
		baseEvent: newBaseEvent(TypeRunFinished),
		RunID:     runID,
		Counts:    counts,
		Duration:  duration,
		Err:       err,
	}
}

// -----------------------------------------------------------------------------
// Test Events
// -----------------------------------------------------------------------------

// TestStartedEvent is emitted when a unit passes its dependency gate and
// acquires its execution slot.
type TestStartedEvent struct {
	baseEvent
	UnitID string
	Name   string
	Bucket string
}

// NewTestStartedEvent creates a TestStartedEvent.
func NewTestStartedEvent(unitID, name, bucket string) TestStartedEvent {
	return TestStartedEvent{
		baseEvent: newBaseEvent(TypeTestStarted),
		UnitID:    unitID,
		Name:      name,
		Bucket:    bucket,
	}
}

// TestFinishedEvent is the state transition emitted exactly once per unit
// when it reaches a terminal state.
type TestFinishedEvent struct {
	baseEvent
	UnitID string
	State  testunit.State
	Result testunit.Result
}

// NewTestFinishedEvent creates a TestFinishedEvent.
func NewTestFinishedEvent(unitID string, result testunit.Result) TestFinishedEvent {
	return TestFinishedEvent{
		baseEvent: newBaseEvent(TypeTestFinished),
		UnitID:    unitID,
		State:     result.State,
		Result:    result,
	}
}

// TestRetryingEvent is emitted before a failed attempt is retried.
type TestRetryingEvent struct {
	baseEvent
	UnitID      string
	Attempt     int // The attempt that failed, one-based
	MaxAttempts int
	Err         error
}

// NewTestRetryingEvent creates a TestRetryingEvent.
func NewTestRetryingEvent(unitID string, attempt, maxAttempts int, err error) TestRetryingEvent {
	return TestRetryingEvent{
		baseEvent:   newBaseEvent(TypeTestRetrying),
		UnitID:      unitID,
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
		Err:         err,
	}
}

// -----------------------------------------------------------------------------
// Scope Events
// -----------------------------------------------------------------------------

// ScopeStartedEvent is emitted after a scope's Before hooks complete.
type ScopeStartedEvent struct {
	baseEvent
	Kind string
	Key  string
	Err  error // Non-nil when a Before hook failed
}

// NewScopeStartedEvent creates a ScopeStartedEvent.
func NewScopeStartedEvent(kind, key string, err error) ScopeStartedEvent {
	return ScopeStartedEvent{
		baseEvent: newBaseEvent(TypeScopeStarted),
		Kind:      kind,
		Key:       key,
		Err:       err,
	}
}

// ScopeFinishedEvent is emitted after a scope's After hooks ran.
type ScopeFinishedEvent struct {
	baseEvent
	Kind      string
	Key       string
	Cancelled bool  // Teardown was triggered by run cancellation
	Err       error // Aggregated After hook errors
}

// NewScopeFinishedEvent creates a ScopeFinishedEvent.
func NewScopeFinishedEvent(kind, key string, cancelled bool, err error) ScopeFinishedEvent {
	return ScopeFinishedEvent{
		baseEvent: newBaseEvent(TypeScopeEnded),
		Kind:      kind,
		Key:       key,
		Cancelled: cancelled,
		Err:       err,
	}
}

// HookFailedEvent is emitted for every failing hook invocation.
type HookFailedEvent struct {
	baseEvent
	Kind  string
	Key   string
	Hook  string
	Phase string
	Err   error
}

// NewHookFailedEvent creates a HookFailedEvent.
func NewHookFailedEvent(kind, key, hook, phase string, err error) HookFailedEvent {
	return HookFailedEvent{
		baseEvent: newBaseEvent(TypeHookFailed),
		Kind:      kind,
		Key:       key,
		Hook:      hook,
		Phase:     phase,
		Err:       err,
	}
}
