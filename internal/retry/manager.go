// Package retry tracks per-unit attempts and decides whether a failed
// attempt is retried.
//
// The Manager is shared by every bucket runner of a single execution, so it
// doubles as the record of which units needed more than one attempt.
package retry

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/Iron-Ham/gauntlet/internal/testunit"
)

// UnitState tracks attempts for a unit.
type UnitState struct {
	UnitID      string   `json:"unit_id"`
	Attempts    int      `json:"attempts"`
	MaxAttempts int      `json:"max_attempts"`
	Errors      []string `json:"errors,omitempty"` // One entry per failed attempt
	Succeeded   bool     `json:"succeeded,omitempty"`
}

// Flaky reports whether the unit passed after at least one failed attempt.
func (s *UnitState) Flaky() bool {
	return s.Succeeded && s.Attempts > 1
}

// Policy holds the run-wide retry settings.
type Policy struct {
	// Backoff is multiplied by the failed attempt number to get the delay
	// before the next attempt.
	Backoff time.Duration

	// Interactive disables retries entirely.
	Interactive bool
}

// Manager manages retry state for units.
// It is thread-safe and can be used concurrently.
type Manager struct {
	policy Policy

	mu     sync.RWMutex
	states map[string]*UnitState
}

// NewManager creates a new retry manager.
func NewManager(policy Policy) *Manager {
	return &Manager{
		policy: policy,
		states: make(map[string]*UnitState),
	}
}

// Begin returns or creates the state for a unit allowed retryLimit retries.
func (m *Manager) Begin(unitID string, retryLimit int) *UnitState {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, exists := m.states[unitID]
	if !exists {
		state = &UnitState{
			UnitID:      unitID,
			MaxAttempts: max(retryLimit, 0) + 1,
		}
		m.states[unitID] = state
	}
	return state
}

// RecordAttempt records the outcome of one attempt. A nil err marks the
// unit as succeeded.
func (m *Manager) RecordAttempt(unitID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, exists := m.states[unitID]
	if !exists {
		return
	}
	state.Attempts++
	if err == nil {
		state.Succeeded = true
		return
	}
	state.Errors = append(state.Errors, err.Error())
}

// ShouldRetry reports whether u gets another attempt after attempt failed
// with err. Attempt is one-based. The unit's predicate is consulted last,
// and only when attempts remain.
func (m *Manager) ShouldRetry(ctx context.Context, u *testunit.Unit, err error, attempt int) bool {
	if m.policy.Interactive || ctx.Err() != nil {
		return false
	}
	if attempt >= max(u.RetryLimit, 0)+1 {
		return false
	}
	if u.RetryPredicate != nil && !u.RetryPredicate(ctx, err, attempt) {
		return false
	}
	return true
}

// Delay returns the backoff before the attempt following attempt.
func (m *Manager) Delay(attempt int) time.Duration {
	return m.policy.Backoff * time.Duration(attempt)
}

// Wait sleeps for Delay(attempt), returning early with the context error
// if ctx is done first.
func (m *Manager) Wait(ctx context.Context, attempt int) error {
	d := m.Delay(attempt)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// GetState returns a copy of the state for a unit, or nil if not found.
func (m *Manager) GetState(unitID string) *UnitState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.states[unitID]
	if !ok {
		return nil
	}
	c := *state
	c.Errors = slices.Clone(state.Errors)
	return &c
}

// FlakyUnits returns the sorted IDs of units that passed only after a retry.
func (m *Manager) FlakyUnits() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var flaky []string
	for id, state := range m.states {
		if state.Flaky() {
			flaky = append(flaky, id)
		}
	}
	slices.Sort(flaky)
	return flaky
}

// ExhaustedUnits returns the sorted IDs of units that used every attempt
// without succeeding.
func (m *Manager) ExhaustedUnits() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var failed []string
	for id, state := range m.states {
		if !state.Succeeded && state.Attempts >= state.MaxAttempts {
			failed = append(failed, id)
		}
	}
	slices.Sort(failed)
	return failed
}

// GetAllStates returns a copy of all unit states.
func (m *Manager) GetAllStates() map[string]*UnitState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]*UnitState, len(m.states))
	for k, v := range m.states {
		c := *v
		c.Errors = slices.Clone(v.Errors)
		result[k] = &c
	}
	return result
}
