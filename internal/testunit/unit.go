// Package testunit defines the data model consumed by the execution core:
// test units with their declarative metadata, resolved dependency edges,
// parallel constraints and terminal results.
package testunit

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/gauntlet/internal/errors"
)

// Explicit opt-outs from the session defaults.
const (
	NoRetry   = -1
	NoTimeout = time.Duration(-1)
)

// Body is the executable part of a unit.
type Body func(ctx context.Context, tc *TestContext) error

// RetryPredicate decides whether a failed attempt should be retried. Attempt
// is one-based.
type RetryPredicate func(ctx context.Context, err error, attempt int) bool

// DependencySpec is a declarative dependency filter. It is only consulted
// during resolution.
type DependencySpec struct {
	// ClassType restricts matches to this class or classes deriving from it.
	// When nil, matches are restricted to the declaring class constructed
	// with identical class arguments.
	ClassType *TypeInfo

	// MethodName, when set, must match exactly.
	MethodName string

	// ParameterTypes, when non-nil, must match the method signature exactly.
	ParameterTypes []string

	// SameClassArguments additionally requires identical class arguments
	// when ClassType is set.
	SameClassArguments bool

	// ProceedOnFailure lets the dependent run even if the dependency failed.
	ProceedOnFailure bool
}

// String renders the specification in DependsOn(...) form.
func (s DependencySpec) String() string {
	var target string
	if s.ClassType != nil {
		target = s.ClassType.Name
	}
	if s.MethodName != "" {
		if target != "" {
			target += "."
		}
		target += s.MethodName
	}
	if s.ParameterTypes != nil {
		target += "(" + strings.Join(s.ParameterTypes, ", ") + ")"
	}
	return "DependsOn(" + target + ")"
}

// ResolvedDependency is an immutable edge from a unit to one of its dependencies.
type ResolvedDependency struct {
	Test             *Unit
	ProceedOnFailure bool
}

// Result is the outcome of a unit. Timestamps are populated on every path
// that reaches a terminal state.
type Result struct {
	State      State
	Start      time.Time
	End        time.Time
	Duration   time.Duration
	Err        error
	Category   errors.Category
	SkipReason string
	Attempts   int
	Output     string

	// Warnings holds teardown errors. They are surfaced to the user but
	// never change State.
	Warnings []error
}

// Unit is one executable test instance.
type Unit struct {
	// ID is the stable identifier. Name() is used when empty.
	ID string

	Class          *TypeInfo
	MethodName     string
	ParameterTypes []string

	// ClassArguments identifies the class-construction arguments.
	ClassArguments []string

	DependencySpecs []DependencySpec
	Constraint      Constraint
	ParallelLimit   ParallelLimit

	// RetryLimit is the number of retries after a failed attempt. Zero
	// inherits the session default; NoRetry (any negative value) opts out.
	RetryLimit     int
	RetryPredicate RetryPredicate

	// Timeout bounds each attempt. Zero inherits the session default;
	// NoTimeout (any negative value) opts out.
	Timeout time.Duration

	// Priority orders units inside their bucket; higher runs earlier.
	Priority int

	// SkipReason, when set, marks the unit as declared skipped.
	SkipReason string

	Body Body

	// Seq is the registration order assigned by the engine.
	Seq int

	mu           sync.Mutex
	state        State
	result       Result
	dependencies []ResolvedDependency
	resolved     bool
}

// Key returns the unit's identifier.
func (u *Unit) Key() string {
	if u.ID != "" {
		return u.ID
	}
	return u.Name()
}

// Name returns Class.Method.
func (u *Unit) Name() string {
	if u.Class == nil {
		return u.MethodName
	}
	return u.Class.Name + "." + u.MethodName
}

// DisplayName returns Name with the class arguments, if any.
func (u *Unit) DisplayName() string {
	if len(u.ClassArguments) == 0 {
		return u.Name()
	}
	return fmt.Sprintf("%s[%s]", u.Name(), strings.Join(u.ClassArguments, ", "))
}

// SameClassArguments reports whether u and other were built with identical
// class-construction arguments.
func (u *Unit) SameClassArguments(other *Unit) bool {
	return slices.Equal(u.ClassArguments, other.ClassArguments)
}

// State returns the current state. A zero unit reports StateNotStarted.
func (u *Unit) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.state == "" {
		return StateNotStarted
	}
	return u.state
}

// SetState records a non-terminal state transition.
func (u *Unit) SetState(s State) {
	u.mu.Lock()
	u.state = s
	u.mu.Unlock()
}

// Finish records the terminal result. The first terminal result wins;
// later calls return false.
func (u *Unit) Finish(r Result) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.state.IsTerminal() {
		return false
	}
	if r.End.IsZero() {
		r.End = time.Now()
	}
	if r.Start.IsZero() {
		r.Start = r.End
	}
	r.Duration = r.End.Sub(r.Start)
	if r.Err != nil && r.Category == errors.CategoryUnknown {
		r.Category = errors.Categorize(r.Err)
	}
	u.state = r.State
	u.result = r
	return true
}

// AddWarning appends a teardown error to a result without changing its state.
func (u *Unit) AddWarning(err error) {
	if err == nil {
		return
	}
	u.mu.Lock()
	u.result.Warnings = append(u.result.Warnings, err)
	u.mu.Unlock()
}

// Result returns a copy of the unit's result.
func (u *Unit) Result() Result {
	u.mu.Lock()
	defer u.mu.Unlock()
	r := u.result
	r.Warnings = slices.Clone(u.result.Warnings)
	return r
}

// Dependencies returns the resolved dependency edges.
func (u *Unit) Dependencies() []ResolvedDependency {
	u.mu.Lock()
	defer u.mu.Unlock()
	return slices.Clone(u.dependencies)
}

// Resolved reports whether SetDependencies has been called.
func (u *Unit) Resolved() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.resolved
}

// SetDependencies records the resolved edges, dropping duplicates. It only
// takes effect the first time it is called.
func (u *Unit) SetDependencies(deps []ResolvedDependency) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.resolved {
		return false
	}
	seen := make(map[*Unit]int, len(deps))
	for _, d := range deps {
		if i, ok := seen[d.Test]; ok {
			// A duplicate edge keeps the strictest failure policy.
			if !d.ProceedOnFailure {
				u.dependencies[i].ProceedOnFailure = false
			}
			continue
		}
		seen[d.Test] = len(u.dependencies)
		u.dependencies = append(u.dependencies, d)
	}
	u.resolved = true
	return true
}

// TransitiveDependencies returns every unit reachable through dependency
// edges, nearest first, without duplicates.
func (u *Unit) TransitiveDependencies() []*Unit {
	var out []*Unit
	seen := map[*Unit]bool{u: true}
	queue := []*Unit{u}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, d := range cur.Dependencies() {
			if seen[d.Test] {
				continue
			}
			seen[d.Test] = true
			out = append(out, d.Test)
			queue = append(queue, d.Test)
		}
	}
	return out
}
