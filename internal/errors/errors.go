// Package errors provides the error taxonomy of the gauntlet execution core.
// It defines sentinel errors, typed errors carrying unit and scope context, and
// the triage categories attached to every failed result.
//
// # Error Types
//
// Resolution errors are produced before anything runs:
//   - ResolutionError: a DependsOn specification matched no units
//   - DependencyCycleError: a dependency chain loops back onto itself
//
// Execution errors are produced while a unit runs:
//   - HookError: a Before hook (setup) or After hook (teardown) failed
//   - TimeoutError: the body exceeded its declared timeout
//   - DependencyError: a dependency failed and the edge does not proceed on failure
//   - CancellationError: the run was cancelled while the unit was pending or running
//   - PanicError: a body or hook panicked
//   - AssertionError: a body reported a failed expectation
//
// # Usage
//
//	err := errors.NewHookError("class", "pkg.Fixture", "OpenDB", errors.PhaseBefore, cause)
//	if errors.Is(err, errors.ErrSetupFailed) { ... }
//
//	var cycle *errors.DependencyCycleError
//	if errors.As(err, &cycle) {
//	    fmt.Println(strings.Join(cycle.Chain, " -> "))
//	}
//
// # Categories
//
// Every error can be reduced to a Category with Categorize. Categories are
// the labels shown next to a failed test to aid triage.
package errors

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Category is the triage label attached to a failed result.
type Category int

const (
	// CategoryUnknown is used when no more specific category applies.
	CategoryUnknown Category = iota
	// CategorySetup marks failures in Before hooks or instance creation.
	CategorySetup
	// CategoryTeardown marks failures in After hooks or instance disposal.
	CategoryTeardown
	// CategoryAssertion marks failed expectations reported by a body.
	CategoryAssertion
	// CategoryTimeout marks bodies that exceeded their declared timeout.
	CategoryTimeout
	// CategoryNullReference marks nil pointer dereferences recovered from a panic.
	CategoryNullReference
	// CategoryInfrastructure marks failures of the engine itself: resolution,
	// cancellation and registration problems.
	CategoryInfrastructure
)

// String returns the user-facing label for the category.
func (c Category) String() string {
	switch c {
	case CategorySetup:
		return "Setup"
	case CategoryTeardown:
		return "Teardown"
	case CategoryAssertion:
		return "Assertion"
	case CategoryTimeout:
		return "Timeout"
	case CategoryNullReference:
		return "NullReference"
	case CategoryInfrastructure:
		return "Infrastructure"
	default:
		return "Unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Resolution sentinel errors
var (
	// ErrNoMatchingTests indicates that a DependsOn specification matched nothing.
	ErrNoMatchingTests = New("no matching tests")
	// ErrDependencyCycle indicates a circular dependency between units.
	ErrDependencyCycle = New("dependency cycle detected")
	// ErrAlreadyRegistered indicates that scope registration ran twice.
	ErrAlreadyRegistered = New("units already registered")
)

// Execution sentinel errors
var (
	// ErrSetupFailed indicates that a Before hook failed.
	ErrSetupFailed = New("setup failed")
	// ErrTeardownFailed indicates that an After hook failed.
	ErrTeardownFailed = New("teardown failed")
	// ErrTimeout indicates that a unit body exceeded its timeout.
	ErrTimeout = New("test timed out")
	// ErrCanceled indicates that the run was cancelled.
	ErrCanceled = New("run canceled")
	// ErrFailFast is the cancellation cause of a run stopped by its first failure.
	ErrFailFast = New("fail fast")
	// ErrDependencyFailed indicates that a required dependency failed.
	ErrDependencyFailed = New("dependency failed")
	// ErrAssertion indicates a failed expectation.
	ErrAssertion = New("assertion failed")
	// ErrInfrastructure indicates a failure in the engine or its collaborators.
	ErrInfrastructure = New("infrastructure failure")
)

// Input sentinel errors
var (
	// ErrInvalidHook indicates a hook descriptor that cannot be registered.
	ErrInvalidHook = New("invalid hook")
	// ErrInvalidPlan indicates a malformed plan file.
	ErrInvalidPlan = New("invalid plan")
)

// categorized is implemented by every typed error in this package.
type categorized interface {
	Category() Category
}

// Categorize returns the triage category of err. Typed errors report their own
// category; plain errors are classified by the sentinels they wrap.
func Categorize(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	var c categorized
	if As(err, &c) {
		return c.Category()
	}
	switch {
	case Is(err, ErrAssertion):
		return CategoryAssertion
	case Is(err, ErrTimeout), Is(err, context.DeadlineExceeded):
		return CategoryTimeout
	case Is(err, ErrSetupFailed):
		return CategorySetup
	case Is(err, ErrTeardownFailed):
		return CategoryTeardown
	case Is(err, ErrInfrastructure), Is(err, ErrCanceled), Is(err, context.Canceled):
		return CategoryInfrastructure
	default:
		return CategoryUnknown
	}
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message  string
	cause    error
	category Category
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Category returns the triage category.
func (e *baseError) Category() Category {
	return e.category
}

// -----------------------------------------------------------------------------
// Resolution Errors
// -----------------------------------------------------------------------------

// ResolutionError is recorded on a unit whose DependsOn specification could
// not be satisfied.
//
// Example:
//
//	err := errors.NewResolutionError("c1.Test2", "DependsOn(Test1)", errors.ErrNoMatchingTests)
//	fmt.Println(err) // "No tests found for DependsOn(Test1) [unit=c1.Test2]"
type ResolutionError struct {
	baseError
	UnitID string
	Spec   string
}

// NewResolutionError creates a new ResolutionError.
func NewResolutionError(unitID, spec string, cause error) *ResolutionError {
	return &ResolutionError{
		baseError: baseError{
			message:  "dependency resolution failed",
			cause:    cause,
			category: CategoryInfrastructure,
		},
		UnitID: unitID,
		Spec:   spec,
	}
}

// Error returns the formatted error message.
func (e *ResolutionError) Error() string {
	if Is(e.cause, ErrNoMatchingTests) {
		return fmt.Sprintf("No tests found for %s [unit=%s]", e.Spec, e.UnitID)
	}
	return fmt.Sprintf("%s for %s [unit=%s]: %v", e.message, e.Spec, e.UnitID, e.cause)
}

// DependencyCycleError carries the dependency chain that loops back onto
// itself. Chain starts and ends with the repeated unit.
type DependencyCycleError struct {
	Chain []string
}

// NewDependencyCycleError creates a DependencyCycleError for the given chain.
func NewDependencyCycleError(chain []string) *DependencyCycleError {
	c := make([]string, len(chain))
	copy(c, chain)
	return &DependencyCycleError{Chain: c}
}

// Error returns the formatted error message.
func (e *DependencyCycleError) Error() string {
	return fmt.Sprintf("%v: %s", ErrDependencyCycle, strings.Join(e.Chain, " -> "))
}

// Is reports whether target is ErrDependencyCycle.
func (e *DependencyCycleError) Is(target error) bool {
	return target == ErrDependencyCycle
}

// Category returns CategoryInfrastructure.
func (e *DependencyCycleError) Category() Category {
	return CategoryInfrastructure
}

// -----------------------------------------------------------------------------
// Hook Errors
// -----------------------------------------------------------------------------

// Phase names used by HookError.
const (
	PhaseBefore = "before"
	PhaseAfter  = "after"
)

// HookError represents a failed Before or After hook at some scope.
//
// Example:
//
//	err := errors.NewHookError("class", "pkg.Fixture", "OpenDB", errors.PhaseBefore, cause)
//	fmt.Println(err) // "setup failed [scope=class, key=pkg.Fixture, hook=OpenDB]: <cause>"
type HookError struct {
	baseError
	Scope string
	Key   string
	Hook  string
	Phase string
}

// NewHookError creates a new HookError. Before-phase errors are categorized
// as setup failures and After-phase errors as teardown failures.
func NewHookError(scope, key, hook, phase string, cause error) *HookError {
	category := CategoryTeardown
	message := ErrTeardownFailed.Error()
	if phase == PhaseBefore {
		category = CategorySetup
		message = ErrSetupFailed.Error()
	}
	return &HookError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			category: category,
		},
		Scope: scope,
		Key:   key,
		Hook:  hook,
		Phase: phase,
	}
}

// Error returns the formatted error message.
func (e *HookError) Error() string {
	var parts []string
	if e.Scope != "" {
		parts = append(parts, fmt.Sprintf("scope=%s", e.Scope))
	}
	if e.Key != "" {
		parts = append(parts, fmt.Sprintf("key=%s", e.Key))
	}
	if e.Hook != "" {
		parts = append(parts, fmt.Sprintf("hook=%s", e.Hook))
	}

	prefix := e.message
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", e.message, strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", prefix, e.cause)
	}
	return prefix
}

// Is matches ErrSetupFailed or ErrTeardownFailed depending on the phase,
// and otherwise defers to the cause.
func (e *HookError) Is(target error) bool {
	if e.Phase == PhaseBefore && target == ErrSetupFailed {
		return true
	}
	if e.Phase == PhaseAfter && target == ErrTeardownFailed {
		return true
	}
	return false
}

// -----------------------------------------------------------------------------
// Execution Errors
// -----------------------------------------------------------------------------

// TimeoutError reports a body that ran longer than its declared timeout.
type TimeoutError struct {
	UnitID string
	Limit  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(unitID string, limit time.Duration) *TimeoutError {
	return &TimeoutError{UnitID: unitID, Limit: limit}
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("test %s timed out after %s", e.UnitID, e.Limit)
}

// Is reports whether target is ErrTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// Category returns CategoryTimeout.
func (e *TimeoutError) Category() Category {
	return CategoryTimeout
}

// DependencyError is the skip reason of a unit whose dependency failed.
type DependencyError struct {
	UnitID string
	Failed []string
}

// NewDependencyError creates a new DependencyError naming the failed dependencies.
func NewDependencyError(unitID string, failed []string) *DependencyError {
	return &DependencyError{UnitID: unitID, Failed: failed}
}

// Error returns the formatted error message.
func (e *DependencyError) Error() string {
	return fmt.Sprintf("dependency failed: %s", strings.Join(e.Failed, ", "))
}

// Is reports whether target is ErrDependencyFailed.
func (e *DependencyError) Is(target error) bool {
	return target == ErrDependencyFailed
}

// Category returns CategoryInfrastructure.
func (e *DependencyError) Category() Category {
	return CategoryInfrastructure
}

// CancellationError reports a unit that observed run-level cancellation.
type CancellationError struct {
	baseError
	UnitID string
}

// NewCancellationError creates a new CancellationError.
func NewCancellationError(unitID string, cause error) *CancellationError {
	return &CancellationError{
		baseError: baseError{
			message:  ErrCanceled.Error(),
			cause:    cause,
			category: CategoryInfrastructure,
		},
		UnitID: unitID,
	}
}

// Is reports whether target is ErrCanceled.
func (e *CancellationError) Is(target error) bool {
	return target == ErrCanceled
}

// PanicError wraps a value recovered from a panicking body or hook.
type PanicError struct {
	Value any
	Stack []byte
}

// NewPanicError creates a PanicError from a recovered value.
func NewPanicError(value any, stack []byte) *PanicError {
	return &PanicError{Value: value, Stack: stack}
}

// Error returns the formatted error message.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap returns the panic value when it is itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Category returns CategoryNullReference for nil pointer dereferences and
// CategoryUnknown otherwise.
func (e *PanicError) Category() Category {
	if rerr, ok := e.Value.(runtime.Error); ok && strings.Contains(rerr.Error(), "nil pointer") {
		return CategoryNullReference
	}
	return CategoryUnknown
}

// AssertionError is returned by bodies to report a failed expectation.
type AssertionError struct {
	Message  string
	Expected any
	Actual   any
}

// NewAssertionError creates an AssertionError.
func NewAssertionError(message string, expected, actual any) *AssertionError {
	return &AssertionError{Message: message, Expected: expected, Actual: actual}
}

// Error returns the formatted error message.
func (e *AssertionError) Error() string {
	if e.Expected == nil && e.Actual == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: expected %v, got %v", e.Message, e.Expected, e.Actual)
}

// Is reports whether target is ErrAssertion.
func (e *AssertionError) Is(target error) bool {
	return target == ErrAssertion
}

// Category returns CategoryAssertion.
func (e *AssertionError) Category() Category {
	return CategoryAssertion
}
