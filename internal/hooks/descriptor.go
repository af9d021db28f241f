// Package hooks collects, orders and runs the Before and After hooks attached
// to the Session, Assembly, Class and Test scopes.
//
// Hooks arrive as plain Descriptor values that were produced ahead of time;
// nothing in this package inspects types at run time. The Collector computes
// the ordered hook list for a scope once and caches it, and the Orchestrator
// drives the exactly-once Before gate and After one-shot of every scope,
// including teardown triggered by run cancellation.
package hooks

import (
	"context"

	"github.com/Iron-Ham/gauntlet/internal/errors"
	"github.com/Iron-Ham/gauntlet/internal/scope"
	"github.com/Iron-Ham/gauntlet/internal/testunit"
)

// Phase selects Before or After hooks.
type Phase string

const (
	Before Phase = errors.PhaseBefore
	After  Phase = errors.PhaseAfter
)

// Func is a hook body.
type Func func(ctx context.Context, hc *HookContext) error

// HookContext is passed to every hook invocation.
type HookContext struct {
	// Scope is the scope the hook runs for.
	Scope *scope.Context

	// Unit and Test are set for Test-scope hooks only.
	Unit *testunit.Unit
	Test *testunit.TestContext
}

// Instance returns the test instance for instance-bound hooks, or nil.
func (hc *HookContext) Instance() any {
	if hc == nil || hc.Test == nil {
		return nil
	}
	return hc.Test.Instance
}

// Descriptor describes one hook.
type Descriptor struct {
	Name  string
	Scope scope.Kind
	Phase Phase

	// Order sorts hooks declared at the same level; RegistrationIndex
	// breaks ties and is assigned by Registry.Register.
	Order             int
	RegistrationIndex int

	// Every marks a global hook that runs for every scope of its kind.
	Every bool

	// InstanceBound hooks run against the test instance and are only
	// valid at Test scope.
	InstanceBound bool

	// DeclaringType is the class that declares a Class or Test hook.
	DeclaringType *testunit.TypeInfo

	// Assembly names the assembly of an Assembly hook.
	Assembly string

	Invoke Func
}

// String returns "phase kind hook name".
func (d Descriptor) String() string {
	s := string(d.Phase) + " " + string(d.Scope)
	if d.Every {
		s += " every"
	}
	return s + " " + d.Name
}
