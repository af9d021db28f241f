package planfile

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	gerrors "github.com/Iron-Ham/gauntlet/internal/errors"
	"github.com/Iron-Ham/gauntlet/internal/hooks"
	"github.com/Iron-Ham/gauntlet/internal/scope"
	"github.com/Iron-Ham/gauntlet/internal/testunit"
)

// Built is the engine input assembled from a plan.
type Built struct {
	Classes map[string]*testunit.TypeInfo
	Units   []*testunit.Unit
	Hooks   []hooks.Descriptor
}

// Build turns a validated plan into units and hook descriptors. It can be
// called more than once; every call returns fresh units.
func (f *File) Build() (*Built, error) {
	b := &Built{Classes: make(map[string]*testunit.TypeInfo, len(f.Classes))}
	for _, c := range f.Classes {
		b.Classes[c.Name] = &testunit.TypeInfo{Name: c.Name, Assembly: c.Assembly}
	}
	for _, c := range f.Classes {
		t := b.Classes[c.Name]
		if c.Base != "" {
			t.Base = b.Classes[c.Base]
		}
		if c.Generic != "" {
			t.GenericDefinition = b.Classes[c.Generic]
		}
	}

	for _, t := range f.Tests {
		class, ok := b.Classes[t.Class]
		if !ok {
			return nil, fmt.Errorf("%w: test %s.%s: class %q is not declared", gerrors.ErrInvalidPlan, t.Class, t.Method, t.Class)
		}
		u := &testunit.Unit{
			ID:             t.ID,
			Class:          class,
			MethodName:     t.Method,
			ParameterTypes: t.Parameters,
			ClassArguments: t.Arguments,
			RetryLimit:     t.Retry,
			Timeout:        t.Timeout,
			Priority:       t.Priority,
			SkipReason:     t.Skip,
			Body:           t.Behavior.body(),
		}
		for _, d := range t.DependsOn {
			spec := testunit.DependencySpec{
				MethodName:         d.Method,
				ParameterTypes:     d.Parameters,
				SameClassArguments: d.SameClassArguments,
				ProceedOnFailure:   d.ProceedOnFailure,
			}
			if d.Class != "" {
				spec.ClassType = b.Classes[d.Class]
			}
			u.DependencySpecs = append(u.DependencySpecs, spec)
		}
		if t.Constraint != nil {
			u.Constraint = t.Constraint.build()
		}
		if t.Limit != nil {
			u.ParallelLimit = testunit.ParallelLimit{Name: t.Limit.Name, Limit: t.Limit.Max}
		}
		b.Units = append(b.Units, u)
	}

	for _, h := range f.Hooks {
		d := hooks.Descriptor{
			Name:     h.Name,
			Scope:    scope.Kind(h.Scope),
			Phase:    hooks.Phase(h.Phase),
			Order:    h.Order,
			Every:    h.Every,
			Assembly: h.Assembly,
			Invoke:   h.Behavior.hook(),
		}
		if h.Class != "" {
			d.DeclaringType = b.Classes[h.Class]
			if d.Assembly == "" {
				d.Assembly = d.DeclaringType.Assembly
			}
		}
		b.Hooks = append(b.Hooks, d)
	}
	return b, nil
}

func (c *Constraint) build() testunit.Constraint {
	switch c.Kind {
	case "parallel_group":
		return testunit.ParallelGroup(c.Group, c.Order)
	case "combined":
		return testunit.Combined(c.Group, c.Order, c.Keys...)
	default:
		return testunit.NotInParallel(c.Order, c.Keys...)
	}
}

// body returns the simulated unit body. Attempts are counted across the
// whole run so flaky bodies recover after FailAttempts failures.
func (b Behavior) body() testunit.Body {
	var calls atomic.Int32
	return func(ctx context.Context, tc *testunit.TestContext) error {
		if b.Output != "" {
			tc.WriteOutput(b.Output)
		}
		return b.simulate(ctx, int(calls.Add(1)))
	}
}

func (b Behavior) hook() hooks.Func {
	var calls atomic.Int32
	return func(ctx context.Context, _ *hooks.HookContext) error {
		return b.simulate(ctx, int(calls.Add(1)))
	}
}

// simulate performs the behavior for the n-th invocation.
func (b Behavior) simulate(ctx context.Context, n int) error {
	if b.Duration > 0 {
		timer := time.NewTimer(b.Duration)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	switch b.Action {
	case ActionFail:
		return errors.New(b.message("simulated failure"))
	case ActionFlaky:
		if n <= max(b.FailAttempts, 1) {
			return fmt.Errorf("%s (attempt %d)", b.message("flaky failure"), n)
		}
		return nil
	case ActionPanic:
		panic(b.message("simulated panic"))
	case ActionAssert:
		return gerrors.NewAssertionError(b.message("assertion failed"), nil, nil)
	default:
		return nil
	}
}

func (b Behavior) message(fallback string) string {
	if b.Message != "" {
		return b.Message
	}
	return fallback
}
