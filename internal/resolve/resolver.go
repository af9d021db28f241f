// Package resolve turns declarative dependency specifications into concrete
// edges between units and detects dependency cycles.
//
// Resolution failures are per unit: a unit whose specification matches
// nothing, or that sits on a cycle, is finished as Failed with a
// descriptive error and every other unit resolves normally.
package resolve

import (
	"slices"

	"github.com/Iron-Ham/gauntlet/internal/errors"
	"github.com/Iron-Ham/gauntlet/internal/logging"
	"github.com/Iron-Ham/gauntlet/internal/testunit"
)

// Failure is a unit that could not be resolved.
type Failure struct {
	Unit *testunit.Unit
	Err  error
}

// Report summarizes one Resolve call.
type Report struct {
	Edges    int
	Failures []Failure
}

// Err joins every failure into one error, or returns nil.
func (r Report) Err() error {
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, f.Err)
	}
	return errors.Join(errs...)
}

// Resolver resolves dependency specifications.
type Resolver struct {
	logger *logging.Logger
}

// New creates a Resolver. A nil logger discards output.
func New(logger *logging.Logger) *Resolver {
	return &Resolver{logger: logging.OrNop(logger)}
}

// Resolve populates the dependencies of every unit and fails units whose
// specifications match nothing or that lie on a cycle. Units that were
// already resolved keep their edges, so calling Resolve again is a no-op
// for them.
func (r *Resolver) Resolve(units []*testunit.Unit) Report {
	var report Report
	byMethod := make(map[string][]*testunit.Unit)
	for _, u := range units {
		byMethod[u.MethodName] = append(byMethod[u.MethodName], u)
	}

	for _, u := range units {
		if u.Resolved() {
			continue
		}

		var deps []testunit.ResolvedDependency
		var failed []error
		for _, spec := range u.DependencySpecs {
			candidates := units
			if spec.MethodName != "" {
				candidates = byMethod[spec.MethodName]
			}

			n := 0
			for _, c := range candidates {
				if matches(spec, u, c) {
					deps = append(deps, testunit.ResolvedDependency{Test: c, ProceedOnFailure: spec.ProceedOnFailure})
					n++
				}
			}
			if n == 0 {
				failed = append(failed, errors.NewResolutionError(u.Key(), spec.String(), errors.ErrNoMatchingTests))
			}
		}

		u.SetDependencies(deps)
		report.Edges += len(u.Dependencies())

		if len(failed) > 0 {
			err := errors.Join(failed...)
			r.fail(u, err)
			report.Failures = append(report.Failures, Failure{Unit: u, Err: err})
		}
	}

	w := &walker{acyclic: make(map[*testunit.Unit]bool)}
	for _, u := range units {
		chain := w.cycleThrough(u)
		if chain == nil {
			continue
		}
		names := make([]string, len(chain))
		for i, c := range chain {
			names[i] = c.Key()
		}
		err := errors.NewResolutionError(u.Key(), "dependency chain", errors.NewDependencyCycleError(names))
		if r.fail(u, err) {
			report.Failures = append(report.Failures, Failure{Unit: u, Err: err})
		}
	}

	r.logger.Debug("dependencies resolved",
		"units", len(units),
		"edges", report.Edges,
		"failures", len(report.Failures))
	return report
}

func (r *Resolver) fail(u *testunit.Unit, err error) bool {
	ok := u.Finish(testunit.Result{State: testunit.StateFailed, Err: err})
	if ok {
		r.logger.WithUnit(u.Key()).Warn("dependency resolution failed", "error", err.Error())
	}
	return ok
}

// matches reports whether candidate satisfies spec as declared by declarer.
func matches(spec testunit.DependencySpec, declarer, candidate *testunit.Unit) bool {
	if candidate == declarer {
		return false
	}
	if spec.ClassType == nil {
		if !sameClass(declarer.Class, candidate.Class) || !candidate.SameClassArguments(declarer) {
			return false
		}
	} else {
		if candidate.Class == nil || !candidate.Class.InheritsFrom(spec.ClassType) {
			return false
		}
		if spec.SameClassArguments && !candidate.SameClassArguments(declarer) {
			return false
		}
	}
	if spec.MethodName != "" && candidate.MethodName != spec.MethodName {
		return false
	}
	if spec.ParameterTypes != nil && !slices.Equal(spec.ParameterTypes, candidate.ParameterTypes) {
		return false
	}
	return true
}

func sameClass(a, b *testunit.TypeInfo) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a == b || (a.Name == b.Name && a.Assembly == b.Assembly)
}
