// Package planfile loads YAML plan files that describe simulated test units
// and hooks. The CLI runs them through the engine to exercise scheduling,
// hooks, retries and reporting without a real test framework.
//
// A minimal plan:
//
//	version: "1"
//	classes:
//	  - name: shop.Checkout
//	    assembly: shop
//	tests:
//	  - class: shop.Checkout
//	    method: Login
//	  - class: shop.Checkout
//	    method: Pay
//	    depends_on: [{method: Login}]
//	    constraint: {kind: not_in_parallel, keys: [db]}
package planfile

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// File is a plan definition loaded from YAML.
type File struct {
	// Name labels the plan in reports (optional)
	Name string `yaml:"name,omitempty"`
	// Version is the plan file format version (currently "1")
	Version string `yaml:"version"`
	// Classes declares the test classes and their inheritance
	Classes []Class `yaml:"classes"`
	// Tests declares the units, in registration order
	Tests []Test `yaml:"tests"`
	// Hooks declares lifecycle hooks, in registration order
	Hooks []Hook `yaml:"hooks,omitempty"`
}

// Class declares a test class.
type Class struct {
	Name     string `yaml:"name"`
	Assembly string `yaml:"assembly"`
	// Base names another class of the plan (optional)
	Base string `yaml:"base,omitempty"`
	// Generic names the open generic definition of this class (optional)
	Generic string `yaml:"generic,omitempty"`
}

// Test declares one unit.
type Test struct {
	ID         string       `yaml:"id,omitempty"`
	Class      string       `yaml:"class"`
	Method     string       `yaml:"method"`
	Parameters []string     `yaml:"parameters,omitempty"`
	Arguments  []string     `yaml:"arguments,omitempty"`
	DependsOn  []Dependency `yaml:"depends_on,omitempty"`
	Constraint *Constraint  `yaml:"constraint,omitempty"`
	Limit      *Limit       `yaml:"limit,omitempty"`

	// Retry and Timeout fall back to the configured defaults when zero.
	// A negative value opts out of the default.
	Retry    int           `yaml:"retry,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
	Priority int           `yaml:"priority,omitempty"`
	Skip     string        `yaml:"skip,omitempty"`

	Behavior Behavior `yaml:",inline"`
}

// Dependency declares a DependsOn filter.
type Dependency struct {
	Class              string   `yaml:"class,omitempty"`
	Method             string   `yaml:"method,omitempty"`
	Parameters         []string `yaml:"parameters,omitempty"`
	SameClassArguments bool     `yaml:"same_class_arguments,omitempty"`
	ProceedOnFailure   bool     `yaml:"proceed_on_failure,omitempty"`
}

// Constraint declares a parallel constraint.
type Constraint struct {
	// Kind is one of "not_in_parallel", "parallel_group", "combined"
	Kind  string   `yaml:"kind"`
	Keys  []string `yaml:"keys,omitempty"`
	Group string   `yaml:"group,omitempty"`
	Order int      `yaml:"order,omitempty"`
}

// Limit declares a named parallel limiter shared by every test naming it.
type Limit struct {
	Name string `yaml:"name"`
	Max  int    `yaml:"max"`
}

// Hook declares a lifecycle hook.
type Hook struct {
	Name string `yaml:"name"`
	// Scope is one of "session", "assembly", "class", "test"
	Scope string `yaml:"scope"`
	// Phase is "before" or "after"
	Phase string `yaml:"phase"`
	// Class is the declaring class for class and test hooks
	Class string `yaml:"class,omitempty"`
	// Assembly is the declaring assembly for assembly hooks; it defaults
	// to the assembly of Class
	Assembly string `yaml:"assembly,omitempty"`
	Every    bool   `yaml:"every,omitempty"`
	Order    int    `yaml:"order,omitempty"`

	Behavior Behavior `yaml:",inline"`
}

// Behavior describes what a simulated body or hook does when invoked.
type Behavior struct {
	// Action is one of "pass" (default), "fail", "flaky", "sleep", "panic",
	// "assert"
	Action string `yaml:"action,omitempty"`
	// Duration is how long the body works before finishing
	Duration time.Duration `yaml:"duration,omitempty"`
	// Message is the failure or panic message
	Message string `yaml:"message,omitempty"`
	// FailAttempts is how many leading attempts a flaky body fails (default 1)
	FailAttempts int `yaml:"fail_attempts,omitempty"`
	// Output is written to the captured output of every attempt
	Output string `yaml:"output,omitempty"`
}

// Actions accepted in a Behavior.
const (
	ActionPass   = "pass"
	ActionFail   = "fail"
	ActionFlaky  = "flaky"
	ActionSleep  = "sleep"
	ActionPanic  = "panic"
	ActionAssert = "assert"
)

// ValidActions returns the list of valid behavior actions.
func ValidActions() []string {
	return []string{ActionPass, ActionFail, ActionFlaky, ActionSleep, ActionPanic, ActionAssert}
}

// Load loads a plan from a YAML file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a plan.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing plan file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	return &f, nil
}

// Validate checks that the plan is well-formed. It reports every problem
// it finds.
func (f *File) Validate() error {
	var errs []error
	if f.Version != "1" {
		errs = append(errs, fmt.Errorf("unsupported plan version: %q (supported: 1)", f.Version))
	}

	classes := make(map[string]bool, len(f.Classes))
	for i, c := range f.Classes {
		switch {
		case c.Name == "":
			errs = append(errs, fmt.Errorf("classes[%d]: name is required", i))
		case classes[c.Name]:
			errs = append(errs, fmt.Errorf("classes[%d]: duplicate class %q", i, c.Name))
		}
		if c.Assembly == "" {
			errs = append(errs, fmt.Errorf("classes[%d]: assembly is required", i))
		}
		classes[c.Name] = true
	}
	for i, c := range f.Classes {
		if c.Base != "" && !classes[c.Base] {
			errs = append(errs, fmt.Errorf("classes[%d]: base %q is not declared", i, c.Base))
		}
		if c.Generic != "" && !classes[c.Generic] {
			errs = append(errs, fmt.Errorf("classes[%d]: generic %q is not declared", i, c.Generic))
		}
	}

	if len(f.Tests) == 0 {
		errs = append(errs, errors.New("at least one test is required"))
	}
	ids := make(map[string]bool, len(f.Tests))
	limits := make(map[string]int)
	for i, t := range f.Tests {
		at := fmt.Sprintf("tests[%d]", i)
		if !classes[t.Class] {
			errs = append(errs, fmt.Errorf("%s: class %q is not declared", at, t.Class))
		}
		if t.Method == "" {
			errs = append(errs, fmt.Errorf("%s: method is required", at))
		}
		id := t.ID
		if id == "" {
			id = t.Class + "." + t.Method
			if len(t.Arguments) > 0 {
				id += "[" + strings.Join(t.Arguments, ", ") + "]"
			}
		}
		if ids[id] {
			errs = append(errs, fmt.Errorf("%s: duplicate test id %q", at, id))
		}
		ids[id] = true
		for j, d := range t.DependsOn {
			if d.Class != "" && !classes[d.Class] {
				errs = append(errs, fmt.Errorf("%s.depends_on[%d]: class %q is not declared", at, j, d.Class))
			}
		}
		if t.Constraint != nil {
			if err := t.Constraint.validate(); err != nil {
				errs = append(errs, fmt.Errorf("%s.constraint: %w", at, err))
			}
		}
		if t.Limit != nil {
			if err := t.Limit.validate(limits); err != nil {
				errs = append(errs, fmt.Errorf("%s.limit: %w", at, err))
			}
		}
		if err := t.Behavior.validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", at, err))
		}
	}

	for i, h := range f.Hooks {
		at := fmt.Sprintf("hooks[%d]", i)
		if h.Class != "" && !classes[h.Class] {
			errs = append(errs, fmt.Errorf("%s: class %q is not declared", at, h.Class))
		}
		if err := h.Behavior.validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", at, err))
		}
	}
	return errors.Join(errs...)
}

// validate checks l and that every test naming the limiter agrees on its size.
func (l *Limit) validate(seen map[string]int) error {
	if l.Name == "" || l.Max <= 0 {
		return errors.New("name and a positive max are required")
	}
	if prev, ok := seen[l.Name]; ok && prev != l.Max {
		return fmt.Errorf("limiter %q declared with max %d and %d", l.Name, prev, l.Max)
	}
	seen[l.Name] = l.Max
	return nil
}

func (c *Constraint) validate() error {
	switch c.Kind {
	case "not_in_parallel":
		return nil
	case "parallel_group", "combined":
		if c.Group == "" {
			return fmt.Errorf("group is required for %s", c.Kind)
		}
		return nil
	default:
		return fmt.Errorf("unknown kind %q", c.Kind)
	}
}

func (b *Behavior) validate() error {
	if b.Action != "" && !slices.Contains(ValidActions(), b.Action) {
		return fmt.Errorf("unknown action %q (valid: %s)", b.Action, strings.Join(ValidActions(), ", "))
	}
	if b.Duration < 0 || b.FailAttempts < 0 {
		return errors.New("duration and fail_attempts must be non-negative")
	}
	return nil
}
