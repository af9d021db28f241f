package hooks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	gerrors "github.com/Iron-Ham/gauntlet/internal/errors"
	"github.com/Iron-Ham/gauntlet/internal/event"
	"github.com/Iron-Ham/gauntlet/internal/scope"
	"github.com/Iron-Ham/gauntlet/internal/testunit"
)

// recorder collects hook invocations in order.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) hook(name string) Func {
	return func(context.Context, *HookContext) error {
		r.record(name)
		return nil
	}
}

func (r *recorder) failing(name string) Func {
	return func(context.Context, *HookContext) error {
		r.record(name)
		return errors.New(name + " broke")
	}
}

func (r *recorder) record(name string) {
	r.mu.Lock()
	r.calls = append(r.calls, name)
	r.mu.Unlock()
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type hierarchy struct {
	base, derived *testunit.TypeInfo
	unit          *testunit.Unit
	tree          *scope.Tree
	path          scope.Path
}

func newHierarchy(t *testing.T) hierarchy {
	t.Helper()
	base := &testunit.TypeInfo{Name: "pkg.Base", Assembly: "asm"}
	derived := &testunit.TypeInfo{Name: "pkg.Derived", Assembly: "asm", Base: base}
	u := &testunit.Unit{Class: derived, MethodName: "Run"}
	tree := scope.NewTree()
	if err := tree.Register([]*testunit.Unit{u}); err != nil {
		t.Fatalf("Register() = %v", err)
	}
	p, _ := tree.Path(u)
	return hierarchy{base: base, derived: derived, unit: u, tree: tree, path: p}
}

func mustRegister(t *testing.T, r *Registry, ds ...Descriptor) {
	t.Helper()
	for _, d := range ds {
		if err := r.Register(d); err != nil {
			t.Fatalf("Register(%s) = %v", d, err)
		}
	}
}

func names(ds []Descriptor) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Name)
	}
	return out
}

// -----------------------------------------------------------------------------
// Registry
// -----------------------------------------------------------------------------

func TestRegistry_Validate(t *testing.T) {
	typ := &testunit.TypeInfo{Name: "pkg.C"}
	noop := func(context.Context, *HookContext) error { return nil }

	tests := []struct {
		name    string
		d       Descriptor
		wantErr bool
	}{
		{"session ok", Descriptor{Name: "s", Scope: scope.KindSession, Phase: Before, Invoke: noop}, false},
		{"assembly ok", Descriptor{Name: "a", Scope: scope.KindAssembly, Phase: After, Assembly: "asm", Invoke: noop}, false},
		{"every assembly without name", Descriptor{Name: "a", Scope: scope.KindAssembly, Phase: Before, Every: true, Invoke: noop}, false},
		{"class ok", Descriptor{Name: "c", Scope: scope.KindClass, Phase: Before, DeclaringType: typ, Invoke: noop}, false},
		{"instance-bound test", Descriptor{Name: "t", Scope: scope.KindTest, Phase: Before, DeclaringType: typ, InstanceBound: true, Invoke: noop}, false},
		{"no body", Descriptor{Name: "x", Scope: scope.KindSession, Phase: Before}, true},
		{"bad phase", Descriptor{Name: "x", Scope: scope.KindSession, Phase: "during", Invoke: noop}, true},
		{"bad scope", Descriptor{Name: "x", Scope: "galaxy", Phase: Before, Invoke: noop}, true},
		{"every session", Descriptor{Name: "x", Scope: scope.KindSession, Phase: Before, Every: true, Invoke: noop}, true},
		{"assembly without name", Descriptor{Name: "x", Scope: scope.KindAssembly, Phase: Before, Invoke: noop}, true},
		{"class without type", Descriptor{Name: "x", Scope: scope.KindClass, Phase: Before, Invoke: noop}, true},
		{"instance-bound class", Descriptor{Name: "x", Scope: scope.KindClass, Phase: Before, DeclaringType: typ, InstanceBound: true, Invoke: noop}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewRegistry().Register(tt.d)
			if tt.wantErr {
				if !errors.Is(err, gerrors.ErrInvalidHook) {
					t.Errorf("Register() = %v, want ErrInvalidHook", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Register() = %v, want nil", err)
			}
		})
	}
}

func TestRegistry_AssignsRegistrationIndex(t *testing.T) {
	r := NewRegistry()
	var rec recorder
	mustRegister(t, r,
		Descriptor{Name: "a", Scope: scope.KindSession, Phase: Before, RegistrationIndex: 9, Invoke: rec.hook("a")},
		Descriptor{Name: "b", Scope: scope.KindSession, Phase: Before, Invoke: rec.hook("b")},
	)
	hooks := r.Hooks()
	if hooks[0].RegistrationIndex != 0 || hooks[1].RegistrationIndex != 1 {
		t.Errorf("RegistrationIndex = %d, %d; want 0, 1", hooks[0].RegistrationIndex, hooks[1].RegistrationIndex)
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
}

// -----------------------------------------------------------------------------
// Collector
// -----------------------------------------------------------------------------

func TestCollector_HierarchyOrdering(t *testing.T) {
	h := newHierarchy(t)
	var rec recorder
	r := NewRegistry()
	mustRegister(t, r,
		Descriptor{Name: "Derived.Before", Scope: scope.KindClass, Phase: Before, DeclaringType: h.derived, Invoke: rec.hook("")},
		Descriptor{Name: "Base.Before", Scope: scope.KindClass, Phase: Before, DeclaringType: h.base, Invoke: rec.hook("")},
		Descriptor{Name: "Derived.After", Scope: scope.KindClass, Phase: After, DeclaringType: h.derived, Invoke: rec.hook("")},
		Descriptor{Name: "Base.After", Scope: scope.KindClass, Phase: After, DeclaringType: h.base, Invoke: rec.hook("")},
	)
	c := NewCollector(r)

	if diff := cmp.Diff([]string{"Base.Before", "Derived.Before"}, names(c.CollectBefore(h.path.Class))); diff != "" {
		t.Errorf("CollectBefore() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Derived.After", "Base.After"}, names(c.CollectAfter(h.path.Class))); diff != "" {
		t.Errorf("CollectAfter() mismatch (-want +got):\n%s", diff)
	}
}

func TestCollector_OrderWithinLevel(t *testing.T) {
	h := newHierarchy(t)
	var rec recorder
	r := NewRegistry()
	mustRegister(t, r,
		Descriptor{Name: "late", Scope: scope.KindTest, Phase: Before, Order: 5, DeclaringType: h.derived, Invoke: rec.hook("")},
		Descriptor{Name: "first", Scope: scope.KindTest, Phase: Before, Order: -1, DeclaringType: h.derived, Invoke: rec.hook("")},
		Descriptor{Name: "second", Scope: scope.KindTest, Phase: Before, DeclaringType: h.derived, Invoke: rec.hook("")},
		Descriptor{Name: "third", Scope: scope.KindTest, Phase: Before, DeclaringType: h.derived, Invoke: rec.hook("")},
	)

	got := names(NewCollector(r).CollectBefore(h.path.Test))
	if diff := cmp.Diff([]string{"first", "second", "third", "late"}, got); diff != "" {
		t.Errorf("CollectBefore() mismatch (-want +got):\n%s", diff)
	}
}

func TestCollector_EveryHooks(t *testing.T) {
	h := newHierarchy(t)
	var rec recorder
	r := NewRegistry()
	mustRegister(t, r,
		Descriptor{Name: "every.before", Scope: scope.KindClass, Phase: Before, Every: true, Invoke: rec.hook("")},
		Descriptor{Name: "own.before", Scope: scope.KindClass, Phase: Before, DeclaringType: h.base, Invoke: rec.hook("")},
		Descriptor{Name: "every.after", Scope: scope.KindClass, Phase: After, Every: true, Invoke: rec.hook("")},
		Descriptor{Name: "own.after", Scope: scope.KindClass, Phase: After, DeclaringType: h.base, Invoke: rec.hook("")},
		Descriptor{Name: "asm.every", Scope: scope.KindAssembly, Phase: Before, Every: true, Invoke: rec.hook("")},
		Descriptor{Name: "asm.own", Scope: scope.KindAssembly, Phase: Before, Assembly: "asm", Invoke: rec.hook("")},
		Descriptor{Name: "asm.other", Scope: scope.KindAssembly, Phase: Before, Assembly: "elsewhere", Invoke: rec.hook("")},
	)
	c := NewCollector(r)

	tests := []struct {
		name  string
		sc    *scope.Context
		phase Phase
		want  []string
	}{
		{"class before", h.path.Class, Before, []string{"own.before", "every.before"}},
		{"class after", h.path.Class, After, []string{"every.after", "own.after"}},
		{"assembly before", h.path.Assembly, Before, []string{"asm.own", "asm.every"}},
		{"session before", h.path.Session, Before, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := names(c.Collect(tt.sc, tt.phase))
			if diff := cmp.Diff(tt.want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("Collect() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCollector_GenericDefinition(t *testing.T) {
	open := &testunit.TypeInfo{Name: "pkg.Repo`1", Assembly: "asm"}
	closed := &testunit.TypeInfo{Name: "pkg.Repo[int]", Assembly: "asm", GenericDefinition: open}
	u := &testunit.Unit{Class: closed, MethodName: "Run"}
	tree := scope.NewTree()
	_ = tree.Register([]*testunit.Unit{u})
	p, _ := tree.Path(u)

	var rec recorder
	r := NewRegistry()
	mustRegister(t, r,
		Descriptor{Name: "open", Scope: scope.KindClass, Phase: Before, DeclaringType: open, Invoke: rec.hook("")},
		Descriptor{Name: "closed", Scope: scope.KindClass, Phase: Before, DeclaringType: closed, Invoke: rec.hook("")},
	)

	got := names(NewCollector(r).CollectBefore(p.Class))
	if diff := cmp.Diff([]string{"open", "closed"}, got); diff != "" {
		t.Errorf("CollectBefore() mismatch (-want +got):\n%s", diff)
	}
}

func TestCollector_Caches(t *testing.T) {
	h := newHierarchy(t)
	var rec recorder
	r := NewRegistry()
	mustRegister(t, r, Descriptor{Name: "one", Scope: scope.KindSession, Phase: Before, Invoke: rec.hook("")})
	c := NewCollector(r)

	first := c.CollectBefore(h.path.Session)
	mustRegister(t, r, Descriptor{Name: "two", Scope: scope.KindSession, Phase: Before, Invoke: rec.hook("")})
	second := c.CollectBefore(h.path.Session)

	if len(first) != 1 || len(second) != 1 {
		t.Errorf("cached collection changed: %v then %v", names(first), names(second))
	}
}

// -----------------------------------------------------------------------------
// Orchestrator
// -----------------------------------------------------------------------------

func TestOrchestrator_BeforeExactlyOnce(t *testing.T) {
	h := newHierarchy(t)
	var calls atomic.Int32
	release := make(chan struct{})
	r := NewRegistry()
	mustRegister(t, r, Descriptor{
		Name: "slow", Scope: scope.KindClass, Phase: Before, DeclaringType: h.derived,
		Invoke: func(context.Context, *HookContext) error {
			calls.Add(1)
			<-release
			return nil
		},
	})
	o := NewOrchestrator(NewCollector(r), nil, nil)
	defer o.Close()

	var wg sync.WaitGroup
	var passed atomic.Int32
	for range 32 {
		wg.Go(func() {
			if err := o.Enter(context.Background(), h.path.Class, nil); err == nil {
				passed.Add(1)
			}
		})
	}
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("Before hook ran %d times, want 1", got)
	}
	if got := passed.Load(); got != 32 {
		t.Errorf("%d callers passed the gate, want 32", got)
	}
}

func TestOrchestrator_BeforeFailureStopsAndPropagates(t *testing.T) {
	h := newHierarchy(t)
	var rec recorder
	r := NewRegistry()
	mustRegister(t, r,
		Descriptor{Name: "boom", Scope: scope.KindClass, Phase: Before, DeclaringType: h.derived, Invoke: rec.failing("boom")},
		Descriptor{Name: "never", Scope: scope.KindClass, Phase: Before, DeclaringType: h.derived, Invoke: rec.hook("never")},
	)
	bus := event.NewBus(nil)
	var failures atomic.Int32
	bus.Subscribe(event.TypeHookFailed, func(event.Event) { failures.Add(1) })

	o := NewOrchestrator(NewCollector(r), bus, nil)
	defer o.Close()

	first := o.Enter(context.Background(), h.path.Class, nil)
	second := o.Enter(context.Background(), h.path.Class, nil)

	for i, err := range []error{first, second} {
		if !errors.Is(err, gerrors.ErrSetupFailed) {
			t.Errorf("Enter() #%d = %v, want ErrSetupFailed", i, err)
		}
	}
	if gerrors.Categorize(first) != gerrors.CategorySetup {
		t.Errorf("Categorize() = %v, want Setup", gerrors.Categorize(first))
	}
	if diff := cmp.Diff([]string{"boom"}, rec.got()); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
	if failures.Load() != 1 {
		t.Errorf("hook.failed events = %d, want 1", failures.Load())
	}
}

func TestOrchestrator_AfterBestEffort(t *testing.T) {
	h := newHierarchy(t)
	var rec recorder
	r := NewRegistry()
	mustRegister(t, r,
		Descriptor{Name: "a", Scope: scope.KindClass, Phase: After, DeclaringType: h.derived, Invoke: rec.failing("a")},
		Descriptor{Name: "b", Scope: scope.KindClass, Phase: After, DeclaringType: h.derived, Invoke: rec.failing("b")},
		Descriptor{Name: "c", Scope: scope.KindClass, Phase: After, DeclaringType: h.derived, Invoke: rec.hook("c")},
	)
	o := NewOrchestrator(NewCollector(r), nil, nil)
	defer o.Close()

	if err := o.Enter(context.Background(), h.path.Class, nil); err != nil {
		t.Fatalf("Enter() = %v", err)
	}
	err := o.Exit(context.Background(), h.path.Class, nil)
	if !errors.Is(err, gerrors.ErrTeardownFailed) {
		t.Errorf("Exit() = %v, want ErrTeardownFailed", err)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, rec.got()); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}

	// A second Exit returns the memoized result without re-running hooks.
	if again := o.Exit(context.Background(), h.path.Class, nil); again == nil {
		t.Error("second Exit() = nil, want memoized error")
	}
	if len(rec.got()) != 3 {
		t.Errorf("hooks re-ran: %v", rec.got())
	}
}

func TestOrchestrator_ExitWithoutEnterFiresNothing(t *testing.T) {
	h := newHierarchy(t)
	var rec recorder
	r := NewRegistry()
	mustRegister(t, r, Descriptor{Name: "after", Scope: scope.KindSession, Phase: After, Invoke: rec.hook("after")})
	o := NewOrchestrator(NewCollector(r), nil, nil)
	defer o.Close()

	if err := o.Exit(context.Background(), h.path.Session, nil); err != nil {
		t.Errorf("Exit() = %v", err)
	}
	if len(rec.got()) != 0 {
		t.Errorf("After hooks ran without Before gate: %v", rec.got())
	}
	if !h.path.Session.AfterFired() {
		t.Error("AfterFired() = false, want true")
	}
}

func TestOrchestrator_CancellationTeardown(t *testing.T) {
	h := newHierarchy(t)
	var rec recorder
	r := NewRegistry()
	mustRegister(t, r,
		Descriptor{Name: "session.after", Scope: scope.KindSession, Phase: After, Invoke: rec.hook("session.after")},
		Descriptor{Name: "class.after", Scope: scope.KindClass, Phase: After, DeclaringType: h.derived, Invoke: rec.hook("class.after")},
	)
	bus := event.NewBus(nil)
	var cancelled atomic.Int32
	bus.Subscribe(event.TypeScopeEnded, func(e event.Event) {
		if e.(event.ScopeFinishedEvent).Cancelled {
			cancelled.Add(1)
		}
	})
	o := NewOrchestrator(NewCollector(r), bus, nil)

	ctx, cancel := context.WithCancel(context.Background())
	for _, sc := range []*scope.Context{h.path.Session, h.path.Class} {
		if err := o.Enter(ctx, sc, nil); err != nil {
			t.Fatalf("Enter(%s) = %v", sc, err)
		}
	}
	cancel()
	<-h.path.Session.AfterDone()
	o.Close()

	// Natural completion after cancellation must not fire again.
	_ = o.Exit(context.Background(), h.path.Class, nil)
	_ = o.Exit(context.Background(), h.path.Session, nil)

	if diff := cmp.Diff([]string{"class.after", "session.after"}, rec.got()); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
	if cancelled.Load() != 2 {
		t.Errorf("cancelled scope.finished events = %d, want 2", cancelled.Load())
	}
}

func TestOrchestrator_HookPanic(t *testing.T) {
	h := newHierarchy(t)
	r := NewRegistry()
	mustRegister(t, r, Descriptor{
		Name: "panics", Scope: scope.KindSession, Phase: Before,
		Invoke: func(context.Context, *HookContext) error { panic("hook exploded") },
	})
	o := NewOrchestrator(NewCollector(r), nil, nil)
	defer o.Close()

	err := o.Enter(context.Background(), h.path.Session, nil)
	var pe *gerrors.PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("Enter() = %v, want PanicError in chain", err)
	}
	if !errors.Is(err, gerrors.ErrSetupFailed) {
		t.Errorf("Enter() = %v, want ErrSetupFailed", err)
	}
}

func TestOrchestrator_TestScopeContext(t *testing.T) {
	h := newHierarchy(t)
	var seen any
	r := NewRegistry()
	mustRegister(t, r, Descriptor{
		Name: "inst", Scope: scope.KindTest, Phase: Before, InstanceBound: true, DeclaringType: h.base,
		Invoke: func(_ context.Context, hc *HookContext) error {
			seen = hc.Instance()
			return nil
		},
	})
	o := NewOrchestrator(NewCollector(r), nil, nil)
	defer o.Close()

	tc := testunit.NewTestContext(h.unit, 1, "instance")
	if err := o.Enter(context.Background(), h.path.Test, &HookContext{Unit: h.unit, Test: tc}); err != nil {
		t.Fatalf("Enter() = %v", err)
	}
	if seen != "instance" {
		t.Errorf("Instance() = %v, want %q", seen, "instance")
	}
}
