package planfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	gerrors "github.com/Iron-Ham/gauntlet/internal/errors"
	"github.com/Iron-Ham/gauntlet/internal/hooks"
	"github.com/Iron-Ham/gauntlet/internal/scope"
	"github.com/Iron-Ham/gauntlet/internal/testunit"
)

const samplePlan = `
name: checkout
version: "1"
classes:
  - name: shop.Base
    assembly: shop
  - name: shop.Checkout
    assembly: shop
    base: shop.Base
tests:
  - class: shop.Checkout
    method: Login
    output: "logged in\n"
  - class: shop.Checkout
    method: Pay
    retry: 2
    timeout: 250ms
    priority: 3
    action: flaky
    fail_attempts: 2
    depends_on:
      - method: Login
        proceed_on_failure: true
    constraint:
      kind: combined
      group: payments
      order: 1
      keys: [db, ledger]
    limit: {name: gateway, max: 2}
  - class: shop.Checkout
    method: Legacy
    skip: not supported
hooks:
  - name: OpenDB
    scope: class
    phase: before
    class: shop.Base
  - name: Seed
    scope: assembly
    phase: before
    class: shop.Checkout
    order: -1
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	if err := os.WriteFile(path, []byte(samplePlan), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if f.Name != "checkout" || len(f.Tests) != 3 || len(f.Hooks) != 2 {
		t.Fatalf("loaded %q with %d tests and %d hooks", f.Name, len(f.Tests), len(f.Hooks))
	}
	pay := f.Tests[1]
	if pay.Timeout != 250*time.Millisecond || pay.Behavior.Action != ActionFlaky || pay.Behavior.FailAttempts != 2 {
		t.Errorf("Pay = %+v", pay)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !strings.Contains(err.Error(), "reading plan file") {
		t.Errorf("Load() = %v, want read error", err)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		plan string
		want string
	}{
		{
			name: "bad yaml",
			plan: "version: [",
			want: "parsing plan file",
		},
		{
			name: "wrong version",
			plan: "version: \"2\"\nclasses: [{name: a.A, assembly: a}]\ntests: [{class: a.A, method: M}]",
			want: "unsupported plan version",
		},
		{
			name: "no tests",
			plan: "version: \"1\"\nclasses: [{name: a.A, assembly: a}]",
			want: "at least one test",
		},
		{
			name: "undeclared class",
			plan: "version: \"1\"\ntests: [{class: a.A, method: M}]",
			want: `class "a.A" is not declared`,
		},
		{
			name: "undeclared base",
			plan: "version: \"1\"\nclasses: [{name: a.A, assembly: a, base: a.Missing}]\ntests: [{class: a.A, method: M}]",
			want: `base "a.Missing" is not declared`,
		},
		{
			name: "duplicate id",
			plan: "version: \"1\"\nclasses: [{name: a.A, assembly: a}]\ntests: [{class: a.A, method: M}, {class: a.A, method: M}]",
			want: "duplicate test id",
		},
		{
			name: "unknown action",
			plan: "version: \"1\"\nclasses: [{name: a.A, assembly: a}]\ntests: [{class: a.A, method: M, action: explode}]",
			want: `unknown action "explode"`,
		},
		{
			name: "group missing",
			plan: "version: \"1\"\nclasses: [{name: a.A, assembly: a}]\ntests: [{class: a.A, method: M, constraint: {kind: parallel_group}}]",
			want: "group is required",
		},
		{
			name: "unknown constraint",
			plan: "version: \"1\"\nclasses: [{name: a.A, assembly: a}]\ntests: [{class: a.A, method: M, constraint: {kind: exclusive}}]",
			want: `unknown kind "exclusive"`,
		},
		{
			name: "limit without max",
			plan: "version: \"1\"\nclasses: [{name: a.A, assembly: a}]\ntests: [{class: a.A, method: M, limit: {name: api}}]",
			want: "positive max",
		},
		{
			name: "limit sizes disagree",
			plan: "version: \"1\"\nclasses: [{name: a.A, assembly: a}]\ntests: [{class: a.A, method: M, limit: {name: api, max: 2}}, {class: a.A, method: N, limit: {name: api, max: 3}}]",
			want: `limiter "api" declared with max 2 and 3`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.plan))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Parse() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestBuild(t *testing.T) {
	f, err := Parse([]byte(samplePlan))
	if err != nil {
		t.Fatalf("Parse() = %v", err)
	}
	b, err := f.Build()
	if err != nil {
		t.Fatalf("Build() = %v", err)
	}

	checkout := b.Classes["shop.Checkout"]
	if checkout.Base != b.Classes["shop.Base"] {
		t.Error("Checkout.Base not linked")
	}
	if len(b.Units) != 3 {
		t.Fatalf("Units = %d, want 3", len(b.Units))
	}
	pay := b.Units[1]
	if pay.Key() != "shop.Checkout.Pay" || pay.RetryLimit != 2 || pay.Priority != 3 {
		t.Errorf("Pay = key %q retry %d priority %d", pay.Key(), pay.RetryLimit, pay.Priority)
	}
	if diff := cmp.Diff(testunit.ParallelLimit{Name: "gateway", Limit: 2}, pay.ParallelLimit); diff != "" {
		t.Errorf("ParallelLimit mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(testunit.Combined("payments", 1, "db", "ledger"), pay.Constraint); diff != "" {
		t.Errorf("Pay constraint mismatch (-want +got):\n%s", diff)
	}
	if len(pay.DependencySpecs) != 1 || !pay.DependencySpecs[0].ProceedOnFailure {
		t.Errorf("Pay deps = %+v", pay.DependencySpecs)
	}
	if b.Units[2].SkipReason != "not supported" {
		t.Errorf("Legacy SkipReason = %q", b.Units[2].SkipReason)
	}

	if len(b.Hooks) != 2 {
		t.Fatalf("Hooks = %d, want 2", len(b.Hooks))
	}
	seed := b.Hooks[1]
	if seed.Scope != scope.KindAssembly || seed.Phase != hooks.Before || seed.Assembly != "shop" || seed.Order != -1 {
		t.Errorf("Seed = %+v", seed)
	}
	r := hooks.NewRegistry()
	for _, d := range b.Hooks {
		if err := r.Register(d); err != nil {
			t.Errorf("Register(%s) = %v", d.Name, err)
		}
	}
}

func TestBehavior(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name     string
		behavior Behavior
		calls    int
		check    func(t *testing.T, errs []error)
	}{
		{
			name:     "pass",
			behavior: Behavior{},
			calls:    1,
			check: func(t *testing.T, errs []error) {
				if errs[0] != nil {
					t.Errorf("err = %v", errs[0])
				}
			},
		},
		{
			name:     "fail with message",
			behavior: Behavior{Action: ActionFail, Message: "boom"},
			calls:    1,
			check: func(t *testing.T, errs []error) {
				if errs[0] == nil || errs[0].Error() != "boom" {
					t.Errorf("err = %v, want boom", errs[0])
				}
			},
		},
		{
			name:     "flaky recovers",
			behavior: Behavior{Action: ActionFlaky, FailAttempts: 2},
			calls:    3,
			check: func(t *testing.T, errs []error) {
				if errs[0] == nil || errs[1] == nil || errs[2] != nil {
					t.Errorf("errs = %v, want fail, fail, pass", errs)
				}
			},
		},
		{
			name:     "assert",
			behavior: Behavior{Action: ActionAssert},
			calls:    1,
			check: func(t *testing.T, errs []error) {
				if !errors.Is(errs[0], gerrors.ErrAssertion) {
					t.Errorf("err = %v, want ErrAssertion", errs[0])
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := tt.behavior.body()
			var errs []error
			for range tt.calls {
				errs = append(errs, body(ctx, testunit.NewTestContext(nil, 1, nil)))
			}
			tt.check(t, errs)
		})
	}
}

func TestBehavior_SleepHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := Behavior{Action: ActionSleep, Duration: time.Hour}
	if err := b.simulate(ctx, 1); !errors.Is(err, context.Canceled) {
		t.Errorf("simulate() = %v, want context.Canceled", err)
	}
}

func TestBehavior_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r != "kaboom" {
			t.Errorf("recovered %v, want kaboom", r)
		}
	}()
	_ = Behavior{Action: ActionPanic, Message: "kaboom"}.simulate(context.Background(), 1)
}

func TestBehavior_Output(t *testing.T) {
	tc := testunit.NewTestContext(nil, 1, nil)
	if err := (Behavior{Output: "hi\n"}).body()(context.Background(), tc); err != nil {
		t.Fatal(err)
	}
	if tc.Output() != "hi\n" {
		t.Errorf("Output() = %q", tc.Output())
	}
}
