package report

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	gerrors "github.com/Iron-Ham/gauntlet/internal/errors"
	"github.com/Iron-Ham/gauntlet/internal/engine"
	"github.com/Iron-Ham/gauntlet/internal/event"
	"github.com/Iron-Ham/gauntlet/internal/hooks"
	"github.com/Iron-Ham/gauntlet/internal/scope"
	"github.com/Iron-Ham/gauntlet/internal/testunit"
)

var suite = &testunit.TypeInfo{Name: "pkg.Suite", Assembly: "suite"}

func unit(method string, body testunit.Body, deps ...string) *testunit.Unit {
	u := &testunit.Unit{Class: suite, MethodName: method, Body: body}
	for _, d := range deps {
		u.DependencySpecs = append(u.DependencySpecs, testunit.DependencySpec{MethodName: d})
	}
	return u
}

// runReport executes a small mixed run and returns its report.
func runReport(t *testing.T) *Report {
	t.Helper()
	bus := event.NewBus(nil)
	collector := NewCollector(bus)
	defer collector.Close()

	s := engine.NewSession(engine.Options{Bus: bus, MaxParallelism: 2})
	var calls atomic.Int32
	flaky := unit("Flaky", func(context.Context, *testunit.TestContext) error {
		if calls.Add(1) == 1 {
			return errors.New("first attempt fails")
		}
		return nil
	})
	flaky.RetryLimit = 1
	slow := unit("Slow", func(ctx context.Context, _ *testunit.TestContext) error {
		<-ctx.Done()
		return ctx.Err()
	})
	slow.Timeout = 20 * time.Millisecond
	declared := unit("Declared", nil)
	declared.SkipReason = "not on this platform"

	s.AddUnits(
		unit("Pass", func(_ context.Context, tc *testunit.TestContext) error {
			tc.WriteOutput("hello\n")
			return nil
		}),
		unit("Fail", func(context.Context, *testunit.TestContext) error {
			return gerrors.NewAssertionError("values differ", 1, 2)
		}),
		unit("Dependent", nil, "Fail"),
		flaky,
		slow,
		declared,
	)
	err := s.RegisterHook(hooks.Descriptor{
		Name: "CloseDB", Scope: scope.KindClass, Phase: hooks.After, DeclaringType: suite,
		Invoke: func(context.Context, *hooks.HookContext) error { return errors.New("db already closed") },
	})
	if err != nil {
		t.Fatalf("RegisterHook() = %v", err)
	}
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	return collector.Report(s.Units())
}

func TestCollector_Report(t *testing.T) {
	rep := runReport(t)

	want := map[testunit.State]int{
		testunit.StatePassed:   2,
		testunit.StateFailed:   1,
		testunit.StateTimedOut: 1,
		testunit.StateSkipped:  2,
	}
	if diff := cmp.Diff(want, rep.Counts); diff != "" {
		t.Errorf("Counts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"pkg.Suite.Flaky"}, rep.Flaky); diff != "" {
		t.Errorf("Flaky mismatch (-want +got):\n%s", diff)
	}
	if len(rep.HookFailures) != 1 || rep.HookFailures[0].Hook != "CloseDB" {
		t.Errorf("HookFailures = %+v, want one CloseDB failure", rep.HookFailures)
	}
	if rep.RunID == "" || rep.Duration <= 0 {
		t.Errorf("RunID = %q, Duration = %v", rep.RunID, rep.Duration)
	}
	if !rep.Failed() {
		t.Error("Failed() = false, want true")
	}

	byName := make(map[string]Record)
	for _, rec := range rep.Units {
		byName[rec.UnitID] = rec
	}
	tests := []struct {
		id       string
		state    testunit.State
		category string
	}{
		{"pkg.Suite.Pass", testunit.StatePassed, ""},
		{"pkg.Suite.Fail", testunit.StateFailed, "Assertion"},
		{"pkg.Suite.Dependent", testunit.StateSkipped, "Infrastructure"},
		{"pkg.Suite.Slow", testunit.StateTimedOut, "Timeout"},
		{"pkg.Suite.Declared", testunit.StateSkipped, ""},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			rec := byName[tt.id]
			if rec.State != tt.state || rec.Category != tt.category {
				t.Errorf("got state=%s category=%q, want %s %q", rec.State, rec.Category, tt.state, tt.category)
			}
		})
	}
	if got := byName["pkg.Suite.Dependent"].Dependencies; !cmp.Equal(got, []string{"pkg.Suite.Fail"}) {
		t.Errorf("Dependent.Dependencies = %v", got)
	}
	if got := byName["pkg.Suite.Pass"].Output; got != "hello\n" {
		t.Errorf("Pass.Output = %q", got)
	}
}

func TestCollector_Close(t *testing.T) {
	bus := event.NewBus(nil)
	c := NewCollector(bus)
	c.Close()
	if bus.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after Close", bus.SubscriptionCount())
	}
	bus.Publish(event.NewTestFinishedEvent("u", testunit.Result{State: testunit.StatePassed}))
	if len(c.Finished()) != 0 {
		t.Error("closed collector recorded an event")
	}
}

func TestReport_Slowest(t *testing.T) {
	rep := &Report{Units: []Record{
		{UnitID: "a", Duration: 10 * time.Millisecond, Attempts: 1},
		{UnitID: "b", Duration: 30 * time.Millisecond, Attempts: 1},
		{UnitID: "never", Duration: time.Second},
		{UnitID: "c", Duration: 20 * time.Millisecond, Attempts: 1},
	}}
	tests := []struct {
		n    int
		want []string
	}{
		{0, nil},
		{2, []string{"b", "c"}},
		{10, []string{"b", "c", "a"}},
	}
	for _, tt := range tests {
		var got []string
		for _, rec := range rep.Slowest(tt.n) {
			got = append(got, rec.UnitID)
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("Slowest(%d) mismatch (-want +got):\n%s", tt.n, diff)
		}
	}
}

func TestWriteText(t *testing.T) {
	rep := runReport(t)
	var buf bytes.Buffer
	if err := WriteText(&buf, rep, TextOptions{Color: ColorNever, Slowest: 2}); err != nil {
		t.Fatalf("WriteText() = %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"gauntlet run " + rep.RunID,
		"✓ pkg.Suite.Pass",
		"✗ pkg.Suite.Fail",
		"⏱ pkg.Suite.Slow",
		"not on this platform",
		"dependency failed: pkg.Suite.Fail",
		"(2 attempts)",
		"Failures",
		"[Assertion]",
		"Warnings",
		"db already closed",
		"Flaky",
		"Slowest",
		"2 passed, 1 failed, 1 timed out, 2 skipped, 0 cancelled in ",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("text report missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("ColorNever output contains escape sequences")
	}
}

func TestWriteText_AlwaysColors(t *testing.T) {
	rep := &Report{Counts: map[testunit.State]int{testunit.StatePassed: 1}, Units: []Record{
		{UnitID: "a", Name: "pkg.A.M", State: testunit.StatePassed, Attempts: 1},
	}}
	var buf bytes.Buffer
	if err := WriteText(&buf, rep, TextOptions{Color: ColorAlways}); err != nil {
		t.Fatalf("WriteText() = %v", err)
	}
	if !strings.Contains(buf.String(), "\x1b[") {
		t.Errorf("ColorAlways output has no escape sequences:\n%q", buf.String())
	}
}

func TestWriteJSON(t *testing.T) {
	rep := runReport(t)
	var buf bytes.Buffer
	if err := WriteJSON(&buf, rep); err != nil {
		t.Fatalf("WriteJSON() = %v", err)
	}
	var decoded struct {
		RunID  string         `json:"run_id"`
		Counts map[string]int `json:"counts"`
		Units  []struct {
			ID    string `json:"id"`
			State string `json:"state"`
		} `json:"units"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("json.Unmarshal() = %v", err)
	}
	if decoded.RunID != rep.RunID || len(decoded.Units) != 6 {
		t.Errorf("decoded run %q with %d units", decoded.RunID, len(decoded.Units))
	}
	if decoded.Counts["timed_out"] != 1 {
		t.Errorf("counts = %v", decoded.Counts)
	}
}

func TestWriteJUnit(t *testing.T) {
	rep := runReport(t)
	var buf bytes.Buffer
	if err := WriteJUnit(&buf, rep); err != nil {
		t.Fatalf("WriteJUnit() = %v", err)
	}
	if !strings.HasPrefix(buf.String(), "<?xml") {
		t.Error("missing XML header")
	}

	var doc junitSuites
	if err := xml.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("xml.Unmarshal() = %v", err)
	}
	got := []int{doc.Tests, doc.Failures, doc.Errors, doc.Skipped}
	if diff := cmp.Diff([]int{6, 1, 1, 2}, got); diff != "" {
		t.Errorf("totals (tests, failures, errors, skipped) mismatch (-want +got):\n%s", diff)
	}
	if len(doc.Suites) != 1 || doc.Suites[0].Name != "suite" {
		t.Fatalf("suites = %+v", doc.Suites)
	}
	cases := make(map[string]junitCase)
	for _, tc := range doc.Suites[0].Cases {
		cases[tc.Name] = tc
	}
	if tc := cases["pkg.Suite.Fail"]; tc.Failure == nil || tc.Failure.Type != "Assertion" || tc.Classname != "pkg.Suite" {
		t.Errorf("Fail case = %+v", tc)
	}
	if tc := cases["pkg.Suite.Slow"]; tc.Error == nil || tc.Error.Type != "Timeout" {
		t.Errorf("Slow case = %+v", tc)
	}
	if tc := cases["pkg.Suite.Declared"]; tc.Skipped == nil || tc.Skipped.Message != "not on this platform" {
		t.Errorf("Declared case = %+v", tc)
	}
	if tc := cases["pkg.Suite.Pass"]; tc.Failure != nil || tc.Error != nil || tc.SystemOut != "hello\n" {
		t.Errorf("Pass case = %+v", tc)
	}
}

func TestWrite_UnknownFormat(t *testing.T) {
	if err := Write(&bytes.Buffer{}, &Report{}, "yaml", TextOptions{}); err == nil {
		t.Error("Write() with unknown format should fail")
	}
}
