// Package report turns the events of a run into a result document and
// renders it as a colored text summary, JSON or JUnit XML.
//
// A Collector subscribes to the run's event bus before the run starts and
// records every unit result as it is published. Report joins those results
// with the unit metadata once the run has finished.
package report

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/Iron-Ham/gauntlet/internal/event"
	"github.com/Iron-Ham/gauntlet/internal/testunit"
)

// Report is the outcome of a run as presented to the user.
type Report struct {
	RunID    string                 `json:"run_id"`
	Started  time.Time              `json:"started"`
	Duration time.Duration          `json:"duration_ns"`
	Counts   map[testunit.State]int `json:"counts"`
	Units    []Record               `json:"units"`

	HookFailures []HookFailure `json:"hook_failures,omitempty"`
	Flaky        []string      `json:"flaky,omitempty"`

	// Err is set when the run itself ended abnormally, e.g. by cancellation.
	Err string `json:"error,omitempty"`
}

// Record is the result of one unit.
type Record struct {
	UnitID       string         `json:"id"`
	Name         string         `json:"name"`
	Class        string         `json:"class,omitempty"`
	Assembly     string         `json:"assembly,omitempty"`
	State        testunit.State `json:"state"`
	Duration     time.Duration  `json:"duration_ns"`
	Attempts     int            `json:"attempts"`
	Error        string         `json:"error,omitempty"`
	Category     string         `json:"category,omitempty"`
	SkipReason   string         `json:"skip_reason,omitempty"`
	Warnings     []string       `json:"warnings,omitempty"`
	Output       string         `json:"output,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
}

// HookFailure is one failing hook invocation.
type HookFailure struct {
	Scope string `json:"scope"`
	Key   string `json:"key"`
	Hook  string `json:"hook"`
	Phase string `json:"phase"`
	Error string `json:"error"`
}

// Failed reports whether any unit failed or timed out.
func (r *Report) Failed() bool {
	return r.Counts[testunit.StateFailed]+r.Counts[testunit.StateTimedOut] > 0
}

// Slowest returns up to n records ordered by descending duration. Units that
// never ran are left out.
func (r *Report) Slowest(n int) []Record {
	if n <= 0 {
		return nil
	}
	ran := make([]Record, 0, len(r.Units))
	for _, rec := range r.Units {
		if rec.Attempts > 0 {
			ran = append(ran, rec)
		}
	}
	slices.SortStableFunc(ran, func(a, b Record) int {
		return cmp.Compare(b.Duration, a.Duration)
	})
	return ran[:min(n, len(ran))]
}

// Collector accumulates run events into a Report.
type Collector struct {
	bus *event.Bus
	ids []string

	mu       sync.Mutex
	runID    string
	started  time.Time
	finished *event.RunFinishedEvent
	results  map[string]testunit.Result
	order    []string
	retries  map[string]int
	hooks    []HookFailure
}

// NewCollector subscribes a collector to bus.
func NewCollector(bus *event.Bus) *Collector {
	c := &Collector{
		bus:     bus,
		results: make(map[string]testunit.Result),
		retries: make(map[string]int),
	}
	c.ids = []string{
		bus.Subscribe(event.TypeRunStarted, c.onRunStarted),
		bus.Subscribe(event.TypeRunFinished, c.onRunFinished),
		bus.Subscribe(event.TypeTestFinished, c.onTestFinished),
		bus.Subscribe(event.TypeTestRetrying, c.onTestRetrying),
		bus.Subscribe(event.TypeHookFailed, c.onHookFailed),
	}
	return c
}

// Close unsubscribes the collector.
func (c *Collector) Close() {
	for _, id := range c.ids {
		c.bus.Unsubscribe(id)
	}
	c.ids = nil
}

func (c *Collector) onRunStarted(e event.Event) {
	started := e.(event.RunStartedEvent)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runID = started.RunID
	c.started = started.Timestamp()
}

func (c *Collector) onRunFinished(e event.Event) {
	fin := e.(event.RunFinishedEvent)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finished = &fin
}

func (c *Collector) onTestFinished(e event.Event) {
	fin := e.(event.TestFinishedEvent)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, seen := c.results[fin.UnitID]; !seen {
		c.order = append(c.order, fin.UnitID)
	}
	c.results[fin.UnitID] = fin.Result
}

func (c *Collector) onTestRetrying(e event.Event) {
	retrying := e.(event.TestRetryingEvent)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retries[retrying.UnitID]++
}

func (c *Collector) onHookFailed(e event.Event) {
	failed := e.(event.HookFailedEvent)
	hf := HookFailure{
		Scope: failed.Kind,
		Key:   failed.Key,
		Hook:  failed.Hook,
		Phase: failed.Phase,
	}
	if failed.Err != nil {
		hf.Error = failed.Err.Error()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, hf)
}

// Finished returns the units in the order their results were published.
func (c *Collector) Finished() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.order)
}

// Report builds the document. Records follow the order of units; units the
// collector never saw finish are reported with their current state.
func (c *Collector) Report(units []*testunit.Unit) *Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	rep := &Report{
		RunID:        c.runID,
		Started:      c.started,
		Counts:       make(map[testunit.State]int, len(testunit.TerminalStates)),
		Units:        make([]Record, 0, len(units)),
		HookFailures: slices.Clone(c.hooks),
	}
	if c.finished != nil {
		rep.Duration = c.finished.Duration
		if c.finished.Err != nil {
			rep.Err = c.finished.Err.Error()
		}
	}

	for _, u := range units {
		result, ok := c.results[u.Key()]
		if !ok {
			result = u.Result()
			result.State = u.State()
		}
		rec := newRecord(u, result)
		rep.Counts[rec.State]++
		if rec.State == testunit.StatePassed && (rec.Attempts > 1 || c.retries[u.Key()] > 0) {
			rep.Flaky = append(rep.Flaky, u.Key())
		}
		rep.Units = append(rep.Units, rec)
	}
	return rep
}

func newRecord(u *testunit.Unit, result testunit.Result) Record {
	rec := Record{
		UnitID:     u.Key(),
		Name:       u.DisplayName(),
		State:      result.State,
		Duration:   result.Duration,
		Attempts:   result.Attempts,
		SkipReason: result.SkipReason,
		Output:     result.Output,
	}
	if u.Class != nil {
		rec.Class = u.Class.Name
		rec.Assembly = u.Class.Assembly
	}
	if result.Err != nil {
		rec.Error = result.Err.Error()
		rec.Category = result.Category.String()
	}
	for _, w := range result.Warnings {
		rec.Warnings = append(rec.Warnings, w.Error())
	}
	for _, d := range u.TransitiveDependencies() {
		rec.Dependencies = append(rec.Dependencies, d.Key())
	}
	return rec
}
