// Package engine wires the resolver, scope tree, classifier, hook
// orchestrator and scheduler into a single run.
//
// A Session owns every piece of per-run state: scope trees, hook caches,
// key semaphores and retry bookkeeping. It is created for one run and
// discarded afterwards.
package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/Iron-Ham/gauntlet/internal/classify"
	"github.com/Iron-Ham/gauntlet/internal/config"
	"github.com/Iron-Ham/gauntlet/internal/errors"
	"github.com/Iron-Ham/gauntlet/internal/event"
	"github.com/Iron-Ham/gauntlet/internal/hooks"
	"github.com/Iron-Ham/gauntlet/internal/logging"
	"github.com/Iron-Ham/gauntlet/internal/resolve"
	"github.com/Iron-Ham/gauntlet/internal/retry"
	"github.com/Iron-Ham/gauntlet/internal/scheduler"
	"github.com/Iron-Ham/gauntlet/internal/scope"
	"github.com/Iron-Ham/gauntlet/internal/testunit"
)

// Options configures a Session.
type Options struct {
	// MaxParallelism bounds the Parallel bucket and group tiers;
	// <= 0 means runtime.NumCPU().
	MaxParallelism int

	// RetryBackoff is the linear delay between attempts.
	RetryBackoff time.Duration

	// DefaultTimeout and DefaultRetryLimit apply to units that leave the
	// field at zero. testunit.NoTimeout and testunit.NoRetry opt out.
	DefaultTimeout    time.Duration
	DefaultRetryLimit int

	// Interactive disables retries, as if a debugger were attached.
	Interactive bool

	// FailFast cancels the remaining units after the first failure.
	FailFast bool

	Lifecycle testunit.Lifecycle
	Bus       *event.Bus
	Logger    *logging.Logger
}

// OptionsFromConfig maps the scheduler section of cfg onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	sc := cfg.Scheduler
	return Options{
		MaxParallelism:    sc.Parallelism(),
		RetryBackoff:      sc.RetryBackoff(),
		DefaultTimeout:    sc.DefaultTimeout(),
		DefaultRetryLimit: sc.DefaultRetryLimit,
		Interactive:       sc.Interactive,
		FailFast:          sc.FailFast,
	}
}

// Summary is the outcome of Run.
type Summary struct {
	RunID    string
	Units    []*testunit.Unit
	Counts   map[testunit.State]int
	Duration time.Duration

	// Flaky lists units that passed after at least one failed attempt.
	Flaky []string

	// Resolution holds dependency resolution failures.
	Resolution resolve.Report
}

// Failed reports whether any unit failed or timed out.
func (s *Summary) Failed() bool {
	return s.Counts[testunit.StateFailed]+s.Counts[testunit.StateTimedOut] > 0
}

// Session is one run of the engine.
type Session struct {
	ID string

	opts     Options
	bus      *event.Bus
	logger   *logging.Logger
	registry *hooks.Registry
	retry    *retry.Manager
	tree     *scope.Tree

	mu       sync.Mutex
	units    []*testunit.Unit
	plan     *classify.Plan
	report   resolve.Report
	prepared bool
	ran      bool
}

// NewSession creates a session. A nil Bus or Logger is replaced by a
// private bus and a discarding logger.
func NewSession(opts Options) *Session {
	id := generateID()
	bus := opts.Bus
	logger := logging.OrNop(opts.Logger).WithRun(id)
	if bus == nil {
		bus = event.NewBus(logger)
	}
	return &Session{
		ID:       id,
		opts:     opts,
		bus:      bus,
		logger:   logger,
		registry: hooks.NewRegistry(),
		retry:    retry.NewManager(retry.Policy{Backoff: opts.RetryBackoff, Interactive: opts.Interactive}),
		tree:     scope.NewTree(),
	}
}

// Bus returns the session's event bus.
func (s *Session) Bus() *event.Bus {
	return s.bus
}

// Retry returns the attempt bookkeeping of the session.
func (s *Session) Retry() *retry.Manager {
	return s.retry
}

// AddUnits appends units to the session. Units added after Plan or Run
// are ignored by that run.
func (s *Session) AddUnits(units ...*testunit.Unit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units = append(s.units, units...)
}

// Units returns the units of the session in registration order.
func (s *Session) Units() []*testunit.Unit {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*testunit.Unit, len(s.units))
	copy(out, s.units)
	return out
}

// RegisterHook adds a hook to the session.
func (s *Session) RegisterHook(d hooks.Descriptor) error {
	return s.registry.Register(d)
}

// Plan resolves dependencies, registers scopes and classifies the units.
// It runs once; later calls return the same plan.
func (s *Session) Plan() (*classify.Plan, resolve.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prepareLocked()
	return s.plan, s.report
}

func (s *Session) prepareLocked() {
	if s.prepared {
		return
	}
	s.prepared = true

	for i, u := range s.units {
		u.Seq = i
		if u.Timeout == 0 && s.opts.DefaultTimeout > 0 {
			u.Timeout = s.opts.DefaultTimeout
		}
		if u.RetryLimit == 0 && s.opts.DefaultRetryLimit > 0 {
			u.RetryLimit = s.opts.DefaultRetryLimit
		}
	}

	s.report = resolve.New(s.logger).Resolve(s.units)
	if err := s.tree.Register(s.units); err != nil {
		s.logger.Error("scope registration failed", "error", err.Error())
	}
	s.plan = classify.New(s.logger).Classify(s.units)
}

// Run executes the session. It returns once every unit is terminal and all
// teardown has finished. The error is non-nil when ctx was cancelled or the
// session already ran.
func (s *Session) Run(ctx context.Context) (*Summary, error) {
	s.mu.Lock()
	if s.ran {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: session %s already ran", errors.ErrInvalidPlan, s.ID)
	}
	s.ran = true
	s.prepareLocked()
	plan, report := s.plan, s.report
	units := make([]*testunit.Unit, len(s.units))
	copy(units, s.units)
	s.mu.Unlock()

	start := time.Now()
	s.bus.Publish(event.NewRunStartedEvent(s.ID, len(units), s.opts.MaxParallelism))
	s.logger.Info("run started", "units", len(units), "resolution_failures", len(report.Failures))

	orch := hooks.NewOrchestrator(hooks.NewCollector(s.registry), s.bus, s.logger)
	sched := scheduler.New(s.tree, orch, scheduler.Options{
		Lifecycle: s.opts.Lifecycle,
		Retry:     s.retry,
		FailFast:  s.opts.FailFast,
		Bus:       s.bus,
		Logger:    s.logger,
	})
	err := sched.Execute(ctx, plan, s.opts.MaxParallelism)
	orch.Close()

	summary := &Summary{
		RunID:      s.ID,
		Units:      units,
		Counts:     make(map[testunit.State]int, len(testunit.TerminalStates)),
		Duration:   time.Since(start),
		Flaky:      s.retry.FlakyUnits(),
		Resolution: report,
	}
	for _, u := range units {
		summary.Counts[u.State()]++
	}

	s.bus.Publish(event.NewRunFinishedEvent(s.ID, summary.Counts, summary.Duration, err))
	s.logger.Info("run finished",
		"duration_ms", summary.Duration.Milliseconds(),
		"passed", summary.Counts[testunit.StatePassed],
		"failed", summary.Counts[testunit.StateFailed],
		"skipped", summary.Counts[testunit.StateSkipped],
		"timed_out", summary.Counts[testunit.StateTimedOut],
		"cancelled", summary.Counts[testunit.StateCancelled],
	)
	return summary, err
}

// generateID creates a short random hex ID.
// Falls back to a timestamp-based ID if crypto/rand fails.
func generateID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%08x", time.Now().UnixNano()&0xFFFFFFFF)
	}
	return hex.EncodeToString(b)
}
