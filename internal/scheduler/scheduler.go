// Package scheduler executes a classified plan.
//
// The Parallel bucket, the Sequential bucket, every Keyed bucket and every
// parallel group are dispatched by independent runners. Each unit acquires
// the locks its own constraint demands, whichever runner happens to start
// it, so a unit started early as somebody's dependency still honours its
// exclusion rules. Unit execution is memoized: a unit reached from several
// runners or dependency paths runs once and every caller waits for it.
package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/semaphore"

	"github.com/Iron-Ham/gauntlet/internal/classify"
	"github.com/Iron-Ham/gauntlet/internal/errors"
	"github.com/Iron-Ham/gauntlet/internal/event"
	"github.com/Iron-Ham/gauntlet/internal/hooks"
	"github.com/Iron-Ham/gauntlet/internal/logging"
	"github.com/Iron-Ham/gauntlet/internal/retry"
	"github.com/Iron-Ham/gauntlet/internal/scope"
	"github.com/Iron-Ham/gauntlet/internal/testunit"
)

// Options configures a Scheduler. Zero values are valid.
type Options struct {
	// Lifecycle creates and disposes test instances. Defaults to
	// testunit.NopLifecycle.
	Lifecycle testunit.Lifecycle

	// Retry tracks attempts. Defaults to a manager with no backoff.
	Retry *retry.Manager

	// FailFast cancels the rest of the run once a unit ends Failed or
	// TimedOut. Running units are cancelled and pending units never start;
	// scopes that were entered are still torn down.
	FailFast bool

	Bus    *event.Bus
	Logger *logging.Logger
}

// Scheduler runs the units of one plan.
type Scheduler struct {
	tree      *scope.Tree
	hooks     *hooks.Orchestrator
	lifecycle testunit.Lifecycle
	retry     *retry.Manager
	bus       *event.Bus
	logger    *logging.Logger
	failFast  bool

	stop       context.CancelCauseFunc
	stopped    atomic.Bool
	parallel   *semaphore.Weighted
	sequential *semaphore.Weighted
	locks      *keyLocks

	mu   sync.Mutex
	runs map[*testunit.Unit]*unitRun
}

// unitRun memoizes the execution of one unit.
type unitRun struct {
	claimed atomic.Bool
	done    chan struct{}
}

// New creates a scheduler over a registered scope tree.
func New(tree *scope.Tree, orchestrator *hooks.Orchestrator, opts Options) *Scheduler {
	if opts.Lifecycle == nil {
		opts.Lifecycle = testunit.NopLifecycle{}
	}
	if opts.Retry == nil {
		opts.Retry = retry.NewManager(retry.Policy{})
	}
	return &Scheduler{
		tree:      tree,
		hooks:     orchestrator,
		lifecycle: opts.Lifecycle,
		retry:     opts.Retry,
		bus:       opts.Bus,
		logger:    logging.OrNop(opts.Logger),
		failFast:  opts.FailFast,
	}
}

// Execute runs every unit of plan with at most maxParallelism units of the
// Parallel bucket and group tiers running at once; a value <= 0 means
// runtime.NumCPU(). It returns once every unit is terminal. The returned
// error is non-nil only when parent was cancelled; unit failures, including
// the one that stopped a fail-fast run, are recorded on the units.
func (s *Scheduler) Execute(parent context.Context, plan *classify.Plan, maxParallelism int) error {
	if maxParallelism <= 0 {
		maxParallelism = runtime.NumCPU()
	}
	units := planUnits(plan)
	for _, u := range units {
		if _, ok := s.tree.Path(u); !ok {
			return fmt.Errorf("%w: unit %s is not registered", errors.ErrInvalidPlan, u.Key())
		}
	}

	ctx, stop := context.WithCancelCause(parent)
	defer stop(nil)
	s.stop = stop
	s.stopped.Store(false)

	s.parallel = semaphore.NewWeighted(int64(maxParallelism))
	s.sequential = semaphore.NewWeighted(1)
	s.locks = newKeyLocks()
	s.mu.Lock()
	s.runs = make(map[*testunit.Unit]*unitRun, len(units))
	s.mu.Unlock()

	s.logger.Info("executing plan",
		"units", len(units),
		"max_parallelism", maxParallelism,
		"keyed_buckets", len(plan.Keyed),
		"groups", len(plan.Groups),
		"fail_fast", s.failFast,
	)

	var wg conc.WaitGroup
	wg.Go(func() { s.runParallel(ctx, plan.Parallel, maxParallelism) })
	wg.Go(func() { s.runInOrder(ctx, plan.Sequential) })
	for _, b := range plan.Keyed {
		wg.Go(func() { s.runInOrder(ctx, b.Units) })
	}
	for _, g := range plan.Groups {
		wg.Go(func() { s.runGroup(ctx, g, maxParallelism) })
	}
	wg.Wait()

	// Units outside every runner's reach still end terminal.
	for _, u := range units {
		if !u.State().IsTerminal() {
			u.Finish(testunit.Result{State: testunit.StateCancelled, Err: errors.NewCancellationError(u.Key(), context.Cause(ctx))})
			s.publish(event.NewTestFinishedEvent(u.Key(), u.Result()))
		}
	}

	if err := parent.Err(); err != nil {
		return errors.NewCancellationError("", context.Cause(parent))
	}
	return nil
}

// failed stops a fail-fast run on the first failing unit. Later failures
// keep the first cause.
func (s *Scheduler) failed(u *testunit.Unit) {
	if !s.failFast || !u.State().IsFailure() || !s.stopped.CompareAndSwap(false, true) {
		return
	}
	s.logger.WithUnit(u.Key()).Warn("test failed, stopping run", "state", string(u.State()))
	s.stop(fmt.Errorf("%w: %s %s", errors.ErrFailFast, u.Key(), u.State()))
}

func (s *Scheduler) runParallel(ctx context.Context, units []*testunit.Unit, maxParallelism int) {
	if len(units) == 0 {
		return
	}
	p := pool.New().WithMaxGoroutines(maxParallelism)
	for _, u := range units {
		p.Go(func() { s.ensureRun(ctx, u) })
	}
	p.Wait()
}

func (s *Scheduler) runInOrder(ctx context.Context, units []*testunit.Unit) {
	for _, u := range units {
		s.ensureRun(ctx, u)
	}
}

// runGroup runs the tiers of g one after another. Inside a tier the plain
// group members fan out like the Parallel bucket and each key-set bucket of
// Combined members runs in order on its own worker.
func (s *Scheduler) runGroup(ctx context.Context, g classify.Group, maxParallelism int) {
	log := s.logger.WithBucket("group:" + g.Name)
	for _, tier := range g.Tiers {
		log.Debug("starting tier", "order", tier.Order, "units", len(tier.Units))
		p := pool.New().WithMaxGoroutines(maxParallelism)
		for _, u := range tier.Units {
			if u.Constraint.Kind == testunit.ConstraintCombined {
				continue
			}
			p.Go(func() { s.ensureRun(ctx, u) })
		}
		for _, b := range tier.Keyed {
			p.Go(func() { s.runInOrder(ctx, b.Units) })
		}
		p.Wait()
	}
}

// ensureRun executes u once. Later callers block until the first finishes.
func (s *Scheduler) ensureRun(ctx context.Context, u *testunit.Unit) {
	r := s.runFor(u)
	if r.claimed.CompareAndSwap(false, true) {
		defer close(r.done)
		s.execute(ctx, u)
		return
	}
	<-r.done
}

func (s *Scheduler) runFor(u *testunit.Unit) *unitRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[u]
	if !ok {
		r = &unitRun{done: make(chan struct{})}
		s.runs[u] = r
	}
	return r
}

func (s *Scheduler) publish(e event.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}

// planUnits lists every unit of the plan once.
func planUnits(plan *classify.Plan) []*testunit.Unit {
	out := make([]*testunit.Unit, 0, plan.Size())
	out = append(out, plan.Parallel...)
	out = append(out, plan.Sequential...)
	for _, b := range plan.Keyed {
		out = append(out, b.Units...)
	}
	for _, g := range plan.Groups {
		for _, t := range g.Tiers {
			out = append(out, t.Units...)
		}
	}
	return out
}

// bucketName labels the bucket a unit's constraint places it in.
func bucketName(u *testunit.Unit) string {
	c := u.Constraint
	switch c.Kind {
	case testunit.ConstraintNotInParallel:
		if len(lockNames(c)) == 0 {
			return "sequential"
		}
		return "keyed:" + c.KeySet()
	case testunit.ConstraintParallelGroup, testunit.ConstraintCombined:
		return fmt.Sprintf("group:%s/%d", c.Group, c.Order)
	default:
		return "parallel"
	}
}
