package scheduler

import (
	"context"
	"runtime/debug"
	"strings"
	"time"

	"github.com/Iron-Ham/gauntlet/internal/errors"
	"github.com/Iron-Ham/gauntlet/internal/event"
	"github.com/Iron-Ham/gauntlet/internal/hooks"
	"github.com/Iron-Ham/gauntlet/internal/logging"
	"github.com/Iron-Ham/gauntlet/internal/scope"
	"github.com/Iron-Ham/gauntlet/internal/testunit"
)

// execute drives one unit from its dependency gate to its terminal state
// and then releases its share of every enclosing scope.
func (s *Scheduler) execute(ctx context.Context, u *testunit.Unit) {
	log := s.logger.WithUnit(u.Key()).WithBucket(bucketName(u))
	path, registered := s.tree.Path(u)
	defer s.complete(ctx, u, path, registered)

	if u.State().IsTerminal() {
		return
	}
	if u.SkipReason != "" {
		u.Finish(testunit.Result{State: testunit.StateSkipped, SkipReason: u.SkipReason})
		return
	}
	if ctx.Err() != nil {
		s.cancelled(ctx, u)
		return
	}

	if err := s.awaitDependencies(ctx, u, log); err != nil {
		u.Finish(testunit.Result{State: testunit.StateSkipped, SkipReason: err.Error(), Err: err})
		return
	}
	if ctx.Err() != nil {
		s.cancelled(ctx, u)
		return
	}

	release, err := s.acquire(ctx, u)
	if err != nil {
		s.cancelled(ctx, u)
		return
	}
	defer release()

	u.SetState(testunit.StateRunning)
	s.publish(event.NewTestStartedEvent(u.Key(), u.DisplayName(), bucketName(u)))
	log.Debug("test started")

	result := s.run(ctx, u, path, registered, log)
	u.Finish(result)
	log.Debug("test finished", "state", string(result.State), "attempts", result.Attempts)
}

// awaitDependencies runs every dependency first and reports the ones whose
// failure blocks u.
func (s *Scheduler) awaitDependencies(ctx context.Context, u *testunit.Unit, log *logging.Logger) error {
	deps := u.Dependencies()
	for _, d := range deps {
		s.ensureRun(ctx, d.Test)
	}

	var failed []string
	for _, d := range deps {
		if !d.Test.State().IsFailure() {
			continue
		}
		if d.ProceedOnFailure {
			log.Info("dependency failed, proceeding", "dependency", d.Test.DisplayName())
			continue
		}
		failed = append(failed, d.Test.DisplayName())
	}
	if len(failed) > 0 {
		return errors.NewDependencyError(u.Key(), failed)
	}
	return nil
}

// run passes the scope gates, runs the attempt loop and tears the test scope
// down. Teardown errors become warnings on the result.
func (s *Scheduler) run(ctx context.Context, u *testunit.Unit, path scope.Path, registered bool, log *logging.Logger) testunit.Result {
	start := time.Now()
	result := testunit.Result{Start: start}

	if registered {
		for _, sc := range path.Outer() {
			if err := s.hooks.Enter(ctx, sc, nil); err != nil {
				return s.gateFailed(ctx, u, result, err)
			}
		}
	}

	instance, err := protect(func() (any, error) { return s.lifecycle.CreateInstance(ctx, u) })
	if err != nil {
		result.State = testunit.StateFailed
		result.Err = errors.NewHookError(string(scope.KindTest), u.Key(), "CreateInstance", errors.PhaseBefore, err)
		return result
	}

	hc := &hooks.HookContext{Unit: u, Test: testunit.NewTestContext(u, 0, instance)}
	if registered {
		if err := s.hooks.Enter(ctx, path.Test, hc); err != nil {
			result = s.gateFailed(ctx, u, result, err)
		} else {
			result = s.attempts(ctx, u, instance, result, log)
		}
		if err := s.hooks.Exit(ctx, path.Test, hc); err != nil {
			result.Warnings = append(result.Warnings, err)
		}
	} else {
		result = s.attempts(ctx, u, instance, result, log)
	}

	if _, err := protect(func() (any, error) { return nil, s.lifecycle.DisposeInstance(context.WithoutCancel(ctx), u, instance) }); err != nil {
		result.Warnings = append(result.Warnings, errors.NewHookError(string(scope.KindTest), u.Key(), "DisposeInstance", errors.PhaseAfter, err))
	}
	for _, w := range result.Warnings {
		log.Warn("teardown failed", "error", w.Error())
	}
	return result
}

// attempts runs the body up to RetryLimit+1 times.
func (s *Scheduler) attempts(ctx context.Context, u *testunit.Unit, instance any, result testunit.Result, log *logging.Logger) testunit.Result {
	state := s.retry.Begin(u.Key(), u.RetryLimit)
	var output strings.Builder

	for attempt := 1; ; attempt++ {
		tc := testunit.NewTestContext(u, attempt, instance)
		err := s.attempt(ctx, u, tc)
		output.WriteString(tc.Output())
		s.retry.RecordAttempt(u.Key(), err)

		result.Attempts = attempt
		result.Output = output.String()
		if err == nil {
			result.State = testunit.StatePassed
			result.Err = nil
			return result
		}
		result.Err = err

		if errors.Is(err, errors.ErrCanceled) {
			result.State = testunit.StateCancelled
			return result
		}
		result.State = testunit.StateFailed
		if errors.Is(err, errors.ErrTimeout) {
			result.State = testunit.StateTimedOut
		}

		if !s.retry.ShouldRetry(ctx, u, err, attempt) {
			return result
		}
		log.Warn("test failed, retrying",
			"attempt", attempt,
			"max_attempts", state.MaxAttempts,
			"error", err.Error(),
		)
		s.publish(event.NewTestRetryingEvent(u.Key(), attempt, state.MaxAttempts, err))
		if werr := s.retry.Wait(ctx, attempt); werr != nil {
			result.State = testunit.StateCancelled
			result.Err = errors.NewCancellationError(u.Key(), werr)
			return result
		}
	}
}

// attempt runs the body once, racing it against the unit's timeout and the
// run's cancellation. A body that outlives the race keeps running on its
// own goroutine with a cancelled context.
func (s *Scheduler) attempt(ctx context.Context, u *testunit.Unit, tc *testunit.TestContext) error {
	if u.Body == nil {
		return nil
	}
	bodyCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var timeout <-chan time.Time
	if u.Timeout > 0 {
		timer := time.NewTimer(u.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	done := make(chan error, 1)
	go func() {
		_, err := protect(func() (any, error) { return nil, u.Body(bodyCtx, tc) })
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil && ctx.Err() != nil {
			return errors.NewCancellationError(u.Key(), context.Cause(ctx))
		}
		return err
	case <-timeout:
		return errors.NewTimeoutError(u.Key(), u.Timeout)
	case <-ctx.Done():
		return errors.NewCancellationError(u.Key(), context.Cause(ctx))
	}
}

// gateFailed turns a Before gate error into a result. Gates abandoned
// because the run was cancelled are Cancelled, everything else Failed.
func (s *Scheduler) gateFailed(ctx context.Context, u *testunit.Unit, result testunit.Result, err error) testunit.Result {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		result.State = testunit.StateCancelled
		result.Err = errors.NewCancellationError(u.Key(), err)
		return result
	}
	result.State = testunit.StateFailed
	result.Err = err
	return result
}

func (s *Scheduler) cancelled(ctx context.Context, u *testunit.Unit) {
	u.Finish(testunit.Result{
		State: testunit.StateCancelled,
		Err:   errors.NewCancellationError(u.Key(), context.Cause(ctx)),
	})
}

// complete releases the unit's share of its Class, Assembly and Session
// scopes, firing After hooks for every scope it was the last member of, and
// then reports the result.
func (s *Scheduler) complete(ctx context.Context, u *testunit.Unit, path scope.Path, registered bool) {
	if !u.State().IsTerminal() {
		u.Finish(testunit.Result{State: testunit.StateFailed, Err: errors.New("unit ended without a result")})
	}
	s.failed(u)
	if registered {
		path.Test.Decrement()
		for _, sc := range []*scope.Context{path.Class, path.Assembly, path.Session} {
			if !sc.Decrement() {
				continue
			}
			if err := s.hooks.Exit(ctx, sc, nil); err != nil {
				u.AddWarning(err)
			}
		}
	}
	s.publish(event.NewTestFinishedEvent(u.Key(), u.Result()))
}

// protect converts a panic in fn into a PanicError.
func protect(fn func() (any, error)) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.NewPanicError(r, debug.Stack())
		}
	}()
	return fn()
}
