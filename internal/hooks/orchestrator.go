package hooks

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/Iron-Ham/gauntlet/internal/errors"
	"github.com/Iron-Ham/gauntlet/internal/event"
	"github.com/Iron-Ham/gauntlet/internal/logging"
	"github.com/Iron-Ham/gauntlet/internal/scope"
)

// Orchestrator runs the hooks of every scope exactly once.
//
// Enter runs a scope's Before hooks through its compare-and-swap gate and,
// for Session, Assembly and Class scopes, arms a cancellation callback that
// tears the scope down if the run is cancelled before the scope completes.
// Exit runs the After hooks through the scope's memoized one-shot, so the
// natural and the cancellation path share a single invocation.
type Orchestrator struct {
	collector *Collector
	bus       *event.Bus
	logger    *logging.Logger

	mu    sync.Mutex
	armed map[*scope.Context]func() bool

	// inflight counts armed cancellation callbacks that have not been
	// stopped or finished.
	inflight sync.WaitGroup
}

// NewOrchestrator creates an orchestrator. bus and logger may be nil.
func NewOrchestrator(collector *Collector, bus *event.Bus, logger *logging.Logger) *Orchestrator {
	return &Orchestrator{
		collector: collector,
		bus:       bus,
		logger:    logging.OrNop(logger),
		armed:     make(map[*scope.Context]func() bool),
	}
}

// Enter passes through the Before gate of sc. The first caller runs the
// Before hooks; every other caller blocks until they finish and receives
// the same error. ctx must be the run context: its cancellation triggers
// teardown of the scope.
func (o *Orchestrator) Enter(ctx context.Context, sc *scope.Context, hc *HookContext) error {
	return sc.EnterBefore(ctx, func(ctx context.Context) error {
		if sc.Kind != scope.KindTest {
			o.arm(ctx, sc)
		}
		err := o.runBefore(ctx, sc, hc)
		o.publish(event.NewScopeStartedEvent(string(sc.Kind), sc.Key, err))
		return err
	})
}

// Exit fires the After hooks of sc once. Callers after the first wait for
// the first invocation and receive its error. Scopes whose Before gate was
// never entered fire no hooks. Hooks run even when ctx is cancelled.
func (o *Orchestrator) Exit(ctx context.Context, sc *scope.Context, hc *HookContext) error {
	o.disarm(sc)
	return o.fireAfter(context.WithoutCancel(ctx), sc, hc, false)
}

// Close stops every armed cancellation callback and waits for the ones
// already running.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	for sc, stop := range o.armed {
		if stop() {
			o.inflight.Done()
		}
		delete(o.armed, sc)
	}
	o.mu.Unlock()
	o.inflight.Wait()
}

func (o *Orchestrator) arm(ctx context.Context, sc *scope.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.armed[sc]; ok {
		return
	}
	o.inflight.Add(1)
	o.armed[sc] = context.AfterFunc(ctx, func() {
		defer o.inflight.Done()
		o.logger.WithScope(string(sc.Kind), sc.Key).Warn("run cancelled, tearing down scope")
		_ = o.fireAfter(context.WithoutCancel(ctx), sc, &HookContext{Scope: sc}, true)
	})
}

func (o *Orchestrator) disarm(sc *scope.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	stop, ok := o.armed[sc]
	if !ok {
		return
	}
	delete(o.armed, sc)
	if stop() {
		o.inflight.Done()
	}
}

func (o *Orchestrator) fireAfter(ctx context.Context, sc *scope.Context, hc *HookContext, cancelled bool) error {
	return sc.FireAfter(func() error {
		if !sc.Started() {
			return nil
		}
		<-sc.BeforeDone()
		for _, child := range sc.Children() {
			if child.Started() {
				<-child.AfterDone()
			}
		}
		err := o.runAfter(ctx, sc, hc)
		o.publish(event.NewScopeFinishedEvent(string(sc.Kind), sc.Key, cancelled, err))
		return err
	})
}

// runBefore stops at the first failing hook.
func (o *Orchestrator) runBefore(ctx context.Context, sc *scope.Context, hc *HookContext) error {
	hc = withScope(hc, sc)
	for _, d := range o.collector.CollectBefore(sc) {
		if err := invoke(ctx, d, hc); err != nil {
			return o.failed(sc, d, err)
		}
	}
	return nil
}

// runAfter runs every hook regardless of failures and joins the errors.
func (o *Orchestrator) runAfter(ctx context.Context, sc *scope.Context, hc *HookContext) error {
	hc = withScope(hc, sc)
	var errs []error
	for _, d := range o.collector.CollectAfter(sc) {
		if err := invoke(ctx, d, hc); err != nil {
			errs = append(errs, o.failed(sc, d, err))
		}
	}
	if len(errs) > 1 {
		o.logger.WithScope(string(sc.Kind), sc.Key).Error("teardown finished with errors", "count", len(errs))
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) failed(sc *scope.Context, d Descriptor, cause error) error {
	err := errors.NewHookError(string(sc.Kind), sc.Key, d.Name, string(d.Phase), cause)
	o.logger.WithScope(string(sc.Kind), sc.Key).Error("hook failed",
		"hook", d.Name,
		"phase", string(d.Phase),
		"error", cause.Error(),
	)
	o.publish(event.NewHookFailedEvent(string(sc.Kind), sc.Key, d.Name, string(d.Phase), err))
	return err
}

func (o *Orchestrator) publish(e event.Event) {
	if o.bus != nil {
		o.bus.Publish(e)
	}
}

func invoke(ctx context.Context, d Descriptor, hc *HookContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.NewPanicError(r, debug.Stack())
		}
	}()
	return d.Invoke(ctx, hc)
}

func withScope(hc *HookContext, sc *scope.Context) *HookContext {
	if hc == nil {
		return &HookContext{Scope: sc}
	}
	if hc.Scope == nil {
		cp := *hc
		cp.Scope = sc
		return &cp
	}
	return hc
}
