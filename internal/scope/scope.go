// Package scope models the Session, Assembly, Class and Test lifecycle
// boundaries that hooks attach to.
//
// Every scope holds its member units, an atomic count of members still to
// finish, a compare-and-swap guarded Before gate and a memoized After
// one-shot. The tree must be fully registered before any unit starts, since
// a count that reaches zero early fires teardown early.
package scope

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/Iron-Ham/gauntlet/internal/testunit"
)

// Kind identifies the level of a scope.
type Kind string

const (
	KindSession  Kind = "session"
	KindAssembly Kind = "assembly"
	KindClass    Kind = "class"
	KindTest     Kind = "test"
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// Context is one node of the scope tree.
type Context struct {
	Kind   Kind
	Key    string
	Parent *Context

	// Type is the class of a Class or Test scope, nil otherwise.
	Type *testunit.TypeInfo

	mu       sync.Mutex
	members  []*testunit.Unit
	children []*Context

	remaining atomic.Int64

	firstStarted atomic.Bool
	beforeDone   chan struct{}
	beforeErr    error

	afterOnce  sync.Once
	afterFired atomic.Bool
	afterDone  chan struct{}
	afterErr   error
}

func newContext(kind Kind, key string, parent *Context, typ *testunit.TypeInfo) *Context {
	c := &Context{
		Kind:       kind,
		Key:        key,
		Parent:     parent,
		Type:       typ,
		beforeDone: make(chan struct{}),
		afterDone:  make(chan struct{}),
	}
	if parent != nil {
		parent.mu.Lock()
		parent.children = append(parent.children, c)
		parent.mu.Unlock()
	}
	return c
}

// Members returns the units registered in the scope. The list is released
// once the After one-shot has fired.
func (c *Context) Members() []*testunit.Unit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.members)
}

// Children returns the direct child scopes.
func (c *Context) Children() []*Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.children)
}

// Remaining returns the number of members that have not finished.
func (c *Context) Remaining() int {
	return int(c.remaining.Load())
}

// Decrement records that one member finished and reports whether it was the
// last one.
func (c *Context) Decrement() bool {
	return c.remaining.Add(-1) == 0
}

// Started reports whether some unit entered the Before gate.
func (c *Context) Started() bool {
	return c.firstStarted.Load()
}

// EnterBefore runs before exactly once across all callers. The caller that
// wins the compare-and-swap runs it; every other caller blocks until it
// returns and receives the same error. A waiting caller gives up when ctx
// is done, and a caller whose ctx is already done never starts the gate.
func (c *Context) EnterBefore(ctx context.Context, before func(context.Context) error) error {
	if err := ctx.Err(); err != nil && !c.firstStarted.Load() {
		return err
	}
	if c.firstStarted.CompareAndSwap(false, true) {
		defer close(c.beforeDone)
		c.beforeErr = before(ctx)
		return c.beforeErr
	}
	select {
	case <-c.beforeDone:
		return c.beforeErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BeforeDone returns a channel closed once the Before gate has completed.
func (c *Context) BeforeDone() <-chan struct{} {
	return c.beforeDone
}

// FireAfter runs after at most once. Concurrent and late callers wait for
// the first invocation and receive its error.
func (c *Context) FireAfter(after func() error) error {
	c.afterOnce.Do(func() {
		defer close(c.afterDone)
		c.afterErr = after()
		c.afterFired.Store(true)
		c.mu.Lock()
		c.members = nil
		c.mu.Unlock()
	})
	return c.afterErr
}

// AfterFired reports whether the After one-shot has completed.
func (c *Context) AfterFired() bool {
	return c.afterFired.Load()
}

// AfterDone returns a channel closed once the After one-shot has completed.
func (c *Context) AfterDone() <-chan struct{} {
	return c.afterDone
}

// String returns kind:key.
func (c *Context) String() string {
	return string(c.Kind) + ":" + c.Key
}
