package testunit

import (
	"context"
	"strings"
	"sync"
)

// TestContext is handed to a unit body for one attempt. A fresh context is
// created for every attempt; Instance survives across attempts.
type TestContext struct {
	Unit     *Unit
	Attempt  int
	Instance any

	mu     sync.Mutex
	output strings.Builder
	items  map[string]any
}

// NewTestContext creates the per-attempt context.
func NewTestContext(u *Unit, attempt int, instance any) *TestContext {
	return &TestContext{Unit: u, Attempt: attempt, Instance: instance}
}

// WriteOutput appends captured output for the attempt.
func (tc *TestContext) WriteOutput(s string) {
	tc.mu.Lock()
	tc.output.WriteString(s)
	tc.mu.Unlock()
}

// Output returns everything written so far.
func (tc *TestContext) Output() string {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.output.String()
}

// Set stores a value scoped to the attempt.
func (tc *TestContext) Set(key string, v any) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.items == nil {
		tc.items = make(map[string]any)
	}
	tc.items[key] = v
}

// Get returns a value stored with Set.
func (tc *TestContext) Get(key string) (any, bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	v, ok := tc.items[key]
	return v, ok
}

// Lifecycle creates and disposes the object a unit body runs against.
// The core awaits both calls and treats their errors like Before and After
// hook failures.
type Lifecycle interface {
	CreateInstance(ctx context.Context, u *Unit) (any, error)
	DisposeInstance(ctx context.Context, u *Unit, instance any) error
}

// NopLifecycle creates no instance.
type NopLifecycle struct{}

// CreateInstance returns nil.
func (NopLifecycle) CreateInstance(context.Context, *Unit) (any, error) { return nil, nil }

// DisposeInstance does nothing.
func (NopLifecycle) DisposeInstance(context.Context, *Unit, any) error { return nil }
