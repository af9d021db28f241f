package scope

import (
	"sync"

	"github.com/Iron-Ham/gauntlet/internal/errors"
	"github.com/Iron-Ham/gauntlet/internal/testunit"
)

// SessionKey is the key of the process-wide session scope.
const SessionKey = "session"

// Path is the chain of scopes a unit passes through, outermost first.
type Path struct {
	Session  *Context
	Assembly *Context
	Class    *Context
	Test     *Context
}

// Outer returns Session, Assembly and Class in gate order.
func (p Path) Outer() []*Context {
	return []*Context{p.Session, p.Assembly, p.Class}
}

// Tree owns every scope of one run.
type Tree struct {
	mu         sync.Mutex
	session    *Context
	assemblies map[string]*Context
	classes    map[classKey]*Context
	tests      map[*testunit.Unit]*Context
	order      []*Context
	registered bool
}

type classKey struct {
	assembly string
	name     string
}

// NewTree creates an empty tree.
func NewTree() *Tree {
	return &Tree{
		assemblies: make(map[string]*Context),
		classes:    make(map[classKey]*Context),
		tests:      make(map[*testunit.Unit]*Context),
	}
}

// Register places every unit in its Session, Assembly, Class and Test scope
// and sets each scope's remaining count to its final membership. It may be
// called once; later calls return errors.ErrAlreadyRegistered.
func (t *Tree) Register(units []*testunit.Unit) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.registered {
		return errors.ErrAlreadyRegistered
	}
	t.registered = true

	session := t.sessionLocked()
	for _, u := range units {
		if _, dup := t.tests[u]; dup {
			continue
		}
		asm := t.assemblyLocked(session, assemblyName(u))
		cls := t.classLocked(asm, u.Class)
		test := newContext(KindTest, u.Key(), cls, u.Class)
		t.tests[u] = test
		t.order = append(t.order, test)

		for _, c := range []*Context{session, asm, cls, test} {
			c.mu.Lock()
			c.members = append(c.members, u)
			c.mu.Unlock()
			c.remaining.Add(1)
		}
	}
	return nil
}

// Registered reports whether Register has been called.
func (t *Tree) Registered() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.registered
}

// Session returns the session scope, creating it if absent.
func (t *Tree) Session() *Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionLocked()
}

// Path returns the scopes of a registered unit. ok is false for units that
// were not registered.
func (t *Tree) Path(u *testunit.Unit) (Path, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	test, ok := t.tests[u]
	if !ok {
		return Path{}, false
	}
	cls := test.Parent
	asm := cls.Parent
	return Path{Session: asm.Parent, Assembly: asm, Class: cls, Test: test}, true
}

// Assembly returns the assembly scope with the given name, or nil.
func (t *Tree) Assembly(name string) *Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.assemblies[name]
}

// Class returns the class scope for typ, or nil.
func (t *Tree) Class(typ *testunit.TypeInfo) *Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.classes[keyOf(typ)]
}

// All returns every scope in creation order.
func (t *Tree) All() []*Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Context, len(t.order))
	copy(out, t.order)
	return out
}

func (t *Tree) sessionLocked() *Context {
	if t.session == nil {
		t.session = newContext(KindSession, SessionKey, nil, nil)
		t.order = append(t.order, t.session)
	}
	return t.session
}

func (t *Tree) assemblyLocked(session *Context, name string) *Context {
	if c, ok := t.assemblies[name]; ok {
		return c
	}
	c := newContext(KindAssembly, name, session, nil)
	t.assemblies[name] = c
	t.order = append(t.order, c)
	return c
}

func (t *Tree) classLocked(asm *Context, typ *testunit.TypeInfo) *Context {
	k := keyOf(typ)
	if c, ok := t.classes[k]; ok {
		return c
	}
	c := newContext(KindClass, k.name, asm, typ)
	t.classes[k] = c
	t.order = append(t.order, c)
	return c
}

func keyOf(typ *testunit.TypeInfo) classKey {
	if typ == nil {
		return classKey{}
	}
	return classKey{assembly: typ.Assembly, name: typ.Name}
}

func assemblyName(u *testunit.Unit) string {
	if u.Class == nil {
		return ""
	}
	return u.Class.Assembly
}
