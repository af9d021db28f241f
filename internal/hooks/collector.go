package hooks

import (
	"cmp"
	"slices"
	"sync"

	"github.com/Iron-Ham/gauntlet/internal/scope"
	"github.com/Iron-Ham/gauntlet/internal/testunit"
)

// Collector computes the ordered hook list for a scope. Results are cached
// per scope kind, phase and target (assembly name or concrete class), since
// hook sets never change once the run starts.
type Collector struct {
	registry *Registry

	mu    sync.Mutex
	cache map[cacheKey][]Descriptor
}

type cacheKey struct {
	kind   scope.Kind
	phase  Phase
	target string
}

// NewCollector creates a collector over the hooks in r.
func NewCollector(r *Registry) *Collector {
	return &Collector{
		registry: r,
		cache:    make(map[cacheKey][]Descriptor),
	}
}

// CollectBefore returns the Before hooks of sc in invocation order.
func (c *Collector) CollectBefore(sc *scope.Context) []Descriptor {
	return c.Collect(sc, Before)
}

// CollectAfter returns the After hooks of sc in invocation order.
func (c *Collector) CollectAfter(sc *scope.Context) []Descriptor {
	return c.Collect(sc, After)
}

// Collect returns the hooks of sc for phase in invocation order.
//
// Class and Test hooks are gathered per level of the class hierarchy,
// concrete type first, each level sorted by Order then RegistrationIndex.
// Before hooks run base levels first and After hooks run derived levels
// first. Every-hooks of the scope kind run after the scope's own Before
// hooks and before its own After hooks. The returned slice is shared and
// must not be modified.
func (c *Collector) Collect(sc *scope.Context, phase Phase) []Descriptor {
	key := cacheKey{kind: sc.Kind, phase: phase, target: target(sc)}

	c.mu.Lock()
	defer c.mu.Unlock()
	if hooks, ok := c.cache[key]; ok {
		return hooks
	}

	all := c.registry.Hooks()
	var own []Descriptor
	switch sc.Kind {
	case scope.KindSession:
		own = sorted(filter(all, sc.Kind, phase, false, func(Descriptor) bool { return true }))
	case scope.KindAssembly:
		own = sorted(filter(all, sc.Kind, phase, false, func(d Descriptor) bool { return d.Assembly == sc.Key }))
	case scope.KindClass, scope.KindTest:
		own = hierarchical(all, sc.Kind, phase, sc.Type)
	}
	every := sorted(filter(all, sc.Kind, phase, true, func(Descriptor) bool { return true }))

	var hooks []Descriptor
	if phase == Before {
		hooks = append(own, every...)
	} else {
		hooks = append(every, own...)
	}
	c.cache[key] = hooks
	return hooks
}

func hierarchical(all []Descriptor, kind scope.Kind, phase Phase, typ *testunit.TypeInfo) []Descriptor {
	var levels [][]Descriptor
	for _, level := range typ.Hierarchy() {
		levels = append(levels, sorted(filter(all, kind, phase, false, func(d Descriptor) bool {
			return declaredAt(d.DeclaringType, level)
		})))
	}
	if phase == Before {
		slices.Reverse(levels)
	}
	var out []Descriptor
	for _, l := range levels {
		out = append(out, l...)
	}
	return out
}

// declaredAt reports whether decl is level itself or the generic
// definition of level.
func declaredAt(decl, level *testunit.TypeInfo) bool {
	return sameType(decl, level) || (level.GenericDefinition != nil && sameType(decl, level.GenericDefinition))
}

func sameType(a, b *testunit.TypeInfo) bool {
	if a == nil || b == nil {
		return false
	}
	return a == b || (a.Name == b.Name && a.Assembly == b.Assembly)
}

func filter(all []Descriptor, kind scope.Kind, phase Phase, every bool, keep func(Descriptor) bool) []Descriptor {
	var out []Descriptor
	for _, d := range all {
		if d.Scope == kind && d.Phase == phase && d.Every == every && keep(d) {
			out = append(out, d)
		}
	}
	return out
}

func sorted(hooks []Descriptor) []Descriptor {
	slices.SortStableFunc(hooks, func(a, b Descriptor) int {
		return cmp.Or(cmp.Compare(a.Order, b.Order), cmp.Compare(a.RegistrationIndex, b.RegistrationIndex))
	})
	return hooks
}

func target(sc *scope.Context) string {
	switch sc.Kind {
	case scope.KindClass, scope.KindTest:
		if sc.Type == nil {
			return ""
		}
		return sc.Type.Assembly + "/" + sc.Type.Name
	case scope.KindAssembly:
		return sc.Key
	}
	return ""
}
