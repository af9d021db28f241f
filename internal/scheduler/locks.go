package scheduler

import (
	"context"
	"slices"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/Iron-Ham/gauntlet/internal/testunit"
)

// keyLocks lazily creates one binary semaphore per constraint key and one
// counting semaphore per parallel limiter. Locks are never removed during a
// run.
type keyLocks struct {
	mu       sync.Mutex
	locks    map[string]*semaphore.Weighted
	limiters map[string]*semaphore.Weighted
}

func newKeyLocks() *keyLocks {
	return &keyLocks{
		locks:    make(map[string]*semaphore.Weighted),
		limiters: make(map[string]*semaphore.Weighted),
	}
}

func (k *keyLocks) get(key string) *semaphore.Weighted {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = semaphore.NewWeighted(1)
		k.locks[key] = l
	}
	return l
}

// limiter returns the semaphore of the named limiter, sized on first use.
func (k *keyLocks) limiter(l testunit.ParallelLimit) *semaphore.Weighted {
	k.mu.Lock()
	defer k.mu.Unlock()
	sem, ok := k.limiters[l.Name]
	if !ok {
		sem = semaphore.NewWeighted(int64(l.Limit))
		k.limiters[l.Name] = sem
	}
	return sem
}

// lockNames returns the keys a unit must hold, sorted ascending. The implicit
// key of a Combined constraint is namespaced by its group so that it only
// serializes units of that group.
func lockNames(c testunit.Constraint) []string {
	var names []string
	switch c.Kind {
	case testunit.ConstraintNotInParallel:
		names = slices.DeleteFunc(slices.Clone(c.Keys), func(k string) bool { return k == "" })
	case testunit.ConstraintCombined:
		for _, key := range c.Keys {
			if key == "" {
				continue
			}
			if key == testunit.GlobalKey {
				key = testunit.GlobalKey + "/" + c.Group
			}
			names = append(names, key)
		}
		if len(names) == 0 {
			names = append(names, testunit.GlobalKey+"/"+c.Group)
		}
	}
	slices.Sort(names)
	return slices.Compact(names)
}

// semaphoresFor returns the semaphores a unit acquires, in acquisition
// order: keys in lexical order (or the sequential lock), then the unit's
// parallel limiter, then the shared parallel limiter. Every unit acquires in
// this same global order.
func (s *Scheduler) semaphoresFor(u *testunit.Unit) []*semaphore.Weighted {
	c := u.Constraint
	var sems []*semaphore.Weighted
	switch c.Kind {
	case testunit.ConstraintNotInParallel:
		if len(lockNames(c)) == 0 {
			sems = append(sems, s.sequential)
		} else {
			sems = s.keySemaphores(c)
		}
	case testunit.ConstraintCombined:
		sems = s.keySemaphores(c)
	}
	if u.ParallelLimit.Enabled() {
		sems = append(sems, s.locks.limiter(u.ParallelLimit))
	}
	if c.Kind != testunit.ConstraintNotInParallel {
		sems = append(sems, s.parallel)
	}
	return sems
}

func (s *Scheduler) keySemaphores(c testunit.Constraint) []*semaphore.Weighted {
	names := lockNames(c)
	sems := make([]*semaphore.Weighted, 0, len(names)+2)
	for _, name := range names {
		sems = append(sems, s.locks.get(name))
	}
	return sems
}

// acquire blocks until every semaphore of u is held. On failure nothing
// stays held.
func (s *Scheduler) acquire(ctx context.Context, u *testunit.Unit) (release func(), err error) {
	sems := s.semaphoresFor(u)
	held := make([]*semaphore.Weighted, 0, len(sems))
	release = func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Release(1)
		}
	}
	for _, sem := range sems {
		if err := sem.Acquire(ctx, 1); err != nil {
			release()
			return nil, err
		}
		held = append(held, sem)
	}
	return release, nil
}
