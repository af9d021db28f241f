package hooks

import (
	"fmt"
	"sync"

	"github.com/Iron-Ham/gauntlet/internal/errors"
	"github.com/Iron-Ham/gauntlet/internal/scope"
)

// Registry holds the hooks of one run in registration order.
type Registry struct {
	mu    sync.RWMutex
	hooks []Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register validates d, assigns its RegistrationIndex and stores it.
func (r *Registry) Register(d Descriptor) error {
	if err := validate(d); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	d.RegistrationIndex = len(r.hooks)
	r.hooks = append(r.hooks, d)
	return nil
}

// Hooks returns a copy of every registered hook.
func (r *Registry) Hooks() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, len(r.hooks))
	copy(out, r.hooks)
	return out
}

// Len returns the number of registered hooks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hooks)
}

func validate(d Descriptor) error {
	if d.Invoke == nil {
		return fmt.Errorf("%w: %s has no body", errors.ErrInvalidHook, d)
	}
	if d.Phase != Before && d.Phase != After {
		return fmt.Errorf("%w: %s has unknown phase %q", errors.ErrInvalidHook, d.Name, d.Phase)
	}

	switch d.Scope {
	case scope.KindSession:
		if d.Every {
			return fmt.Errorf("%w: %s: session hooks cannot be every-hooks", errors.ErrInvalidHook, d)
		}
	case scope.KindAssembly:
		if !d.Every && d.Assembly == "" {
			return fmt.Errorf("%w: %s: assembly hook needs an assembly", errors.ErrInvalidHook, d)
		}
	case scope.KindClass, scope.KindTest:
		if !d.Every && d.DeclaringType == nil {
			return fmt.Errorf("%w: %s: needs a declaring type", errors.ErrInvalidHook, d)
		}
	default:
		return fmt.Errorf("%w: %s has unknown scope %q", errors.ErrInvalidHook, d.Name, d.Scope)
	}

	if d.InstanceBound && d.Scope != scope.KindTest {
		return fmt.Errorf("%w: %s: instance-bound hooks are only valid at test scope", errors.ErrInvalidHook, d)
	}
	return nil
}
