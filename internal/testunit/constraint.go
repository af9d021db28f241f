package testunit

import (
	"slices"
	"strings"
)

// ConstraintKind identifies the variant of a parallel constraint.
type ConstraintKind string

const (
	// ConstraintNone places the unit in the parallel bucket.
	ConstraintNone ConstraintKind = ""

	// ConstraintNotInParallel excludes the unit from running alongside any
	// unit holding one of its keys, or alongside any other unit when it has no keys.
	ConstraintNotInParallel ConstraintKind = "not_in_parallel"

	// ConstraintParallelGroup places the unit in a named group tier.
	ConstraintParallelGroup ConstraintKind = "parallel_group"

	// ConstraintCombined places the unit in a named group tier and also
	// subjects it to key-based exclusion inside that group.
	ConstraintCombined ConstraintKind = "combined"
)

// GlobalKey is the implicit key of a Combined constraint declared without keys.
const GlobalKey = "__global__"

// Constraint is the parallel constraint attached to a unit. Which fields are
// meaningful depends on Kind.
type Constraint struct {
	Kind  ConstraintKind
	Keys  []string
	Group string
	Order int
}

// NotInParallel returns a NotInParallel constraint. With no keys the unit runs
// in the globally sequential bucket.
func NotInParallel(order int, keys ...string) Constraint {
	return Constraint{Kind: ConstraintNotInParallel, Keys: normalizeKeys(keys), Order: order}
}

// ParallelGroup returns a ParallelGroup constraint for the named group tier.
func ParallelGroup(name string, order int) Constraint {
	return Constraint{Kind: ConstraintParallelGroup, Group: name, Order: order}
}

// Combined returns a Combined constraint. With no keys the unit is sequential
// within its group through GlobalKey.
func Combined(group string, order int, keys ...string) Constraint {
	k := normalizeKeys(keys)
	if len(k) == 0 {
		k = []string{GlobalKey}
	}
	return Constraint{Kind: ConstraintCombined, Group: group, Keys: k, Order: order}
}

// KeySet returns the canonical identity of the constraint's exact key set.
func (c Constraint) KeySet() string {
	return strings.Join(normalizeKeys(c.Keys), ",")
}

// ParallelLimit caps how many units sharing a limiter name run at once,
// independently of their constraint. Units naming the same limiter share one
// limit; the first unit to reach the limiter fixes its size.
type ParallelLimit struct {
	Name  string
	Limit int
}

// Enabled reports whether the limit restricts anything.
func (l ParallelLimit) Enabled() bool {
	return l.Name != "" && l.Limit > 0
}

// KeyList returns the constraint keys sorted, de-duplicated and without
// empty entries.
func (c Constraint) KeyList() []string {
	return normalizeKeys(c.Keys)
}

// String returns a short human readable form.
func (c Constraint) String() string {
	switch c.Kind {
	case ConstraintNotInParallel:
		if c.KeySet() == "" {
			return "NotInParallel"
		}
		return "NotInParallel[" + c.KeySet() + "]"
	case ConstraintParallelGroup:
		return "ParallelGroup(" + c.Group + ")"
	case ConstraintCombined:
		return "ParallelGroup(" + c.Group + ")+NotInParallel[" + c.KeySet() + "]"
	default:
		return "None"
	}
}

func normalizeKeys(keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
